// Package config loads fallacy-patrol configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (FALLACY_PATROL_*, then provider key fallbacks)
//  2. .env file in the current directory (never overrides the environment)
//  3. Config file
//  4. Built-in defaults
//
// Config file search order:
//  1. .fallacy-patrol.yaml in current directory
//  2. ~/.config/fallacy-patrol/config.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/timvw/fallacy-patrol/internal/cache"
	"github.com/timvw/fallacy-patrol/internal/provider"
)

const envPrefix = "FALLACY_PATROL_"

// Config holds all fallacy-patrol configuration.
type Config struct {
	// LLM settings
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int64  `yaml:"max_tokens"`

	// Analysis settings
	RequestTimeout  string `yaml:"request_timeout"` // Go duration string, e.g. "2m"
	Retries         int    `yaml:"retries"`
	RetryBackoff    string `yaml:"retry_backoff"`
	LenientExcerpts bool   `yaml:"lenient_excerpts"` // Accept excerpts that are not verbatim substrings
	Parallel        int    `yaml:"parallel"`

	// Storage
	DBPath string `yaml:"db_path"`

	// Completion cache
	CacheBackend  string `yaml:"cache_backend"` // "memory" or "redis"
	CacheTTL      string `yaml:"cache_ttl"`     // "0" disables
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Provider rate limit (calls per second, 0 disables)
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// Kafka publishing (disabled without brokers)
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	// Intake
	SocketPath  string `yaml:"socket_path"`
	DedupTTL    string `yaml:"dedup_ttl"`
	AutoAnalyze bool   `yaml:"auto_analyze"` // Analyze every intake passage, not only those asking for it

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "console" or "json"
	Theme     string `yaml:"theme"`      // "dark" or "light"

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	RequestTimeoutDuration time.Duration `yaml:"-"`
	RetryBackoffDuration   time.Duration `yaml:"-"`
	CacheTTLDuration       time.Duration `yaml:"-"`
	DedupTTLDuration       time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Provider:       provider.Gemini,
		MaxTokens:      4096,
		RequestTimeout: "2m",
		RetryBackoff:   "2s",
		Parallel:       4,
		DBPath:         DefaultDBPath(),
		CacheBackend:   "memory",
		CacheTTL:       "0",
		KafkaTopic:     "fallacy-analyses",
		DedupTTL:       "5m",
		LogLevel:       "info",
		LogFormat:      "console",
		Theme:          "dark",
	}
}

// DefaultDBPath returns the database location under the user's data directory.
func DefaultDBPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "fallacy-patrol", "fallacies.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "fallacy-patrol", "fallacies.db")
	}
	return "fallacies.db"
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values.
func Load() (*Config, error) {
	cfg := Defaults()

	// Credentials are commonly kept in .env next to the project.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	// Try to load config file
	if path, data, err := findConfigFile(); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	}

	// Environment variables override everything
	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize parses duration strings and validates enumerations. Call it
// again after changing fields, e.g. from command-line flags.
func (c *Config) Finalize() error {
	var err error
	c.RequestTimeoutDuration, err = parseDurationOrDisable(c.RequestTimeout, 2*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid request timeout %q: %w", c.RequestTimeout, err)
	}
	c.RetryBackoffDuration, err = parseDurationOrDisable(c.RetryBackoff, 2*time.Second)
	if err != nil {
		return fmt.Errorf("invalid retry backoff %q: %w", c.RetryBackoff, err)
	}
	c.CacheTTLDuration, err = parseDurationOrDisable(c.CacheTTL, 0)
	if err != nil {
		return fmt.Errorf("invalid cache TTL %q: %w", c.CacheTTL, err)
	}
	c.DedupTTLDuration, err = parseDurationOrDisable(c.DedupTTL, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid dedup TTL %q: %w", c.DedupTTL, err)
	}

	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if _, ok := provider.KindOf(c.Provider); !ok {
		return fmt.Errorf("unknown provider %q (supported: %s)", c.Provider, strings.Join(provider.Names(), ", "))
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	switch c.Theme {
	case "", "dark", "light":
	default:
		return fmt.Errorf("unknown theme %q (supported: dark, light)", c.Theme)
	}
	return nil
}

// ProviderConfig returns the provider settings. The API key falls back to
// the provider's conventional environment variable.
func (c *Config) ProviderConfig() provider.Config {
	pc := provider.Config{
		Provider:  c.Provider,
		Model:     c.Model,
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		MaxTokens: c.MaxTokens,
	}
	if pc.APIKey == "" {
		pc.APIKey = providerKeyFromEnv(c.Provider)
	}
	// Azure endpoints authenticate with an api-key header.
	if IsAzureEndpoint(pc.BaseURL) {
		pc.ExtraHeaders = map[string]string{"api-key": pc.APIKey}
	}
	return pc
}

// CacheConfig returns the completion cache settings.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Backend:       c.CacheBackend,
		TTL:           c.CacheTTLDuration,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}

// providerKeyFromEnv reads the conventional key variable for name.
func providerKeyFromEnv(name string) string {
	var keys []string
	switch name {
	case provider.Gemini:
		keys = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case provider.Anthropic:
		keys = []string{"ANTHROPIC_API_KEY"}
	case provider.OpenAI, provider.Chat:
		keys = []string{"AZURE_OPENAI_API_KEY", "OPENAI_API_KEY"}
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".fallacy-patrol.yaml"); err == nil {
		return ".fallacy-patrol.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "fallacy-patrol", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	setString(&cfg.Provider, file.Provider)
	setString(&cfg.Model, file.Model)
	setString(&cfg.BaseURL, file.BaseURL)
	setString(&cfg.APIKey, file.APIKey)
	if file.MaxTokens > 0 {
		cfg.MaxTokens = file.MaxTokens
	}
	setString(&cfg.RequestTimeout, file.RequestTimeout)
	if file.Retries > 0 {
		cfg.Retries = file.Retries
	}
	setString(&cfg.RetryBackoff, file.RetryBackoff)
	if file.LenientExcerpts {
		cfg.LenientExcerpts = true
	}
	if file.Parallel > 0 {
		cfg.Parallel = file.Parallel
	}
	setString(&cfg.DBPath, file.DBPath)
	setString(&cfg.CacheBackend, file.CacheBackend)
	setString(&cfg.CacheTTL, file.CacheTTL)
	setString(&cfg.RedisAddr, file.RedisAddr)
	setString(&cfg.RedisPassword, file.RedisPassword)
	if file.RedisDB > 0 {
		cfg.RedisDB = file.RedisDB
	}
	if file.RateLimit > 0 {
		cfg.RateLimit = file.RateLimit
	}
	if file.RateBurst > 0 {
		cfg.RateBurst = file.RateBurst
	}
	if len(file.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = file.KafkaBrokers
	}
	setString(&cfg.KafkaTopic, file.KafkaTopic)
	setString(&cfg.SocketPath, file.SocketPath)
	setString(&cfg.DedupTTL, file.DedupTTL)
	if file.AutoAnalyze {
		cfg.AutoAnalyze = true
	}
	setString(&cfg.LogLevel, file.LogLevel)
	setString(&cfg.LogFormat, file.LogFormat)
	setString(&cfg.Theme, file.Theme)
	setString(&cfg.OTELEndpoint, file.OTELEndpoint)
	setString(&cfg.OTELHeaders, file.OTELHeaders)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	strs := map[string]*string{
		"PROVIDER":        &cfg.Provider,
		"MODEL":           &cfg.Model,
		"BASE_URL":        &cfg.BaseURL,
		"API_KEY":         &cfg.APIKey,
		"REQUEST_TIMEOUT": &cfg.RequestTimeout,
		"RETRY_BACKOFF":   &cfg.RetryBackoff,
		"DB_PATH":         &cfg.DBPath,
		"CACHE_BACKEND":   &cfg.CacheBackend,
		"CACHE_TTL":       &cfg.CacheTTL,
		"REDIS_ADDR":      &cfg.RedisAddr,
		"REDIS_PASSWORD":  &cfg.RedisPassword,
		"KAFKA_TOPIC":     &cfg.KafkaTopic,
		"SOCKET_PATH":     &cfg.SocketPath,
		"DEDUP_TTL":       &cfg.DedupTTL,
		"LOG_LEVEL":       &cfg.LogLevel,
		"LOG_FORMAT":      &cfg.LogFormat,
		"THEME":           &cfg.Theme,
	}
	for name, dst := range strs {
		setString(dst, os.Getenv(envPrefix+name))
	}

	ints := map[string]*int{
		"RETRIES":    &cfg.Retries,
		"PARALLEL":   &cfg.Parallel,
		"REDIS_DB":   &cfg.RedisDB,
		"RATE_BURST": &cfg.RateBurst,
	}
	for name, dst := range ints {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", envPrefix, name, v, err)
			}
			*dst = n
		}
	}
	if v := os.Getenv(envPrefix + "MAX_TOKENS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_TOKENS %q: %w", envPrefix, v, err)
		}
		cfg.MaxTokens = n
	}
	if v := os.Getenv(envPrefix + "RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sRATE_LIMIT %q: %w", envPrefix, v, err)
		}
		cfg.RateLimit = f
	}
	if v := os.Getenv(envPrefix + "LENIENT_EXCERPTS"); v == "true" || v == "1" {
		cfg.LenientExcerpts = true
	}
	if v := os.Getenv(envPrefix + "AUTO_ANALYZE"); v == "true" || v == "1" {
		cfg.AutoAnalyze = true
	}
	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}

	// Azure base URL fallback
	if cfg.BaseURL == "" {
		if rn := os.Getenv("AZURE_RESOURCE_NAME"); rn != "" {
			switch strings.ToLower(cfg.Provider) {
			case provider.Anthropic:
				cfg.BaseURL = fmt.Sprintf("https://%s.services.ai.azure.com/anthropic/", rn)
			case provider.OpenAI, provider.Chat:
				cfg.BaseURL = fmt.Sprintf("https://%s.openai.azure.com/openai/v1", rn)
			}
		}
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// IsAzureEndpoint returns true if the URL is an Azure endpoint.
func IsAzureEndpoint(url string) bool {
	return strings.Contains(url, ".azure.com") || strings.Contains(url, ".azure.us")
}
