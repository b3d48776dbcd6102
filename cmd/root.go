package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/analysis"
	"github.com/timvw/fallacy-patrol/internal/cache"
	"github.com/timvw/fallacy-patrol/internal/config"
	"github.com/timvw/fallacy-patrol/internal/logging"
	"github.com/timvw/fallacy-patrol/internal/model"
	telem "github.com/timvw/fallacy-patrol/internal/otel"
	"github.com/timvw/fallacy-patrol/internal/publish"
	"github.com/timvw/fallacy-patrol/internal/report"
	"github.com/timvw/fallacy-patrol/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// memoryDB selects the in-memory store instead of SQLite.
const memoryDB = ":memory:"

// bareAnnotation marks commands that run without config, store or provider.
const bareAnnotation = "bare"

var (
	// Global flags.
	flagProvider  string
	flagModel     string
	flagBaseURL   string
	flagAPIKey    string
	flagMaxTokens int64
	flagDB        string
	flagLogLevel  string
	flagTheme     string
	flagJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "fallacy-patrol",
	Short: "Detect logical fallacies in text with an LLM",
	Long: `fallacy-patrol sends a passage to a hosted language model and records the
logical fallacies it finds, each with the verbatim excerpt, how to avoid it,
a counter-argument and a reference.

Every analysis is stored with its lifecycle state (idle, in_progress,
completed, failed) so it can be listed, shown, exported or re-analyzed later.

Configuration is loaded from .fallacy-patrol.yaml, ~/.config/fallacy-patrol/config.yaml,
a .env file and FALLACY_PATROL_* environment variables. Flags override all of them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[bareAnnotation] == "true" {
			return nil
		}
		return setup(cmd)
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	env.close()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "LLM provider: gemini, anthropic, openai, chat (default: gemini)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "LLM model name (default depends on provider)")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "override LLM API base URL")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "override LLM API key")
	rootCmd.PersistentFlags().Int64Var(&flagMaxTokens, "max-tokens", 0, "max completion tokens (default: 4096)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path, or :memory: (default: ~/.local/share/fallacy-patrol/fallacies.db)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagTheme, "theme", "", "color theme: dark, light")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print JSON instead of a styled report")
}

// app holds everything a command needs once configuration is resolved.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	tel       *telem.Telemetry
	store     store.Store
	cache     cache.Cache
	publisher publish.Publisher
	analyzer  *analysis.Analyzer
}

var env = &app{}

// setup loads configuration and opens the store, cache and publisher.
func setup(cmd *cobra.Command) error {
	ctx := cmd.Context()

	// Load configuration: defaults -> config file -> env vars -> flags.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Finalize(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	env.cfg = cfg

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	env.log = log
	if cfg.ConfigFile != "" {
		log.Debug("config loaded", zap.String("path", cfg.ConfigFile))
	}

	// Initialize OTEL (no-op if no endpoint configured)
	tel, err := telem.Init(ctx, telem.Config{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
		Version:  Version,
		Provider: cfg.Provider,
		Model:    cfg.Model,
	})
	if err != nil {
		log.Warn("otel init failed", zap.Error(err))
	}
	env.tel = tel
	var metrics *telem.Metrics
	if tel != nil {
		metrics = tel.Metrics
	}

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	env.store = store.NewSerial(st)

	c, err := cache.New(cfg.CacheConfig())
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	env.cache = c

	env.publisher = publish.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := publish.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		env.publisher = k
	}

	factory := analysis.NewFactory(analysis.ClientOptions{
		Cache:     c,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.RateBurst,
		Metrics:   metrics,
		Logger:    log,
	})
	env.analyzer = analysis.New(env.store,
		analysis.WithFactory(factory),
		analysis.WithLogger(log),
		analysis.WithMetrics(metrics),
		analysis.WithPublisher(env.publisher),
		analysis.WithTimeout(cfg.RequestTimeoutDuration),
		analysis.WithStrictExcerpts(!cfg.LenientExcerpts),
		analysis.WithRetries(cfg.Retries, cfg.RetryBackoffDuration),
	)
	return nil
}

// applyFlags copies explicitly set global flags onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider = flagProvider
	}
	if flags.Changed("model") {
		cfg.Model = flagModel
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = flagBaseURL
	}
	if flags.Changed("api-key") {
		cfg.APIKey = flagAPIKey
	}
	if flags.Changed("max-tokens") {
		cfg.MaxTokens = flagMaxTokens
	}
	if flags.Changed("db") {
		cfg.DBPath = flagDB
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("theme") {
		cfg.Theme = flagTheme
	}
}

func openStore(ctx context.Context, path string) (store.Store, error) {
	if path == memoryDB {
		return store.NewMemory(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	st, err := store.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return st, nil
}

// close waits for background analyses and releases resources in reverse
// order of setup.
func (a *app) close() {
	if a.analyzer != nil {
		a.analyzer.Wait()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("close publisher", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close cache", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", zap.Error(err))
		}
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tel.Shutdown(ctx); err != nil {
			a.log.Warn("otel shutdown", zap.Error(err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// printJSON writes v as indented JSON to the command output.
func printJSON(v any) error {
	enc := json.NewEncoder(rootCmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderer() *report.Renderer {
	return report.New(rootCmd.OutOrStdout(), report.ThemeByName(env.cfg.Theme), 100)
}

// printRequest shows one request as JSON or a styled report.
func printRequest(r *model.AnalysisRequest) error {
	if flagJSON {
		return printJSON(r)
	}
	return renderer().Request(r)
}

func printRequests(reqs []*model.AnalysisRequest) error {
	if flagJSON {
		if reqs == nil {
			reqs = []*model.AnalysisRequest{}
		}
		return printJSON(reqs)
	}
	return renderer().List(reqs)
}

// readText returns args joined by spaces, or stdin when args is empty or "-".
func readText(in io.Reader, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

// notFound rewrites store.ErrNotFound into a message naming the id.
func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no analysis with id %q", id)
	}
	return err
}
