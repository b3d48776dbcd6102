package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/timvw/fallacy-patrol/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	source_text   TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	state         TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_analyses_state ON analyses(state);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);

CREATE TABLE IF NOT EXISTS findings (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	fallacy    TEXT NOT NULL,
	excerpt    TEXT NOT NULL,
	avoidance  TEXT NOT NULL,
	counter    TEXT NOT NULL,
	reference  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_request ON findings(request_id, position);

CREATE TABLE IF NOT EXISTS cursors (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

const analysisColumns = `id, source_text, created_at, updated_at, state, error_message, provider, model, input_tokens, output_tokens, duration_ms`

// SQLite persists requests in a SQLite database file.
type SQLite struct {
	path string
	db   *sql.DB
}

// OpenSQLite creates (if needed) and opens the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := ensureWAL(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLite{path: path, db: db}, nil
}

func ensureWAL(ctx context.Context, db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Get(ctx context.Context, id string) (*model.AnalysisRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	r, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	if err := s.loadFindings(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLite) Save(ctx context.Context, r *model.AnalysisRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", r.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO analyses (`+analysisColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	updated_at    = excluded.updated_at,
	state         = excluded.state,
	error_message = excluded.error_message,
	provider      = excluded.provider,
	model         = excluded.model,
	input_tokens  = excluded.input_tokens,
	output_tokens = excluded.output_tokens,
	duration_ms   = excluded.duration_ms`,
		r.ID, r.SourceText, formatTime(r.CreatedAt), formatTime(r.UpdatedAt), string(r.State),
		r.ErrorMessage, r.Provider, r.Model, r.Usage.InputTokens, r.Usage.OutputTokens, r.DurationMs)
	if err != nil {
		return fmt.Errorf("upsert analysis %s: %w", r.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE request_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear findings %s: %w", r.ID, err)
	}
	for i, f := range r.Findings {
		_, err := tx.ExecContext(ctx, `
INSERT INTO findings (id, request_id, position, fallacy, excerpt, avoidance, counter, reference)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, r.ID, i, f.Fallacy, f.Excerpt, f.Avoidance, f.Counter, f.Reference)
		if err != nil {
			return fmt.Errorf("insert finding %d of %s: %w", i, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, f Filter) ([]*model.AnalysisRequest, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses`
	var args []any
	if f.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(f.State))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	var result []*model.AnalysisRequest
	for rows.Next() {
		r, err := scanAnalysis(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	// Findings are loaded after the cursor is closed; the pool has one connection.
	rows.Close()

	result = applyLimit(result, f.Limit)
	for _, r := range result {
		if err := s.loadFindings(ctx, r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE request_id = ?`, id); err != nil {
		return fmt.Errorf("delete findings %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLite) Cursor(ctx context.Context, name string) (int, bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cursors WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cursor %s: %w", name, err)
	}
	return v, true, nil
}

func (s *SQLite) SetCursor(ctx context.Context, name string, value int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value)
	if err != nil {
		return fmt.Errorf("write cursor %s: %w", name, err)
	}
	return nil
}

// Close closes the DB.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) loadFindings(ctx context.Context, r *model.AnalysisRequest) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, fallacy, excerpt, avoidance, counter, reference
FROM findings WHERE request_id = ? ORDER BY position`, r.ID)
	if err != nil {
		return fmt.Errorf("load findings %s: %w", r.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		f := model.Finding{RequestID: r.ID}
		if err := rows.Scan(&f.ID, &f.Fallacy, &f.Excerpt, &f.Avoidance, &f.Counter, &f.Reference); err != nil {
			return fmt.Errorf("scan finding of %s: %w", r.ID, err)
		}
		r.Findings = append(r.Findings, f)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*model.AnalysisRequest, error) {
	var (
		r                model.AnalysisRequest
		created, updated string
		state            string
	)
	err := row.Scan(&r.ID, &r.SourceText, &created, &updated, &state, &r.ErrorMessage,
		&r.Provider, &r.Model, &r.Usage.InputTokens, &r.Usage.OutputTokens, &r.DurationMs)
	if err != nil {
		return nil, err
	}
	r.State = model.State(state)
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("created_at of %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("updated_at of %s: %w", r.ID, err)
	}
	return &r, nil
}

// Timestamps are stored as fixed-width UTC text so ORDER BY created_at
// sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
