// Package sqlite implements per-agent persistence using pure-Go SQLite.
// One database file per agent holds cron jobs and executions, tasks,
// ingestion tracking, worker runs, memory records, conversation archives,
// and the operator settings KV. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	spacebot "github.com/nevindra/spacebot"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is one agent's database. It opens a single shared connection
// (SetMaxOpenConns(1)) so all goroutines serialize through one connection,
// eliminating SQLITE_BUSY errors from concurrent writers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Store at dbPath.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: spacebot.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			interval_secs INTEGER NOT NULL,
			delivery_target TEXT NOT NULL,
			active_start INTEGER,
			active_end INTEGER,
			enabled INTEGER NOT NULL DEFAULT 1,
			run_once INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			timeout_secs INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cron_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			summary TEXT,
			executed_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			owner_worker_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_files (
			content_hash TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			status TEXT NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_progress (
			content_hash TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			filename TEXT NOT NULL,
			PRIMARY KEY (content_hash, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS worker_runs (
			id TEXT PRIMARY KEY,
			channel_id TEXT,
			task TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			transcript TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			category TEXT,
			embedding TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_associations (
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			score REAL NOT NULL,
			PRIMARY KEY (from_id, to_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_archives (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			content TEXT NOT NULL,
			archived_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, q := range tables {
		if _, err := s.exec(ctx, q); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return nil
}

// maxQueryRetries bounds retries of transiently failing queries (locked
// database). Persistent errors propagate.
const maxQueryRetries = 3

func transientDBError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	for i := 0; i < maxQueryRetries; i++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if !transientDBError(err) {
			return res, err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return res, err
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	for i := 0; i < maxQueryRetries; i++ {
		rows, err = s.db.QueryContext(ctx, query, args...)
		if !transientDBError(err) {
			return rows, err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return rows, err
}

// --- settings KV (operator settings) ---

// GetSetting returns the value for key, or "" when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// SetSetting upserts a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
