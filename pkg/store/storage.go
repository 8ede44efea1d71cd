package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

// Storage provides SQLite-backed persistence.
type Storage struct {
	db  *sql.DB
	mu  sync.RWMutex
	cfg *Config
	now func() time.Time
}

// New opens (and if needed creates) the database described by cfg.
func New(cfg *Config) (*Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DefaultSSHUser == "" {
		cfg.DefaultSSHUser = "root"
	}
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = 22
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Storage{
		db:  db,
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// initSchema creates the database tables if they don't exist.
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		id TEXT PRIMARY KEY,
		alias TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL UNIQUE,
		ssh_user TEXT NOT NULL DEFAULT 'root',
		port INTEGER NOT NULL DEFAULT 22,
		identity_file TEXT NOT NULL DEFAULT '',
		proxy_jump TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'manual',
		os_distro TEXT NOT NULL DEFAULT '',
		os_version TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		distro TEXT NOT NULL,
		profile_name TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		host_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scan_results (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		host_id TEXT,
		host TEXT NOT NULL,
		distro TEXT NOT NULL,
		profile_name TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		other INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(job_id, host),
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS rule_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_result_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		rationale TEXT NOT NULL DEFAULT '',
		fixtext TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (scan_result_id) REFERENCES scan_results(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_kind_created ON jobs(kind, created_at);
	CREATE INDEX IF NOT EXISTS idx_scan_results_job ON scan_results(job_id);
	CREATE INDEX IF NOT EXISTS idx_rule_results_scan ON rule_results(scan_result_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

func notFound(op, what, id string) error {
	return sgerrors.E(sgerrors.KindNotFound, op, fmt.Sprintf("%s %s not found", what, id), sgerrors.ErrNotFound)
}
