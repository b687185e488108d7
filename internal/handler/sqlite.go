package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
)

const defaultSQLiteTable = "lines"

// sqliteHandler inserts each line as a row.
type sqliteHandler struct {
	name  string
	path  string
	table string
	now   func() time.Time

	db     *sql.DB
	insert *sql.Stmt
}

// NewSQLite builds a handler that stores lines in a SQLite table.
func NewSQLite(cfg config.Handler, deps Deps) (Handler, error) {
	if cfg.Database == "" {
		return nil, errors.New("database is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultSQLiteTable
	}
	return &sqliteHandler{name: nameOf(cfg), path: cfg.Database, table: table, now: deps.now}, nil
}

func (h *sqliteHandler) Name() string { return h.name }

// Init opens the database and creates the table when missing.
func (h *sqliteHandler) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", h.path)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            dir TEXT NOT NULL,
            file TEXT NOT NULL,
            number INTEGER NOT NULL,
            text TEXT NOT NULL,
            pattern TEXT NOT NULL,
            received_at TEXT NOT NULL
        )`, h.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_source ON %[1]s(dir, file, number)`, h.table),
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("create table %s: %w", h.table, err)
		}
	}

	insert, err := db.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (dir, file, number, text, pattern, received_at) VALUES (?, ?, ?, ?, ?, ?)`, h.table))
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("prepare insert: %w", err)
	}
	h.db = db
	h.insert = insert
	return nil
}

func (h *sqliteHandler) Handle(ctx context.Context, line Line) error {
	if h.insert == nil {
		return errors.New("sqlite handler not initialized")
	}
	_, err := h.insert.ExecContext(ctx,
		line.Dir,
		line.File,
		line.Number,
		line.Text,
		line.Pattern,
		h.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert line: %w", err)
	}
	return nil
}

func (h *sqliteHandler) Close() error {
	if h.db == nil {
		return nil
	}
	var errs []error
	if h.insert != nil {
		errs = append(errs, h.insert.Close())
	}
	errs = append(errs, h.db.Close())
	h.db, h.insert = nil, nil
	return errors.Join(errs...)
}
