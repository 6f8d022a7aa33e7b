package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps session records in a local SQLite database, one row per
// profile. Useful for desktop setups where several accounts share a machine.
type SQLiteStore struct {
	db      *sql.DB
	profile string
}

// OpenSQLite opens (creating if needed) the database at dbPath, runs
// migrations, and scopes the store to the given profile.
func OpenSQLite(dbPath, profile string) (*SQLiteStore, error) {
	if profile == "" {
		profile = "default"
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, profile: profile}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Record, error) {
	var token, userJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_json FROM sessions WHERE profile = ?`, s.profile,
	).Scan(&token, &userJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session row: %w", err)
	}

	if token == "" {
		return nil, fmt.Errorf("%w: row has no token", ErrCorrupt)
	}

	rec := &Record{Token: token}
	if err := json.Unmarshal([]byte(userJSON), &rec.User); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	userJSON, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("marshal session user: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (profile, token, user_json, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT (profile) DO UPDATE SET
			token = excluded.token,
			user_json = excluded.user_json,
			updated_at = excluded.updated_at`,
		s.profile, rec.Token, string(userJSON),
	)
	if err != nil {
		return fmt.Errorf("save session row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE profile = ?`, s.profile,
	); err != nil {
		return fmt.Errorf("clear session row: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
