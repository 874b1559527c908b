package store

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SqliteSettings configures the sqlite backend.
type SqliteSettings struct {
	Path string `mapstructure:"path" default:"replay.db" validate:"required"`
}

// SqliteStore persists entries in a local sqlite database.
type SqliteStore struct {
	db *sqlx.DB
}

// NewSqlite opens (or creates) the database at the configured path and
// applies pending migrations.
func NewSqlite(settings map[string]any) (*SqliteStore, error) {
	var cfg SqliteSettings
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database at %s", cfg.Path)
	}

	s := &SqliteStore{db: db}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) applyMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return errors.Wrap(err, "failed to set goose dialect")
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}

// Get implements Store.
func (s *SqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, "SELECT value FROM kv_entries WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read key %s", key)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SqliteStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
	INSERT INTO kv_entries (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
	value = excluded.value,
	updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return errors.Wrapf(err, "failed to write key %s", key)
	}
	return nil
}

// Delete implements Store.
func (s *SqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "failed to delete key %s", key)
	}
	return nil
}

// Close implements Store.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}
