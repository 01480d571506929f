package bundle

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clwhipp/yubikey-utils/internal/bundle/migrations"
	"github.com/clwhipp/yubikey-utils/internal/envelope"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists the bundle in a SQLite database. Envelope insertion
// order is preserved by the autoincrement id, so lookup semantics match
// the file backend exactly. Saves rewrite the full table in one
// transaction.
type SQLiteStore struct {
	db *sql.DB
}

var _ Persistence = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the database at path and
// migrates it to the latest schema. path may be ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite works best with a single connection for a single-writer tool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring database: %w", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (*Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT serial, context, salt, nonce, ciphertext, tag, created_at
		FROM envelopes
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying envelopes: %w", err)
	}
	defer rows.Close()

	store := NewStore()
	for rows.Next() {
		var serial string
		var env envelope.Envelope
		if err := rows.Scan(&serial, &env.Context, &env.Salt, &env.Nonce, &env.Ciphertext, &env.Tag, &env.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning envelope: %w", err)
		}
		store.Insert(serial, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading envelopes: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Save(ctx context.Context, store *Store) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM envelopes"); err != nil {
		return fmt.Errorf("clearing envelopes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO envelopes (serial, context, salt, nonce, ciphertext, tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, serial := range store.serials() {
		for _, env := range store.Envelopes(serial) {
			if _, err := stmt.ExecContext(ctx, serial, env.Context, env.Salt, env.Nonce, env.Ciphertext, env.Tag, env.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("inserting envelope for %s: %w", serial, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing store: %w", err)
	}
	return nil
}
