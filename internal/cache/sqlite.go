package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stores (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS entries (
	store TEXT NOT NULL,
	key   TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (store, key)
);`

// SQLiteRegistry keeps every store in one SQLite file.
type SQLiteRegistry struct {
	db *sql.DB
}

type sqliteStore struct {
	name string
	db   *sql.DB
}

// OpenSQLite opens (or creates) cache.db inside dir.
func OpenSQLite(dir string) (*SQLiteRegistry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	dsn := filepath.Join(dir, "cache.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; SQLite would answer SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

func (r *SQLiteRegistry) Open(ctx context.Context, name string) (Store, error) {
	if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO stores (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &sqliteStore{name: name, db: r.db}, nil
}

func (r *SQLiteRegistry) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM stores WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up store %s: %w", name, err)
	}
	return true, nil
}

func (r *SQLiteRegistry) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE store = ?`, name); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRegistry) Names(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM stores ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func (s *sqliteStore) Name() string { return s.name }

func (s *sqliteStore) Get(ctx context.Context, key string) (*Entry, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE store = ? AND key = ?`, s.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Deserialize(value)
}

// Put writes only while the store exists, in a single statement.
func (s *sqliteStore) Put(ctx context.Context, key string, entry *Entry) error {
	value, err := Serialize(entry)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO entries (store, key, value)
SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM stores WHERE name = ?)
ON CONFLICT (store, key) DO UPDATE SET value = excluded.value`,
		s.name, key, value, s.name)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStoreDeleted
	}
	return nil
}
