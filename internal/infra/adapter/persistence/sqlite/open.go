// Package sqlite provides the SQLite-backed article store. A single local
// file is the whole persistence layer; the sync core only ever touches it
// through the repository.ArticleStore interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) the article database at path and applies the
// schema. WAL mode keeps readers unblocked while the pipeline writes.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers; extra connections only contend.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// MigrateUp applies the schema. Every statement is idempotent.
func MigrateUp(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS articles (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    identifier       TEXT NOT NULL UNIQUE,
    derived_key      TEXT NOT NULL UNIQUE,
    title            TEXT NOT NULL,
    body             TEXT NOT NULL,
    topic            TEXT,
    source_url       TEXT,
    domain           TEXT,
    published_at     TIMESTAMP,
    quality_score    REAL,
    analysis         TEXT,
    engine_stats     BLOB,
    similar_articles BLOB,
    created_at       TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS seen_articles (
    identifier TEXT PRIMARY KEY,
    seen_at    TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_articles_seen_at ON seen_articles(seen_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
