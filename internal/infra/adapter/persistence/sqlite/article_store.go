package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/domain/entity"
	"feedsync/internal/repository"
)

// ArticleStore implements repository.ArticleStore on SQLite.
type ArticleStore struct{ db *sql.DB }

// NewArticleStore creates a SQLite-backed article store.
func NewArticleStore(db *sql.DB) repository.ArticleStore {
	return &ArticleStore{db: db}
}

// FetchSeenIdentifiers returns identifiers marked seen at or after since.
func (s *ArticleStore) FetchSeenIdentifiers(ctx context.Context, since time.Time) ([]string, error) {
	const query = `
SELECT identifier
FROM seen_articles
WHERE seen_at >= ?
ORDER BY seen_at DESC
`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%w: FetchSeenIdentifiers: %v", entity.ErrStorageFailure, err)
	}
	defer func() { _ = rows.Close() }()

	identifiers := make([]string, 0, 64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: FetchSeenIdentifiers: Scan: %v", entity.ErrStorageFailure, err)
		}
		identifiers = append(identifiers, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: FetchSeenIdentifiers: rows: %v", entity.ErrStorageFailure, err)
	}
	return identifiers, nil
}

// Exists reports whether the article is stored under either its remote
// identifier or its derived key. The derived-key match catches rows ingested
// under a legacy identifier format.
func (s *ArticleStore) Exists(ctx context.Context, identifier, derivedKey string) (bool, error) {
	const query = `
SELECT 1
FROM articles
WHERE identifier = ? OR derived_key = ?
LIMIT 1
`
	var one int
	err := s.db.QueryRowContext(ctx, query, identifier, derivedKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: Exists: %v", entity.ErrStorageFailure, err)
	}
	return true, nil
}

// ExistsAnyOf batch-checks identifiers with one IN query so the pipeline
// avoids an N+1 round-trip pattern.
func (s *ArticleStore) ExistsAnyOf(ctx context.Context, identifiers []string) (map[string]bool, error) {
	result := make(map[string]bool, len(identifiers))
	if len(identifiers) == 0 {
		return result, nil
	}
	for _, id := range identifiers {
		result[id] = false
	}

	placeholders := strings.Repeat("?,", len(identifiers))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`SELECT identifier FROM articles WHERE identifier IN (%s)`, placeholders)

	args := make([]interface{}, len(identifiers))
	for i, id := range identifiers {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: ExistsAnyOf: %v", entity.ErrStorageFailure, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: ExistsAnyOf: Scan: %v", entity.ErrStorageFailure, err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ExistsAnyOf: rows: %v", entity.ErrStorageFailure, err)
	}
	return result, nil
}

// InsertAtomic stores the article and its seen marker in one transaction.
// On any failure the transaction rolls back and no partial row is visible.
func (s *ArticleStore) InsertAtomic(ctx context.Context, article *entity.Article) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: InsertAtomic: begin: %v", entity.ErrStorageFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertArticle = `
INSERT INTO articles (
    identifier, derived_key, title, body, topic, source_url, domain,
    published_at, quality_score, analysis, engine_stats, similar_articles, created_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	if _, err := tx.ExecContext(ctx, insertArticle,
		article.Identifier, article.DerivedKey, article.Title, article.Body,
		article.Topic, article.SourceURL, article.Domain, article.PublishedAt,
		article.QualityScore, article.Analysis,
		[]byte(article.EngineStats), []byte(article.SimilarArticles),
		article.CreatedAt,
	); err != nil {
		return fmt.Errorf("%w: InsertAtomic: insert article: %v", entity.ErrStorageFailure, err)
	}

	const markSeen = `
INSERT INTO seen_articles (identifier, seen_at)
VALUES (?, ?)
ON CONFLICT(identifier) DO UPDATE SET seen_at = excluded.seen_at
`
	if _, err := tx.ExecContext(ctx, markSeen, article.Identifier, article.CreatedAt); err != nil {
		return fmt.Errorf("%w: InsertAtomic: mark seen: %v", entity.ErrStorageFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: InsertAtomic: commit: %v", entity.ErrStorageFailure, err)
	}
	return nil
}
