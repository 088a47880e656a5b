// Package repository declares the persistence interfaces the sync core
// depends on. Concrete implementations live under internal/infra/adapter.
package repository

import (
	"context"
	"time"

	"feedsync/internal/domain/entity"
)

// ArticleStore is the narrow contract the sync core requires of the local
// article store. Implementations must provide read-after-write consistency
// for the caller's own writes and their own transaction isolation; the core
// never holds a store-level lock across a network call.
type ArticleStore interface {
	// FetchSeenIdentifiers returns identifiers marked seen at or after since.
	FetchSeenIdentifiers(ctx context.Context, since time.Time) ([]string, error)

	// Exists reports whether an article is already stored, matching either
	// the remote identifier or the derived local key. The derived-key match
	// catches duplicates ingested under a legacy identifier format.
	Exists(ctx context.Context, identifier, derivedKey string) (bool, error)

	// ExistsAnyOf is the batch form of Exists keyed by identifier only.
	ExistsAnyOf(ctx context.Context, identifiers []string) (map[string]bool, error)

	// InsertAtomic stores the article and records its seen marker in one
	// transaction. Either both become visible or neither does.
	InsertAtomic(ctx context.Context, article *entity.Article) error
}
