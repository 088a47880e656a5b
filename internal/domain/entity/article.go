// Package entity defines the core domain entities and errors for the sync
// client. The central object is Article, the normalized record built from a
// fetched remote payload.
package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Article is the normalized representation of one remote article.
// It is created once per identifier and immutable afterwards; user-facing
// flags (read, bookmarked) live in the store layer, not here.
type Article struct {
	ID         int64
	Identifier string // remote identifier (payload URL), the dedup key
	DerivedKey string // deterministic local key derived from Identifier

	Title       string
	Body        string
	Topic       string
	SourceURL   string
	Domain      string
	PublishedAt time.Time

	QualityScore float64
	Analysis     string

	// Opaque blobs passed through from the payload unmodified.
	EngineStats     json.RawMessage
	SimilarArticles json.RawMessage

	CreatedAt time.Time
}

// Validate checks the fields required before an article may be stored.
// Title and Body are mandatory; a payload missing either is a parse failure.
func (a *Article) Validate() error {
	if a.Identifier == "" {
		return &ValidationError{Field: "identifier", Message: "must not be empty"}
	}
	if a.Title == "" {
		return &ValidationError{Field: "title", Message: "must not be empty"}
	}
	if a.Body == "" {
		return &ValidationError{Field: "body", Message: "must not be empty"}
	}
	return nil
}

// ValidationError reports which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}
