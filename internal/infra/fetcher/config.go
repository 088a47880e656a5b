package fetcher

import "time"

// Config holds payload fetch settings.
type Config struct {
	// Timeout bounds a single payload fetch. The pipeline additionally
	// applies its own per-item context deadline.
	Timeout time.Duration

	// MaxBodyBytes caps how much of a payload response is read.
	MaxBodyBytes int64

	// UserAgent identifies this client.
	UserAgent string
}

// DefaultConfig returns production defaults: 30s per fetch, 2 MiB payload
// ceiling.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxBodyBytes: 2 << 20,
		UserAgent:    "feedsync/1.0",
	}
}
