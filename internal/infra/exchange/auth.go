package exchange

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// bearerToken attaches a static bearer token to outgoing requests. When the
// token is a JWT its expiry is inspected (without signature verification,
// which is the server's job) so an expired credential is logged once instead
// of producing a wall of 401s.
type bearerToken struct {
	raw       string
	expiresAt *time.Time
	warned    atomic.Bool
	logger    *slog.Logger
}

func newBearerToken(raw string, logger *slog.Logger) *bearerToken {
	t := &bearerToken{raw: raw, logger: logger}
	if raw == "" {
		return t
	}

	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		// Opaque tokens are fine; only JWTs get expiry inspection.
		return t
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		t.expiresAt = &exp
	}
	return t
}

func (t *bearerToken) authorize(req *http.Request) {
	if t.raw == "" {
		return
	}
	if t.expiresAt != nil && time.Now().After(*t.expiresAt) && t.warned.CompareAndSwap(false, true) {
		t.logger.Warn("bearer token is expired, requests will likely be rejected",
			slog.Time("expired_at", *t.expiresAt))
	}
	req.Header.Set("Authorization", "Bearer "+t.raw)
}
