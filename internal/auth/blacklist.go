// ABOUTME: Revoked-token list kept in the cache backend
// ABOUTME: Logout stores the token until it would have expired anyway

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/relay-gateway/internal/cache"
)

// fallbackRevocationTTL is used when a revoked token carries no exp claim.
const fallbackRevocationTTL = time.Hour

// BlacklistPrefix starts every revocation key. In-process backends must pin
// it so revocations are never evicted before they expire.
const BlacklistPrefix = "blacklist:"

// Blacklist records tokens that must no longer be accepted.
type Blacklist struct {
	backend cache.Backend
	now     func() time.Time
}

// NewBlacklist stores revocations in backend.
func NewBlacklist(backend cache.Backend) *Blacklist {
	return &Blacklist{backend: backend, now: time.Now}
}

// Revoke blacklists token for the rest of its lifetime. Tokens that have
// already expired are not stored.
func (b *Blacklist) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ttl := fallbackRevocationTTL
	if exp, ok := ExpiresAt(token); ok {
		ttl = exp.Sub(b.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := b.backend.Set(ctx, BlacklistPrefix+token, "blacklisted", ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether token was blacklisted.
func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	_, err := b.backend.Get(ctx, BlacklistPrefix+token)
	if errors.Is(err, cache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check token: %w", err)
	}
	return true, nil
}
