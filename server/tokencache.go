package server

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTokenCacheSize bounds the validated-token cache.
const DefaultTokenCacheSize = 100_000

// DefaultTokenCacheTTL is how long a validation result is trusted without
// rechecking the metadata service.
const DefaultTokenCacheTTL = 5 * time.Minute

// revocationTTL covers a standard refresh window with an hour of slack.
const revocationTTL = 25 * time.Hour

// defaultRevocationSize bounds the revocation set.
const defaultRevocationSize = 100_000

// CachedToken is one validated token's claims plus its JWT expiry.
type CachedToken struct {
	UserID    string
	Namespace string
	Roles     []string
	// ExpiresAt is the JWT exp (Unix seconds); the cache entry dies with
	// it even inside the cache TTL.
	ExpiresAt int64
}

// TokenCache is a bounded LRU of validated tokens with TTL expiry, keeping
// load off the metadata service.
type TokenCache struct {
	cache *expirable.LRU[string, CachedToken]
	ttl   time.Duration
}

// NewTokenCache makes a cache of at most size entries living at most ttl.
func NewTokenCache(size int, ttl time.Duration) *TokenCache {
	if size <= 0 {
		size = DefaultTokenCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTokenCacheTTL
	}
	return &TokenCache{cache: expirable.NewLRU[string, CachedToken](size, nil, ttl), ttl: ttl}
}

// cacheTTL returns the configured entry lifetime.
func (c *TokenCache) cacheTTL() time.Duration {
	return c.ttl
}

// Get returns the cached claims if present and the JWT has not expired.
func (c *TokenCache) Get(token string) (CachedToken, bool) {
	entry, ok := c.cache.Get(token)
	if !ok {
		tokenCacheMisses.Inc()
		return CachedToken{}, false
	}
	if time.Now().Unix() >= entry.ExpiresAt {
		c.cache.Remove(token)
		tokenCacheMisses.Inc()
		return CachedToken{}, false
	}
	tokenCacheHits.Inc()
	return entry, true
}

// Set stores a validation result.
func (c *TokenCache) Set(token string, entry CachedToken) {
	c.cache.Add(token, entry)
}

// Remove drops one token, e.g. on revocation.
func (c *TokenCache) Remove(token string) {
	c.cache.Remove(token)
}

// Len returns the number of cached tokens.
func (c *TokenCache) Len() int {
	return c.cache.Len()
}

// RevocationSet remembers revoked tokens by a truncated hash, long enough
// to outlive any refresh window.
type RevocationSet struct {
	revoked *expirable.LRU[string, struct{}]
}

// NewRevocationSet makes a set of at most size entries.
func NewRevocationSet(size int) *RevocationSet {
	if size <= 0 {
		size = defaultRevocationSize
	}
	return &RevocationSet{revoked: expirable.NewLRU[string, struct{}](size, nil, revocationTTL)}
}

// tokenHash is hex(sha256(token)[:16]): collision-safe enough for a denial
// set without storing raw tokens.
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

// Revoke marks a token as dead.
func (s *RevocationSet) Revoke(token string) {
	s.revoked.Add(tokenHash(token), struct{}{})
}

// IsRevoked reports whether a token was revoked.
func (s *RevocationSet) IsRevoked(token string) bool {
	_, ok := s.revoked.Get(tokenHash(token))
	return ok
}

// Len returns the number of revoked tokens remembered.
func (s *RevocationSet) Len() int {
	return s.revoked.Len()
}
