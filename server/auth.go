package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/fs9fs/fs9/fs"
)

// DefaultNamespace is used for unauthenticated endpoints and tokens issued
// before namespaces existed.
const DefaultNamespace = "default"

// Claims is the JWT payload the server understands. One token binds to one
// namespace.
type Claims struct {
	Namespace   string   `json:"ns,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Mounts      []string `json:"mounts,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry a role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanAccessMount checks the optional mount allowlist. An empty list allows
// everything; entries ending in "*" are prefix matches.
func (c *Claims) CanAccessMount(path string) bool {
	if len(c.Mounts) == 0 {
		return true
	}
	for _, mount := range c.Mounts {
		if strings.HasSuffix(mount, "*") {
			if strings.HasPrefix(path, strings.TrimSuffix(mount, "*")) {
				return true
			}
		} else if path == mount || strings.HasPrefix(path, mount+"/") {
			return true
		}
	}
	return false
}

// RequestContext travels with every request after authentication.
type RequestContext struct {
	Namespace string
	UserID    string
	Roles     []string
}

// HasRole reports whether the request carries a role.
func (c *RequestContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey struct{}

// withContext attaches the RequestContext to a request.
func withContext(r *http.Request, rc *RequestContext) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextKey{}, rc))
}

// contextFrom recovers the RequestContext from a request.
func contextFrom(r *http.Request) (*RequestContext, bool) {
	rc, ok := r.Context().Value(contextKey{}).(*RequestContext)
	return rc, ok
}

// SignToken mints an HMAC token for the given subject and namespace. Used
// by tests and the CLI; production tokens come from the metadata service.
func SignToken(secret, subject, ns string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Namespace: ns,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseLocalToken validates an HMAC token against the configured secret.
func parseLocalToken(secret, token string) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fs.PermissionDenied("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fs.PermissionDenied("invalid token")
	}
	return claims, nil
}

// jwtExpiry extracts the exp claim without verifying the signature; used to
// bound cache lifetimes for meta-validated tokens.
func jwtExpiry(token string) int64 {
	claims := new(Claims)
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return 0
	}
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix()
}

// authBypass paths receive a default context without credentials.
func authBypass(path string) bool {
	return path == "/health" || path == "/metrics"
}

// authMiddleware authenticates every request. Validation order: revocation
// set, token cache, metadata service behind the circuit breaker, then the
// local HMAC secret when no metadata service is configured. Failures are
// uniform 401s that never reveal whether a namespace exists.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authBypass(r.URL.Path) || s.opt.DisableAuth {
			next.ServeHTTP(w, withContext(r, &RequestContext{
				Namespace: DefaultNamespace,
				UserID:    "anonymous",
			}))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authorization header must use Bearer scheme")
			return
		}

		if s.revoked.IsRevoked(token) {
			writeError(w, http.StatusUnauthorized, "token revoked")
			return
		}

		rc, err := s.authenticate(r.Context(), token)
		if err != nil {
			var open *fs.CircuitOpenError
			if errors.As(err, &open) {
				writeError(w, http.StatusServiceUnavailable, open.Error())
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, withContext(r, rc))
	})
}

// authenticate resolves a bearer token to a RequestContext.
func (s *Server) authenticate(ctx context.Context, token string) (*RequestContext, error) {
	if cached, ok := s.tokens.Get(token); ok {
		return &RequestContext{
			Namespace: cached.Namespace,
			UserID:    cached.UserID,
			Roles:     cached.Roles,
		}, nil
	}

	if s.meta != nil {
		validation, err := validateThroughBreaker(ctx, s.meta, s.breaker, token)
		if err != nil {
			return nil, err
		}
		if !validation.Valid || validation.Namespace == "" {
			return nil, fs.PermissionDenied("invalid token")
		}
		expiresAt := validation.ExpiresAt
		if exp := jwtExpiry(token); exp > 0 && (expiresAt == 0 || exp < expiresAt) {
			expiresAt = exp
		}
		if expiresAt == 0 {
			expiresAt = time.Now().Add(s.tokens.cacheTTL()).Unix()
		}
		s.tokens.Set(token, CachedToken{
			UserID:    validation.UserID,
			Namespace: validation.Namespace,
			Roles:     validation.Roles,
			ExpiresAt: expiresAt,
		})
		return &RequestContext{
			Namespace: validation.Namespace,
			UserID:    validation.UserID,
			Roles:     validation.Roles,
		}, nil
	}

	claims, err := parseLocalToken(s.opt.JWTSecret, token)
	if err != nil {
		return nil, err
	}
	if claims.Namespace == "" {
		return nil, fs.PermissionDenied("token missing required 'ns' claim")
	}
	expiresAt := int64(0)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Unix()
	}
	s.tokens.Set(token, CachedToken{
		UserID:    claims.Subject,
		Namespace: claims.Namespace,
		Roles:     claims.Roles,
		ExpiresAt: expiresAt,
	})
	return &RequestContext{
		Namespace: claims.Namespace,
		UserID:    claims.Subject,
		Roles:     claims.Roles,
	}, nil
}

// rateLimitMiddleware rejects requests over budget with 429.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authBypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		rc, ok := contextFrom(r)
		if ok && !s.limiter.Allow(rc.Namespace, rc.UserID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
