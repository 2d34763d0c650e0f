// Package auth resolves the bearer token attached to outgoing requests.
// Absence of a token is never an error: requests simply go out
// unauthenticated.
package auth

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/pkg/storage"
)

// Defaults for token resolution.
const (
	DefaultEnvVar     = "APIPROBE_TOKEN"
	DefaultStorageKey = "auth_token"
)

// TokenSource resolves a bearer token from, in order: an explicitly set
// token, the environment, and durable storage under a configurable key.
type TokenSource struct {
	mu     sync.Mutex
	static string
	envVar string
	kv     storage.KV
	key    string
	log    *slog.Logger
	warned bool
}

// TokenOption configures a TokenSource.
type TokenOption func(*TokenSource)

// WithStaticToken pins the token, bypassing env and storage lookup.
func WithStaticToken(token string) TokenOption {
	return func(t *TokenSource) { t.static = token }
}

// WithEnvVar overrides the environment variable consulted.
func WithEnvVar(name string) TokenOption {
	return func(t *TokenSource) { t.envVar = name }
}

// WithStorage consults kv under DefaultStorageKey when env lookup fails.
func WithStorage(kv storage.KV) TokenOption {
	return func(t *TokenSource) { t.kv = kv }
}

// WithStorageKey overrides the storage key consulted.
func WithStorageKey(key string) TokenOption {
	return func(t *TokenSource) { t.key = key }
}

// WithLogger sets the logger used for expiry warnings.
func WithLogger(log *slog.Logger) TokenOption {
	return func(t *TokenSource) { t.log = log }
}

// NewTokenSource creates a token source with the given options.
func NewTokenSource(opts ...TokenOption) *TokenSource {
	t := &TokenSource{
		envVar: DefaultEnvVar,
		key:    DefaultStorageKey,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Token returns the current bearer token, or "" when none is configured.
// JWT-shaped tokens that are already expired trigger a one-time warning;
// the token is still returned so the server can reject it authoritatively.
func (t *TokenSource) Token() string {
	token := t.resolve()
	if token == "" {
		return ""
	}
	t.warnIfExpired(token)
	return token
}

func (t *TokenSource) resolve() string {
	if t.static != "" {
		return t.static
	}
	if v := strings.TrimSpace(os.Getenv(t.envVar)); v != "" {
		return v
	}
	if t.kv != nil {
		if data, ok, err := t.kv.Get(t.key); err == nil && ok {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// warnIfExpired does an unverified claims parse on JWT-shaped tokens and
// warns once when the expiry is in the past. Opaque tokens are ignored.
func (t *TokenSource) warnIfExpired(token string) {
	if strings.Count(token, ".") != 2 {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		t.mu.Lock()
		warned := t.warned
		t.warned = true
		t.mu.Unlock()
		if !warned {
			t.log.Warn("bearer token is expired, requests will likely be rejected",
				"expiredAt", exp.Time.Format(time.RFC3339))
		}
	}
}
