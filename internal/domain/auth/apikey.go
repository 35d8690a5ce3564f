// Package auth authenticates operator API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeOrdersAdmin allows status updates and privileged cancellation.
const ScopeOrdersAdmin = "orders:admin"

var (
	// ErrKeyNotFound is returned by repositories when no active key has the hash.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned for missing, unknown or mismatched keys.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMissingScope is returned when a valid key lacks a required scope.
	ErrMissingScope = errors.New("api key lacks required scope")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator verifies raw API keys against stored HMAC-SHA256 hashes.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator using pepper as the HMAC key.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 of raw, as stored in api_keys.key_hash.
func (a *Authenticator) Hash(raw string) string {
	return hex.EncodeToString(a.sum(raw))
}

func (a *Authenticator) sum(raw string) []byte {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(raw))
	return mac.Sum(nil)
}

// Authenticate resolves raw to an active key that grants scope.
// Lookup failures other than a missing key are returned wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, raw, scope string) (*APIKeyInfo, error) {
	if raw == "" {
		return nil, ErrUnauthorized
	}
	sum := a.sum(raw)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The stored row must match what we computed, not just what we queried.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return nil, ErrUnauthorized
	}
	if scope != "" && !info.HasScope(scope) {
		return nil, ErrMissingScope
	}
	return info, nil
}
