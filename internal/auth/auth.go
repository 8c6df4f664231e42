package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// KeyPrefix is the fixed prefix of every issued API key.
const KeyPrefix = "ghk_"

// Identity holds the authenticated caller's attributes.
type Identity struct {
	AgentID string
}

// Authenticator validates an API key and returns the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*Identity, error)
}

// ExtractBearer pulls the API key out of a request's Authorization header.
func ExtractBearer(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", ErrMissingAPIKey
	}

	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)

	if !strings.HasPrefix(token, KeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator accepts any well-formed key without a database lookup.
// Local development only.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*Identity, error) {
	if !strings.HasPrefix(apiKey, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	return &Identity{}, nil
}
