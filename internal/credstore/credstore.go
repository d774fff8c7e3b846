// Package credstore holds the signed-in session: access token, refresh token
// and cached user profile, mirrored in memory and persisted durably so a
// restart does not sign the operator out.
package credstore

import (
	"context"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// UserProfile is the display-level identity cached next to the tokens.
type UserProfile struct {
	ID    string   `json:"id,omitempty"`
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Credentials is the session record. Outside the in-flight window of a token
// refresh, AccessToken and RefreshToken are both present or both absent.
type Credentials struct {
	AccessToken  string       `json:"accessToken,omitempty"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	User         *UserProfile `json:"user,omitempty"`
}

// Present reports whether a complete token pair is held.
func (c Credentials) Present() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Store is the credential store contract. No operation returns an error: a
// corrupted durable record reads as absent credentials and is purged, and
// persistence failures are logged while the in-memory mirror stays
// authoritative for the process. Clear is idempotent.
type Store interface {
	Get() Credentials
	Set(creds Credentials)
	Clear()
}

// Watcher is implemented by stores whose durable backend can notify about a
// sign-out performed by another instance sharing the same store. The adapter
// drops the local mirror before invoking onSignOut, so the callback only has
// to publish the sign-out and steer navigation.
type Watcher interface {
	Watch(ctx context.Context, onSignOut func()) error
}

// ProfileFromToken decodes the display claims of a bearer token without
// verifying its signature. The client holds no verification key; the server
// remains the authority, this is cache material only.
func ProfileFromToken(token string) *UserProfile {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	profile := &UserProfile{}
	if sub, err := claims.GetSubject(); err == nil {
		profile.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		profile.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		profile.Name = name
	}
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				profile.Roles = append(profile.Roles, role)
			}
		}
	}

	if profile.ID == "" && profile.Email == "" && profile.Name == "" && len(profile.Roles) == 0 {
		return nil
	}
	return profile
}

// MemStore is a process-local Store with no durable backend. It backs tests
// and hosts that manage persistence themselves.
type MemStore struct {
	mu    sync.Mutex
	creds Credentials
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Get() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

func (m *MemStore) Set(creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
}

func (m *MemStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
}
