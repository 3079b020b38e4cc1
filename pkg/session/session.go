// Package session provides ephemeral verification session storage keyed by
// the OAuth state token.
package session

import (
	"context"
	"errors"
	"time"
)

// TTL is how long a session stays consumable after creation.
const TTL = 600 * time.Second

// ErrSessionNotFound indicates no consumable session exists for the given
// state. Expired, already consumed and never issued states are deliberately
// indistinguishable.
var ErrSessionNotFound = errors.New("session not found")

// Session is the correlation state for one in-flight linking attempt.
type Session struct {
	// State is the opaque CSRF/correlation token keying the session.
	State string `json:"state"`

	// RequesterID is the Discord user that initiated the flow.
	RequesterID int64 `json:"requester_id"`

	// GuildID is the guild the flow was initiated from, 0 for none.
	GuildID int64 `json:"guild_id"`

	// CodeVerifier is the PKCE verifier for the eventual token exchange.
	CodeVerifier string `json:"code_verifier"`

	// CreatedAt is when the session was created; expiry is CreatedAt+TTL.
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is past its TTL.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) > TTL
}

// Store is the verification session store contract. Both implementations
// guarantee that Consume atomically retrieves and deletes: for any state
// value, at most one Consume call ever returns a session.
type Store interface {
	// Create stores a session under its state token with the package TTL.
	Create(ctx context.Context, sess *Session) error

	// Consume retrieves and deletes the session for state in one atomic
	// step. Missing, expired and previously consumed states all return
	// ErrSessionNotFound.
	Consume(ctx context.Context, state string) (*Session, error)

	// Start begins any background maintenance the store needs.
	Start(ctx context.Context) error

	// Stop releases store resources.
	Stop() error
}
