// Package oauth provides PKCE and state primitives for the Roblox
// authorization code flow.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// verifierBytes yields an 86-character verifier, within the 43-128
	// character bound of RFC 7636.
	verifierBytes = 64

	// stateBytes yields a 22-character state token.
	stateBytes = 16
)

// Challenge is a PKCE verifier/challenge pair using the S256 method.
type Challenge struct {
	// Verifier is the code verifier sent with the token exchange.
	Verifier string

	// CodeChallenge is the base64url-encoded SHA-256 of the verifier,
	// sent with the authorization request.
	CodeChallenge string
}

// GenerateChallenge generates a cryptographically random PKCE pair.
func GenerateChallenge() (*Challenge, error) {
	verifier, err := randomToken(verifierBytes)
	if err != nil {
		return nil, fmt.Errorf("generating verifier: %w", err)
	}

	return &Challenge{
		Verifier:      verifier,
		CodeChallenge: ComputeChallenge(verifier),
	}, nil
}

// ComputeChallenge computes the S256 code challenge for a verifier.
func ComputeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState generates a random state token correlating an authorization
// request with its callback.
func GenerateState() (string, error) {
	state, err := randomToken(stateBytes)
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	return state, nil
}

func randomToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
