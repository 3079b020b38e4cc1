// Package linkage provides durable Discord-to-Roblox identity mapping.
package linkage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no linkage exists for the given identifier.
var ErrNotFound = errors.New("linkage not found")

// Linkage associates a Discord identity with a Roblox identity.
// At most one linkage exists per requester.
type Linkage struct {
	// RequesterID is the Discord user ID, unique per linkage.
	RequesterID int64 `json:"requester_id"`

	// RobloxID is the linked Roblox user ID.
	RobloxID int64 `json:"roblox_id"`

	// RobloxUsername is the display name captured at link time.
	RobloxUsername string `json:"roblox_username"`

	// LinkedAt is when the linkage was created or last refreshed.
	LinkedAt time.Time `json:"linked_at"`
}

// Store is the linkage persistence contract.
type Store interface {
	// GetByRequester retrieves the linkage for a Discord user.
	GetByRequester(ctx context.Context, requesterID int64) (*Linkage, error)

	// GetByRoblox retrieves the linkage for a Roblox user.
	GetByRoblox(ctx context.Context, robloxID int64) (*Linkage, error)

	// Upsert creates or replaces the linkage keyed on RequesterID.
	Upsert(ctx context.Context, link *Linkage) error

	// Delete removes the linkage for a Discord user.
	Delete(ctx context.Context, requesterID int64) error

	// Close releases store resources.
	Close() error
}
