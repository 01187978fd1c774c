// Package store defines the document-store contract the coordination
// engine runs against: geospatial proximity queries plus an atomic
// conditional update. The conditional update is the sole correctness
// mechanism for scarce-resource claims; implementations must apply
// condition and mutation as one indivisible operation relative to all
// other operations on the same document.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// CollectibleCond is the compare half of a collectible compare-and-set.
// Zero-value fields are not part of the condition.
type CollectibleCond struct {
	// Unclaimed requires claimed_by to be unset.
	Unclaimed bool
	// Active, when non-nil, requires is_active to equal the value.
	Active *bool
	// ExpiresAfter, when non-nil, requires expires_at > t.
	ExpiresAfter *time.Time
	// ExpiredBy, when non-nil, requires expires_at <= t.
	ExpiredBy *time.Time
}

// CollectibleSet is the set half. Nil fields are left untouched.
type CollectibleSet struct {
	ClaimedBy *string
	ClaimedAt *time.Time
	Active    *bool
}

type Store interface {
	InsertEvent(ctx context.Context, ev Event) (string, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	// EventsNear returns events with the given status within radiusMeters
	// of center, ascending by distance (ties broken by id), at most limit.
	EventsNear(ctx context.Context, center Point, radiusMeters float64, status string, limit int) ([]Event, error)
	// ActiveEvents lists active events with at least minParticipants.
	ActiveEvents(ctx context.Context, minParticipants int) ([]Event, error)
	// EndEvent is the conditional active -> ended transition. It returns
	// the post-update event, or nil if the event was not active.
	EndEvent(ctx context.Context, id string) (*Event, error)
	// AddParticipants adjusts the participant counter by delta (may be
	// negative); the counter never drops below zero.
	AddParticipants(ctx context.Context, eventID string, delta int) error

	InsertCollectible(ctx context.Context, c Collectible) (string, error)
	GetCollectible(ctx context.Context, id string) (Collectible, error)
	// CollectiblesNear returns active, unexpired collectibles within
	// radiusMeters of center, ascending by distance, at most limit.
	CollectiblesNear(ctx context.Context, center Point, radiusMeters float64, now time.Time, limit int) ([]Collectible, error)
	// ExpiredActiveCollectibles lists sweep candidates: is_active and
	// expires_at <= now. Read-only; deactivation goes through
	// UpdateCollectible so it can never race a claim.
	ExpiredActiveCollectibles(ctx context.Context, now time.Time, limit int) ([]Collectible, error)
	// UpdateCollectible applies set iff cond holds, atomically, and
	// returns the post-update document. A nil result with nil error
	// means the condition did not match.
	UpdateCollectible(ctx context.Context, id string, cond CollectibleCond, set CollectibleSet) (*Collectible, error)

	UpsertUserLocation(ctx context.Context, userID string, p Point, at time.Time) error
	AddInventory(ctx context.Context, item InventoryItem) error
	// Inventory lists a user's claims, most recent first.
	Inventory(ctx context.Context, userID string) ([]InventoryItem, error)
}
