package store

import "time"

// Event status values. An event transitions active -> ended exactly once.
const (
	EventActive = "active"
	EventEnded  = "ended"
)

// Point is a WGS84 coordinate pair, GeoJSON order (longitude first).
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

func (p Point) Valid() bool {
	return p.Lng >= -180 && p.Lng <= 180 && p.Lat >= -90 && p.Lat <= 90
}

type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	CreatorID   string `json:"creator_id"`
	Location    Point  `json:"location"`
	Address     string `json:"address,omitempty"`
	Status      string `json:"status"`

	// Participants is a best-effort counter maintained by join/leave;
	// room membership truth lives in the connection registry.
	Participants int `json:"participants"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Collectible struct {
	ID       string `json:"id"`
	EventID  string `json:"event_id"`
	Name     string `json:"name"`
	Rarity   string `json:"rarity"`
	Score    int    `json:"score"`
	Location Point  `json:"location"`

	DroppedAt time.Time `json:"dropped_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// ClaimedBy is write-once: empty until the single winning claim sets it.
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Active    bool       `json:"is_active"`
}

// Claimable reports whether a claim's conditional update could still match.
func (c Collectible) Claimable(now time.Time) bool {
	return c.ClaimedBy == "" && c.Active && c.ExpiresAt.After(now)
}

type UserLocation struct {
	UserID    string    `json:"user_id"`
	Location  Point     `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryItem records one granted claim.
type InventoryItem struct {
	UserID        string    `json:"user_id"`
	CollectibleID string    `json:"collectible_id"`
	EventID       string    `json:"event_id"`
	ClaimedAt     time.Time `json:"claimed_at"`
}
