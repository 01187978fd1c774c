package protocol

import "time"

// hello (client -> server): first frame on a fresh connection.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name,omitempty"`
}

// welcome (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	UserID          string    `json:"user_id"`
	ServerTime      time.Time `json:"server_time"`
}

// location_update (client -> server). Coordinates are [lng, lat].
type LocationUpdateMsg struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
	Accuracy    *float64   `json:"accuracy,omitempty"`
	Speed       *float64   `json:"speed,omitempty"`
	Heading     *float64   `json:"heading,omitempty"`
}

type JoinEventMsg struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type LeaveEventMsg struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

// chat_message is both inbound (Message only) and outbound (with sender).
type ChatMsg struct {
	Type      string    `json:"type"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type ClaimCollectibleMsg struct {
	Type          string `json:"type"`
	CollectibleID string `json:"collectible_id"`
}

// EventInfo is the wire shape of an event in nearby_events pushes.
type EventInfo struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Category     string     `json:"category,omitempty"`
	Coordinates  [2]float64 `json:"coordinates"`
	Participants int        `json:"participants"`
	DistanceM    float64    `json:"distance_m"`
}

type NearbyEventsMsg struct {
	Type      string      `json:"type"`
	Events    []EventInfo `json:"events"`
	Timestamp time.Time   `json:"timestamp"`
}

type NearbyUser struct {
	UserID      string     `json:"user_id"`
	Coordinates [2]float64 `json:"coordinates"`
	DistanceM   float64    `json:"distance_m"`
}

type NearbyUsersMsg struct {
	Type      string       `json:"type"`
	Users     []NearbyUser `json:"users"`
	Timestamp time.Time    `json:"timestamp"`
}

type UserJoinedMsg struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

type UserLeftMsg struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

type UserDisconnectedMsg struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CollectibleInfo is the wire shape of a collectible.
type CollectibleInfo struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	Name        string     `json:"name"`
	Rarity      string     `json:"rarity"`
	Score       int        `json:"score"`
	Coordinates [2]float64 `json:"coordinates"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

type CollectibleDropMsg struct {
	Type        string          `json:"type"`
	Collectible CollectibleInfo `json:"collectible"`
	ExpiresIn   int             `json:"expires_in"` // seconds
	Timestamp   time.Time       `json:"timestamp"`
}

// claim_result goes to the requester only. Reason is diagnostic; a lost
// claim is a normal outcome, not an error.
type ClaimResultMsg struct {
	Type        string           `json:"type"`
	Success     bool             `json:"success"`
	Reason      string           `json:"reason,omitempty"`
	Message     string           `json:"message"`
	Collectible *CollectibleInfo `json:"collectible,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

type CollectibleClaimedMsg struct {
	Type          string    `json:"type"`
	CollectibleID string    `json:"collectible_id"`
	EventID       string    `json:"event_id"`
	WinnerID      string    `json:"winner_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type ErrorMsg struct {
	Type      string    `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
