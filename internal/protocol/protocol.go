package protocol

import "encoding/json"

const Version = "1.0"

// Client -> server message types.
const (
	TypeHello            = "hello"
	TypeLocationUpdate   = "location_update"
	TypeJoinEvent        = "join_event"
	TypeLeaveEvent       = "leave_event"
	TypeChatMessage      = "chat_message"
	TypeClaimCollectible = "claim_collectible"
)

// Server -> client message types.
const (
	TypeWelcome            = "welcome"
	TypeNearbyEvents       = "nearby_events"
	TypeNearbyUsers        = "nearby_users"
	TypeUserJoined         = "user_joined"
	TypeUserLeft           = "user_left"
	TypeCollectibleDrop    = "collectible_drop"
	TypeClaimResult        = "claim_result"
	TypeCollectibleClaimed = "collectible_claimed"
	TypeUserDisconnected   = "user_disconnected"
	TypeError              = "error"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
