package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Message-level validation.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrBadCoordinates = "E_BAD_COORDINATES"
	ErrNotMember      = "E_NOT_MEMBER"

	// Domain state.
	ErrEventNotFound = "E_EVENT_NOT_FOUND"
	ErrEventEnded    = "E_EVENT_ENDED"

	// Infrastructure.
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrBadCoordinates:  {},
	ErrNotMember:       {},
	ErrEventNotFound:   {},
	ErrEventEnded:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
