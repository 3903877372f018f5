package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
)

// Role identifies which physical display an endpoint drives.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// Other returns the peer role.
func (r Role) Other() Role {
	if r == RolePrimary {
		return RoleSecondary
	}
	return RolePrimary
}

// Kind enumerates the closed set of wire message types.
type Kind string

const (
	KindNavigate        Kind = "NAVIGATE"
	KindGameSelect      Kind = "GAME_SELECT"
	KindSelectionUpdate Kind = "SELECTION_UPDATE"
	KindDisplayMode     Kind = "DISPLAY_MODE"
	KindCartUpdate      Kind = "CART_UPDATE"
	KindSyncRequest     Kind = "SYNC_REQUEST"
	KindSyncResponse    Kind = "SYNC_RESPONSE"
	KindHeartbeat       Kind = "HEARTBEAT"
)

// Message is the wire unit exchanged between the two displays. It is
// ephemeral: it exists only on the bus and during handling, and is never
// persisted.
type Message struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SenderRole Role            `json:"senderRole"`
	SentAt     int64           `json:"sentAt"` // unix milliseconds
}

// NavigatePayload asks the receiver to mirror a navigation change.
type NavigatePayload struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
}

// GameSelectPayload announces that a game has been opened for play.
type GameSelectPayload struct {
	GameID   string `json:"gameId"`
	GameName string `json:"gameName"`
}

// SelectionUpdatePayload carries the full current selection state for the
// active game. The receiver merges it only when the game id matches its own
// active game.
type SelectionUpdatePayload struct {
	GameID        string   `json:"gameId"`
	Selections    []string `json:"selections"`
	BetAmount     float64  `json:"betAmount"`
	NumberOfDraws int      `json:"numberOfDraws"`
	TotalCost     float64  `json:"totalCost"`
}

// DisplayModePayload sets the receiver's display mode directly.
type DisplayModePayload struct {
	Mode   string `json:"mode"`
	GameID string `json:"gameId,omitempty"`
}

// CartUpdatePayload is forwarded to the cart collaborator. The bet is opaque
// to the sync layer.
type CartUpdatePayload struct {
	Action string          `json:"action"`
	Bet    json.RawMessage `json:"bet,omitempty"`
}

// SyncResponsePayload is the full shared-intent snapshot sent to a
// late-joining peer.
type SyncResponsePayload struct {
	DisplayMode         string   `json:"displayMode"`
	CurrentPath         string   `json:"currentPath"`
	IsSecondDisplayOpen bool     `json:"isSecondDisplayOpen"`
	GameID              string   `json:"gameId,omitempty"`
	GameName            string   `json:"gameName,omitempty"`
	Selections          []string `json:"selections,omitempty"`
	BetAmount           float64  `json:"betAmount,omitempty"`
	NumberOfDraws       int      `json:"numberOfDraws,omitempty"`
	CartItemCount       int      `json:"cartItemCount"`
}

// New builds a message of the given kind, marshalling the payload. A nil
// payload is valid for kinds that carry none.
func New(kind Kind, payload any, sender Role, sentAt int64) (Message, error) {
	m := Message{
		ID:         uuid.New().String(),
		Kind:       kind,
		SenderRole: sender,
		SentAt:     sentAt,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		m.Payload = data
	}
	return m, nil
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a raw wire message and validates its envelope. The payload
// is validated separately by DecodePayload.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !m.SenderRole.Valid() {
		return Message{}, fmt.Errorf("decode message: unknown sender role %q", m.SenderRole)
	}
	if m.SentAt <= 0 {
		return Message{}, fmt.Errorf("decode message: missing sentAt")
	}
	return m, nil
}

// DecodePayload parses and validates the payload for the message's kind.
// Kinds that carry no payload return (nil, nil). An unknown kind or a
// payload that fails its shape check returns an error; the router drops
// such messages.
func (m Message) DecodePayload() (any, error) {
	switch m.Kind {
	case KindNavigate:
		var p NavigatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("navigate payload: %w", err)
		}
		if p.Path == "" {
			return nil, fmt.Errorf("navigate payload: missing path")
		}
		return p, nil

	case KindGameSelect:
		var p GameSelectPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("game select payload: %w", err)
		}
		if p.GameID == "" {
			return nil, fmt.Errorf("game select payload: missing gameId")
		}
		return p, nil

	case KindSelectionUpdate:
		var p SelectionUpdatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("selection update payload: %w", err)
		}
		if p.GameID == "" {
			return nil, fmt.Errorf("selection update payload: missing gameId")
		}
		if p.BetAmount < 0 || p.NumberOfDraws < 0 {
			return nil, fmt.Errorf("selection update payload: negative bet or draws")
		}
		return p, nil

	case KindDisplayMode:
		var p DisplayModePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("display mode payload: %w", err)
		}
		if p.Mode == "" {
			return nil, fmt.Errorf("display mode payload: missing mode")
		}
		return p, nil

	case KindCartUpdate:
		var p CartUpdatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("cart update payload: %w", err)
		}
		if p.Action == "" {
			return nil, fmt.Errorf("cart update payload: missing action")
		}
		return p, nil

	case KindSyncResponse:
		var p SyncResponsePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("sync response payload: %w", err)
		}
		if p.DisplayMode == "" {
			return nil, fmt.Errorf("sync response payload: missing displayMode")
		}
		return p, nil

	case KindSyncRequest, KindHeartbeat:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
}
