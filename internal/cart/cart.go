// Package cart is the collaborator that owns cart contents. The sync layer
// forwards CART_UPDATE events here without interpreting the bet payload;
// pricing, ticket numbering and purchase flow live outside this repository.
package cart

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"
)

// Known cart actions carried by CART_UPDATE messages.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionUpdate = "update"
	ActionClear  = "clear"
)

// Service is what the endpoint forwards CART_UPDATE events to. ItemCount
// feeds the late-join SYNC_RESPONSE.
type Service interface {
	Apply(action string, bet json.RawMessage) error
	ItemCount() int
}

// Memory is an in-process cart sufficient for the sync layer: it mirrors
// what the peer display put in the cart so both screens agree on the item
// count. Bets stay opaque blobs keyed by id.
type Memory struct {
	mu    sync.Mutex
	items map[string]json.RawMessage
}

// NewMemory creates an empty cart.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]json.RawMessage)}
}

// betID pulls the id field out of an otherwise opaque bet.
type betID struct {
	ID string `json:"id"`
}

// Apply executes one cart action. Unknown actions are an error; the caller
// logs and drops them.
func (m *Memory) Apply(action string, bet json.RawMessage) error {
	var key betID
	if len(bet) > 0 {
		if err := json.Unmarshal(bet, &key); err != nil {
			return fmt.Errorf("cart bet payload: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch action {
	case ActionAdd:
		id := key.ID
		if id == "" {
			id = uuid.New().String()
		}
		m.items[id] = append(json.RawMessage(nil), bet...)
	case ActionUpdate:
		if key.ID == "" {
			return fmt.Errorf("cart update without bet id")
		}
		if _, ok := m.items[key.ID]; !ok {
			return fmt.Errorf("cart update for unknown bet %s", key.ID)
		}
		m.items[key.ID] = append(json.RawMessage(nil), bet...)
	case ActionRemove:
		if key.ID == "" {
			return fmt.Errorf("cart remove without bet id")
		}
		delete(m.items, key.ID)
	case ActionClear:
		m.items = make(map[string]json.RawMessage)
	default:
		return fmt.Errorf("unknown cart action %q", action)
	}

	log.Debug().Str("action", action).Int("items", len(m.items)).Msg("cart updated")
	return nil
}

// ItemCount returns how many bets are in the cart.
func (m *Memory) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
