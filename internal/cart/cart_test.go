package cart

import (
	"testing"

	"github.com/segmentio/encoding/json"
)

func TestMemoryCartLifecycle(t *testing.T) {
	c := NewMemory()
	if c.ItemCount() != 0 {
		t.Fatal("new cart should be empty")
	}

	if err := c.Apply(ActionAdd, json.RawMessage(`{"id":"b1","gameId":"game-3","totalCost":2}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Apply(ActionAdd, json.RawMessage(`{"id":"b2","gameId":"game-1","totalCost":1}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.ItemCount() != 2 {
		t.Fatalf("count = %d, want 2", c.ItemCount())
	}

	if err := c.Apply(ActionUpdate, json.RawMessage(`{"id":"b1","gameId":"game-3","totalCost":4}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if c.ItemCount() != 2 {
		t.Fatalf("update changed count: %d", c.ItemCount())
	}

	if err := c.Apply(ActionRemove, json.RawMessage(`{"id":"b1"}`)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.ItemCount() != 1 {
		t.Fatalf("count after remove = %d, want 1", c.ItemCount())
	}

	if err := c.Apply(ActionClear, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if c.ItemCount() != 0 {
		t.Fatal("clear left items behind")
	}
}

func TestAddWithoutIDGetsOne(t *testing.T) {
	c := NewMemory()
	if err := c.Apply(ActionAdd, json.RawMessage(`{"gameId":"game-2"}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.ItemCount() != 1 {
		t.Fatalf("count = %d, want 1", c.ItemCount())
	}
}

func TestApplyErrors(t *testing.T) {
	c := NewMemory()

	cases := []struct {
		name   string
		action string
		bet    string
	}{
		{"unknown action", "duplicate", `{"id":"b1"}`},
		{"update without id", ActionUpdate, `{}`},
		{"update unknown bet", ActionUpdate, `{"id":"ghost"}`},
		{"remove without id", ActionRemove, `{}`},
		{"bad bet json", ActionAdd, `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.Apply(tc.action, json.RawMessage(tc.bet)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if c.ItemCount() != 0 {
		t.Fatalf("failed actions mutated the cart: %d items", c.ItemCount())
	}
}
