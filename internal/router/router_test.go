package router

import (
	"testing"

	"github.com/lottopos/terminal/internal/protocol"
)

func encode(t *testing.T, kind protocol.Kind, payload any, sender protocol.Role) []byte {
	t.Helper()
	msg, err := protocol.New(kind, payload, sender, 1000)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	raw, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return raw
}

func TestDispatchRoutesToHandler(t *testing.T) {
	r := New(protocol.RolePrimary)

	var got protocol.GameSelectPayload
	r.Handle(protocol.KindGameSelect, func(m protocol.Message, p any) {
		got = p.(protocol.GameSelectPayload)
	})

	r.Dispatch(encode(t, protocol.KindGameSelect,
		protocol.GameSelectPayload{GameID: "game-3", GameName: "Keno X"}, protocol.RoleSecondary))

	if got.GameID != "game-3" {
		t.Fatalf("handler not invoked, got %+v", got)
	}
}

func TestDispatchFiltersOwnMessages(t *testing.T) {
	r := New(protocol.RolePrimary)

	called := false
	r.Handle(protocol.KindHeartbeat, func(protocol.Message, any) { called = true })
	r.OnInbound(func(protocol.Role) { called = true })

	r.Dispatch(encode(t, protocol.KindHeartbeat, nil, protocol.RolePrimary))

	if called {
		t.Fatal("self-originated message must be dropped before any handler")
	}
}

func TestDispatchDropsMalformed(t *testing.T) {
	r := New(protocol.RolePrimary)

	called := false
	r.Handle(protocol.KindGameSelect, func(protocol.Message, any) { called = true })

	// Valid envelope, payload missing its required gameId.
	raw := []byte(`{"id":"x","kind":"GAME_SELECT","payload":{"gameName":"Keno X"},"senderRole":"secondary","sentAt":1}`)
	r.Dispatch(raw)
	if called {
		t.Fatal("malformed payload must not reach the handler")
	}

	// Garbage bytes must not panic.
	r.Dispatch([]byte("not json at all"))
}

func TestDispatchDropsUnknownKind(t *testing.T) {
	r := New(protocol.RolePrimary)
	raw := []byte(`{"id":"x","kind":"TELEPORT","payload":{},"senderRole":"secondary","sentAt":1}`)
	r.Dispatch(raw) // must be a silent drop, no panic
}

func TestDispatchWithoutHandlerIsDrop(t *testing.T) {
	r := New(protocol.RolePrimary)
	r.Dispatch(encode(t, protocol.KindSyncRequest, nil, protocol.RoleSecondary))
}

func TestInboundTapSeesPeerTraffic(t *testing.T) {
	r := New(protocol.RolePrimary)

	var seen []protocol.Role
	r.OnInbound(func(from protocol.Role) { seen = append(seen, from) })
	r.Handle(protocol.KindHeartbeat, func(protocol.Message, any) {})

	r.Dispatch(encode(t, protocol.KindHeartbeat, nil, protocol.RoleSecondary))
	r.Dispatch(encode(t, protocol.KindHeartbeat, nil, protocol.RolePrimary))

	if len(seen) != 1 || seen[0] != protocol.RoleSecondary {
		t.Fatalf("inbound tap saw %v, want exactly one secondary", seen)
	}
}

func TestInboundTapFiresBeforeValidation(t *testing.T) {
	// A malformed business payload from the peer still proves the peer is
	// alive; the tap fires even though the handler never does.
	r := New(protocol.RolePrimary)

	tapped := false
	r.OnInbound(func(protocol.Role) { tapped = true })
	raw := []byte(`{"id":"x","kind":"GAME_SELECT","payload":{},"senderRole":"secondary","sentAt":1}`)
	r.Dispatch(raw)

	if !tapped {
		t.Fatal("presence tap must fire for decodable peer messages")
	}
}
