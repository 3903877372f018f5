package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"

	"github.com/lottopos/terminal/internal/state"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d, at %d", n, h.ClientCount())
}

func TestHubPushesStateFrames(t *testing.T) {
	h := NewHub(DefaultHubConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dialHub(t, h)
	waitForClients(t, h, 1)

	h.PushState(state.Snapshot{
		DisplayMode: state.ModeGameplay,
		CurrentPath: "/games/game-3",
		ActiveGame:  &state.ActiveGameSelection{GameID: "game-3", Selections: []string{"7"}},
	})

	env := readEnvelope(t, conn)
	if env.Type != "state" {
		t.Fatalf("frame type = %s, want state", env.Type)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.DisplayMode != state.ModeGameplay || snap.ActiveGame == nil || snap.ActiveGame.GameID != "game-3" {
		t.Fatalf("pushed snapshot wrong: %+v", snap)
	}
}

func TestHubPushesPeerFrames(t *testing.T) {
	h := NewHub(DefaultHubConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dialHub(t, h)
	waitForClients(t, h, 1)

	h.PushPeer(true)

	env := readEnvelope(t, conn)
	if env.Type != "peer" {
		t.Fatalf("frame type = %s, want peer", env.Type)
	}
	var frame peerFrame
	if err := json.Unmarshal(env.Data, &frame); err != nil {
		t.Fatalf("decode peer frame: %v", err)
	}
	if !frame.Active {
		t.Fatal("peer frame should report active")
	}
}

func TestHubFansOutToAllClients(t *testing.T) {
	h := NewHub(DefaultHubConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := dialHub(t, h)
	b := dialHub(t, h)
	waitForClients(t, h, 2)

	h.PushPeer(false)

	for _, conn := range []*websocket.Conn{a, b} {
		if env := readEnvelope(t, conn); env.Type != "peer" {
			t.Fatalf("frame type = %s, want peer", env.Type)
		}
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	h := NewHub(DefaultHubConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dialHub(t, h)
	waitForClients(t, h, 1)

	conn.Close()
	waitForClients(t, h, 0)
}
