package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/segmentio/encoding/json"

	"github.com/lottopos/terminal/internal/cart"
	"github.com/lottopos/terminal/internal/endpoint"
	"github.com/lottopos/terminal/internal/games"
	"github.com/lottopos/terminal/internal/protocol"
	"github.com/lottopos/terminal/internal/state"
	"github.com/lottopos/terminal/internal/transport"
)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()

	cfg := endpoint.Config{
		Role:              protocol.RolePrimary,
		HeartbeatInterval: time.Second,
		TimeoutWindow:     3 * time.Second,
	}
	ep := endpoint.New(cfg, transport.Noop(), state.NewStore(nil), cart.NewMemory(), games.Default(), clockwork.NewRealClock())
	t.Cleanup(ep.Close)

	svc := NewService(NewHub(DefaultHubConfig()), ep, games.Default())
	r := mux.NewRouter()
	svc.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, srv
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealth(t *testing.T) {
	_, srv := newTestService(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGamesEndpoint(t *testing.T) {
	_, srv := newTestService(t)

	var list []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		MaxSelections int    `json:"maxSelections"`
	}
	getJSON(t, srv.URL+"/api/games", &list)
	if len(list) != 3 {
		t.Fatalf("lineup size = %d, want 3", len(list))
	}
	if list[2].ID != "game-3" || list[2].MaxSelections != 10 {
		t.Fatalf("keno entry wrong: %+v", list[2])
	}
}

func TestPeerEndpoint(t *testing.T) {
	_, srv := newTestService(t)

	var got struct {
		Role         string `json:"role"`
		ChannelReady bool   `json:"channelReady"`
		PeerActive   bool   `json:"peerActive"`
	}
	getJSON(t, srv.URL+"/api/peer", &got)
	if got.Role != "primary" {
		t.Fatalf("role = %s", got.Role)
	}
	// The test endpoint runs on a degraded transport.
	if got.ChannelReady || got.PeerActive {
		t.Fatalf("degraded endpoint reported ready=%v active=%v", got.ChannelReady, got.PeerActive)
	}
}

func TestSendMutatesState(t *testing.T) {
	_, srv := newTestService(t)

	body := []byte(`{"kind":"GAME_SELECT","payload":{"gameId":"game-2","gameName":"Roulette Royale"}}`)
	resp, err := http.Post(srv.URL+"/api/send", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var snap state.Snapshot
	getJSON(t, srv.URL+"/api/state", &snap)
	if snap.DisplayMode != state.ModeGameplay || snap.ActiveGame == nil || snap.ActiveGame.GameID != "game-2" {
		t.Fatalf("state after send: %+v", snap)
	}
}

func TestSendRejectsBadRequests(t *testing.T) {
	_, srv := newTestService(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"unknown kind", `{"kind":"TELEPORT","payload":{}}`},
		{"invalid payload", `{"kind":"GAME_SELECT","payload":{"gameName":"no id"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/send", "application/json", bytes.NewReader([]byte(tc.body)))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}
