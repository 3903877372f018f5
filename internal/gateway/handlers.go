package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"

	"github.com/lottopos/terminal/internal/endpoint"
	"github.com/lottopos/terminal/internal/games"
	"github.com/lottopos/terminal/internal/protocol"
)

// Service binds one endpoint's hub and REST surface.
type Service struct {
	hub     *Hub
	ep      *endpoint.Endpoint
	catalog *games.Catalog
}

// NewService creates the gateway for one display endpoint.
func NewService(hub *Hub, ep *endpoint.Endpoint, catalog *games.Catalog) *Service {
	return &Service{hub: hub, ep: ep, catalog: catalog}
}

// Hub exposes the underlying push hub.
func (s *Service) Hub() *Hub { return s.hub }

// RegisterRoutes mounts the gateway on a router.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/peer", s.handlePeer).Methods(http.MethodGet)
	r.HandleFunc("/api/games", s.handleGames).Methods(http.MethodGet)
	r.HandleFunc("/api/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.hub.ServeWS)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ep.Store().Snapshot())
}

func (s *Service) handlePeer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"role":         s.ep.Role(),
		"channelReady": s.ep.IsChannelReady(),
		"peerActive":   s.ep.IsPeerActive(),
		"uiClients":    s.hub.ClientCount(),
	})
}

func (s *Service) handleGames(w http.ResponseWriter, r *http.Request) {
	type game struct {
		ID            string     `json:"id"`
		Name          string     `json:"name"`
		Type          games.Type `json:"type"`
		MaxSelections int        `json:"maxSelections"`
		MaxDraws      int        `json:"maxDraws"`
		MinBet        float64    `json:"minBet"`
		MaxBet        float64    `json:"maxBet"`
	}
	list := s.catalog.List()
	out := make([]game, 0, len(list))
	for _, g := range list {
		out = append(out, game{
			ID: g.ID, Name: g.Name, Type: g.Type,
			MaxSelections: g.MaxSelections, MaxDraws: g.MaxDraws,
			MinBet: g.MinBet, MaxBet: g.MaxBet,
		})
	}
	writeJSON(w, out)
}

// sendRequest is a UI action: a semantic event to apply locally and
// broadcast to the peer display.
type sendRequest struct {
	Kind    protocol.Kind   `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		var raw json.RawMessage = req.Payload
		payload = raw
	}
	if err := s.ep.Send(req.Kind, payload); err != nil {
		log.Debug().Err(err).Str("kind", string(req.Kind)).Msg("ui send rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("could not write response")
	}
}
