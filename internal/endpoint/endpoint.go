// Package endpoint is the object a display actually talks to: it tags one
// side of the terminal (primary cashier screen or secondary player screen),
// wires the channel transport, message router, presence monitor and state
// store together, and runs the late-join handshake when it mounts.
package endpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lottopos/terminal/internal/cart"
	"github.com/lottopos/terminal/internal/games"
	"github.com/lottopos/terminal/internal/presence"
	"github.com/lottopos/terminal/internal/protocol"
	"github.com/lottopos/terminal/internal/router"
	"github.com/lottopos/terminal/internal/state"
	"github.com/lottopos/terminal/internal/transport"
)

// ErrClosed is returned by Send after the endpoint has been torn down.
var ErrClosed = errors.New("endpoint closed")

// Config holds the timing knobs of one endpoint.
type Config struct {
	Role              protocol.Role
	HeartbeatInterval time.Duration
	TimeoutWindow     time.Duration
}

// DefaultConfig returns the standard presence timing: the timeout window is
// more than twice the heartbeat interval, so one missed beat never flaps
// the peer-active signal.
func DefaultConfig(role protocol.Role) Config {
	return Config{
		Role:              role,
		HeartbeatInterval: 2 * time.Second,
		TimeoutWindow:     5 * time.Second,
	}
}

// Endpoint is one side of the dual-display sync pair.
type Endpoint struct {
	cfg     Config
	tr      transport.Transport
	store   *state.Store
	router  *router.Router
	monitor *presence.Monitor
	cart    cart.Service
	catalog *games.Catalog
	clock   clockwork.Clock

	mu        sync.Mutex
	lastMsg   *protocol.Message
	lastStamp int64
	syncTimer clockwork.Timer
	syncOpen  bool // still accepting a SYNC_RESPONSE
	unsub     func()
	closed    bool
}

// New wires an endpoint. The transport may be a degraded no-op one; the
// endpoint then reports IsChannelReady false and operates local-only.
func New(cfg Config, tr transport.Transport, store *state.Store, cartSvc cart.Service, catalog *games.Catalog, clock clockwork.Clock) *Endpoint {
	e := &Endpoint{
		cfg:     cfg,
		tr:      tr,
		store:   store,
		cart:    cartSvc,
		catalog: catalog,
		clock:   clock,
		router:  router.New(cfg.Role),
	}
	e.monitor = presence.NewMonitor(cfg.Role, cfg.HeartbeatInterval, cfg.TimeoutWindow, clock, e.beat)
	e.router.OnInbound(e.monitor.Observe)

	e.handle(protocol.KindNavigate, func(m protocol.Message, p any) {
		e.applyNavigate(p.(protocol.NavigatePayload), m.SentAt)
	})
	e.handle(protocol.KindGameSelect, func(m protocol.Message, p any) {
		e.applyGameSelect(p.(protocol.GameSelectPayload), m.SentAt)
	})
	e.handle(protocol.KindSelectionUpdate, func(m protocol.Message, p any) {
		e.applySelectionUpdate(p.(protocol.SelectionUpdatePayload), m.SentAt)
	})
	e.handle(protocol.KindDisplayMode, func(m protocol.Message, p any) {
		e.applyDisplayMode(p.(protocol.DisplayModePayload), m.SentAt)
	})
	e.handle(protocol.KindCartUpdate, func(m protocol.Message, p any) {
		cp := p.(protocol.CartUpdatePayload)
		if err := e.cart.Apply(cp.Action, cp.Bet); err != nil {
			log.Debug().Err(err).Str("action", cp.Action).Msg("dropping cart update")
		}
	})
	e.handle(protocol.KindSyncRequest, func(m protocol.Message, p any) {
		e.answerSyncRequest()
	})
	e.handle(protocol.KindSyncResponse, func(m protocol.Message, p any) {
		e.adoptSyncResponse(p.(protocol.SyncResponsePayload), m.SentAt)
	})
	e.handle(protocol.KindHeartbeat, func(protocol.Message, any) {
		// Consumed by the presence monitor via the inbound tap.
	})

	return e
}

// handle registers a router handler that also records the message as the
// last accepted inbound one and advances the local stamp counter past the
// sender's, so our next local mutation never loses a last-write-wins
// comparison to state we have already seen.
func (e *Endpoint) handle(kind protocol.Kind, fn router.Handler) {
	e.router.Handle(kind, func(m protocol.Message, p any) {
		e.mu.Lock()
		cp := m
		e.lastMsg = &cp
		if m.SentAt > e.lastStamp {
			e.lastStamp = m.SentAt
		}
		e.mu.Unlock()
		fn(m, p)
	})
}

// Start subscribes to the channel, begins heartbeating and runs the
// late-join handshake: broadcast SYNC_REQUEST, then wait one heartbeat
// interval for a SYNC_RESPONSE before driving solo.
func (e *Endpoint) Start(ctx context.Context) error {
	unsub, err := e.tr.Subscribe(e.router.Dispatch)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.unsub = unsub
	e.mu.Unlock()

	e.monitor.Start()

	if !e.tr.Ready() {
		log.Warn().Str("role", string(e.cfg.Role)).Msg("display channel not ready, driving solo")
		return nil
	}

	e.publish(protocol.KindSyncRequest, nil)

	e.mu.Lock()
	e.syncOpen = true
	e.syncTimer = e.clock.AfterFunc(e.cfg.HeartbeatInterval, func() {
		e.mu.Lock()
		open := e.syncOpen
		e.syncOpen = false
		e.mu.Unlock()
		if open {
			log.Info().Str("role", string(e.cfg.Role)).Msg("no peer answered sync request, driving solo")
		}
	})
	e.mu.Unlock()

	log.Info().Str("role", string(e.cfg.Role)).Msg("endpoint started")
	return nil
}

// Close tears the endpoint down: heartbeat timers, the sync-wait timer and
// the channel subscription are all cancelled so no callback fires against a
// dead endpoint. Idempotent.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	unsub := e.unsub
	timer := e.syncTimer
	e.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	e.monitor.Stop()
	if unsub != nil {
		unsub()
	}
	log.Info().Str("role", string(e.cfg.Role)).Msg("endpoint closed")
}

// Role returns the endpoint's fixed role tag.
func (e *Endpoint) Role() protocol.Role { return e.cfg.Role }

// Store exposes the endpoint's state store.
func (e *Endpoint) Store() *state.Store { return e.store }

// IsChannelReady reports whether the broadcast channel is usable at all.
func (e *Endpoint) IsChannelReady() bool { return e.tr.Ready() }

// IsPeerActive reports whether the other display is currently alive.
func (e *Endpoint) IsPeerActive() bool { return e.monitor.Active() }

// OnPeerChange registers a callback for peer connect/disconnect
// transitions. Must be called before Start.
func (e *Endpoint) OnPeerChange(fn func(active bool)) { e.monitor.OnChange(fn) }

// LastMessage returns a copy of the most recent accepted inbound message,
// or nil if none arrived yet.
func (e *Endpoint) LastMessage() *protocol.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastMsg == nil {
		return nil
	}
	cp := *e.lastMsg
	return &cp
}

// Send applies a semantic event locally and broadcasts it to the peer.
// State-bearing kinds mutate the local store first with a fresh stamp; the
// peer applies the same mutation from the wire copy. With a degraded
// transport the local mutation still happens and the broadcast is a silent
// no-op.
func (e *Endpoint) Send(kind protocol.Kind, payload any) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	stamp := e.nextStamp()
	msg, err := protocol.New(kind, payload, e.cfg.Role, stamp)
	if err != nil {
		return err
	}
	decoded, err := msg.DecodePayload()
	if err != nil {
		return err
	}

	switch kind {
	case protocol.KindNavigate:
		e.applyNavigate(decoded.(protocol.NavigatePayload), stamp)
	case protocol.KindGameSelect:
		e.applyGameSelect(decoded.(protocol.GameSelectPayload), stamp)
	case protocol.KindSelectionUpdate:
		e.applySelectionUpdate(decoded.(protocol.SelectionUpdatePayload), stamp)
	case protocol.KindDisplayMode:
		e.applyDisplayMode(decoded.(protocol.DisplayModePayload), stamp)
	case protocol.KindCartUpdate:
		// Apply-locally-then-broadcast, same as the state-bearing kinds:
		// the router self-filters, so the sender's cart only changes here.
		cu := decoded.(protocol.CartUpdatePayload)
		if err := e.cart.Apply(cu.Action, cu.Bet); err != nil {
			return err
		}
	case protocol.KindSyncRequest, protocol.KindSyncResponse, protocol.KindHeartbeat:
		// Protocol plumbing, nothing to apply locally.
	}

	e.publishMessage(msg)
	return nil
}

// nextStamp returns a strictly increasing unix-millisecond stamp. Two local
// mutations in the same millisecond must not compare equal, or the second
// would lose its own last-write-wins race.
func (e *Endpoint) nextStamp() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now().UnixMilli()
	if now <= e.lastStamp {
		now = e.lastStamp + 1
	}
	e.lastStamp = now
	return now
}

// beat emits one heartbeat; invoked by the presence monitor's tick loop.
func (e *Endpoint) beat() {
	e.publish(protocol.KindHeartbeat, nil)
}

func (e *Endpoint) publish(kind protocol.Kind, payload any) {
	msg, err := protocol.New(kind, payload, e.cfg.Role, e.nextStamp())
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("could not build message")
		return
	}
	e.publishMessage(msg)
}

func (e *Endpoint) publishMessage(msg protocol.Message) {
	if !e.tr.Ready() {
		return
	}
	raw, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("could not encode message")
		return
	}
	if err := e.tr.Publish(context.Background(), raw); err != nil {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("publish failed")
	}
}

// modeForPath maps a navigation path to the display mode it implies and,
// for gameplay paths, the game id.
func modeForPath(path string) (state.DisplayMode, string) {
	if id := games.GameIDFromPath(path); id != "" {
		return state.ModeGameplay, id
	}
	switch path {
	case "/", "/idle":
		return state.ModeIdle, ""
	case "/games":
		return state.ModeGames, ""
	case "/cart":
		return state.ModeCart, ""
	case "/payment":
		return state.ModePayment, ""
	case "/complete":
		return state.ModeComplete, ""
	case "/payout":
		return state.ModePayout, ""
	default:
		// Unmapped paths are cashier-side screens the player display has
		// no rendition of; fall back to idle there.
		return state.ModeIdle, ""
	}
}

// skeleton builds a fresh active-game selection for a game id, taking caps
// from the catalogue. Games missing from the catalogue still open with a
// conservative default cap, so both displays act the same on lineup drift.
func (e *Endpoint) skeleton(gameID, gameName string) state.ActiveGameSelection {
	const fallbackMaxSelections = 10
	sel := state.ActiveGameSelection{
		GameID:        gameID,
		GameName:      gameName,
		NumberOfDraws: 1,
		MaxSelections: fallbackMaxSelections,
	}
	if g, ok := e.catalog.Get(gameID); ok {
		sel.GameType = g.Type
		sel.MaxSelections = g.MaxSelections
		if sel.GameName == "" {
			sel.GameName = g.Name
		}
	}
	return sel
}

func (e *Endpoint) applyNavigate(p protocol.NavigatePayload, stamp int64) {
	if p.Path == state.DefaultPath {
		// Back to the idle root: the session is over, everything resets.
		e.store.Reset(stamp)
		return
	}
	mode, gameID := modeForPath(p.Path)
	var game *state.ActiveGameSelection
	if gameID != "" {
		s := e.skeleton(gameID, "")
		game = &s
	}
	e.store.Navigate(p.Path, mode, game, secondOpenParam(p.Params), stamp)
}

// secondOpenParam reads the second-display window state carried as a
// NAVIGATE param when the cashier opens or closes the player-facing window.
func secondOpenParam(params map[string]string) *bool {
	switch params["secondDisplay"] {
	case "open":
		v := true
		return &v
	case "closed":
		v := false
		return &v
	}
	return nil
}

func (e *Endpoint) applyGameSelect(p protocol.GameSelectPayload, stamp int64) {
	e.store.SetActiveGame(e.skeleton(p.GameID, p.GameName), stamp)
}

func (e *Endpoint) applySelectionUpdate(p protocol.SelectionUpdatePayload, stamp int64) {
	// A mismatched game id is ignored rather than replacing the active
	// game; only the driving display may switch games.
	if !e.store.MergeSelectionUpdate(p.GameID, p.Selections, p.BetAmount, p.NumberOfDraws, p.TotalCost, stamp) {
		log.Debug().Str("game_id", p.GameID).Msg("selection update ignored")
	}
}

func (e *Endpoint) applyDisplayMode(p protocol.DisplayModePayload, stamp int64) {
	mode := state.DisplayMode(p.Mode)
	if !mode.Valid() {
		log.Debug().Str("mode", p.Mode).Msg("dropping unknown display mode")
		return
	}
	if mode == state.ModeGameplay && p.GameID != "" {
		cur := e.store.Snapshot()
		if cur.ActiveGame == nil || cur.ActiveGame.GameID != p.GameID {
			e.store.SetActiveGame(e.skeleton(p.GameID, ""), stamp)
			return
		}
	}
	e.store.SetDisplayMode(mode, stamp)
}

// answerSyncRequest replies with the full current state. Only a peer we
// consider connected gets an answer; the request itself just refreshed the
// presence monitor, so in practice this gates on the channel being sane.
func (e *Endpoint) answerSyncRequest() {
	if !e.monitor.Active() {
		return
	}
	snap := e.store.Snapshot()
	resp := protocol.SyncResponsePayload{
		DisplayMode:         string(snap.DisplayMode),
		CurrentPath:         snap.CurrentPath,
		IsSecondDisplayOpen: snap.IsSecondDisplayOpen,
		CartItemCount:       e.cart.ItemCount(),
	}
	if ag := snap.ActiveGame; ag != nil {
		resp.GameID = ag.GameID
		resp.GameName = ag.GameName
		resp.Selections = ag.Selections
		resp.BetAmount = ag.BetAmount
		resp.NumberOfDraws = ag.NumberOfDraws
	}
	e.publish(protocol.KindSyncResponse, resp)
	log.Debug().Str("role", string(e.cfg.Role)).Msg("answered sync request")
}

// adoptSyncResponse installs the peer's snapshot if we are still waiting
// for one and have not built up state of our own in the meantime.
func (e *Endpoint) adoptSyncResponse(p protocol.SyncResponsePayload, stamp int64) {
	e.mu.Lock()
	open := e.syncOpen
	timer := e.syncTimer
	e.syncOpen = false
	e.mu.Unlock()
	if !open {
		return
	}
	if timer != nil {
		timer.Stop()
	}

	snap := state.Snapshot{
		DisplayMode:         state.DisplayMode(p.DisplayMode),
		CurrentPath:         p.CurrentPath,
		IsSecondDisplayOpen: p.IsSecondDisplayOpen,
	}
	if p.GameID != "" {
		sel := e.skeleton(p.GameID, p.GameName)
		sel.Selections = p.Selections
		sel.BetAmount = p.BetAmount
		sel.NumberOfDraws = p.NumberOfDraws
		snap.ActiveGame = &sel
	}
	if e.store.Adopt(snap, stamp) {
		log.Info().
			Str("role", string(e.cfg.Role)).
			Str("mode", p.DisplayMode).
			Msg("adopted peer state")
	} else {
		log.Debug().Str("role", string(e.cfg.Role)).Msg("sync response arrived after local state, keeping ours")
	}
}
