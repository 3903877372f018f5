// Package state holds the shared-intent snapshot both displays converge on.
// Each endpoint owns one Store; the two copies are kept convergent by
// messages, not shared memory. Conflicts resolve by last-write-wins on
// per-field-group timestamps: with exactly two writers and one display
// driving at a time, that is deliberately all the consistency machinery
// this layer carries.
package state

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lottopos/terminal/internal/games"
)

// DisplayMode is what the player-facing screen is currently showing.
type DisplayMode string

const (
	ModeIdle     DisplayMode = "idle"
	ModeGames    DisplayMode = "games"
	ModeGameplay DisplayMode = "gameplay"
	ModeCart     DisplayMode = "cart"
	ModePayment  DisplayMode = "payment"
	ModeComplete DisplayMode = "complete"
	ModePayout   DisplayMode = "payout"
)

// Valid reports whether m is one of the known display modes.
func (m DisplayMode) Valid() bool {
	switch m {
	case ModeIdle, ModeGames, ModeGameplay, ModeCart, ModePayment, ModeComplete, ModePayout:
		return true
	}
	return false
}

// DefaultPath is the navigation path of a freshly started display.
const DefaultPath = "/"

// ActiveGameSelection is the game currently being configured. It is owned by
// whichever display last mutated it; ownership is advisory, not locked.
// Selections never exceed MaxSelections; the cap is enforced here at the
// point of mutation.
type ActiveGameSelection struct {
	GameID        string     `json:"gameId"`
	GameName      string     `json:"gameName"`
	GameType      games.Type `json:"gameType"`
	Selections    []string   `json:"selections"`
	BetAmount     float64    `json:"betAmount"`
	NumberOfDraws int        `json:"numberOfDraws"`
	TotalCost     float64    `json:"totalCost"`
	MaxSelections int        `json:"maxSelections"`
}

func (a *ActiveGameSelection) clone() *ActiveGameSelection {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Selections = append([]string(nil), a.Selections...)
	return &cp
}

// Snapshot is a point-in-time copy of the shared-intent state.
type Snapshot struct {
	DisplayMode         DisplayMode          `json:"displayMode"`
	ActiveGame          *ActiveGameSelection `json:"activeGame,omitempty"`
	CurrentPath         string               `json:"currentPath"`
	IsSecondDisplayOpen bool                 `json:"isSecondDisplayOpen"`
	LastSyncTimestamp   int64                `json:"lastSyncTimestamp"`
}

// Persister saves the reload-surviving subset of the snapshot. The active
// game never persists.
type Persister interface {
	Save(mode DisplayMode, path string, secondOpen bool) error
	Load() (mode DisplayMode, path string, secondOpen bool, found bool, err error)
}

// Store is the canonical shared-intent state for one endpoint. Mutators take
// an origin stamp (local mutations stamp with the local clock, remote
// mutations with the sender's sentAt) and compare-and-swap against the
// stamp of the field group they touch; an older-or-equal stamp is rejected
// without effect, which yields both convergence and replay idempotence.
type Store struct {
	mu   sync.Mutex
	snap Snapshot

	// Per-field-group stamps. nav covers display mode, path and the
	// second-display flag; game covers active game identity; sel covers
	// selection contents, bet and draw count.
	navStamp  int64
	gameStamp int64
	selStamp  int64

	persist Persister
	onApply func(Snapshot)

	// Persist and the apply hook run outside mu. flushMu serializes them
	// and flushSeq skips any capture a newer one has already overtaken, so
	// the persisted row and the last pushed snapshot are never stale.
	flushMu  sync.Mutex
	seq      uint64
	flushSeq uint64
}

// NewStore creates a store at defaults. persist may be nil.
func NewStore(persist Persister) *Store {
	return &Store{
		snap: Snapshot{
			DisplayMode: ModeIdle,
			CurrentPath: DefaultPath,
		},
		persist: persist,
	}
}

// OnApply registers a hook fired after every accepted mutation, local or
// remote, with a deep copy of the new snapshot. The UI gateway hangs off
// this. Must be set before the store is shared across goroutines; the hook
// must not mutate the store.
func (s *Store) OnApply(fn func(Snapshot)) {
	s.onApply = fn
}

// LoadPersisted restores the reload-surviving subset. It leaves all stamps
// at zero: restored state still counts as "defaults" for the late-join
// handshake, so a running peer's snapshot wins over what this display
// remembered from before its restart.
func (s *Store) LoadPersisted() {
	if s.persist == nil {
		return
	}
	mode, path, secondOpen, found, err := s.persist.Load()
	if err != nil {
		log.Warn().Err(err).Msg("could not restore display state")
		return
	}
	if !found {
		return
	}
	s.mu.Lock()
	s.snap.DisplayMode = mode
	s.snap.CurrentPath = path
	s.snap.IsSecondDisplayOpen = secondOpen
	if mode != ModeGameplay {
		s.snap.ActiveGame = nil
	}
	s.mu.Unlock()
	log.Info().Str("mode", string(mode)).Str("path", path).Msg("restored display state")
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Snapshot {
	cp := s.snap
	cp.ActiveGame = s.snap.ActiveGame.clone()
	return cp
}

// AtDefaults reports whether no mutation has been accepted since startup.
// Used by the late-join handshake to decide whether a SYNC_RESPONSE may
// still be adopted.
func (s *Store) AtDefaults() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navStamp == 0 && s.gameStamp == 0 && s.selStamp == 0
}

// applied finalizes an accepted mutation: bumps the snapshot stamp,
// writes through the persisted subset and fires the apply hook. The hook
// runs under flushMu and must not call back into a mutator.
func (s *Store) applied(stamp int64) {
	if stamp > s.snap.LastSyncTimestamp {
		s.snap.LastSyncTimestamp = stamp
	}
	s.seq++
	seq := s.seq
	cp := s.copyLocked()
	persist := s.persist
	fn := s.onApply
	s.mu.Unlock()

	s.flushMu.Lock()
	if seq > s.flushSeq {
		s.flushSeq = seq
		if persist != nil {
			if err := persist.Save(cp.DisplayMode, cp.CurrentPath, cp.IsSecondDisplayOpen); err != nil {
				log.Warn().Err(err).Msg("could not persist display state")
			}
		}
		if fn != nil {
			fn(cp)
		}
	}
	s.flushMu.Unlock()
	s.mu.Lock()
}

// SetDisplayMode sets the display mode directly. Leaving gameplay clears the
// active game and fences the game and selection groups, so an older game
// message arriving late cannot resurrect it.
func (s *Store) SetDisplayMode(mode DisplayMode, stamp int64) bool {
	if !mode.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp <= s.navStamp {
		return false
	}
	s.navStamp = stamp
	s.snap.DisplayMode = mode
	if mode != ModeGameplay && s.snap.ActiveGame != nil {
		s.snap.ActiveGame = nil
		if stamp > s.gameStamp {
			s.gameStamp = stamp
		}
		if stamp > s.selStamp {
			s.selStamp = stamp
		}
	}
	s.applied(stamp)
	return true
}

// SetCurrentPath records the active navigation path.
func (s *Store) SetCurrentPath(path string, stamp int64) bool {
	if path == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp <= s.navStamp {
		return false
	}
	s.navStamp = stamp
	s.snap.CurrentPath = path
	s.applied(stamp)
	return true
}

// Navigate applies a path change together with the display mode it maps to,
// optionally a fresh game skeleton for gameplay paths, and optionally the
// second-display window flag, as one mutation. secondOpen nil leaves the
// flag untouched.
func (s *Store) Navigate(path string, mode DisplayMode, game *ActiveGameSelection, secondOpen *bool, stamp int64) bool {
	if path == "" || !mode.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp <= s.navStamp {
		return false
	}
	s.navStamp = stamp
	s.snap.CurrentPath = path
	s.snap.DisplayMode = mode
	if secondOpen != nil {
		s.snap.IsSecondDisplayOpen = *secondOpen
	}
	if mode == ModeGameplay && game != nil {
		if stamp > s.gameStamp {
			s.gameStamp = stamp
			s.selStamp = stamp
			s.snap.ActiveGame = game.clone()
		}
	} else if mode != ModeGameplay && s.snap.ActiveGame != nil {
		s.snap.ActiveGame = nil
		if stamp > s.gameStamp {
			s.gameStamp = stamp
		}
		if stamp > s.selStamp {
			s.selStamp = stamp
		}
	}
	s.applied(stamp)
	return true
}

// SetActiveGame installs a fresh game skeleton and switches to gameplay.
func (s *Store) SetActiveGame(game ActiveGameSelection, stamp int64) bool {
	if game.GameID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp <= s.navStamp || stamp <= s.gameStamp {
		return false
	}
	s.navStamp = stamp
	s.gameStamp = stamp
	s.selStamp = stamp
	s.snap.DisplayMode = ModeGameplay
	s.snap.ActiveGame = game.clone()
	s.snap.ActiveGame.Selections = clampSelections(s.snap.ActiveGame.Selections, game.MaxSelections)
	s.applied(stamp)
	return true
}

// ClearActiveGame drops the active game: back-navigation, a successful
// cart add, or purchase completion.
func (s *Store) ClearActiveGame(stamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp <= s.gameStamp {
		return false
	}
	s.gameStamp = stamp
	if stamp > s.selStamp {
		s.selStamp = stamp
	}
	s.snap.ActiveGame = nil
	s.applied(stamp)
	return true
}

// UpdateSelections replaces the picked numbers of the active game. Updates
// for a different game id are ignored. Selections are de-duplicated and
// clamped to the game's cap even when a remote payload asks for more.
func (s *Store) UpdateSelections(gameID string, selections []string, stamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag := s.snap.ActiveGame
	if ag == nil || ag.GameID != gameID {
		return false
	}
	if stamp <= s.selStamp {
		return false
	}
	s.selStamp = stamp
	ag.Selections = clampSelections(selections, ag.MaxSelections)
	s.applied(stamp)
	return true
}

// UpdateBetAmount sets the per-draw wager of the active game. Fine-grained
// entry point for the rendering layer's bet stepper; the wire path arrives
// as a full MergeSelectionUpdate.
func (s *Store) UpdateBetAmount(gameID string, amount float64, stamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag := s.snap.ActiveGame
	if ag == nil || ag.GameID != gameID || amount < 0 {
		return false
	}
	if stamp <= s.selStamp {
		return false
	}
	s.selStamp = stamp
	ag.BetAmount = amount
	ag.TotalCost = amount * float64(max(ag.NumberOfDraws, 1))
	s.applied(stamp)
	return true
}

// UpdateNumberOfDraws sets how many consecutive draws the ticket covers.
// Fine-grained entry point for the rendering layer's draw stepper; the wire
// path arrives as a full MergeSelectionUpdate.
func (s *Store) UpdateNumberOfDraws(gameID string, draws int, stamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag := s.snap.ActiveGame
	if ag == nil || ag.GameID != gameID || draws < 0 {
		return false
	}
	if stamp <= s.selStamp {
		return false
	}
	s.selStamp = stamp
	ag.NumberOfDraws = draws
	ag.TotalCost = ag.BetAmount * float64(max(draws, 1))
	s.applied(stamp)
	return true
}

// MergeSelectionUpdate applies a full SELECTION_UPDATE in one mutation:
// selections, bet, draw count and total. Ignored when the game id does not
// match the active game.
func (s *Store) MergeSelectionUpdate(gameID string, selections []string, bet float64, draws int, total float64, stamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag := s.snap.ActiveGame
	if ag == nil || ag.GameID != gameID {
		return false
	}
	if stamp <= s.selStamp {
		return false
	}
	s.selStamp = stamp
	ag.Selections = clampSelections(selections, ag.MaxSelections)
	ag.BetAmount = bet
	ag.NumberOfDraws = draws
	ag.TotalCost = total
	s.applied(stamp)
	return true
}

// Adopt installs a peer's full snapshot, but only while this store is still
// at defaults. A display that has already built up local state keeps it; a
// late SYNC_RESPONSE must not clobber it.
func (s *Store) Adopt(snap Snapshot, stamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navStamp != 0 || s.gameStamp != 0 || s.selStamp != 0 {
		return false
	}
	if !snap.DisplayMode.Valid() {
		return false
	}
	s.navStamp = stamp
	s.gameStamp = stamp
	s.selStamp = stamp
	s.snap.DisplayMode = snap.DisplayMode
	s.snap.CurrentPath = snap.CurrentPath
	if s.snap.CurrentPath == "" {
		s.snap.CurrentPath = DefaultPath
	}
	s.snap.IsSecondDisplayOpen = snap.IsSecondDisplayOpen
	if snap.DisplayMode == ModeGameplay {
		s.snap.ActiveGame = snap.ActiveGame.clone()
		if s.snap.ActiveGame != nil {
			s.snap.ActiveGame.Selections = clampSelections(s.snap.ActiveGame.Selections, s.snap.ActiveGame.MaxSelections)
		}
	} else {
		s.snap.ActiveGame = nil
	}
	s.applied(stamp)
	return true
}

// Reset returns the store to defaults: logout or navigation to idle. The
// stamps advance so concurrent stale messages cannot resurrect the old
// session.
func (s *Store) Reset(stamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp <= s.navStamp {
		return false
	}
	s.navStamp = stamp
	s.gameStamp = stamp
	s.selStamp = stamp
	s.snap = Snapshot{
		DisplayMode: ModeIdle,
		CurrentPath: DefaultPath,
	}
	s.applied(stamp)
	return true
}

// clampSelections de-duplicates while preserving order and cuts at the cap.
// A cap of zero or less means the game takes no number selections.
func clampSelections(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, sel := range in {
		if _, dup := seen[sel]; dup {
			continue
		}
		seen[sel] = struct{}{}
		out = append(out, sel)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if limit <= 0 {
		return out[:0]
	}
	return out
}
