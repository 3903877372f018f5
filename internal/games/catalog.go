package games

import "strings"

// Type classifies how a game is played and rendered.
type Type string

const (
	TypeMultiplier Type = "multiplier"
	TypeKeno       Type = "keno"
	TypeRoulette   Type = "roulette"
)

// Game describes one sellable lottery game. MaxSelections caps how many
// numbers a player may pick; the cap is enforced at the state store, never
// downstream.
type Game struct {
	ID            string
	Name          string
	Type          Type
	MaxSelections int
	MaxDraws      int
	MinBet        float64
	MaxBet        float64
}

// Catalog is the terminal's game lineup. The lineup is fixed per terminal
// build; pricing and draw schedules live with the back office, not here.
type Catalog struct {
	byID  map[string]Game
	order []string
}

// Default returns the standard three-game lineup.
func Default() *Catalog {
	return NewCatalog(
		Game{ID: "game-1", Name: "Lucky Multiplier", Type: TypeMultiplier, MaxSelections: 5, MaxDraws: 10, MinBet: 0.5, MaxBet: 20},
		Game{ID: "game-2", Name: "Roulette Royale", Type: TypeRoulette, MaxSelections: 8, MaxDraws: 5, MinBet: 1, MaxBet: 50},
		Game{ID: "game-3", Name: "Keno X", Type: TypeKeno, MaxSelections: 10, MaxDraws: 20, MinBet: 1, MaxBet: 10},
	)
}

// NewCatalog builds a catalog from an explicit lineup.
func NewCatalog(list ...Game) *Catalog {
	c := &Catalog{byID: make(map[string]Game, len(list))}
	for _, g := range list {
		c.byID[g.ID] = g
		c.order = append(c.order, g.ID)
	}
	return c
}

// Get looks a game up by id.
func (c *Catalog) Get(id string) (Game, bool) {
	g, ok := c.byID[id]
	return g, ok
}

// List returns the lineup in display order.
func (c *Catalog) List() []Game {
	out := make([]Game, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// GameIDFromPath extracts a game id from a gameplay navigation path of the
// form /games/<id>. It returns "" for any other path.
func GameIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/games/")
	if !ok || rest == "" {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
