// internal/client/clock.go
//
// Per-turn countdown with forced-move-on-timeout. A generation counter is
// bumped on every restart and checked on expiry, so a timer armed for an
// earlier turn can never fire into the current one.

package client

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pomo1231/solbombs2-sub000/internal/game"
)

// TurnBudget is the fixed time a side has to move.
const TurnBudget = 30 * time.Second

// TurnClock drives forced moves for an engine. It runs only for direct
// participants (and for the automated opponent its client controls); the
// engine never arms it for spectators.
type TurnClock struct {
	mu     sync.Mutex
	budget time.Duration
	gen    uint64
	timer  *time.Timer
	rng    *rand.Rand

	// sendMove emits the forced move exactly as a human move would be sent.
	sendMove func(game.Move)
}

// NewTurnClock constructs a stopped clock. budget <= 0 uses TurnBudget.
func NewTurnClock(budget time.Duration, sendMove func(game.Move)) *TurnClock {
	if budget <= 0 {
		budget = TurnBudget
	}
	return &TurnClock{
		budget:   budget,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sendMove: sendMove,
	}
}

// Attach hooks the clock onto the engine's synchronization notifications, so
// every turn change re-arms or stops it, and runs one initial Sync for the
// state the engine already holds.
func (c *TurnClock) Attach(e *Engine, controlsRobot bool) {
	e.SetOnSync(func() { c.Sync(e, controlsRobot) })
	c.Sync(e, controlsRobot)
}

// Sync restarts or stops the clock from the engine's current state. Call it
// on every turn change, synchronization change, and resolution.
//
// controlsRobot marks the connection that drives the automated opponent's
// moves (the creator's client in a vs-robot match).
func (c *TurnClock) Sync(e *Engine, controlsRobot bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	m := e.Match()
	role := e.Role()
	if !e.Synchronized() || m == nil || m.Status != game.StatusInProgress || !role.Valid() {
		return
	}
	actFor := ""
	switch {
	case m.Turn == role:
		actFor = string(role)
	case controlsRobot && m.Turn == role.Other():
		actFor = string(role.Other())
	default:
		return
	}

	gen := c.gen
	c.timer = time.AfterFunc(c.budget, func() { c.expire(gen, e, game.Role(actFor)) })
}

// Stop cancels any pending forced move.
func (c *TurnClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// expire forces a uniformly random unrevealed-tile move for the side that
// ran out of time, unless the clock was restarted in the meantime.
func (c *TurnClock) expire(gen uint64, e *Engine, by game.Role) {
	c.mu.Lock()
	stale := gen != c.gen
	pick := func(n int) int { return c.rng.Intn(n) }
	c.mu.Unlock()
	if stale {
		return
	}

	mv, ok := e.ForceRandomMove(by, pick)
	if !ok {
		return
	}
	log.Warn().Str("by", string(by)).Int("tile", mv.TileIndex).Msg("turn budget expired, forcing move")
	if c.sendMove != nil {
		c.sendMove(mv)
	}
}
