// internal/client/engine.go
//
// Client-side synchronization engine.
// Responsibilities:
//   - Gate all inbound live moves behind the rehydration flag: moves that
//     arrive before the authoritative snapshot are buffered, never dropped
//     and never applied early.
//   - Two-phase replay on rehydration: server history first, then the
//     buffer, both forced and with side effects muted.
//   - Bounded fallback so a lost rehydrate response degrades to a live but
//     flagged state instead of a stuck view.
//   - Gate local input until synchronized.
//
// The engine is the single ordering gate between the two async inbound
// paths (rehydrate response vs live broadcasts). It is safe for use from
// multiple goroutines; all state lives behind one mutex.

package client

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pomo1231/solbombs2-sub000/internal/game"
	"github.com/pomo1231/solbombs2-sub000/internal/relay"
)

// DefaultFallback is how long the engine waits for a rehydrate response
// before going live without one.
const DefaultFallback = 3 * time.Second

// Effects receives gameplay side-effect notifications (sound, toast).
// Muted while the engine replays history. side is the mover relative to the
// local role, so the consumer can style player and opponent moves apart.
type Effects interface {
	MoveApplied(side game.Side, mv game.Move, res game.MoveResult)
	Resolved(out game.Outcome)
}

// NopEffects discards all notifications.
type NopEffects struct{}

func (NopEffects) MoveApplied(game.Side, game.Move, game.MoveResult) {}
func (NopEffects) Resolved(game.Outcome)                             {}

// Engine reconstructs and maintains one observer's view of a match.
type Engine struct {
	mu sync.Mutex

	match     *game.Match
	localRole game.Role // empty for spectators
	spectator bool

	rehydrated bool
	degraded   bool
	buffer     []game.Move

	fallback    *time.Timer
	fallbackGen uint64

	effects Effects
	logger  zerolog.Logger

	// onSync fires after any state change that can affect the turn owner or
	// match liveness; the turn clock hangs off it.
	onSync func()
}

// NewEngine constructs an engine for one connection attempt. effects may be
// nil.
func NewEngine(effects Effects) *Engine {
	if effects == nil {
		effects = NopEffects{}
	}
	return &Engine{
		effects: effects,
		logger:  log.With().Str("component", "sync").Logger(),
	}
}

// SetOnSync registers the synchronization-change hook.
func (e *Engine) SetOnSync(fn func()) {
	e.mu.Lock()
	e.onSync = fn
	e.mu.Unlock()
}

// Begin arms the rehydration fallback. Call it right after sending the
// rehydrate or spectate request. d <= 0 uses DefaultFallback.
func (e *Engine) Begin(d time.Duration) {
	if d <= 0 {
		d = DefaultFallback
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rehydrated = false
	e.degraded = false
	e.fallbackGen++
	gen := e.fallbackGen
	if e.fallback != nil {
		e.fallback.Stop()
	}
	e.fallback = time.AfterFunc(d, func() { e.fallbackFired(gen) })
}

// Restore installs an optimistic projection from a persisted snapshot. It is
// a preview only: input stays gated and the projection is overwritten
// wholesale when rehydration arrives.
func (e *Engine) Restore(s Snapshot) {
	m := buildMatch(s.BoardSeed, s.BombCount, s.BetLamports, s.StartsBy, s.Moves)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rehydrated {
		return // authoritative state already in place
	}
	e.match = m
	e.localRole = s.Role
}

// OnLiveMove handles a pvpMove broadcast. Before rehydration it buffers;
// after, it applies directly with normal effects.
func (e *Engine) OnLiveMove(mv game.Move) {
	e.mu.Lock()
	if !e.rehydrated {
		e.buffer = append(e.buffer, mv)
		e.mu.Unlock()
		return
	}
	e.applyLocked(mv, false)
	e.mu.Unlock()
	e.notifySync()
}

// OnRehydrate installs the authoritative snapshot: place the board, replay
// the server log, then the buffer, all muted, then open for input.
func (e *Engine) OnRehydrate(p relay.Rehydrate) {
	e.mu.Lock()
	e.cancelFallbackLocked()
	e.localRole = p.YourRole
	e.spectator = false
	e.match = game.NewMatch(p.BombCount, p.BetLamports, p.StartsBy)
	e.match.PlaceFromSeed(p.BoardSeed)
	e.replayLocked(p.Moves)
	e.replayLocked(e.buffer)
	e.buffer = nil
	e.rehydrated = true
	e.degraded = false
	e.mu.Unlock()
	e.notifySync()
}

// OnSpectate is the spectator counterpart of OnRehydrate: same snapshot
// handling, no role, input stays off.
func (e *Engine) OnSpectate(p relay.StartSpectate) {
	e.mu.Lock()
	e.cancelFallbackLocked()
	e.localRole = ""
	e.spectator = true
	e.match = game.NewMatch(p.BombCount, p.BetLamports, p.StartsBy)
	e.match.PlaceFromSeed(p.BoardSeed)
	e.replayLocked(p.Moves)
	e.replayLocked(e.buffer)
	e.buffer = nil
	e.rehydrated = true
	e.degraded = false
	e.mu.Unlock()
	e.notifySync()
}

// OnFinalSeed handles pfFinalSeed at a fresh match start, where there is no
// history to replay. Buffered moves still flush: the seed may have raced a
// first move broadcast.
func (e *Engine) OnFinalSeed(p relay.PfFinalSeed) {
	e.mu.Lock()
	e.cancelFallbackLocked()
	if p.YourRole.Valid() {
		e.localRole = p.YourRole
		e.spectator = false
	} else {
		e.spectator = true
	}
	e.match = game.NewMatch(p.BombCount, p.BetLamports, p.StartsBy)
	e.match.PlaceFromSeed(p.BoardSeed)
	e.replayLocked(e.buffer)
	e.buffer = nil
	e.rehydrated = true
	e.degraded = false
	e.mu.Unlock()
	e.notifySync()
}

// SubmitMove validates a local move against the engine's gate and applies it
// optimistically. Returns the move to send, or ok=false when input is gated
// or the move is illegal.
func (e *Engine) SubmitMove(tileIndex int) (game.Move, bool) {
	e.mu.Lock()
	if !e.rehydrated || e.spectator || e.match == nil || !e.localRole.Valid() {
		e.mu.Unlock()
		return game.Move{}, false
	}
	mv := game.Move{TileIndex: tileIndex, By: e.localRole}
	res := e.match.ApplyMove(mv.TileIndex, mv.By, false)
	if !res.Applied {
		e.mu.Unlock()
		return game.Move{}, false
	}
	e.emitLocked(mv, res)
	e.mu.Unlock()
	e.notifySync()
	return mv, true
}

// ForceRandomMove applies a uniformly random unrevealed-tile move for the
// given side, used by the turn clock on expiry. Returns ok=false when the
// match is not in a state where by can move.
func (e *Engine) ForceRandomMove(by game.Role, pick func(n int) int) (game.Move, bool) {
	e.mu.Lock()
	if !e.rehydrated || e.match == nil || e.match.Status != game.StatusInProgress || e.match.Turn != by {
		e.mu.Unlock()
		return game.Move{}, false
	}
	candidates := e.match.UnrevealedTiles()
	if len(candidates) == 0 {
		e.mu.Unlock()
		return game.Move{}, false
	}
	mv := game.Move{TileIndex: candidates[pick(len(candidates))], By: by}
	res := e.match.ApplyMove(mv.TileIndex, mv.By, false)
	if !res.Applied {
		e.mu.Unlock()
		return game.Move{}, false
	}
	e.emitLocked(mv, res)
	e.mu.Unlock()
	e.notifySync()
	return mv, true
}

// CanAct reports whether local input is currently allowed.
func (e *Engine) CanAct() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rehydrated && !e.spectator && e.match != nil &&
		e.match.Status == game.StatusInProgress && e.match.Turn == e.localRole
}

// Synchronized reports whether the rehydration gate is open.
func (e *Engine) Synchronized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rehydrated
}

// Degraded reports whether the engine went live without a rehydrate
// response.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Match returns the current projection. Nil before any snapshot arrives.
func (e *Engine) Match() *game.Match {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.match
}

// Role returns the local role ("" for spectators).
func (e *Engine) Role() game.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localRole
}

// Snapshot exports the current projection for persistence. ok is false
// before any board exists.
func (e *Engine) Snapshot(matchID string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.match == nil {
		return Snapshot{}, false
	}
	moves := make([]game.Move, 0, e.match.RevealedCount())
	for _, t := range e.match.Tiles {
		if t.IsRevealed && t.RevealedBy.Valid() {
			moves = append(moves, game.Move{TileIndex: t.Index, By: t.RevealedBy})
		}
	}
	return Snapshot{
		MatchID:     matchID,
		Role:        e.localRole,
		BetLamports: e.match.BetLamports,
		BombCount:   e.match.BombCount,
		BoardSeed:   e.match.Seed,
		StartsBy:    e.match.StartingSide,
		Moves:       moves,
	}, true
}

// ----------------------------- internals -----------------------------------

// fallbackFired handles rehydration timeout: go live in degraded mode rather
// than staying stuck. Stale timers from an earlier Begin are ignored.
func (e *Engine) fallbackFired(gen uint64) {
	e.mu.Lock()
	if gen != e.fallbackGen || e.rehydrated {
		e.mu.Unlock()
		return
	}
	e.rehydrated = true
	e.degraded = true
	e.logger.Warn().Int("buffered", len(e.buffer)).Msg("rehydration timed out, going live degraded")
	if e.match != nil {
		// Best-effort flush onto whatever projection we have. Moves with no
		// attributable role are treated as the opponent's.
		for _, mv := range e.buffer {
			if !mv.By.Valid() && e.localRole.Valid() {
				mv.By = e.localRole.Other()
			}
			e.match.ApplyMove(mv.TileIndex, mv.By, true)
		}
	}
	e.buffer = nil
	e.mu.Unlock()
	e.notifySync()
}

func (e *Engine) cancelFallbackLocked() {
	e.fallbackGen++
	if e.fallback != nil {
		e.fallback.Stop()
		e.fallback = nil
	}
}

// replayLocked applies a move list forced and muted. Duplicates between the
// history and the buffer are absorbed by the revealed-tile no-op.
func (e *Engine) replayLocked(moves []game.Move) {
	for _, mv := range moves {
		e.match.ApplyMove(mv.TileIndex, mv.By, true)
	}
}

// applyLocked applies one live move with effects.
func (e *Engine) applyLocked(mv game.Move, muted bool) {
	if e.match == nil {
		// Live move before any board: keep it, rehydration will replay it.
		e.buffer = append(e.buffer, mv)
		return
	}
	res := e.match.ApplyMove(mv.TileIndex, mv.By, false)
	if res.Applied && !muted {
		e.emitLocked(mv, res)
	}
}

func (e *Engine) emitLocked(mv game.Move, res game.MoveResult) {
	e.effects.MoveApplied(game.SideOf(e.localRole, mv.By), mv, res)
	if res.Resolved && e.match.Outcome != nil {
		e.effects.Resolved(*e.match.Outcome)
	}
}

func (e *Engine) notifySync() {
	e.mu.Lock()
	fn := e.onSync
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// buildMatch reconstructs a projection from persisted parts.
func buildMatch(boardSeed string, bombCount int, bet uint64, startsBy game.Role, moves []game.Move) *game.Match {
	m := game.NewMatch(bombCount, bet, startsBy)
	m.PlaceFromSeed(boardSeed)
	for _, mv := range moves {
		m.ApplyMove(mv.TileIndex, mv.By, true)
	}
	return m
}
