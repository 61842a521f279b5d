// internal/game/match.go
//
// Match state machine for 1v1 Mines.
// Responsibilities:
//   - Hold the authoritative per-match state: board, scores, turn, outcome.
//   - Validate and apply moves (ApplyMove), including forced replay application.
//   - Advance the turn with the bomb-hit skip rule.
//   - Detect game over in priority order and resolve ties deterministically.
//
// The engine is pure state-transition logic: no I/O, no clocks, no transport.
// Every observer of a match (participants, spectators, the relay's auditors)
// reconstructs identical state by replaying the same move log against the same
// board seed, which is why all no-op conditions below leave state untouched
// rather than erroring.

package game

import "github.com/pomo1231/solbombs2-sub000/internal/fair"

// sharedClientSeed is the fixed client-seed slot used when a board is placed
// from a single combined seed: the combination already mixed both participant
// seeds, so the shuffle input is (combinedSeed, "shared", 0).
const sharedClientSeed = "shared"

// Match is the state of a single 1v1 match from one deterministic viewpoint.
type Match struct {
	Tiles [fair.BoardTiles]Tile

	BombCount    int
	BetLamports  uint64
	StartingSide Role
	Turn         Role

	CreatorScore   int
	JoinerScore    int
	CreatorHitBomb bool
	JoinerHitBomb  bool

	Status  Status
	Outcome *Outcome

	// Seed is the combined board seed; also the tie-break input.
	Seed string

	// lazySeed holds the solo-rule placement seed for boards placed on first
	// click. Empty for pre-placed 1v1 boards.
	lazySeed string
	placed   bool
}

// NewMatch constructs a 1v1 match that is waiting for its combined board seed.
func NewMatch(bombCount int, betLamports uint64, starting Role) *Match {
	m := &Match{
		BombCount:    bombCount,
		BetLamports:  betLamports,
		StartingSide: starting,
		Turn:         starting,
		Status:       StatusAwaitingSeed,
	}
	for i := range m.Tiles {
		m.Tiles[i] = Tile{Index: i}
	}
	return m
}

// NewLazyMatch constructs a match whose bombs are placed on the first move
// using the first-click-safe solo rule. Used for local vs-robot boards that
// have no pre-committed opponent seed.
func NewLazyMatch(seed string, bombCount int, betLamports uint64, starting Role) *Match {
	m := NewMatch(bombCount, betLamports, starting)
	m.Seed = seed
	m.lazySeed = seed
	m.Status = StatusInProgress
	return m
}

// PlaceFromSeed places the board from a combined seed and opens play.
// No-op once the board is placed; bombs never move.
func (m *Match) PlaceFromSeed(boardSeed string) {
	if m.placed || boardSeed == "" {
		return
	}
	bombs := fair.PlaceBombs(boardSeed, sharedClientSeed, 0, m.BombCount)
	if len(bombs) == 0 {
		return // board not ready; caller retries when seeds are complete
	}
	for i := range m.Tiles {
		m.Tiles[i].IsBomb = bombs[i]
	}
	m.Seed = boardSeed
	m.placed = true
	if m.Status == StatusAwaitingSeed {
		m.Status = StatusInProgress
	}
}

// ApplyMove validates and applies a single move, mutating the match.
//
// No-op cases (state unchanged, Applied=false):
//   - match already resolved, or still awaiting its seed;
//   - tileIndex out of range, or tile already revealed;
//   - when force is false: not by's turn, or by already hit a bomb.
//
// force=true is the replay/rehydration path: turn ownership and bomb-skip are
// not re-checked because the log being replayed already reflects them, but
// duplicate tiles still no-op so replaying over partial state is safe.
func (m *Match) ApplyMove(tileIndex int, by Role, force bool) MoveResult {
	if m.Status == StatusResolved || m.Status == StatusAwaitingSeed {
		return MoveResult{}
	}
	if tileIndex < 0 || tileIndex >= fair.BoardTiles || !by.Valid() {
		return MoveResult{}
	}
	if m.Tiles[tileIndex].IsRevealed {
		return MoveResult{}
	}
	if !force {
		if by != m.Turn {
			return MoveResult{}
		}
		if m.hasHitBomb(by) {
			return MoveResult{}
		}
	}

	// First move of a lazily-placed board finalizes bomb placement now, with
	// the clicked tile guaranteed safe.
	if !m.placed && m.lazySeed != "" {
		bombs := fair.SoloPlacement(m.lazySeed, tileIndex, m.BombCount)
		for i := range m.Tiles {
			m.Tiles[i].IsBomb = bombs[i]
		}
		m.placed = true
	}

	tile := &m.Tiles[tileIndex]
	tile.IsRevealed = true
	tile.RevealedBy = by

	res := MoveResult{Applied: true}
	if tile.IsBomb {
		res.Bomb = true
		m.setHitBomb(by)
	} else {
		m.addScore(by)
	}

	if out, flip := m.checkGameOver(); out != nil {
		m.resolve(out)
		res.Resolved = true
		res.ViaCoinFlip = flip
		return res
	}

	m.advanceTurn(by)
	return res
}

// advanceTurn alternates to the other side unless that side has already hit a
// bomb, in which case the mover keeps the turn.
func (m *Match) advanceTurn(mover Role) {
	next := mover.Other()
	if m.hasHitBomb(next) {
		next = mover
	}
	m.Turn = next
}

// checkGameOver evaluates the terminal conditions in priority order and
// returns the outcome plus whether a tie coin flip decided it.
//
//  1. All safe tiles revealed: higher score wins; equal scores go to the
//     deterministic coin flip.
//  2. One side bombed and the other is strictly ahead: immediate win.
//  3. Both sides bombed: compare scores, coin flip on a tie.
func (m *Match) checkGameOver() (*Outcome, bool) {
	if m.allSafeRevealed() {
		return m.compareScores()
	}
	if m.CreatorHitBomb && !m.JoinerHitBomb && m.JoinerScore > m.CreatorScore {
		return &Outcome{Winner: RoleJoiner}, false
	}
	if m.JoinerHitBomb && !m.CreatorHitBomb && m.CreatorScore > m.JoinerScore {
		return &Outcome{Winner: RoleCreator}, false
	}
	if m.CreatorHitBomb && m.JoinerHitBomb {
		return m.compareScores()
	}
	return nil, false
}

// compareScores picks the higher scorer, falling back to the seeded coin flip
// on equality. The flip is an independent draw from bomb placement.
func (m *Match) compareScores() (*Outcome, bool) {
	switch {
	case m.CreatorScore > m.JoinerScore:
		return &Outcome{Winner: RoleCreator}, false
	case m.JoinerScore > m.CreatorScore:
		return &Outcome{Winner: RoleJoiner}, false
	}
	winner := RoleJoiner
	if fair.CoinFlip(m.Seed) {
		winner = RoleCreator
	}
	return &Outcome{Winner: winner, ViaCoinFlip: true}, true
}

// resolve marks the match terminal and force-reveals the full board so the
// audience sees every bomb.
func (m *Match) resolve(out *Outcome) {
	m.Status = StatusResolved
	m.Outcome = out
	for i := range m.Tiles {
		m.Tiles[i].IsRevealed = true
	}
}

func (m *Match) allSafeRevealed() bool {
	revealed := 0
	for i := range m.Tiles {
		if m.Tiles[i].IsRevealed && !m.Tiles[i].IsBomb {
			revealed++
		}
	}
	return revealed == fair.BoardTiles-m.BombCount
}

func (m *Match) hasHitBomb(r Role) bool {
	if r == RoleCreator {
		return m.CreatorHitBomb
	}
	return m.JoinerHitBomb
}

func (m *Match) setHitBomb(r Role) {
	if r == RoleCreator {
		m.CreatorHitBomb = true
	} else {
		m.JoinerHitBomb = true
	}
}

func (m *Match) addScore(r Role) {
	if r == RoleCreator {
		m.CreatorScore++
	} else {
		m.JoinerScore++
	}
}

// Score returns the safe-reveal count for a role.
func (m *Match) Score(r Role) int {
	if r == RoleCreator {
		return m.CreatorScore
	}
	return m.JoinerScore
}

// RevealedCount returns how many tiles are revealed, including bombs.
func (m *Match) RevealedCount() int {
	n := 0
	for i := range m.Tiles {
		if m.Tiles[i].IsRevealed {
			n++
		}
	}
	return n
}

// UnrevealedTiles lists candidate tiles for a forced move.
func (m *Match) UnrevealedTiles() []int {
	out := make([]int, 0, fair.BoardTiles)
	for i := range m.Tiles {
		if !m.Tiles[i].IsRevealed {
			out = append(out, i)
		}
	}
	return out
}

// Placed reports whether bombs are on the board yet.
func (m *Match) Placed() bool { return m.placed }
