// internal/game/solo.go
//
// Solo Mines session: one player against the board, settled by cash-out.
// The board is placed on the first reveal with the first-click-safe rule,
// which is deliberately a different algorithm from the 1v1 combined-seed
// placement; solo play has no pre-committed opponent seed to fold in.

package game

import (
	"errors"

	"github.com/pomo1231/solbombs2-sub000/internal/fair"
)

var (
	// ErrSoloFinished is returned for actions on a finished solo game.
	ErrSoloFinished = errors.New("solo game finished")
	// ErrNothingToCashOut is returned when cashing out before any safe reveal.
	ErrNothingToCashOut = errors.New("no safe tiles revealed")
)

// Solo is the state of one solo game.
type Solo struct {
	Tiles        [fair.BoardTiles]Tile
	BombCount    int
	BetLamports  uint64
	SafeRevealed int
	Busted       bool
	Finished     bool

	// Seeds disclosed in the settlement record for auditability.
	ServerSeed string
	ClientSeed string
	Nonce      int

	seed   string
	placed bool
}

// NewSolo starts a solo game. Bombs are placed on the first reveal; until
// then every tile is a candidate.
func NewSolo(serverSeed, clientSeed string, nonce, bombCount int, betLamports uint64) *Solo {
	s := &Solo{
		BombCount:   bombCount,
		BetLamports: betLamports,
		ServerSeed:  serverSeed,
		ClientSeed:  clientSeed,
		Nonce:       nonce,
		seed:        serverSeed + "-" + clientSeed,
	}
	for i := range s.Tiles {
		s.Tiles[i] = Tile{Index: i}
	}
	return s
}

// Reveal uncovers a tile. The first reveal finalizes bomb placement with the
// clicked tile excluded. Revealing an already-revealed tile is a no-op.
func (s *Solo) Reveal(tileIndex int) (MoveResult, error) {
	if s.Finished {
		return MoveResult{}, ErrSoloFinished
	}
	if tileIndex < 0 || tileIndex >= fair.BoardTiles || s.Tiles[tileIndex].IsRevealed {
		return MoveResult{}, nil
	}

	if !s.placed {
		bombs := fair.SoloPlacement(s.seed, tileIndex, s.BombCount)
		for i := range s.Tiles {
			s.Tiles[i].IsBomb = bombs[i]
		}
		s.placed = true
	}

	tile := &s.Tiles[tileIndex]
	tile.IsRevealed = true

	if tile.IsBomb {
		s.Busted = true
		s.Finished = true
		for i := range s.Tiles {
			s.Tiles[i].IsRevealed = true
		}
		return MoveResult{Applied: true, Bomb: true, Resolved: true}, nil
	}

	s.SafeRevealed++
	if s.SafeRevealed == fair.BoardTiles-s.BombCount {
		// Board cleared: nothing left to risk, game ends at max multiplier.
		s.Finished = true
		for i := range s.Tiles {
			s.Tiles[i].IsRevealed = true
		}
		return MoveResult{Applied: true, Resolved: true}, nil
	}
	return MoveResult{Applied: true}, nil
}

// MultiplierBps returns the current cash-out multiplier.
func (s *Solo) MultiplierBps() uint16 {
	return MultiplierBps(s.SafeRevealed, s.BombCount)
}

// CashOut ends the game and returns the payout in lamports. A busted game
// cannot cash out; neither can a game with zero safe reveals.
func (s *Solo) CashOut() (uint64, error) {
	if s.Busted {
		return 0, ErrSoloFinished
	}
	if s.SafeRevealed == 0 {
		return 0, ErrNothingToCashOut
	}
	s.Finished = true
	return PayoutLamports(s.BetLamports, s.MultiplierBps()), nil
}
