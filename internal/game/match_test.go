package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Board seed "abc" with 3 bombs places them at tiles 4, 9 and 19. The tests
// below script moves against that known layout.
const testBoardSeed = "abc"

func newTestMatch(t *testing.T) *Match {
	t.Helper()
	m := NewMatch(3, 1_000_000, RoleCreator)
	require.Equal(t, StatusAwaitingSeed, m.Status)
	m.PlaceFromSeed(testBoardSeed)
	require.Equal(t, StatusInProgress, m.Status)
	require.True(t, m.Placed())
	return m
}

func TestMovesIgnoredBeforeSeed(t *testing.T) {
	m := NewMatch(3, 0, RoleCreator)
	res := m.ApplyMove(0, RoleCreator, false)
	assert.False(t, res.Applied)
	assert.Equal(t, 0, m.RevealedCount())
}

func TestPlaceFromSeedIsFinal(t *testing.T) {
	m := newTestMatch(t)
	require.True(t, m.Tiles[4].IsBomb)
	require.True(t, m.Tiles[9].IsBomb)
	require.True(t, m.Tiles[19].IsBomb)

	// A second placement attempt must not move the bombs.
	m.PlaceFromSeed("different-seed")
	assert.True(t, m.Tiles[4].IsBomb)
	assert.Equal(t, testBoardSeed, m.Seed)
}

func TestTurnAlternation(t *testing.T) {
	m := newTestMatch(t)
	require.Equal(t, RoleCreator, m.Turn)

	// Out of turn: no-op, state untouched.
	res := m.ApplyMove(0, RoleJoiner, false)
	assert.False(t, res.Applied)
	assert.Equal(t, 0, m.RevealedCount())

	res = m.ApplyMove(0, RoleCreator, false)
	require.True(t, res.Applied)
	assert.Equal(t, RoleJoiner, m.Turn)

	res = m.ApplyMove(1, RoleJoiner, false)
	require.True(t, res.Applied)
	assert.Equal(t, RoleCreator, m.Turn)
	assert.Equal(t, 1, m.Score(RoleCreator))
	assert.Equal(t, 1, m.Score(RoleJoiner))
}

func TestRevealedTileIsNoOp(t *testing.T) {
	m := newTestMatch(t)
	require.True(t, m.ApplyMove(0, RoleCreator, false).Applied)

	// Same tile again, by the side on turn, forced or not: nothing changes.
	before := *m
	assert.False(t, m.ApplyMove(0, RoleJoiner, false).Applied)
	assert.False(t, m.ApplyMove(0, RoleJoiner, true).Applied)
	assert.Equal(t, before, *m)
}

func TestBombHitSkipsSide(t *testing.T) {
	m := newTestMatch(t)
	res := m.ApplyMove(4, RoleCreator, false)
	require.True(t, res.Applied)
	require.True(t, res.Bomb)
	assert.False(t, res.Resolved, "a bomb at equal scores does not end the match")
	assert.True(t, m.CreatorHitBomb)
	assert.Equal(t, RoleJoiner, m.Turn)

	// The bombed side never moves again.
	assert.False(t, m.ApplyMove(0, RoleCreator, false).Applied)
}

func TestImmediateWinWhenBombedSideBehind(t *testing.T) {
	m := newTestMatch(t)
	require.True(t, m.ApplyMove(0, RoleCreator, false).Applied) // 1-0
	res := m.ApplyMove(4, RoleJoiner, false)                    // joiner bombs while behind
	require.True(t, res.Bomb)
	require.True(t, res.Resolved)
	assert.False(t, res.ViaCoinFlip)
	require.NotNil(t, m.Outcome)
	assert.Equal(t, RoleCreator, m.Outcome.Winner)
	assert.Equal(t, StatusResolved, m.Status)

	// Resolution force-reveals the whole board.
	assert.Equal(t, 25, m.RevealedCount())
}

func TestBothBombedTieGoesToCoinFlip(t *testing.T) {
	m := newTestMatch(t)
	require.True(t, m.ApplyMove(0, RoleCreator, false).Applied) // 1-0
	require.True(t, m.ApplyMove(1, RoleJoiner, false).Applied)  // 1-1
	res := m.ApplyMove(4, RoleCreator, false)                   // creator bombs at a tie
	require.True(t, res.Bomb)
	require.False(t, res.Resolved)
	require.Equal(t, RoleJoiner, m.Turn)

	res = m.ApplyMove(9, RoleJoiner, false) // joiner bombs too
	require.True(t, res.Resolved)
	assert.True(t, res.ViaCoinFlip)
	require.NotNil(t, m.Outcome)
	assert.True(t, m.Outcome.ViaCoinFlip)
	// Seed "abc" flips to the joiner; pinned alongside the fair package vectors.
	assert.Equal(t, RoleJoiner, m.Outcome.Winner)
}

func TestBothBombedScoreDecides(t *testing.T) {
	// Only reachable through forced replay ordering, which skips turn checks.
	m := newTestMatch(t)
	require.True(t, m.ApplyMove(0, RoleCreator, true).Applied) // 1-0
	require.True(t, m.ApplyMove(4, RoleCreator, true).Applied) // creator bombs while ahead
	res := m.ApplyMove(9, RoleJoiner, true)                    // joiner bombs too
	require.True(t, res.Resolved)
	assert.False(t, res.ViaCoinFlip)
	assert.Equal(t, RoleCreator, m.Outcome.Winner)
}

func TestAllSafeRevealedScoreDecides(t *testing.T) {
	// Creator bombs while ahead, so there is no immediate win; the joiner then
	// exhausts the remaining safe tiles and loses on score, with no coin flip.
	m := newTestMatch(t)
	for _, tile := range []int{0, 1, 2, 3, 5, 6, 7, 8, 10, 11, 12, 13} {
		require.True(t, m.ApplyMove(tile, RoleCreator, true).Applied, "tile %d", tile)
	}
	require.True(t, m.ApplyMove(4, RoleCreator, true).Bomb) // 12-0, creator bombed

	var last MoveResult
	for _, tile := range []int{14, 15, 16, 17, 18, 20, 21, 22, 23, 24} {
		last = m.ApplyMove(tile, RoleJoiner, true)
		require.True(t, last.Applied, "tile %d", tile)
	}
	require.True(t, last.Resolved)
	assert.False(t, last.ViaCoinFlip)
	assert.Equal(t, 12, m.Score(RoleCreator))
	assert.Equal(t, 10, m.Score(RoleJoiner))
	require.NotNil(t, m.Outcome)
	assert.Equal(t, RoleCreator, m.Outcome.Winner)
	assert.False(t, m.Outcome.ViaCoinFlip)
}

func TestAllSafeRevealedTie(t *testing.T) {
	m := newTestMatch(t)
	turn := RoleCreator
	var last MoveResult
	for i := 0; i < 25; i++ {
		if m.Tiles[i].IsBomb {
			continue
		}
		last = m.ApplyMove(i, turn, false)
		require.True(t, last.Applied, "tile %d", i)
		turn = turn.Other()
	}
	require.True(t, last.Resolved)
	assert.Equal(t, 11, m.Score(RoleCreator))
	assert.Equal(t, 11, m.Score(RoleJoiner))
	assert.True(t, m.Outcome.ViaCoinFlip)
	assert.Equal(t, RoleJoiner, m.Outcome.Winner)
}

func TestForcedReplayReconstructsIdenticalState(t *testing.T) {
	live := newTestMatch(t)
	script := []Move{
		{TileIndex: 0, By: RoleCreator},
		{TileIndex: 1, By: RoleJoiner},
		{TileIndex: 4, By: RoleCreator},
		{TileIndex: 9, By: RoleJoiner},
	}
	for _, mv := range script {
		require.True(t, live.ApplyMove(mv.TileIndex, mv.By, false).Applied)
	}
	require.Equal(t, StatusResolved, live.Status)

	replayed := NewMatch(3, 1_000_000, RoleCreator)
	replayed.PlaceFromSeed(testBoardSeed)
	for _, mv := range script {
		replayed.ApplyMove(mv.TileIndex, mv.By, true)
	}
	assert.Equal(t, live.Tiles, replayed.Tiles)
	assert.Equal(t, live.Status, replayed.Status)
	assert.Equal(t, live.Outcome, replayed.Outcome)
	assert.Equal(t, live.Score(RoleCreator), replayed.Score(RoleCreator))
	assert.Equal(t, live.Score(RoleJoiner), replayed.Score(RoleJoiner))
}

func TestResolvedMatchIgnoresMoves(t *testing.T) {
	m := newTestMatch(t)
	require.True(t, m.ApplyMove(0, RoleCreator, false).Applied)
	require.True(t, m.ApplyMove(4, RoleJoiner, false).Resolved)

	before := *m
	assert.False(t, m.ApplyMove(2, RoleCreator, false).Applied)
	assert.False(t, m.ApplyMove(2, RoleCreator, true).Applied)
	assert.Equal(t, before, *m)
}

func TestLazyMatchPlacesOnFirstMove(t *testing.T) {
	m := NewLazyMatch("solo-seed", 5, 0, RoleCreator)
	require.Equal(t, StatusInProgress, m.Status)
	require.False(t, m.Placed())

	res := m.ApplyMove(12, RoleCreator, false)
	require.True(t, res.Applied)
	assert.False(t, res.Bomb, "first click is always safe")
	assert.True(t, m.Placed())

	// Seed "solo-seed" with first click 12 puts bombs at 1, 10, 16, 23, 24.
	for _, tile := range []int{1, 10, 16, 23, 24} {
		assert.True(t, m.Tiles[tile].IsBomb, "tile %d", tile)
	}
}

func TestSideOf(t *testing.T) {
	assert.Equal(t, SidePlayer, SideOf(RoleCreator, RoleCreator))
	assert.Equal(t, SideOpponent, SideOf(RoleCreator, RoleJoiner))
	assert.Equal(t, SidePlayer, SideOf(RoleJoiner, RoleJoiner))
	assert.Equal(t, SideOpponent, SideOf(RoleJoiner, RoleCreator))
}
