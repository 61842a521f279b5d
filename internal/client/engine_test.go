package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomo1231/solbombs2-sub000/internal/game"
	"github.com/pomo1231/solbombs2-sub000/internal/relay"
)

// Board seed "abc" with 3 bombs: bombs at 4, 9, 19.

type recordingEffects struct {
	mu       sync.Mutex
	applied  []game.Move
	sides    []game.Side
	resolved []game.Outcome
}

func (r *recordingEffects) MoveApplied(side game.Side, mv game.Move, _ game.MoveResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, mv)
	r.sides = append(r.sides, side)
}

func (r *recordingEffects) Resolved(out game.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, out)
}

func (r *recordingEffects) appliedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func rehydratePayload(moves []game.Move) relay.Rehydrate {
	return relay.Rehydrate{
		Type:        relay.TypeRehydrate,
		MatchID:     "m1",
		BoardSeed:   "abc",
		BetLamports: 1_000_000,
		BombCount:   3,
		StartsBy:    game.RoleCreator,
		YourRole:    game.RoleCreator,
		Moves:       moves,
	}
}

func TestBufferingAcrossRehydration(t *testing.T) {
	fx := &recordingEffects{}
	e := NewEngine(fx)
	e.Begin(time.Minute) // fallback far away; this test exercises the happy path

	// Two live moves race ahead of the rehydrate response.
	e.OnLiveMove(game.Move{TileIndex: 2, By: game.RoleCreator})
	e.OnLiveMove(game.Move{TileIndex: 3, By: game.RoleJoiner})
	require.Nil(t, e.Match(), "nothing applied before rehydration")

	// Snapshot carries two historical moves; the buffer flushes after them.
	e.OnRehydrate(rehydratePayload([]game.Move{
		{TileIndex: 0, By: game.RoleCreator},
		{TileIndex: 1, By: game.RoleJoiner},
	}))

	m := e.Match()
	require.NotNil(t, m)
	assert.Equal(t, 4, m.RevealedCount(), "2 historical + 2 buffered, none dropped, none duplicated")
	for _, tile := range []int{0, 1, 2, 3} {
		assert.True(t, m.Tiles[tile].IsRevealed, "tile %d", tile)
	}
	assert.Equal(t, game.RoleCreator, m.Turn, "even move count hands the turn back to the starter")
	assert.True(t, e.Synchronized())
	assert.False(t, e.Degraded())

	// Replay is muted: no effect notifications for any of the four moves.
	assert.Equal(t, 0, fx.appliedCount())
}

func TestBufferedDuplicateOfHistoryIsAbsorbed(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)

	// The buffered move is also present in the historical log.
	e.OnLiveMove(game.Move{TileIndex: 1, By: game.RoleJoiner})
	e.OnRehydrate(rehydratePayload([]game.Move{
		{TileIndex: 0, By: game.RoleCreator},
		{TileIndex: 1, By: game.RoleJoiner},
	}))

	m := e.Match()
	require.NotNil(t, m)
	assert.Equal(t, 2, m.RevealedCount())
	assert.Equal(t, 1, m.Score(game.RoleCreator))
	assert.Equal(t, 1, m.Score(game.RoleJoiner))
}

func TestInputGatedUntilSynchronized(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)

	_, ok := e.SubmitMove(0)
	assert.False(t, ok, "no outgoing moves before rehydration")
	assert.False(t, e.CanAct())

	e.OnRehydrate(rehydratePayload(nil))
	require.True(t, e.CanAct())

	mv, ok := e.SubmitMove(0)
	require.True(t, ok)
	assert.Equal(t, game.Move{TileIndex: 0, By: game.RoleCreator}, mv)

	// Not our turn anymore.
	_, ok = e.SubmitMove(1)
	assert.False(t, ok)
}

func TestLiveMovesApplyDirectlyAfterRehydration(t *testing.T) {
	fx := &recordingEffects{}
	e := NewEngine(fx)
	e.Begin(time.Minute)
	e.OnRehydrate(rehydratePayload(nil))

	e.OnLiveMove(game.Move{TileIndex: 0, By: game.RoleCreator})
	m := e.Match()
	assert.Equal(t, 1, m.RevealedCount())
	assert.Equal(t, 1, fx.appliedCount(), "live moves carry normal effects")
}

func TestEffectsLabelMoverRelativeToLocalRole(t *testing.T) {
	fx := &recordingEffects{}
	e := NewEngine(fx)
	e.Begin(time.Minute)
	e.OnRehydrate(rehydratePayload(nil)) // local role: creator

	_, ok := e.SubmitMove(0)
	require.True(t, ok)
	e.OnLiveMove(game.Move{TileIndex: 1, By: game.RoleJoiner})

	fx.mu.Lock()
	defer fx.mu.Unlock()
	require.Len(t, fx.sides, 2)
	assert.Equal(t, game.SidePlayer, fx.sides[0], "own move")
	assert.Equal(t, game.SideOpponent, fx.sides[1], "joiner's move seen by the creator")
}

func TestFallbackGoesLiveDegraded(t *testing.T) {
	e := NewEngine(nil)

	// Optimistic preview from a persisted snapshot; input still gated.
	e.Restore(Snapshot{
		MatchID:     "m1",
		Role:        game.RoleCreator,
		BetLamports: 1_000_000,
		BombCount:   3,
		BoardSeed:   "abc",
		StartsBy:    game.RoleCreator,
	})
	require.NotNil(t, e.Match())
	assert.False(t, e.CanAct())

	e.Begin(20 * time.Millisecond)
	e.OnLiveMove(game.Move{TileIndex: 0, By: game.RoleCreator})

	require.Eventually(t, e.Synchronized, time.Second, 5*time.Millisecond)
	assert.True(t, e.Degraded(), "timeout path is flagged, not silent")
	assert.Equal(t, 1, e.Match().RevealedCount(), "buffered move flushed onto the preview")
}

func TestRehydrationCancelsFallback(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(10 * time.Millisecond)
	e.OnRehydrate(rehydratePayload(nil))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, e.Synchronized())
	assert.False(t, e.Degraded(), "a timely rehydrate must win over the timer")
}

func TestSpectatorNeverActs(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)
	e.OnSpectate(relay.StartSpectate{
		Type:      relay.TypeStartSpectate,
		MatchID:   "m1",
		BoardSeed: "abc",
		BombCount: 3,
		StartsBy:  game.RoleCreator,
		Moves:     []game.Move{{TileIndex: 0, By: game.RoleCreator}},
	})

	require.True(t, e.Synchronized())
	assert.False(t, e.CanAct())
	_, ok := e.SubmitMove(1)
	assert.False(t, ok)
	assert.Equal(t, 1, e.Match().RevealedCount())
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)
	e.OnRehydrate(rehydratePayload([]game.Move{
		{TileIndex: 0, By: game.RoleCreator},
		{TileIndex: 1, By: game.RoleJoiner},
	}))

	snap, ok := e.Snapshot("m1")
	require.True(t, ok)

	store := NewMemorySnapshots()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "wallet-1", snap))

	loaded, err := store.Load(ctx, "wallet-1")
	require.NoError(t, err)

	// A fresh engine restores the same projection from the snapshot.
	e2 := NewEngine(nil)
	e2.Restore(loaded)
	m2 := e2.Match()
	require.NotNil(t, m2)
	assert.Equal(t, e.Match().Tiles, m2.Tiles)
	assert.Equal(t, e.Match().Turn, m2.Turn)

	require.NoError(t, store.Clear(ctx, "wallet-1"))
	_, err = store.Load(ctx, "wallet-1")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestTurnClockForcesMove(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)
	e.OnRehydrate(rehydratePayload(nil))

	var mu sync.Mutex
	var sent []game.Move
	clock := NewTurnClock(20*time.Millisecond, func(mv game.Move) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, mv)
	})
	clock.Sync(e, false)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	mv := sent[0]
	mu.Unlock()
	assert.Equal(t, game.RoleCreator, mv.By)
	assert.True(t, e.Match().Tiles[mv.TileIndex].IsRevealed)
	clock.Stop()
}

func TestTurnClockAttachFollowsEngine(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)
	e.OnRehydrate(rehydratePayload(nil))

	var mu sync.Mutex
	var sent []game.Move
	clock := NewTurnClock(20*time.Millisecond, func(mv game.Move) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, mv)
	})
	clock.Attach(e, false)

	// The attached clock forces the creator's overdue move, then the turn
	// passes to the joiner, whose clock this connection does not run.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, game.RoleCreator, sent[0].By)
	clock.Stop()
}

func TestTurnClockGenerationKillsStaleTimer(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)
	e.OnRehydrate(rehydratePayload(nil))

	fired := make(chan game.Move, 4)
	clock := NewTurnClock(20*time.Millisecond, func(mv game.Move) { fired <- mv })
	clock.Sync(e, false)
	clock.Stop() // restart before expiry; old timer must not fire

	select {
	case mv := <-fired:
		t.Fatalf("stale timer fired move %+v", mv)
	case <-time.After(80 * time.Millisecond):
	}
	assert.Equal(t, 0, e.Match().RevealedCount())
}

func TestTurnClockNeverRunsForSpectators(t *testing.T) {
	e := NewEngine(nil)
	e.Begin(time.Minute)
	e.OnSpectate(relay.StartSpectate{
		Type:      relay.TypeStartSpectate,
		MatchID:   "m1",
		BoardSeed: "abc",
		BombCount: 3,
		StartsBy:  game.RoleCreator,
	})

	fired := make(chan game.Move, 1)
	clock := NewTurnClock(15*time.Millisecond, func(mv game.Move) { fired <- mv })
	clock.Sync(e, false)

	select {
	case <-fired:
		t.Fatal("clock armed for a spectator")
	case <-time.After(60 * time.Millisecond):
	}
}
