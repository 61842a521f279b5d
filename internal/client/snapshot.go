// internal/client/snapshot.go
//
// Persisted projection snapshots for refresh survival.
// The snapshot is a "last known projection" cache, always subordinate to
// server rehydration: it may seed an optimistic preview render, but the
// authoritative rehydrate payload overwrites it wholesale.

package client

import (
	"context"
	"errors"
	"sync"

	"github.com/pomo1231/solbombs2-sub000/internal/game"
)

// ErrNoSnapshot is returned when no snapshot exists for an identity.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot is one serializable in-progress match view, keyed by the
// participant identity that owns it.
type Snapshot struct {
	MatchID     string      `json:"matchId"`
	Role        game.Role   `json:"role"`
	BetLamports uint64      `json:"betLamports"`
	BombCount   int         `json:"bombCount"`
	BoardSeed   string      `json:"boardSeed"`
	StartsBy    game.Role   `json:"startsBy"`
	Moves       []game.Move `json:"moves"`
}

// SnapshotStore persists one snapshot per identity. Implementations may be
// backed by memory (this package), browser storage, SQL, etc.
type SnapshotStore interface {
	// Save overwrites the identity's snapshot.
	Save(ctx context.Context, identity string, s Snapshot) error

	// Load retrieves the identity's snapshot.
	// Returns ErrNoSnapshot if none exists.
	Load(ctx context.Context, identity string) (Snapshot, error)

	// Clear removes the identity's snapshot, on explicit leave/reset or
	// after resolution.
	Clear(ctx context.Context, identity string) error
}

// memorySnapshots is a map-based SnapshotStore.
type memorySnapshots struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

// NewMemorySnapshots constructs an in-memory SnapshotStore.
func NewMemorySnapshots() SnapshotStore {
	return &memorySnapshots{items: make(map[string]Snapshot)}
}

// Save overwrites the stored snapshot for identity.
func (m *memorySnapshots) Save(ctx context.Context, identity string, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[identity] = s
	return nil
}

// Load returns the stored snapshot or ErrNoSnapshot.
func (m *memorySnapshots) Load(ctx context.Context, identity string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.items[identity]; ok {
		return s, nil
	}
	return Snapshot{}, ErrNoSnapshot
}

// Clear drops the stored snapshot, if any.
func (m *memorySnapshots) Clear(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, identity)
	return nil
}
