// internal/game/types.go
//
// Core type definitions for the Mines match engine.
// Defines:
//   - Role: match-absolute participant identity (creator/joiner).
//   - Side: per-observer relabeling of a Role (player/opponent).
//   - Tile, Move, Status, Outcome: the board and state-machine vocabulary.

package game

// Role is a match-absolute participant role, assigned by the lobby at match
// creation and never reinterpreted.
type Role string

const (
	RoleCreator Role = "creator"
	RoleJoiner  Role = "joiner"
)

// Other returns the opposing role.
func (r Role) Other() Role {
	if r == RoleCreator {
		return RoleJoiner
	}
	return RoleCreator
}

// Valid reports whether r is one of the two participant roles.
func (r Role) Valid() bool { return r == RoleCreator || r == RoleJoiner }

// Side is a per-observer relabeling of a Role: the local participant is
// SidePlayer, everyone else is SideOpponent.
type Side string

const (
	SidePlayer   Side = "player"
	SideOpponent Side = "opponent"
)

// SideOf maps an absolute role onto the local side for an observer playing as
// localRole. This is the single place the player/opponent relabeling happens;
// callers thread the result through rather than re-deriving it ad hoc.
func SideOf(localRole, r Role) Side {
	if r == localRole {
		return SidePlayer
	}
	return SideOpponent
}

// Status is the match lifecycle state.
type Status string

const (
	// StatusAwaitingSeed: 1v1 board not yet placed; the combined seed has not
	// arrived from the relay.
	StatusAwaitingSeed Status = "awaiting_seed"
	StatusInProgress   Status = "in_progress"
	StatusResolved     Status = "resolved"
)

// Tile is a single board cell. Reveal state only ever transitions
// false -> true; bombs never move once placed.
type Tile struct {
	Index      int  `json:"index"`
	IsBomb     bool `json:"isBomb"`
	IsRevealed bool `json:"isRevealed"`
	RevealedBy Role `json:"revealedBy,omitempty"` // empty for unrevealed or force-revealed tiles
}

// Move is one log entry: which tile, revealed by whom. Sequence is implicit
// in log position. Applying a move whose tile is already revealed is a no-op,
// which is what makes the log safe to replay against partial local state.
type Move struct {
	TileIndex int  `json:"tileIndex"`
	By        Role `json:"by"`
}

// Outcome is the terminal result of a match.
type Outcome struct {
	Winner Role `json:"winner"`
	// ViaCoinFlip marks a tie resolved by the deterministic coin flip; UI
	// layers surface this as a distinct animation before the result dialog.
	ViaCoinFlip bool `json:"viaCoinFlip"`
}

// MoveResult describes what ApplyMove did, for callers that drive sounds,
// toasts and broadcasts off move application.
type MoveResult struct {
	Applied     bool // false for every no-op case
	Bomb        bool // the revealed tile was a bomb
	Resolved    bool // this move ended the match
	ViaCoinFlip bool // the match ended in a tie broken by coin flip
}
