// internal/relay/session.go
//
// Per-match session state and the match registry.
// Responsibilities:
//   - Hold the append-only move log, participant bindings, commit-reveal
//     seeds and spectator set for one match.
//   - Serialize all handling for a match behind its own mutex, so the log
//     never sees interleaved partial updates.
//   - Rebind a participant's connection on rehydrate (refresh takeover).
//
// The session never validates game legality; it is an ordered broadcast log.
// Each observer's own state machine rejects illegal or duplicate moves.

package relay

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/pomo1231/solbombs2-sub000/internal/fair"
	"github.com/pomo1231/solbombs2-sub000/internal/game"
)

// Session-level failures. Only the ones with wire codes are reported back to
// the sender; the rest are dropped per the protocol-desync policy.
var (
	errMatchNotStarted = errors.New("match not started")
	errMatchFull       = errors.New("match full")
	errOwnMatch        = errors.New("cannot join own match")
	errRobotActive     = errors.New("robot opponent active")
	errNotParticipant  = errors.New("not a participant")
)

// Match lifecycle states, from binding to settlement.
const (
	matchOpen     = "open"
	matchStarted  = "started"
	matchFinished = "finished"
)

// MatchSession is the server-side record of one match.
type MatchSession struct {
	mu sync.Mutex

	ID          string
	Handle      string // ledger-issued settlement handle
	Nonce       int
	BetLamports uint64
	BombCount   int

	status       string
	startingSide game.Role
	vsRobot      bool
	winner       game.Role

	creatorConn   string
	joinerConn    string
	creatorWallet string
	joinerWallet  string

	serverSecret string
	commit       string
	creatorSeed  string
	joinerSeed   string
	boardSeed    string

	moveLog    []game.Move
	spectators map[string]bool
}

// newSession binds a creator connection to a fresh match.
func newSession(connID, wallet string, betLamports uint64, bombCount, nonce int, handle string) *MatchSession {
	secret := uuid.NewString()
	return &MatchSession{
		ID:            uuid.NewString(),
		Handle:        handle,
		Nonce:         nonce,
		BetLamports:   betLamports,
		BombCount:     bombCount,
		status:        matchOpen,
		creatorConn:   connID,
		creatorWallet: wallet,
		serverSecret:  secret,
		commit:        fair.CommitHash(secret),
		spectators:    map[string]bool{},
	}
}

// Commit returns the published server-secret commitment.
func (s *MatchSession) Commit() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit
}

// Join binds the second participant and opens play. The starting side is
// drawn here; board placement still waits for both client seeds.
func (s *MatchSession) Join(connID, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vsRobot {
		return errRobotActive
	}
	if s.status != matchOpen || s.joinerConn != "" {
		return errMatchFull
	}
	if connID == s.creatorConn {
		return errOwnMatch
	}
	s.joinerConn = connID
	s.joinerWallet = wallet
	s.status = matchStarted
	s.startingSide = drawStartingSide()
	return nil
}

// StartRobot flips an open match to vs-robot play. Only the creator may do
// this. The board seed is computed immediately: there is no joiner seed to
// wait for.
func (s *MatchSession) StartRobot(connID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connID != s.creatorConn {
		return "", errNotParticipant
	}
	if s.status != matchOpen {
		return "", errMatchFull
	}
	s.vsRobot = true
	s.status = matchStarted
	s.startingSide = drawStartingSide()
	s.boardSeed = fair.RobotSeed(s.serverSecret, s.ID, s.Nonce)
	return s.boardSeed, nil
}

// SetClientSeed records one participant's seed, verifying the claimed role
// against the sender. Returns the combined board seed once both seeds are in;
// the seed is computed exactly once.
func (s *MatchSession) SetClientSeed(connID string, role game.Role, seed string) (boardSeed string, ready bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != matchStarted {
		return "", false, errMatchNotStarted
	}
	actual := s.roleOfLocked(connID, "")
	if !actual.Valid() || actual != role {
		return "", false, errNotParticipant
	}
	if role == game.RoleCreator {
		s.creatorSeed = seed
	} else {
		s.joinerSeed = seed
	}
	if s.creatorSeed != "" && s.joinerSeed != "" && s.boardSeed == "" {
		s.boardSeed = fair.CombineSeeds(s.serverSecret, s.creatorSeed, s.joinerSeed, s.ID, s.Nonce)
	}
	return s.boardSeed, s.boardSeed != "", nil
}

// AppendMove records a move and resolves who made it. In vs-robot matches
// the creator's client relays robot moves with an explicit claimed role;
// otherwise the sender's binding decides.
func (s *MatchSession) AppendMove(connID string, tileIndex int, claimed game.Role) (game.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != matchStarted {
		return game.Move{}, errMatchNotStarted
	}
	by := s.roleOfLocked(connID, "")
	if !by.Valid() {
		return game.Move{}, errNotParticipant
	}
	if s.vsRobot && claimed.Valid() {
		by = claimed
	}
	mv := game.Move{TileIndex: tileIndex, By: by}
	s.moveLog = append(s.moveLog, mv)
	return mv, nil
}

// Moves returns a copy of the ordered move log.
func (s *MatchSession) Moves() []game.Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.Move, len(s.moveLog))
	copy(out, s.moveLog)
	return out
}

// AttachSpectator registers a read-only observer and returns the snapshot it
// should replay before any live move reaches it.
func (s *MatchSession) AttachSpectator(connID string) (StartSpectate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != matchStarted {
		return StartSpectate{}, errMatchNotStarted
	}
	s.spectators[connID] = true
	moves := make([]game.Move, len(s.moveLog))
	copy(moves, s.moveLog)
	return StartSpectate{
		Type:        TypeStartSpectate,
		MatchID:     s.ID,
		BoardSeed:   s.boardSeed,
		BetLamports: s.BetLamports,
		BombCount:   s.BombCount,
		StartsBy:    s.startingSide,
		Moves:       moves,
		VsRobot:     s.vsRobot,
	}, nil
}

// DetachConn removes any binding the connection holds as a spectator.
// Participant bindings survive disconnects; rehydration reclaims them.
func (s *MatchSession) DetachConn(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spectators, connID)
}

// Rehydrate authenticates the requester against the stored participant
// identities (connection id first, wallet as the refresh fallback), rebinds
// the role to this connection, scrubs any stale spectator entry for it, and
// returns the authoritative snapshot.
func (s *MatchSession) Rehydrate(connID, wallet string) (Rehydrate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != matchStarted {
		return Rehydrate{}, errMatchNotStarted
	}
	role := s.roleOfLocked(connID, wallet)
	if !role.Valid() && s.vsRobot && wallet != "" && wallet == s.creatorWallet {
		role = game.RoleCreator
	}
	if !role.Valid() {
		return Rehydrate{}, errNotParticipant
	}

	if role == game.RoleCreator {
		if s.creatorConn != connID {
			delete(s.spectators, s.creatorConn)
			s.creatorConn = connID
		}
		if wallet != "" {
			s.creatorWallet = wallet
		}
	} else {
		if s.joinerConn != connID {
			delete(s.spectators, s.joinerConn)
			s.joinerConn = connID
		}
		if wallet != "" {
			s.joinerWallet = wallet
		}
	}
	delete(s.spectators, connID)

	moves := make([]game.Move, len(s.moveLog))
	copy(moves, s.moveLog)
	return Rehydrate{
		Type:        TypeRehydrate,
		MatchID:     s.ID,
		BoardSeed:   s.boardSeed,
		BetLamports: s.BetLamports,
		BombCount:   s.BombCount,
		StartsBy:    s.startingSide,
		YourRole:    role,
		Moves:       moves,
		VsRobot:     s.vsRobot,
	}, nil
}

// Finish marks the match terminal, clears spectators, and returns the
// commit-reveal disclosure. Finishing twice is a benign no-op.
func (s *MatchSession) Finish(winner game.Role) (PfReveal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == matchFinished {
		return PfReveal{}, false
	}
	s.status = matchFinished
	s.winner = winner
	s.spectators = map[string]bool{}
	return PfReveal{Commit: s.commit, ServerSecret: s.serverSecret}, true
}

// Recipients lists every connection attached to the match except the one
// given: the other participant plus all spectators.
func (s *MatchSession) Recipients(exclude string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, 2+len(s.spectators))
	for _, c := range []string{s.creatorConn, s.joinerConn} {
		if c != "" && c != exclude {
			out = append(out, c)
		}
	}
	for c := range s.spectators {
		if c != exclude {
			out = append(out, c)
		}
	}
	return out
}

// Participants returns the bound participant connections and their roles.
func (s *MatchSession) Participants() map[string]game.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]game.Role{}
	if s.creatorConn != "" {
		out[s.creatorConn] = game.RoleCreator
	}
	if s.joinerConn != "" {
		out[s.joinerConn] = game.RoleJoiner
	}
	return out
}

// Snapshot returns the immutable start parameters plus current seed state.
func (s *MatchSession) Snapshot() (startsBy game.Role, boardSeed string, vsRobot bool, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startingSide, s.boardSeed, s.vsRobot, s.status
}

// Wallets returns the bound wallet identities.
func (s *MatchSession) Wallets() (creator, joiner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creatorWallet, s.joinerWallet
}

// roleOfLocked resolves a requester to a participant role. Caller holds mu.
func (s *MatchSession) roleOfLocked(connID, wallet string) game.Role {
	switch {
	case connID != "" && connID == s.creatorConn:
		return game.RoleCreator
	case connID != "" && connID == s.joinerConn:
		return game.RoleJoiner
	case wallet != "" && wallet == s.creatorWallet:
		return game.RoleCreator
	case wallet != "" && wallet == s.joinerWallet:
		return game.RoleJoiner
	}
	return ""
}

// drawStartingSide picks who moves first. Not part of the provably-fair
// contract; the draw is disclosed in every start and rehydrate payload.
func drawStartingSide() game.Role {
	if rand.Intn(2) == 0 {
		return game.RoleCreator
	}
	return game.RoleJoiner
}

// ----------------------------- registry ------------------------------------

// Registry is the in-memory index of live match sessions.
type Registry struct {
	mu      sync.RWMutex
	matches map[string]*MatchSession
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{matches: map[string]*MatchSession{}}
}

// Create binds a creator connection to a new match session. handle is the
// ledger's settlement handle for the creator's wager.
func (r *Registry) Create(connID, wallet string, betLamports uint64, bombCount, nonce int, handle string) *MatchSession {
	s := newSession(connID, wallet, betLamports, bombCount, nonce, handle)
	r.mu.Lock()
	r.matches[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get looks up a session by match id.
func (r *Registry) Get(matchID string) (*MatchSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.matches[matchID]
	return s, ok
}

// DropDisconnected removes matches that never started whose creator is the
// disconnecting connection, and detaches the connection from all spectator
// sets. Started matches survive; rehydration reclaims them.
func (r *Registry) DropDisconnected(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.matches {
		s.mu.Lock()
		open := s.status == matchOpen && s.creatorConn == connID
		delete(s.spectators, connID)
		s.mu.Unlock()
		if open {
			delete(r.matches, id)
		}
	}
}

// Remove deletes a session, normally after settlement is recorded.
func (r *Registry) Remove(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matches, matchID)
}
