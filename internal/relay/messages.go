// internal/relay/messages.go
//
// Wire message types for the match relay.
// All frames are flat JSON objects with a "type" discriminator over a
// persistent websocket. The relay decodes the envelope first, then the
// concrete payload; unparseable frames are dropped and the connection
// stays open.

package relay

import "github.com/pomo1231/solbombs2-sub000/internal/game"

// Message type discriminators.
const (
	// client -> server
	TypeHello          = "hello"
	TypeCreateMatch    = "createMatch"
	TypeJoinMatch      = "joinMatch"
	TypeRobotSelected  = "robotSelected"
	TypePfClientSeed   = "pfClientSeed"
	TypePvpMove        = "pvpMove"
	TypeRehydrateLobby = "rehydrateLobby"
	TypeSpectateLobby  = "spectateLobby"
	TypeGameOver       = "gameOver"

	// server -> client
	TypeCreated       = "created"
	TypeStartGame     = "startGame"
	TypePfFinalSeed   = "pfFinalSeed"
	TypeRehydrate     = "rehydrate"
	TypeStartSpectate = "startSpectate"
	TypeOnlineCount   = "onlineCount"
	TypeError         = "error"
)

// envelope is the minimal decode used to route an inbound frame.
type envelope struct {
	Type string `json:"type"`
}

// ---- client -> server ----

// Hello binds this connection to a client session. A second hello with the
// same sessionID from a different connection terminates the older one
// (refresh takeover). Token is the HS256 session token minted over HTTP and
// carries the wallet identity.
type Hello struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token,omitempty"`
}

// CreateMatch binds a creator to a fresh match id. The relay does not hold
// lobby-browsing state; this is only the participant binding step.
type CreateMatch struct {
	Type          string `json:"type"`
	BetLamports   uint64 `json:"betLamports"`
	BombCount     int    `json:"bombCount"`
	MatchNonce    int    `json:"matchNonce"`
	CreatorWallet string `json:"creatorWallet,omitempty"`
}

// JoinMatch binds the second participant and starts the match.
type JoinMatch struct {
	Type         string `json:"type"`
	MatchID      string `json:"matchId"`
	JoinerWallet string `json:"joinerWallet,omitempty"`
}

// RobotSelected flips an open match to vs-robot play. Creator only.
type RobotSelected struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
}

// PfClientSeed submits one participant's client seed for the combined board
// seed. The claimed role must match the sender's identity.
type PfClientSeed struct {
	Type    string    `json:"type"`
	MatchID string    `json:"matchId"`
	Role    game.Role `json:"role"`
	Seed    string    `json:"clientSeed"`
}

// PvpMove is one tile reveal. By is trusted only in vs-robot matches, where
// the creator's client relays the robot's moves; otherwise the relay derives
// it from the sender's binding.
type PvpMove struct {
	Type      string    `json:"type"`
	MatchID   string    `json:"matchId"`
	TileIndex int       `json:"tileIndex"`
	By        game.Role `json:"by,omitempty"`
}

// RehydrateLobby asks for the authoritative snapshot after a (re)connect.
// Wallet lets a refreshed client reclaim its role when its connection id
// changed.
type RehydrateLobby struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
	Wallet  string `json:"wallet,omitempty"`
}

// SpectateLobby attaches the connection as a read-only observer.
type SpectateLobby struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
}

// GameOver reports a resolved match. Winner is absent for solo busts.
type GameOver struct {
	Type    string    `json:"type"`
	MatchID string    `json:"matchId"`
	Winner  game.Role `json:"winner,omitempty"`
}

// ---- server -> client ----

// Created acknowledges CreateMatch with the assigned match id and the
// server's seed commitment.
type Created struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
	Commit  string `json:"pfCommit"`
}

// StartGame tells each participant the match is live. YourRole is
// per-recipient; the board seed is withheld until both client seeds arrive.
type StartGame struct {
	Type          string    `json:"type"`
	MatchID       string    `json:"matchId"`
	BetLamports   uint64    `json:"betLamports"`
	BombCount     int       `json:"bombCount"`
	StartsBy      game.Role `json:"startsBy"`
	YourRole      game.Role `json:"yourRole"`
	Commit        string    `json:"pfCommit"`
	VsRobot       bool      `json:"vsRobotActive,omitempty"`
	CreatorWallet string    `json:"creatorWallet,omitempty"`
	JoinerWallet  string    `json:"joinerWallet,omitempty"`
}

// PfFinalSeed distributes the combined board seed once both client seeds are
// known (or immediately for vs-robot matches). YourRole is omitted for
// spectators.
type PfFinalSeed struct {
	Type        string    `json:"type"`
	MatchID     string    `json:"matchId"`
	BoardSeed   string    `json:"boardSeed"`
	BetLamports uint64    `json:"betLamports"`
	BombCount   int       `json:"bombCount"`
	StartsBy    game.Role `json:"startsBy"`
	YourRole    game.Role `json:"yourRole,omitempty"`
}

// Rehydrate is the authoritative snapshot for a reconnecting participant:
// everything needed to replay to "now" and resume play.
type Rehydrate struct {
	Type        string      `json:"type"`
	MatchID     string      `json:"matchId"`
	BoardSeed   string      `json:"boardSeed"`
	BetLamports uint64      `json:"betLamports"`
	BombCount   int         `json:"bombCount"`
	StartsBy    game.Role   `json:"startsBy"`
	YourRole    game.Role   `json:"yourRole"`
	Moves       []game.Move `json:"moves"`
	VsRobot     bool        `json:"vsRobotActive,omitempty"`
}

// StartSpectate is the spectator counterpart of Rehydrate: same snapshot
// shape, no role.
type StartSpectate struct {
	Type        string      `json:"type"`
	MatchID     string      `json:"matchId"`
	BoardSeed   string      `json:"boardSeed"`
	BetLamports uint64      `json:"betLamports"`
	BombCount   int         `json:"bombCount"`
	StartsBy    game.Role   `json:"startsBy"`
	Moves       []game.Move `json:"moves"`
	VsRobot     bool        `json:"vsRobotActive,omitempty"`
}

// MoveBroadcast fans an accepted move out to the other participant and all
// spectators. Same wire type as the inbound PvpMove.
type MoveBroadcast struct {
	Type      string    `json:"type"`
	MatchID   string    `json:"matchId"`
	TileIndex int       `json:"tileIndex"`
	By        game.Role `json:"by"`
}

// PfReveal discloses the server secret at resolution so any party can verify
// the commit and re-derive the board.
type PfReveal struct {
	Commit       string `json:"commitHash"`
	ServerSecret string `json:"serverSecret"`
}

// GameOverBroadcast announces resolution to every connection attached to the
// match, with the commit-reveal disclosure.
type GameOverBroadcast struct {
	Type     string    `json:"type"`
	MatchID  string    `json:"matchId"`
	Winner   game.Role `json:"winner,omitempty"`
	PfReveal *PfReveal `json:"pfReveal,omitempty"`
}

// OnlineCount is broadcast whenever the set of live sessions changes.
type OnlineCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ErrorMsg is a per-request failure. Protocol desyncs are dropped silently;
// this is only for requests the sender needs an answer to.
type ErrorMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// Error codes.
const (
	CodeMatchNotFound  = "MATCH_NOT_FOUND"
	CodeMatchFull      = "MATCH_FULL"
	CodeOwnMatch       = "OWN_MATCH"
	CodeRobotActive    = "ROBOT_ACTIVE"
	CodeNotParticipant = "NOT_PARTICIPANT"
)
