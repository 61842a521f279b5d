// internal/relay/hub.go
//
// Websocket hub for the match relay.
// Responsibilities:
//   - Accept connections, run a writer goroutine per connection with a
//     keepalive ping, and dispatch inbound frames to the match sessions.
//   - Session takeover: a hello with a known sessionId terminates the
//     previous connection for that session.
//   - Broadcast moves and resolutions to every connection attached to a
//     match, fire-and-forget with per-connection FIFO ordering.
//   - Drive the settlement ledger at match start/join/resolution.
//
// The hub validates identity and match membership, never game legality.
// Anything malformed or mismatched is logged and dropped; the read loop
// keeps going.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/pomo1231/solbombs2-sub000/internal/game"
	"github.com/pomo1231/solbombs2-sub000/internal/ledger"
)

const (
	sendBuffer   = 64
	pingInterval = 15 * time.Second
)

// Settler is the slice of the ledger the hub drives.
type Settler interface {
	StartMatch(ctx context.Context, wallet string, wagerLamports uint64, bombCount int) (string, error)
	JoinMatch(ctx context.Context, handle, wallet string) error
	Resolve(ctx context.Context, handle string, winner game.Role) error
	RecordSettlement(ctx context.Context, s ledger.Settlement) error
	PutClientSeed(ctx context.Context, wallet, seed string) error
}

// conn is one live websocket connection.
type conn struct {
	id        string
	sessionID string
	wallet    string
	ws        *websocket.Conn
	send      chan []byte
}

// Hub routes relay traffic between connections and match sessions.
type Hub struct {
	registry  *Registry
	settler   Settler
	jwtSecret string
	origin    string
	logger    zerolog.Logger

	mu       sync.RWMutex
	conns    map[string]*conn // conn id -> conn
	sessions map[string]*conn // session id -> live conn
}

// NewHub wires the registry and ledger into a hub. origin limits websocket
// upgrades; empty allows any (dev).
func NewHub(reg *Registry, settler Settler, jwtSecret, origin string) *Hub {
	return &Hub{
		registry:  reg,
		settler:   settler,
		jwtSecret: jwtSecret,
		origin:    origin,
		logger:    log.With().Str("component", "relay").Logger(),
		conns:     map[string]*conn{},
		sessions:  map[string]*conn{},
	}
}

// ServeWS upgrades the request and runs the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.origin != "" {
		opts.OriginPatterns = []string{h.origin}
	} else {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket accept")
		return
	}

	c := &conn{id: uuid.NewString(), ws: ws, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.logger.Debug().Str("conn", c.id).Msg("connected")
	h.broadcastOnlineCount()

	go h.writer(r.Context(), c)
	h.reader(r.Context(), c)
	h.disconnect(c)
}

// writer drains the send channel and keeps the connection alive with pings.
func (h *Hub) writer(ctx context.Context, c *conn) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.Write(ctx, websocket.MessageText, msg)
		case <-ping.C:
			if err := c.ws.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// reader dispatches inbound frames until the connection errors out.
func (h *Hub) reader(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Debug().Str("conn", c.id).Msg("malformed frame dropped")
			continue
		}
		h.dispatch(ctx, c, env.Type, data)
	}
}

// dispatch routes one frame. Unknown types are dropped.
func (h *Hub) dispatch(ctx context.Context, c *conn, typ string, data []byte) {
	switch typ {
	case TypeHello:
		var m Hello
		if json.Unmarshal(data, &m) == nil {
			h.handleHello(c, m)
		}
	case TypeCreateMatch:
		var m CreateMatch
		if json.Unmarshal(data, &m) == nil {
			h.handleCreate(ctx, c, m)
		}
	case TypeJoinMatch:
		var m JoinMatch
		if json.Unmarshal(data, &m) == nil {
			h.handleJoin(ctx, c, m)
		}
	case TypeRobotSelected:
		var m RobotSelected
		if json.Unmarshal(data, &m) == nil {
			h.handleRobot(c, m)
		}
	case TypePfClientSeed:
		var m PfClientSeed
		if json.Unmarshal(data, &m) == nil {
			h.handleClientSeed(ctx, c, m)
		}
	case TypePvpMove:
		var m PvpMove
		if json.Unmarshal(data, &m) == nil {
			h.handleMove(c, m)
		}
	case TypeRehydrateLobby:
		var m RehydrateLobby
		if json.Unmarshal(data, &m) == nil {
			h.handleRehydrate(c, m)
		}
	case TypeSpectateLobby:
		var m SpectateLobby
		if json.Unmarshal(data, &m) == nil {
			h.handleSpectate(c, m)
		}
	case TypeGameOver:
		var m GameOver
		if json.Unmarshal(data, &m) == nil {
			h.handleGameOver(ctx, c, m)
		}
	default:
		h.logger.Debug().Str("type", typ).Msg("unknown message type")
	}
}

// handleHello binds the session id, resolves the wallet from the token, and
// terminates any previous connection holding the same session.
func (h *Hub) handleHello(c *conn, m Hello) {
	if m.SessionID == "" {
		return
	}
	c.sessionID = m.SessionID
	if w := h.walletFromToken(m.Token); w != "" {
		c.wallet = w
	}

	h.mu.Lock()
	prev := h.sessions[m.SessionID]
	h.sessions[m.SessionID] = c
	h.mu.Unlock()
	if prev != nil && prev != c {
		h.logger.Info().Str("session", m.SessionID).Msg("session takeover")
		_ = prev.ws.Close(websocket.StatusPolicyViolation, "session taken over")
	}
	h.broadcastOnlineCount()
}

func (h *Hub) handleCreate(ctx context.Context, c *conn, m CreateMatch) {
	wallet := c.wallet
	if wallet == "" {
		wallet = m.CreatorWallet
	}
	handle, err := h.settler.StartMatch(ctx, wallet, m.BetLamports, m.BombCount)
	if err != nil {
		h.logger.Error().Err(err).Msg("ledger start match")
		h.send(c.id, ErrorMsg{Type: TypeError, Code: "LEDGER_FAILED"})
		return
	}
	s := h.registry.Create(c.id, wallet, m.BetLamports, m.BombCount, m.MatchNonce, handle)
	h.send(c.id, Created{Type: TypeCreated, MatchID: s.ID, Commit: s.Commit()})
}

func (h *Hub) handleJoin(ctx context.Context, c *conn, m JoinMatch) {
	s, ok := h.registry.Get(m.MatchID)
	if !ok {
		h.send(c.id, ErrorMsg{Type: TypeError, Code: CodeMatchNotFound})
		return
	}
	wallet := c.wallet
	if wallet == "" {
		wallet = m.JoinerWallet
	}
	if err := s.Join(c.id, wallet); err != nil {
		h.send(c.id, ErrorMsg{Type: TypeError, Code: joinErrCode(err)})
		return
	}
	if err := h.settler.JoinMatch(ctx, s.Handle, wallet); err != nil && !errors.Is(err, ledger.ErrAlreadySettled) {
		h.logger.Error().Err(err).Str("match", s.ID).Msg("ledger join match")
		h.send(c.id, ErrorMsg{Type: TypeError, Code: "LEDGER_FAILED"})
		return
	}

	startsBy, _, _, _ := s.Snapshot()
	creatorWallet, joinerWallet := s.Wallets()
	for connID, role := range s.Participants() {
		h.send(connID, StartGame{
			Type:          TypeStartGame,
			MatchID:       s.ID,
			BetLamports:   s.BetLamports,
			BombCount:     s.BombCount,
			StartsBy:      startsBy,
			YourRole:      role,
			Commit:        s.Commit(),
			CreatorWallet: creatorWallet,
			JoinerWallet:  joinerWallet,
		})
	}
}

func (h *Hub) handleRobot(c *conn, m RobotSelected) {
	s, ok := h.registry.Get(m.MatchID)
	if !ok {
		h.send(c.id, ErrorMsg{Type: TypeError, Code: CodeMatchNotFound})
		return
	}
	boardSeed, err := s.StartRobot(c.id)
	if err != nil {
		h.logger.Debug().Err(err).Str("match", s.ID).Msg("robot select rejected")
		return
	}
	startsBy, _, _, _ := s.Snapshot()
	h.send(c.id, PfFinalSeed{
		Type:        TypePfFinalSeed,
		MatchID:     s.ID,
		BoardSeed:   boardSeed,
		BetLamports: s.BetLamports,
		BombCount:   s.BombCount,
		StartsBy:    startsBy,
		YourRole:    game.RoleCreator,
	})
}

func (h *Hub) handleClientSeed(ctx context.Context, c *conn, m PfClientSeed) {
	s, ok := h.registry.Get(m.MatchID)
	if !ok {
		return
	}
	boardSeed, ready, err := s.SetClientSeed(c.id, m.Role, m.Seed)
	if err != nil {
		h.logger.Debug().Err(err).Str("match", s.ID).Msg("client seed rejected")
		return
	}
	// Remember the seed so a refreshed client can re-commit the same one.
	if c.wallet != "" && m.Seed != "" {
		if err := h.settler.PutClientSeed(ctx, c.wallet, m.Seed); err != nil {
			h.logger.Warn().Err(err).Msg("store client seed")
		}
	}
	if !ready {
		return
	}

	startsBy, _, _, _ := s.Snapshot()
	participants := s.Participants()
	base := PfFinalSeed{
		Type:        TypePfFinalSeed,
		MatchID:     s.ID,
		BoardSeed:   boardSeed,
		BetLamports: s.BetLamports,
		BombCount:   s.BombCount,
		StartsBy:    startsBy,
	}
	for connID, role := range participants {
		msg := base
		msg.YourRole = role
		h.send(connID, msg)
	}
	for _, connID := range s.Recipients("") {
		if _, isParticipant := participants[connID]; !isParticipant {
			h.send(connID, base)
		}
	}
}

// handleMove appends to the log and fans out. The relay never checks turn
// ownership or bombs; each receiver's state machine does.
func (h *Hub) handleMove(c *conn, m PvpMove) {
	s, ok := h.registry.Get(m.MatchID)
	if !ok {
		return
	}
	mv, err := s.AppendMove(c.id, m.TileIndex, m.By)
	if err != nil {
		h.logger.Debug().Err(err).Str("match", s.ID).Msg("move dropped")
		return
	}
	out := MoveBroadcast{Type: TypePvpMove, MatchID: s.ID, TileIndex: mv.TileIndex, By: mv.By}
	for _, connID := range s.Recipients(c.id) {
		h.send(connID, out)
	}
}

func (h *Hub) handleRehydrate(c *conn, m RehydrateLobby) {
	s, ok := h.registry.Get(m.MatchID)
	if !ok {
		h.logger.Debug().Str("match", m.MatchID).Msg("rehydrate for unknown match")
		return
	}
	wallet := m.Wallet
	if wallet == "" {
		wallet = c.wallet
	}
	payload, err := s.Rehydrate(c.id, wallet)
	if err != nil {
		h.logger.Warn().Err(err).Str("match", s.ID).Str("conn", c.id).Msg("rehydrate denied")
		return
	}
	h.send(c.id, payload)

	// The rebind may have displaced a connection spectators were keyed to;
	// refresh them with the current snapshot.
	snapshot := StartSpectate{
		Type:        TypeStartSpectate,
		MatchID:     payload.MatchID,
		BoardSeed:   payload.BoardSeed,
		BetLamports: payload.BetLamports,
		BombCount:   payload.BombCount,
		StartsBy:    payload.StartsBy,
		Moves:       payload.Moves,
		VsRobot:     payload.VsRobot,
	}
	participants := s.Participants()
	for _, connID := range s.Recipients(c.id) {
		if _, isParticipant := participants[connID]; !isParticipant {
			h.send(connID, snapshot)
		}
	}
}

func (h *Hub) handleSpectate(c *conn, m SpectateLobby) {
	s, ok := h.registry.Get(m.MatchID)
	if !ok {
		h.send(c.id, ErrorMsg{Type: TypeError, Code: CodeMatchNotFound})
		return
	}
	payload, err := s.AttachSpectator(c.id)
	if err != nil {
		h.logger.Debug().Err(err).Str("match", s.ID).Msg("spectate rejected")
		return
	}
	h.send(c.id, payload)
}

// handleGameOver settles the match and announces it. Duplicate reports are
// benign; only the first one settles.
func (h *Hub) handleGameOver(ctx context.Context, c *conn, m GameOver) {
	s, ok := h.registry.Get(m.MatchID)
	if !ok {
		return
	}
	// Capture the audience before Finish clears the spectator set.
	audience := s.Recipients("")
	reveal, first := s.Finish(m.Winner)
	if !first {
		return
	}

	if err := h.settler.Resolve(ctx, s.Handle, m.Winner); err != nil {
		if errors.Is(err, ledger.ErrAlreadySettled) {
			h.logger.Info().Str("match", s.ID).Msg("already settled")
		} else {
			h.logger.Error().Err(err).Str("match", s.ID).Msg("ledger resolve")
			h.send(c.id, ErrorMsg{Type: TypeError, Code: "LEDGER_FAILED"})
			// Announce anyway; settlement can be retried against the ledger.
		}
	}

	creatorWallet, _ := s.Wallets()
	_, _, vsRobot, _ := s.Snapshot()
	mode := "pvp"
	if vsRobot {
		mode = "robot"
	}
	if err := h.settler.RecordSettlement(ctx, ledger.Settlement{
		MatchID:       s.ID,
		Mode:          mode,
		Wallet:        creatorWallet,
		WagerLamports: s.BetLamports,
		Winner:        m.Winner,
		ServerSeed:    reveal.ServerSecret,
		Nonce:         s.Nonce,
	}); err != nil {
		h.logger.Warn().Err(err).Str("match", s.ID).Msg("settlement audit record")
	}

	out := GameOverBroadcast{Type: TypeGameOver, MatchID: s.ID, Winner: m.Winner, PfReveal: &reveal}
	for _, connID := range audience {
		h.send(connID, out)
	}
	h.send(c.id, out)
	h.registry.Remove(s.ID)
}

// disconnect tears down a dropped connection.
func (h *Hub) disconnect(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	if c.sessionID != "" && h.sessions[c.sessionID] == c {
		delete(h.sessions, c.sessionID)
	}
	close(c.send)
	h.mu.Unlock()

	h.registry.DropDisconnected(c.id)
	h.logger.Debug().Str("conn", c.id).Msg("disconnected")
	h.broadcastOnlineCount()
}

// send marshals and queues a message for one connection, dropping on a full
// buffer. A slow consumer loses frames, then recovers via rehydration.
//
// The channel send happens under the read lock: disconnect closes the channel
// under the write lock, so a queued frame can never hit a closed channel.
func (h *Hub) send(connID string, v any) {
	if connID == "" {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.conns[connID]
	if c == nil {
		return
	}
	select {
	case c.send <- b:
	default:
		h.logger.Warn().Str("conn", connID).Msg("send buffer full, frame dropped")
	}
}

// broadcastOnlineCount tells everyone how many sessions are live.
func (h *Hub) broadcastOnlineCount() {
	h.mu.RLock()
	count := len(h.sessions)
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.send(id, OnlineCount{Type: TypeOnlineCount, Count: count})
	}
}

// walletFromToken extracts the wallet claim from a session token.
func (h *Hub) walletFromToken(token string) string {
	if token == "" || h.jwtSecret == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !t.Valid {
		return ""
	}
	wallet, _ := claims["wallet"].(string)
	return wallet
}

// joinErrCode maps session join failures onto wire error codes.
func joinErrCode(err error) string {
	switch {
	case errors.Is(err, errRobotActive):
		return CodeRobotActive
	case errors.Is(err, errOwnMatch):
		return CodeOwnMatch
	default:
		return CodeMatchFull
	}
}
