// internal/httpserver/routes_solo.go
//
// HTTP routes for solo (single-player) games.
// Exposes three endpoints under /solo:
//   - POST /solo/new     → start a solo game (registers the wager, commits the seed)
//   - POST /solo/reveal  → reveal a tile
//   - POST /solo/cashout → cash out at the current multiplier
//
// Active games are held in memory; the settlement recorder persists the
// wager at start and the outcome at bust or cash-out. The server seed stays
// hidden until the game finishes, only its commit hash is returned up front.

package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pomo1231/solbombs2-sub000/internal/fair"
	"github.com/pomo1231/solbombs2-sub000/internal/game"
	"github.com/pomo1231/solbombs2-sub000/internal/ledger"
)

// soloServer wraps dependencies for /solo endpoints.
type soloServer struct {
	srv      *Server
	sessions map[string]*soloSession // active games keyed by game id
	nonces   map[string]int          // next nonce per wallet
	mu       sync.Mutex              // guards sessions and nonces
}

// soloSession holds transient in-memory state for an in-progress solo game.
type soloSession struct {
	GameID     string
	Wallet     string
	Handle     string
	ServerSeed string
	ClientSeed string
	Nonce      int
	Game       *game.Solo
}

// mountSolo registers all /solo routes.
func (s *Server) mountSolo(r chi.Router) {
	ss := &soloServer{
		srv:      s,
		sessions: make(map[string]*soloSession),
		nonces:   make(map[string]int),
	}
	r.Route("/solo", func(r chi.Router) {
		r.Post("/new", ss.handleNew)
		r.Post("/reveal", ss.handleReveal)
		r.Post("/cashout", ss.handleCashOut)
	})
}

// -----------------------------------------------------------------------------
// /solo/new

type soloNewReq struct {
	BetLamports uint64 `json:"betLamports"`
	BombCount   int    `json:"bombCount"`
	ClientSeed  string `json:"clientSeed"`
}

type soloNewRes struct {
	GameID     string `json:"gameId"`
	CommitHash string `json:"commitHash"`
	Nonce      int    `json:"nonce"`
}

// handleNew registers the wager with the recorder, draws a fresh server seed
// and returns its commit. The client seed defaults to the wallet's stored
// profile seed when the request omits one.
func (d *soloServer) handleNew(w http.ResponseWriter, r *http.Request) {
	wallet, _ := r.Context().Value(ctxWalletKey{}).(string)

	var p soloNewReq
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	if p.BombCount < 1 || p.BombCount >= fair.BoardTiles || p.BetLamports == 0 {
		http.Error(w, `{"error":"invalid_game"}`, http.StatusBadRequest)
		return
	}

	clientSeed := strings.TrimSpace(p.ClientSeed)
	if clientSeed == "" {
		stored, err := d.srv.rec.ClientSeed(r.Context(), wallet)
		if err != nil || stored == "" {
			clientSeed = uuid.NewString()
		} else {
			clientSeed = stored
		}
	}

	handle, err := d.srv.rec.StartMatch(r.Context(), wallet, p.BetLamports, p.BombCount)
	if err != nil {
		log.Error().Err(err).Msg("ledger start solo")
		http.Error(w, `{"error":"ledger_failed"}`, http.StatusInternalServerError)
		return
	}

	d.mu.Lock()
	nonce := d.nonces[wallet]
	d.nonces[wallet] = nonce + 1
	serverSeed := uuid.NewString()
	sess := &soloSession{
		GameID:     uuid.NewString(),
		Wallet:     wallet,
		Handle:     handle,
		ServerSeed: serverSeed,
		ClientSeed: clientSeed,
		Nonce:      nonce,
		Game:       game.NewSolo(serverSeed, clientSeed, nonce, p.BombCount, p.BetLamports),
	}
	d.sessions[sess.GameID] = sess
	d.mu.Unlock()

	_ = json.NewEncoder(w).Encode(soloNewRes{
		GameID:     sess.GameID,
		CommitHash: fair.CommitHash(serverSeed),
		Nonce:      nonce,
	})
}

// -----------------------------------------------------------------------------
// /solo/reveal

type soloRevealReq struct {
	GameID    string `json:"gameId"`
	TileIndex int    `json:"tileIndex"`
}

type soloRevealRes struct {
	Bomb          bool   `json:"bomb"`
	Finished      bool   `json:"finished"`
	SafeRevealed  int    `json:"safeRevealed"`
	MultiplierBps uint16 `json:"multiplierBps"`
	ServerSeed    string `json:"serverSeed,omitempty"` // revealed only at game end
	ClientSeed    string `json:"clientSeed,omitempty"`
}

// handleReveal applies one tile reveal. A bust settles the wager at zero and
// reveals the server seed for verification.
func (d *soloServer) handleReveal(w http.ResponseWriter, r *http.Request) {
	var p soloRevealReq
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, ok := d.ownSession(w, r, p.GameID)
	if !ok {
		return
	}

	// Everything read off the game is captured under the lock; concurrent
	// requests for the same game race otherwise.
	d.mu.Lock()
	res, err := sess.Game.Reveal(p.TileIndex)
	busted := sess.Game.Busted
	wager := sess.Game.BetLamports
	out := soloRevealRes{
		Bomb:          res.Bomb,
		Finished:      sess.Game.Finished,
		SafeRevealed:  sess.Game.SafeRevealed,
		MultiplierBps: sess.Game.MultiplierBps(),
	}
	d.mu.Unlock()
	if err != nil {
		http.Error(w, `{"error":"game_finished"}`, http.StatusConflict)
		return
	}
	if !res.Applied {
		http.Error(w, `{"error":"invalid_tile"}`, http.StatusBadRequest)
		return
	}
	if busted {
		d.settleBust(r, sess, wager)
		out.ServerSeed = sess.ServerSeed
		out.ClientSeed = sess.ClientSeed
	}
	_ = json.NewEncoder(w).Encode(out)
}

// settleBust closes the wager at zero payout and writes the audit record.
func (d *soloServer) settleBust(r *http.Request, sess *soloSession, wager uint64) {
	if err := d.srv.rec.Resolve(r.Context(), sess.Handle, ""); err != nil {
		log.Warn().Err(err).Str("game", sess.GameID).Msg("settle bust")
	}
	if err := d.srv.rec.RecordSettlement(r.Context(), ledger.Settlement{
		MatchID:       sess.GameID,
		Mode:          "solo",
		Wallet:        sess.Wallet,
		WagerLamports: wager,
		ServerSeed:    sess.ServerSeed,
		ClientSeed:    sess.ClientSeed,
		Nonce:         sess.Nonce,
	}); err != nil {
		log.Warn().Err(err).Str("game", sess.GameID).Msg("settlement audit record")
	}
	d.drop(sess.GameID)
}

// -----------------------------------------------------------------------------
// /solo/cashout

type soloCashOutReq struct {
	GameID string `json:"gameId"`
}

type soloCashOutRes struct {
	PayoutLamports uint64 `json:"payoutLamports"`
	MultiplierBps  uint16 `json:"multiplierBps"`
	ServerSeed     string `json:"serverSeed"`
	ClientSeed     string `json:"clientSeed"`
	Nonce          int    `json:"nonce"`
}

// handleCashOut locks in the current multiplier, settles with the recorder
// and reveals the server seed.
func (d *soloServer) handleCashOut(w http.ResponseWriter, r *http.Request) {
	var p soloCashOutReq
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, ok := d.ownSession(w, r, p.GameID)
	if !ok {
		return
	}

	d.mu.Lock()
	bps := sess.Game.MultiplierBps()
	safeRevealed := sess.Game.SafeRevealed
	wager := sess.Game.BetLamports
	_, err := sess.Game.CashOut()
	d.mu.Unlock()
	if err != nil {
		http.Error(w, `{"error":"nothing_to_cash_out"}`, http.StatusConflict)
		return
	}
	payout, err := d.srv.rec.CashOut(r.Context(), sess.Handle, safeRevealed)
	if err != nil {
		log.Error().Err(err).Str("game", sess.GameID).Msg("ledger cash out")
		http.Error(w, `{"error":"ledger_failed"}`, http.StatusInternalServerError)
		return
	}
	if err := d.srv.rec.RecordSettlement(r.Context(), ledger.Settlement{
		MatchID:        sess.GameID,
		Mode:           "solo",
		Wallet:         sess.Wallet,
		WagerLamports:  wager,
		PayoutLamports: payout,
		MultiplierBps:  bps,
		ServerSeed:     sess.ServerSeed,
		ClientSeed:     sess.ClientSeed,
		Nonce:          sess.Nonce,
	}); err != nil {
		log.Warn().Err(err).Str("game", sess.GameID).Msg("settlement audit record")
	}
	d.drop(sess.GameID)

	_ = json.NewEncoder(w).Encode(soloCashOutRes{
		PayoutLamports: payout,
		MultiplierBps:  bps,
		ServerSeed:     sess.ServerSeed,
		ClientSeed:     sess.ClientSeed,
		Nonce:          sess.Nonce,
	})
}

// -----------------------------------------------------------------------------
// helpers

// ownSession loads the game and enforces that it belongs to the
// authenticated wallet.
func (d *soloServer) ownSession(w http.ResponseWriter, r *http.Request, gameID string) (*soloSession, bool) {
	wallet, _ := r.Context().Value(ctxWalletKey{}).(string)
	d.mu.Lock()
	sess, ok := d.sessions[gameID]
	d.mu.Unlock()
	if !ok || sess.Wallet != wallet {
		http.Error(w, `{"error":"game_not_found"}`, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// drop removes a finished game from memory.
func (d *soloServer) drop(gameID string) {
	d.mu.Lock()
	delete(d.sessions, gameID)
	d.mu.Unlock()
}
