package httpserver

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomo1231/solbombs2-sub000/internal/game"
	"github.com/pomo1231/solbombs2-sub000/internal/ledger"
	"github.com/pomo1231/solbombs2-sub000/internal/relay"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`
        CREATE TABLE settlements (
            match_id TEXT PRIMARY KEY, wallet TEXT NOT NULL, joiner_wallet TEXT,
            wager_lamports INTEGER NOT NULL, bomb_count INTEGER NOT NULL,
            status TEXT NOT NULL, payout_lamports INTEGER, multiplier_bps INTEGER,
            winner TEXT, created_at TEXT NOT NULL, settled_at TEXT
        );
        CREATE TABLE settlement_audit (
            match_id TEXT PRIMARY KEY, mode TEXT NOT NULL, wallet TEXT NOT NULL,
            wager_lamports INTEGER NOT NULL, payout_lamports INTEGER NOT NULL DEFAULT 0,
            multiplier_bps INTEGER NOT NULL DEFAULT 0, winner TEXT,
            server_seed TEXT, client_seed TEXT, nonce INTEGER, created_at TEXT NOT NULL
        );
        CREATE TABLE profiles (
            wallet TEXT PRIMARY KEY, client_seed TEXT NOT NULL, updated_at TEXT NOT NULL
        );`)
	require.NoError(t, err)

	rec := ledger.NewRecorder(db)
	hub := relay.NewHub(relay.NewRegistry(), rec, "test-secret", "")
	return New(hub, rec)
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func mintToken(t *testing.T, srv *Server, wallet string) string {
	t.Helper()
	rr := doJSON(t, srv, http.MethodPost, "/session", "", map[string]string{"wallet": wallet})
	require.Equal(t, http.StatusOK, rr.Code)
	var res sessionRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	require.NotEmpty(t, res.SessionID)
	return res.Token
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
}

func TestSessionRequiresWallet(t *testing.T) {
	srv := testServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/session", "", map[string]string{"wallet": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSoloRoutesRequireToken(t *testing.T) {
	srv := testServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/solo/new", "", map[string]any{"betLamports": 1, "bombCount": 1})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSoloFlow(t *testing.T) {
	srv := testServer(t)
	token := mintToken(t, srv, "wallet-solo")

	rr := doJSON(t, srv, http.MethodPost, "/solo/new", token, map[string]any{
		"betLamports": 1_000_000, "bombCount": 1, "clientSeed": "my-seed",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var created soloNewRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.GameID)
	assert.Len(t, created.CommitHash, 64)

	// First click is always safe, so with one bomb this reveal cannot bust.
	rr = doJSON(t, srv, http.MethodPost, "/solo/reveal", token, soloRevealReq{
		GameID: created.GameID, TileIndex: 7,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var revealed soloRevealRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &revealed))
	assert.False(t, revealed.Bomb)
	assert.Equal(t, 1, revealed.SafeRevealed)
	assert.Equal(t, game.MultiplierBps(1, 1), revealed.MultiplierBps)

	rr = doJSON(t, srv, http.MethodPost, "/solo/cashout", token, soloCashOutReq{GameID: created.GameID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var cashed soloCashOutRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cashed))
	assert.Equal(t, game.PayoutLamports(1_000_000, game.MultiplierBps(1, 1)), cashed.PayoutLamports)
	assert.Equal(t, "my-seed", cashed.ClientSeed)
	assert.NotEmpty(t, cashed.ServerSeed)

	// The game is gone once settled.
	rr = doJSON(t, srv, http.MethodPost, "/solo/cashout", token, soloCashOutReq{GameID: created.GameID})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSoloGameIsWalletScoped(t *testing.T) {
	srv := testServer(t)
	owner := mintToken(t, srv, "wallet-owner")
	other := mintToken(t, srv, "wallet-other")

	rr := doJSON(t, srv, http.MethodPost, "/solo/new", owner, map[string]any{
		"betLamports": 100, "bombCount": 3,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var created soloNewRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = doJSON(t, srv, http.MethodPost, "/solo/reveal", other, soloRevealReq{
		GameID: created.GameID, TileIndex: 0,
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSoloConcurrentRequests(t *testing.T) {
	srv := testServer(t)
	token := mintToken(t, srv, "wallet-racer")

	rr := doJSON(t, srv, http.MethodPost, "/solo/new", token, map[string]any{
		"betLamports": 1_000_000, "bombCount": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var created soloNewRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	// Safe opening reveal so a cash-out is possible.
	rr = doJSON(t, srv, http.MethodPost, "/solo/reveal", token, soloRevealReq{
		GameID: created.GameID, TileIndex: 0,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	// Reveals and cash-outs race on the same game; settlement must happen at
	// most once regardless of interleaving.
	var wg sync.WaitGroup
	var cashed atomic.Int32
	for tile := 1; tile <= 4; tile++ {
		wg.Add(1)
		go func(tile int) {
			defer wg.Done()
			doJSON(t, srv, http.MethodPost, "/solo/reveal", token, soloRevealReq{
				GameID: created.GameID, TileIndex: tile,
			})
		}(tile)
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := doJSON(t, srv, http.MethodPost, "/solo/cashout", token, soloCashOutReq{GameID: created.GameID})
			if rr.Code == http.StatusOK {
				cashed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, cashed.Load(), int32(1), "a game settles at most once")
}

func TestSeedProfileRoundTrip(t *testing.T) {
	srv := testServer(t)
	token := mintToken(t, srv, "wallet-seed")

	rr := doJSON(t, srv, http.MethodPost, "/profile/seed", token, map[string]string{"clientSeed": "lucky"})
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/profile/seed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr2, req)
	require.Equal(t, http.StatusOK, rr2.Code)
	assert.JSONEq(t, `{"clientSeed":"lucky"}`, rr2.Body.String())
}
