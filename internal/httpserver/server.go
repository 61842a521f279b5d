// internal/httpserver/server.go
//
// HTTP server wiring for the Solbombs backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health".
//   - POST /session: mints the HS256 session token the relay verifies on
//     hello/rehydrate.
//   - GET /ws: websocket upgrade into the match relay.
//   - Solo game endpoints (require a session token): mounted under /solo.
//   - Seed profile endpoints: GET/POST /profile/seed.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled.
//   - The relay carries all 1v1 traffic; HTTP covers identity, solo play and
//     provably-fair profile management.

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pomo1231/solbombs2-sub000/internal/ledger"
	"github.com/pomo1231/solbombs2-sub000/internal/relay"
)

// Server bundles the router, the relay hub and the settlement recorder.
type Server struct {
	r   *chi.Mux
	hub *relay.Hub
	rec *ledger.Recorder
}

// New constructs a Server, installs middleware, and registers routes.
func New(hub *relay.Hub, rec *ledger.Recorder) *Server {
	s := &Server{r: chi.NewRouter(), hub: hub, rec: rec}

	// --- middleware ---
	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)
	s.r.Use(chimw.Timeout(10 * time.Second))
	s.r.Use(jsonContentType)
	s.r.Use(corsFromEnv)

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"solbombs-relay","endpoints":["/health","POST /session","GET /ws","/solo/*"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// Session token mint. The relay and the gated routes both verify it.
	s.r.Post("/session", s.handleSession)

	// Websocket relay. The upgrade handshake carries no JSON middleware needs.
	s.r.Get("/ws", s.hub.ServeWS)

	// Solo games and seed profile (require a session token)
	s.mountSolo(s.r.With(s.requireWallet()))
	s.r.With(s.requireWallet()).Get("/profile/seed", s.handleGetSeed)
	s.r.With(s.requireWallet()).Post("/profile/seed", s.handlePutSeed)

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromEnv enables credentialed CORS for a single origin.
// Uses CLIENT_ORIGIN env var; defaults to http://localhost:5173.
func corsFromEnv(next http.Handler) http.Handler {
	origin := getEnv("CLIENT_ORIGIN", "http://localhost:5173")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ----------------------------- SESSION -------------------------------------

// sessionReq/Res payloads for POST /session.
type sessionReq struct {
	Wallet string `json:"wallet"`
}
type sessionRes struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// handleSession mints a session id and an HS256 token binding the wallet.
// The client presents both on the relay hello and keeps them across refreshes
// so the relay can rebind its connection after a drop.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	req.Wallet = strings.TrimSpace(req.Wallet)
	if req.Wallet == "" {
		http.Error(w, `{"error":"wallet_required"}`, http.StatusBadRequest)
		return
	}
	tok, err := signSessionToken(req.Wallet)
	if err != nil {
		log.Error().Err(err).Msg("sign session token")
		http.Error(w, `{"error":"sign_failed"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(sessionRes{SessionID: uuid.NewString(), Token: tok})
}

// signSessionToken creates an HS256 JWT carrying the wallet claim.
func signSessionToken(wallet string) (string, error) {
	secret := getEnv("JWT_SECRET", "dev_secret_change_me")
	exp := time.Now().Add(24 * time.Hour)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"wallet": wallet,
		"exp":    exp.Unix(),
		"iat":    time.Now().Unix(),
	})
	return t.SignedString([]byte(secret))
}

// ----------------------------- seed profile --------------------------------

func (s *Server) handleGetSeed(w http.ResponseWriter, r *http.Request) {
	wallet, _ := r.Context().Value(ctxWalletKey{}).(string)
	seed, err := s.rec.ClientSeed(r.Context(), wallet)
	if err != nil {
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"clientSeed": seed})
}

func (s *Server) handlePutSeed(w http.ResponseWriter, r *http.Request) {
	wallet, _ := r.Context().Value(ctxWalletKey{}).(string)
	var body struct {
		ClientSeed string `json:"clientSeed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.ClientSeed) == "" {
		http.Error(w, `{"error":"invalid_seed"}`, http.StatusBadRequest)
		return
	}
	if err := s.rec.PutClientSeed(r.Context(), wallet, strings.TrimSpace(body.ClientSeed)); err != nil {
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// ---------------------------- auth middleware ------------------------------

// ctxWalletKey is the context key type for the authenticated wallet.
type ctxWalletKey struct{}

// requireWallet enforces a valid session token and injects the wallet claim
// into the request context.
func (s *Server) requireWallet() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
				return
			}
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(getEnv("JWT_SECRET", "dev_secret_change_me")), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			wallet, _ := claims["wallet"].(string)
			if wallet == "" {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxWalletKey{}, wallet)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts a bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return ""
}

// ------------------------------- small util --------------------------------

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
