// internal/ledger/ledger.go
//
// Settlement boundary for wagered matches.
// Responsibilities:
//   - Ledger: the opaque collaborator interface the relay calls to start,
//     join, cash out and resolve wagered matches.
//   - Recorder: SQLite-backed implementation that persists settlement
//     records and per-wallet seed profiles.
//
// Settlement is the one place failures reach the user. Nothing here retries
// on its own; duplicate attempts are reported as ErrAlreadySettled, which
// callers treat as a benign outcome, never a hard error.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pomo1231/solbombs2-sub000/internal/game"
)

var (
	// ErrAlreadySettled marks a duplicate settlement attempt. Callers must
	// treat it as success that already happened.
	ErrAlreadySettled = errors.New("match already settled")
	// ErrUnknownHandle marks an operation on a handle the ledger never issued.
	ErrUnknownHandle = errors.New("unknown match handle")
)

// Ledger is the external settlement collaborator. All calls may fail; the
// caller surfaces failures to the user and never advances local state to
// settled until the ledger confirms.
type Ledger interface {
	StartMatch(ctx context.Context, wallet string, wagerLamports uint64, bombCount int) (handle string, err error)
	JoinMatch(ctx context.Context, handle, wallet string) error
	CashOut(ctx context.Context, handle string, revealedSafeCount int) (payoutLamports uint64, err error)
	Resolve(ctx context.Context, handle string, winner game.Role) error
}

// Settlement is the audit record written at resolution or cash-out.
type Settlement struct {
	MatchID        string
	Mode           string // "pvp" | "robot" | "solo"
	Wallet         string
	WagerLamports  uint64
	PayoutLamports uint64
	MultiplierBps  uint16
	Winner         game.Role
	ServerSeed     string
	ClientSeed     string
	Nonce          int
}

// Recorder is the SQLite-backed ledger. It stands in for the on-chain
// settlement program and doubles as the durable settlement/audit store.
type Recorder struct {
	db *sql.DB
}

// NewRecorder wraps an opened database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// StartMatch registers a wager and issues the match handle.
func (r *Recorder) StartMatch(ctx context.Context, wallet string, wagerLamports uint64, bombCount int) (string, error) {
	handle := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO settlements (match_id, wallet, wager_lamports, bomb_count, status, created_at)
        VALUES (?, ?, ?, ?, 'pending', ?)`,
		handle, wallet, wagerLamports, bombCount, now())
	if err != nil {
		return "", fmt.Errorf("start match: %w", err)
	}
	return handle, nil
}

// JoinMatch records the second wager against an existing handle.
func (r *Recorder) JoinMatch(ctx context.Context, handle, wallet string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE settlements SET joiner_wallet = ? WHERE match_id = ? AND status = 'pending'`,
		wallet, handle)
	if err != nil {
		return fmt.Errorf("join match: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.classifyMissing(ctx, handle)
	}
	return nil
}

// CashOut settles a solo game at the current multiplier and returns the
// payout. A second cash-out on the same handle reports ErrAlreadySettled.
func (r *Recorder) CashOut(ctx context.Context, handle string, revealedSafeCount int) (uint64, error) {
	var wager uint64
	var bombCount int
	err := r.db.QueryRowContext(ctx,
		`SELECT wager_lamports, bomb_count FROM settlements WHERE match_id = ? AND status = 'pending'`,
		handle).Scan(&wager, &bombCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.classifyMissing(ctx, handle)
	}
	if err != nil {
		return 0, fmt.Errorf("cash out: %w", err)
	}

	bps := game.MultiplierBps(revealedSafeCount, bombCount)
	payout := game.PayoutLamports(wager, bps)
	res, err := r.db.ExecContext(ctx, `
        UPDATE settlements
        SET status = 'settled', payout_lamports = ?, multiplier_bps = ?, settled_at = ?
        WHERE match_id = ? AND status = 'pending'`,
		payout, bps, now(), handle)
	if err != nil {
		return 0, fmt.Errorf("cash out: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another settlement of the same handle.
		return 0, ErrAlreadySettled
	}
	return payout, nil
}

/// Resolve settles a 1v1 match for the given winner. Idempotent: resolving a
// settled handle reports ErrAlreadySettled.
func (r *Recorder) Resolve(ctx context.Context, handle string, winner game.Role) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE settlements
        SET status = 'settled', winner = ?, settled_at = ?
        WHERE match_id = ? AND status = 'pending'`,
		string(winner), now(), handle)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.classifyMissing(ctx, handle)
	}
	return nil
}

// RecordSettlement writes the full audit record for a resolved match. Insert
// is idempotent by match id so replayed game-over reports are harmless.
func (r *Recorder) RecordSettlement(ctx context.Context, s Settlement) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO settlement_audit
            (match_id, mode, wallet, wager_lamports, payout_lamports, multiplier_bps,
             winner, server_seed, client_seed, nonce, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.MatchID, s.Mode, s.Wallet, s.WagerLamports, s.PayoutLamports, s.MultiplierBps,
		string(s.Winner), s.ServerSeed, s.ClientSeed, s.Nonce, now())
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// ClientSeed returns the wallet's committed client seed, or "" if none.
func (r *Recorder) ClientSeed(ctx context.Context, wallet string) (string, error) {
	var seed string
	err := r.db.QueryRowContext(ctx,
		`SELECT client_seed FROM profiles WHERE wallet = ?`, wallet).Scan(&seed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load client seed: %w", err)
	}
	return seed, nil
}

// PutClientSeed stores or replaces the wallet's client seed.
func (r *Recorder) PutClientSeed(ctx context.Context, wallet, seed string) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO profiles (wallet, client_seed, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(wallet) DO UPDATE SET client_seed = excluded.client_seed, updated_at = excluded.updated_at`,
		wallet, seed, now())
	if err != nil {
		return fmt.Errorf("store client seed: %w", err)
	}
	return nil
}

// classifyMissing distinguishes an already-settled handle from one the
// ledger never issued.
func (r *Recorder) classifyMissing(ctx context.Context, handle string) error {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM settlements WHERE match_id = ?`, handle).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownHandle
	}
	if err != nil {
		return fmt.Errorf("classify handle: %w", err)
	}
	if status == "settled" {
		return ErrAlreadySettled
	}
	log.Warn().Str("handle", handle).Str("status", status).Msg("settlement in unexpected status")
	return ErrAlreadySettled
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
