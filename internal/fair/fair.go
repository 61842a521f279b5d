// internal/fair/fair.go
//
// Provably fair randomness for Mines boards.
// Responsibilities:
//   - Deterministic bomb placement from a combined seed (iterated-SHA256 Fisher–Yates).
//   - Solo-mode first-click-safe placement (independent algorithm, never unified with the above).
//   - Deterministic tie-break coin flip.
//   - Commit-reveal helpers (server secret commit, combined board seed).
//
// Every draw here must be reproducible bit-for-bit by any party holding the
// disclosed seeds: creator, joiner, spectators, and after-the-fact auditors.
// Nothing in this package may consume ambient randomness.

package fair

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// BoardTiles is the fixed board size. The shuffle below is written for exactly
// 25 cells; changing this requires revisiting the hash-segment selection.
const BoardTiles = 25

// sha256Hex returns the lowercase hex SHA-256 digest of s.
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PlaceBombs derives the bomb set for a 1v1 board from the combined seed
// material. Identical inputs always yield the identical set, on every platform.
//
// Algorithm (the committed contract, do not "improve"):
//   - hash0 = SHA256(serverSeed + "-" + clientSeed + "-" + nonce)
//   - Fisher–Yates over tiles [0..24], where the swap index for position i is
//     taken from the 8-hex-char segment of the current hash selected by i mod 8,
//     parsed as an unsigned integer, mod (i+1); the hash is then re-hashed
//     (SHA256 of its hex form) for the next iteration.
//   - The first bombCount entries of the shuffled array are the bombs.
//
// Returns an empty set if any input is missing or bombCount is out of range;
// callers must treat that as "board not ready", never as a zero-bomb board.
func PlaceBombs(serverSeed, clientSeed string, nonce int, bombCount int) map[int]bool {
	if serverSeed == "" || clientSeed == "" || nonce < 0 {
		return map[int]bool{}
	}
	if bombCount < 1 || bombCount > BoardTiles-1 {
		return map[int]bool{}
	}

	tiles := make([]int, BoardTiles)
	for i := range tiles {
		tiles[i] = i
	}

	cur := sha256Hex(fmt.Sprintf("%s-%s-%d", serverSeed, clientSeed, nonce))
	for i := len(tiles) - 1; i > 0; i-- {
		seg := cur[(i%8)*8 : (i%8)*8+8]
		v, err := strconv.ParseUint(seg, 16, 64)
		if err != nil {
			// A hex SHA-256 digest cannot fail to parse; bail defensively anyway.
			return map[int]bool{}
		}
		j := int(v % uint64(i+1))
		tiles[i], tiles[j] = tiles[j], tiles[i]
		cur = sha256Hex(cur)
	}

	bombs := make(map[int]bool, bombCount)
	for _, t := range tiles[:bombCount] {
		bombs[t] = true
	}
	return bombs
}

// SoloPlacement derives the bomb set for a solo board. The first-clicked tile
// is never a bomb, so an opening move cannot be an immediate loss.
//
// This is a distinct algorithm from PlaceBombs: solo mode has no pre-committed
// opponent seed, so the board is drawn from a single per-match seed at the
// moment of the first click. Draws come from an iterated SHA-256 chain; each
// link yields one candidate position (first 8 hex chars mod 25), skipping the
// protected tile and duplicates until bombCount tiles are chosen.
func SoloPlacement(seed string, firstClicked int, bombCount int) map[int]bool {
	if seed == "" || bombCount < 1 || bombCount > BoardTiles-1 {
		return map[int]bool{}
	}

	bombs := make(map[int]bool, bombCount)
	cur := sha256Hex(seed)
	for len(bombs) < bombCount {
		v, _ := strconv.ParseUint(cur[:8], 16, 64)
		pos := int(v % BoardTiles)
		if pos != firstClicked && !bombs[pos] {
			bombs[pos] = true
		}
		cur = sha256Hex(cur)
	}
	return bombs
}

// CoinFlip resolves a tied match deterministically from the match seed.
// It is an independent draw from bomb placement: the digest of matchSeed+"tie"
// is reduced to a uint32 and compared against the midpoint, i.e. the draw is
// "float < 0.5" expressed in integers. Returns true when the creator wins.
func CoinFlip(matchSeed string) bool {
	h := sha256Hex(matchSeed + "tie")
	v, _ := strconv.ParseUint(h[:8], 16, 32)
	return uint32(v) < 1<<31
}

// CommitHash returns the public commitment for a server secret, published at
// match start and revealed at resolution.
func CommitHash(serverSecret string) string {
	return sha256Hex(serverSecret)
}

// CombineSeeds computes the final board seed once both participant seeds are
// known. The match id and nonce are mixed in so two matches between the same
// wallets with the same seeds still get distinct boards.
func CombineSeeds(serverSecret, creatorSeed, joinerSeed, matchID string, nonce int) string {
	return sha256Hex(fmt.Sprintf("%s|%s|%s|%s|%d", serverSecret, creatorSeed, joinerSeed, matchID, nonce))
}

// RobotSeed computes the board seed for a vs-robot match, where no joiner seed
// will ever arrive and the board must be available immediately.
func RobotSeed(serverSecret, matchID string, nonce int) string {
	return sha256Hex(fmt.Sprintf("%s|%s|%d", serverSecret, matchID, nonce))
}
