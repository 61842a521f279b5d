// internal/game/payout.go
//
// Exact-integer payout math shared by the solo cash-out path and the wagering
// display. The multiplier is a fixed-point value in basis points
// (10_000 == 1.0x) derived from the hypergeometric probability of revealing
// k safe tiles out of 25 with bombCount bombs.
//
// This computation must match the authoritative settlement path bit-for-bit.
// Use integer arithmetic only: a single float division here is a payout
// dispute waiting to happen.

package game

const (
	houseEdgeBps = 9_900 // 0.99 payout factor
	chanceScale  = 1_000_000

	// MinMultiplierBps / MaxMultiplierBps clamp the settlement multiplier.
	MinMultiplierBps uint16 = 10_000
	MaxMultiplierBps uint16 = 65_535
)

// MultiplierBps returns the cash-out multiplier in basis points for
// safeRevealed safe tiles on a board with bombCount bombs.
//
//	chance = scale * Π_{i=0}^{k-1} (25 - bombCount - i) / (25 - i)
//	multiplier = clamp(floor(houseEdgeBps * scale / chance), 10_000, 65_535)
//
// Each product step floors, matching the settlement program's sequence of
// checked integer divisions.
func MultiplierBps(safeRevealed, bombCount int) uint16 {
	if safeRevealed <= 0 {
		return MinMultiplierBps
	}

	chance := uint64(chanceScale)
	for i := 0; i < safeRevealed; i++ {
		remainingTiles := uint64(25 - i)
		remainingSafe := int64(25 - bombCount - i)
		if remainingTiles == 0 || remainingSafe <= 0 {
			// Impossible reveal count for this bomb count; settle at 1.0x.
			return MinMultiplierBps
		}
		chance = chance * uint64(remainingSafe) / remainingTiles
	}
	if chance == 0 {
		return MaxMultiplierBps
	}

	bps := houseEdgeBps * uint64(chanceScale) / chance
	if bps > uint64(MaxMultiplierBps) {
		return MaxMultiplierBps
	}
	if bps < uint64(MinMultiplierBps) {
		return MinMultiplierBps
	}
	return uint16(bps)
}

// PayoutLamports applies a basis-point multiplier to a wager, flooring.
func PayoutLamports(wagerLamports uint64, multiplierBps uint16) uint64 {
	return wagerLamports * uint64(multiplierBps) / 10_000
}
