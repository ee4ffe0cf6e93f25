package raffle

import (
	crand "crypto/rand"
	"log/slog"
	"math/big"
	"math/rand"
)

// PickFunc selects a winner index in [0, n). Callers guarantee n >= 1.
type PickFunc func(n int) int

// CryptoPick draws from crypto/rand. This is the default winner source so a
// viewer cannot predict the outcome from process state.
func CryptoPick(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto source unavailable; a pseudo draw is still fair
		slog.Warn("crypto rand unavailable, falling back to pseudo draw", slog.Any("err", err))
		return PseudoPick(n)
	}
	return int(v.Int64())
}

// PseudoPick draws from math/rand.
//
//nolint:gosec // G404: acceptable when explicitly configured; the raffle is a chat game
func PseudoPick(n int) int { return rand.Intn(n) }
