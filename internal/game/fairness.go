package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"wager/internal/domain"
)

const (
	// DefaultInstantCrashEvery makes roughly one round in 33 crash at 1.00.
	DefaultInstantCrashEvery = 33

	// MaxCrashCents caps the crash point at 1,000,000.00x.
	MaxCrashCents int64 = 100_000_000

	hashSliceHex = 13 // 52 bits
)

const twoPow52 uint64 = 1 << 52

// GenerateSeed returns 32 random bytes, hex encoded.
func GenerateSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashCommitment is the public hash published before betting opens.
func HashCommitment(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// RoundHash is HMAC-SHA256 keyed by the server seed over the salt.
func RoundHash(serverSeed, salt string) []byte {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(salt))
	return h.Sum(nil)
}

// CrashPointCents derives the crash point in hundredths. When instantEvery is
// positive and the full round hash is divisible by it, the round crashes at
// 1.00 regardless of the leading slice.
func CrashPointCents(serverSeed, salt string, instantEvery int64) int64 {
	sum := RoundHash(serverSeed, salt)
	if instantEvery > 0 {
		n := new(big.Int).SetBytes(sum)
		if new(big.Int).Mod(n, big.NewInt(instantEvery)).Sign() == 0 {
			return 100
		}
	}

	h, _ := strconv.ParseUint(hex.EncodeToString(sum)[:hashSliceHex], 16, 64)
	cents := int64((100*twoPow52 - h) / (twoPow52 - h))
	return clampCents(cents)
}

// CrashPoint is CrashPointCents as a multiplier.
func CrashPoint(serverSeed, salt string, instantEvery int64) decimal.Decimal {
	return domain.MultiplierFromCents(CrashPointCents(serverSeed, salt, instantEvery))
}

// VerifyRound checks a revealed round: the seed must hash to the published
// commitment and reproduce the claimed crash point.
func VerifyRound(serverSeed, salt, publicHash string, claimed decimal.Decimal, instantEvery int64) bool {
	if !hmac.Equal([]byte(HashCommitment(serverSeed)), []byte(publicHash)) {
		return false
	}
	return CrashPoint(serverSeed, salt, instantEvery).Equal(claimed)
}

// MultiplierAt is the running multiplier after elapsed, in hundredths:
// floor(100 * e^(rate*t)).
func MultiplierAt(elapsed time.Duration, rate float64) int64 {
	if elapsed <= 0 {
		return 100
	}
	v := math.Floor(100 * math.Exp(rate*elapsed.Seconds()))
	if v >= float64(MaxCrashCents) {
		return MaxCrashCents
	}
	return clampCents(int64(v))
}

func clampCents(c int64) int64 {
	switch {
	case c < 100:
		return 100
	case c > MaxCrashCents:
		return MaxCrashCents
	}
	return c
}
