package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundPhase string

const (
	PhaseWaiting RoundPhase = "waiting"
	PhaseBetting RoundPhase = "betting"
	PhaseRunning RoundPhase = "running"
	PhaseCrashed RoundPhase = "crashed"
)

// CrashRound is one cycle of the crash game. ServerSeed and CrashMultiplier
// stay secret until the round has crashed.
type CrashRound struct {
	ID              string          `json:"id"`
	Nonce           int64           `json:"nonce"`
	ServerSeed      string          `json:"-"`
	Salt            string          `json:"salt"`
	PublicHash      string          `json:"public_hash"`
	CrashMultiplier decimal.Decimal `json:"-"`
	Phase           RoundPhase      `json:"phase"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CrashedAt       *time.Time      `json:"crashed_at,omitempty"`
}

// Reveal is the public view of a crashed round, enough to recompute its crash point.
type Reveal struct {
	RoundID         string          `json:"round_id"`
	ServerSeed      string          `json:"server_seed"`
	Salt            string          `json:"salt"`
	PublicHash      string          `json:"public_hash"`
	CrashMultiplier decimal.Decimal `json:"crash_multiplier"`
}

// Reveal returns the fairness disclosure, or false while the round is live.
func (r *CrashRound) Reveal() (Reveal, bool) {
	if r.Phase != PhaseCrashed {
		return Reveal{}, false
	}
	return Reveal{
		RoundID:         r.ID,
		ServerSeed:      r.ServerSeed,
		Salt:            r.Salt,
		PublicHash:      r.PublicHash,
		CrashMultiplier: r.CrashMultiplier,
	}, true
}

type CrashBet struct {
	ID            string           `json:"id"`
	RoundID       string           `json:"round_id"`
	UserID        string           `json:"user_id"`
	Stake         decimal.Decimal  `json:"stake"`
	AutoCashOutAt *decimal.Decimal `json:"auto_cash_out_at,omitempty"`
	Status        BetStatus        `json:"status"`
	CashOutAt     *decimal.Decimal `json:"cash_out_at,omitempty"`
	Payout        decimal.Decimal  `json:"payout"`
	PlacedAt      time.Time        `json:"placed_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}
