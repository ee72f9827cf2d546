package game

import (
	"time"

	"github.com/shopspring/decimal"

	"wager/internal/domain"
)

// Broadcast event names.
const (
	EventState     = "state"
	EventTick      = "tick"
	EventCrash     = "crash"
	EventCashedOut = "cashed_out"
	EventBetPlaced = "bet_placed"
)

// Broadcaster fans round events out to connected clients.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Broadcasters sends every event to each member in turn.
type Broadcasters []Broadcaster

func (bs Broadcasters) Broadcast(event string, payload any) {
	for _, b := range bs {
		b.Broadcast(event, payload)
	}
}

type CrashBetRequest struct {
	UserID        string           `json:"user_id" validate:"required"`
	Stake         decimal.Decimal  `json:"stake"`
	AutoCashOutAt *decimal.Decimal `json:"auto_cash_out_at,omitempty"`
}

type CashOutRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type CrashPlacement struct {
	Bet           *domain.CrashBet `json:"bet"`
	WalletBalance decimal.Decimal  `json:"wallet_balance"`
}

type CashOutResult struct {
	Bet           *domain.CrashBet `json:"bet"`
	Multiplier    decimal.Decimal  `json:"multiplier"`
	Payout        decimal.Decimal  `json:"payout"`
	WalletBalance decimal.Decimal  `json:"wallet_balance"`
}

// RoundSnapshot is the read-only view of the current round. A new snapshot
// is published on every phase change and tick.
type RoundSnapshot struct {
	RoundID     string            `json:"round_id"`
	Nonce       int64             `json:"nonce"`
	Phase       domain.RoundPhase `json:"phase"`
	Multiplier  decimal.Decimal   `json:"multiplier"`
	PublicHash  string            `json:"public_hash"`
	Salt        string            `json:"salt"`
	PhaseEndsAt *time.Time        `json:"phase_ends_at,omitempty"`
	Reveal      *domain.Reveal    `json:"reveal,omitempty"`
}

type TickEvent struct {
	RoundID    string          `json:"round_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type CrashEvent struct {
	RoundID    string          `json:"round_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Reveal     domain.Reveal   `json:"reveal"`
	Lost       int64           `json:"lost"`
}

type BetPlacedEvent struct {
	RoundID       string           `json:"round_id"`
	BetID         string           `json:"bet_id"`
	UserID        string           `json:"user_id"`
	Stake         decimal.Decimal  `json:"stake"`
	AutoCashOutAt *decimal.Decimal `json:"auto_cash_out_at,omitempty"`
}

type CashedOutEvent struct {
	RoundID    string          `json:"round_id"`
	BetID      string          `json:"bet_id"`
	UserID     string          `json:"user_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Payout     decimal.Decimal `json:"payout"`
	Auto       bool            `json:"auto"`
}
