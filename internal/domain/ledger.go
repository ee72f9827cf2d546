package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryCategory string

const (
	EntryStake      EntryCategory = "stake"
	EntryPayout     EntryCategory = "payout"
	EntryRefund     EntryCategory = "refund"
	EntryAdjustment EntryCategory = "adjustment"
)

// LedgerEntry is an immutable wallet movement. BalanceAfter is the wallet
// balance right after Amount was applied.
type LedgerEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Category     EntryCategory   `json:"category"`
	BetID        string          `json:"bet_id,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
