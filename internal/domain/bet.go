package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type BetKind string

const (
	BetSingle BetKind = "single"
	BetMulti  BetKind = "multi"
)

type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetWon       BetStatus = "won"
	BetLost      BetStatus = "lost"
	BetCancelled BetStatus = "cancelled"
)

func (s BetStatus) Terminal() bool { return s != BetPending }

// Selection is one leg of a bet, with the odds locked at placement.
type Selection struct {
	GameID  string          `json:"game_id"`
	Outcome Outcome         `json:"outcome"`
	Odds    decimal.Decimal `json:"odds"`
}

// Slip is the closed set of bet shapes: Single or Multi.
type Slip interface {
	Kind() BetKind
	Selections() []Selection
	isSlip()
}

type Single struct {
	Selection Selection
}

func (Single) Kind() BetKind             { return BetSingle }
func (s Single) Selections() []Selection { return []Selection{s.Selection} }
func (Single) isSlip()                   {}

type Multi struct {
	Legs []Selection
}

func (Multi) Kind() BetKind             { return BetMulti }
func (m Multi) Selections() []Selection { return m.Legs }
func (Multi) isSlip()                   {}

// SlipFrom rebuilds the variant from persisted rows.
func SlipFrom(kind BetKind, sels []Selection) Slip {
	if kind == BetSingle && len(sels) == 1 {
		return Single{Selection: sels[0]}
	}
	return Multi{Legs: sels}
}

// Bet is a sportsbook wager. Payout is nonzero only when Status is BetWon.
type Bet struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Slip         Slip            `json:"-"`
	Stake        decimal.Decimal `json:"stake"`
	CombinedOdds decimal.Decimal `json:"combined_odds"`
	Status       BetStatus       `json:"status"`
	Payout       decimal.Decimal `json:"payout"`
	PlacedAt     time.Time       `json:"placed_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
}

func (b *Bet) Kind() BetKind { return b.Slip.Kind() }

// PotentialPayout is what the bet pays if it wins.
func (b *Bet) PotentialPayout() decimal.Decimal {
	return Payout(b.Stake, b.CombinedOdds)
}

// Clone returns a deep copy so callers never share selection slices.
func (b *Bet) Clone() *Bet {
	c := *b
	sels := append([]Selection(nil), b.Slip.Selections()...)
	c.Slip = SlipFrom(b.Slip.Kind(), sels)
	if b.SettledAt != nil {
		t := *b.SettledAt
		c.SettledAt = &t
	}
	return &c
}

// MarshalJSON flattens the slip into kind + selections for API consumers.
func (b *Bet) MarshalJSON() ([]byte, error) {
	type alias Bet
	return json.Marshal(struct {
		*alias
		Kind       BetKind     `json:"kind"`
		Selections []Selection `json:"selections"`
	}{
		alias:      (*alias)(b),
		Kind:       b.Slip.Kind(),
		Selections: b.Slip.Selections(),
	})
}
