package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeAway Outcome = "away"
	OutcomeDraw Outcome = "draw"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeHome, OutcomeAway, OutcomeDraw:
		return true
	}
	return false
}

type GameStatus string

const (
	GameUpcoming  GameStatus = "upcoming"
	GameLive      GameStatus = "live"
	GameFinished  GameStatus = "finished"
	GameCancelled GameStatus = "cancelled"
)

// Odds holds the current decimal odds offered for each outcome.
type Odds struct {
	Home decimal.Decimal `json:"home"`
	Draw decimal.Decimal `json:"draw"`
	Away decimal.Decimal `json:"away"`
}

func (o Odds) For(outcome Outcome) decimal.Decimal {
	switch outcome {
	case OutcomeHome:
		return o.Home
	case OutcomeAway:
		return o.Away
	case OutcomeDraw:
		return o.Draw
	}
	return decimal.Zero
}

// Game is a sporting event bets are placed against. Result is set iff
// Status is GameFinished.
type Game struct {
	ID        string     `json:"id"`
	HomeTeam  string     `json:"home_team"`
	AwayTeam  string     `json:"away_team"`
	Status    GameStatus `json:"status"`
	Result    *Outcome   `json:"result,omitempty"`
	Odds      Odds       `json:"odds"`
	StartsAt  time.Time  `json:"starts_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// OpenForBetting reports whether the betting window is open at now.
func (g *Game) OpenForBetting(now time.Time) bool {
	if g.Status != GameUpcoming {
		return false
	}
	return g.StartsAt.IsZero() || now.Before(g.StartsAt)
}

// Decided reports whether the game has a final result.
func (g *Game) Decided() bool {
	return g.Status == GameFinished && g.Result != nil
}
