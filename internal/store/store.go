// Package store persists wallets, ledger entries, games, bets and crash
// rounds. Every multi-record mutation runs inside WithinTx so it commits or
// rolls back as one unit.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"wager/internal/domain"
)

// Store is the durable backend shared by the ledger, placement, settlement
// and crash engine.
type Store interface {
	// WithinTx runs fn in a transaction. Any error returned by fn rolls back
	// every write fn made.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error)

	Game(ctx context.Context, id string) (*domain.Game, error)
	Games(ctx context.Context, status domain.GameStatus) ([]*domain.Game, error)
	CreateGame(ctx context.Context, g *domain.Game) error
	UpdateGameOdds(ctx context.Context, id string, odds domain.Odds) error

	Bet(ctx context.Context, id string) (*domain.Bet, error)
	UserBets(ctx context.Context, userID string, limit int) ([]*domain.Bet, error)
	// PendingBetIDs lists pending bets of the given kind with a selection on gameID.
	PendingBetIDs(ctx context.Context, gameID string, kind domain.BetKind) ([]string, error)
	// GamesAwaitingSettlement lists finished or cancelled games that still have pending bets.
	GamesAwaitingSettlement(ctx context.Context) ([]string, error)

	CrashRound(ctx context.Context, id string) (*domain.CrashRound, error)
	RecentCrashRounds(ctx context.Context, limit int) ([]*domain.CrashRound, error)
	// OpenCrashRounds lists rounds that never reached the crashed phase.
	OpenCrashRounds(ctx context.Context) ([]*domain.CrashRound, error)
	CrashBets(ctx context.Context, roundID string) ([]*domain.CrashBet, error)

	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside one atomic unit.
type Tx interface {
	// LockWallet returns the user's balance and holds the wallet until the
	// transaction ends. A missing wallet is created with a zero balance.
	LockWallet(ctx context.Context, userID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error

	// LockGame returns the game and holds it until the transaction ends.
	LockGame(ctx context.Context, id string) (*domain.Game, error)
	// Game reads a game and blocks result writes on it until the transaction ends.
	Game(ctx context.Context, id string) (*domain.Game, error)
	UpdateGame(ctx context.Context, g *domain.Game) error

	InsertBet(ctx context.Context, b *domain.Bet) error
	// LockBet returns the bet and holds it until the transaction ends.
	LockBet(ctx context.Context, id string) (*domain.Bet, error)
	// FinalizeBet moves a pending bet to a terminal status. It reports false
	// without writing when the bet is no longer pending.
	FinalizeBet(ctx context.Context, id string, status domain.BetStatus, payout decimal.Decimal, at time.Time) (bool, error)

	InsertCrashRound(ctx context.Context, r *domain.CrashRound) error
	// UpdateCrashRound writes r only while the stored round is still in
	// phase from. It reports false without writing otherwise.
	UpdateCrashRound(ctx context.Context, r *domain.CrashRound, from domain.RoundPhase) (bool, error)
	// InsertCrashBet fails with domain.ErrBetAlreadyPlaced when the user
	// already has a bet in the round.
	InsertCrashBet(ctx context.Context, b *domain.CrashBet) error
	// ResolveCrashBet moves a pending crash bet to a terminal status. It
	// reports false without writing when the bet is no longer pending.
	ResolveCrashBet(ctx context.Context, id string, status domain.BetStatus, cashOutAt *decimal.Decimal, payout decimal.Decimal, at time.Time) (bool, error)
	// LoseCrashBets marks every pending bet of the round lost.
	LoseCrashBets(ctx context.Context, roundID string, at time.Time) (int64, error)
	PendingCrashBets(ctx context.Context, roundID string) ([]*domain.CrashBet, error)
}
