// Package ledger moves money in and out of wallets. Every movement writes a
// LedgerEntry carrying the resulting balance, so a user's entries always sum
// to their wallet balance.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wager/internal/domain"
	"wager/internal/store"
)

// Posting describes one wallet movement. Amount is signed: negative debits,
// positive credits.
type Posting struct {
	UserID   string
	Amount   decimal.Decimal
	Category domain.EntryCategory
	BetID    string
	Note     string
}

type Ledger struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func New(s store.Store, log *zap.Logger) *Ledger {
	return &Ledger{store: s, log: log.Named("ledger"), now: time.Now}
}

// Post applies p inside tx: it locks the wallet, rejects a debit that would
// take the balance below zero, stores the new balance and appends the entry.
func (l *Ledger) Post(ctx context.Context, tx store.Tx, p Posting) (*domain.LedgerEntry, error) {
	if p.Amount.IsZero() {
		return nil, domain.ErrInvalidRequest.Withf("ledger posting amount must be nonzero")
	}
	balance, err := tx.LockWallet(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	next := balance.Add(p.Amount)
	if next.IsNegative() {
		return nil, domain.ErrInsufficientFunds.Withf("insufficient funds: balance %s, required %s",
			balance.StringFixed(domain.MoneyPlaces), p.Amount.Neg().StringFixed(domain.MoneyPlaces))
	}
	if err := tx.SetBalance(ctx, p.UserID, next); err != nil {
		return nil, err
	}
	entry := &domain.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       p.UserID,
		Amount:       p.Amount,
		BalanceAfter: next,
		Category:     p.Category,
		BetID:        p.BetID,
		Note:         p.Note,
		CreatedAt:    l.now(),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit posts -amount.
func (l *Ledger) Debit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, category domain.EntryCategory, betID string) (*domain.LedgerEntry, error) {
	return l.Post(ctx, tx, Posting{UserID: userID, Amount: amount.Neg(), Category: category, BetID: betID})
}

// Credit posts +amount.
func (l *Ledger) Credit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, category domain.EntryCategory, betID string) (*domain.LedgerEntry, error) {
	return l.Post(ctx, tx, Posting{UserID: userID, Amount: amount, Category: category, BetID: betID})
}

// Adjust is an operator deposit or withdrawal in its own transaction.
func (l *Ledger) Adjust(ctx context.Context, userID string, amount decimal.Decimal, note string) (*domain.LedgerEntry, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRequest.Withf("user id is required")
	}
	amount = amount.Round(domain.MoneyPlaces)
	var entry *domain.LedgerEntry
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = l.Post(ctx, tx, Posting{UserID: userID, Amount: amount, Category: domain.EntryAdjustment, Note: note})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adjust wallet: %w", err)
	}
	l.log.Info("wallet adjusted",
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("balance", entry.BalanceAfter.String()))
	return entry, nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return l.store.Balance(ctx, userID)
}

func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	return l.store.Entries(ctx, userID, limit)
}
