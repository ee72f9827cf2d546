package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wager/internal/domain"
	"wager/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAdjustAndBalance(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory(), zap.NewNop())

	entry, err := l.Adjust(ctx, "u1", dec("100"), "welcome")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryAdjustment, entry.Category)
	assert.True(t, entry.BalanceAfter.Equal(dec("100")))

	_, err = l.Adjust(ctx, "u1", dec("-30.50"), "withdrawal")
	require.NoError(t, err)

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("69.50")), bal.String())

	history, err := l.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "withdrawal", history[0].Note)
}

func TestAdjustRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory(), zap.NewNop())

	_, err := l.Adjust(ctx, "u1", dec("10"), "")
	require.NoError(t, err)

	_, err = l.Adjust(ctx, "u1", dec("-10.01"), "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, _ := l.Balance(ctx, "u1")
	assert.True(t, bal.Equal(dec("10")))
	history, _ := l.History(ctx, "u1", 0)
	assert.Len(t, history, 1)
}

func TestAdjustValidation(t *testing.T) {
	l := New(store.NewMemory(), zap.NewNop())

	_, err := l.Adjust(context.Background(), "", dec("1"), "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = l.Adjust(context.Background(), "u1", decimal.Zero, "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestPostRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	l := New(s, zap.NewNop())
	_, err := l.Adjust(ctx, "u1", dec("50"), "")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := l.Debit(ctx, tx, "u1", dec("20"), domain.EntryStake, "b1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, _ := l.Balance(ctx, "u1")
	assert.True(t, bal.Equal(dec("50")))
	history, _ := l.History(ctx, "u1", 0)
	assert.Len(t, history, 1)
}

func TestEntriesSumToBalanceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	l := New(s, zap.NewNop())
	_, err := l.Adjust(ctx, "u1", dec("100"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinTx(ctx, func(tx store.Tx) error {
				_, err := l.Debit(ctx, tx, "u1", dec("3"), domain.EntryStake, "")
				return err
			})
		}()
	}
	wg.Wait()

	bal, _ := l.Balance(ctx, "u1")
	assert.True(t, bal.Equal(dec("1")), bal.String())
	assert.False(t, bal.IsNegative())

	history, _ := l.History(ctx, "u1", 0)
	sum := decimal.Zero
	for _, e := range history {
		sum = sum.Add(e.Amount)
	}
	assert.True(t, sum.Equal(bal))
	assert.Len(t, history, 34)
}
