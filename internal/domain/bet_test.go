package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSlipFrom(t *testing.T) {
	one := []Selection{{GameID: "g1", Outcome: OutcomeAway, Odds: decimal.NewFromInt(2)}}
	two := append(one, Selection{GameID: "g2", Outcome: OutcomeHome, Odds: decimal.NewFromInt(3)})

	single := SlipFrom(BetSingle, one)
	assert.IsType(t, Single{}, single)
	assert.Equal(t, BetSingle, single.Kind())
	assert.Len(t, single.Selections(), 1)

	multi := SlipFrom(BetMulti, two)
	assert.IsType(t, Multi{}, multi)
	assert.Len(t, multi.Selections(), 2)
}

func TestBetClone(t *testing.T) {
	now := time.Now()
	b := &Bet{
		ID:        "b1",
		Slip:      Multi{Legs: []Selection{{GameID: "g1"}, {GameID: "g2"}}},
		SettledAt: &now,
	}
	c := b.Clone()
	c.Slip.Selections()[0].GameID = "changed"
	*c.SettledAt = now.Add(time.Hour)

	assert.Equal(t, "g1", b.Slip.Selections()[0].GameID)
	assert.Equal(t, now, *b.SettledAt)
}

func TestGameOpenForBetting(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		game Game
		want bool
	}{
		{"upcoming no kickoff", Game{Status: GameUpcoming}, true},
		{"upcoming before kickoff", Game{Status: GameUpcoming, StartsAt: now.Add(time.Minute)}, true},
		{"upcoming after kickoff", Game{Status: GameUpcoming, StartsAt: now.Add(-time.Minute)}, false},
		{"live", Game{Status: GameLive}, false},
		{"finished", Game{Status: GameFinished}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.game.OpenForBetting(now))
		})
	}
}

func TestCrashRoundReveal(t *testing.T) {
	r := &CrashRound{ID: "r1", ServerSeed: "secret", Phase: PhaseRunning}
	_, ok := r.Reveal()
	assert.False(t, ok)

	r.Phase = PhaseCrashed
	rev, ok := r.Reveal()
	assert.True(t, ok)
	assert.Equal(t, "secret", rev.ServerSeed)
}
