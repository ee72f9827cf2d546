// Package notify delivers bet outcome notifications. Delivery is best-effort:
// Notify never blocks the caller and failures are only logged.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wager/internal/metrics"
)

// Outcome is the event emitted once per settled bet.
type Outcome struct {
	BetID     string          `json:"bet_id"`
	UserID    string          `json:"user_id"`
	Product   string          `json:"product"`
	Status    string          `json:"status"`
	Stake     decimal.Decimal `json:"stake"`
	Payout    decimal.Decimal `json:"payout"`
	SettledAt time.Time       `json:"settled_at"`
}

type Publisher interface {
	Publish(ctx context.Context, o Outcome) error
}

// Dispatcher queues outcomes and publishes them from its own goroutine.
type Dispatcher struct {
	pub     Publisher
	queue   chan Outcome
	timeout time.Duration
	log     *zap.Logger
}

func NewDispatcher(pub Publisher, size int, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		pub:     pub,
		queue:   make(chan Outcome, size),
		timeout: 5 * time.Second,
		log:     log.Named("notify"),
	}
}

// Notify enqueues o, dropping it when the queue is full.
func (d *Dispatcher) Notify(o Outcome) {
	select {
	case d.queue <- o:
	default:
		metrics.NotificationsDropped.Inc()
		d.log.Warn("notification queue full, dropping outcome", zap.String("bet_id", o.BetID))
	}
}

// Run publishes queued outcomes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-d.queue:
			d.publish(ctx, o)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, o Outcome) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.pub.Publish(ctx, o); err != nil {
		metrics.NotificationsDropped.Inc()
		d.log.Error("publish outcome failed",
			zap.String("bet_id", o.BetID),
			zap.String("user_id", o.UserID),
			zap.Error(err))
	}
}

// LogPublisher writes outcomes to the log. Used when no broker is configured.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, o Outcome) error {
	p.Log.Info("bet outcome",
		zap.String("bet_id", o.BetID),
		zap.String("user_id", o.UserID),
		zap.String("product", o.Product),
		zap.String("status", o.Status),
		zap.String("payout", o.Payout.String()))
	return nil
}
