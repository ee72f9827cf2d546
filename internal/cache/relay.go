package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wager/internal/metrics"
)

const (
	// EventsChannel carries every crash round event as an Envelope.
	EventsChannel = "crash:events"
	// SnapshotKey holds the latest round state snapshot.
	SnapshotKey = "crash:round:current"

	snapshotTTL = time.Hour
	stateEvent  = "state"
)

// Envelope is the pub/sub message format. Source identifies the publishing
// instance so it can ignore its own events.
type Envelope struct {
	Source string          `json:"source"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// Broadcaster is the local fan-out that relayed events are delivered to.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// RoundRelay mirrors crash round events into Redis: state snapshots are
// stored under SnapshotKey and every event is published on EventsChannel.
// Broadcast never blocks the caller; Run does the network I/O.
type RoundRelay struct {
	client *redis.Client
	source string
	queue  chan Envelope
	log    *zap.Logger
}

func NewRoundRelay(client *redis.Client, log *zap.Logger) *RoundRelay {
	return &RoundRelay{
		client: client,
		source: uuid.NewString(),
		queue:  make(chan Envelope, 512),
		log:    log.Named("relay"),
	}
}

func (r *RoundRelay) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("marshal relay event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case r.queue <- Envelope{Source: r.source, Type: event, Data: data}:
	default:
		metrics.BroadcastsDropped.Inc()
		r.log.Warn("relay queue full, dropping event", zap.String("event", event))
	}
}

// Run publishes queued events until ctx is cancelled.
func (r *RoundRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.queue:
			if err := r.publish(ctx, env); err != nil && ctx.Err() == nil {
				r.log.Warn("relay publish failed", zap.String("event", env.Type), zap.Error(err))
			}
		}
	}
}

func (r *RoundRelay) publish(ctx context.Context, env Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	if env.Type == stateEvent {
		pipe.Set(ctx, SnapshotKey, []byte(env.Data), snapshotTTL)
	}
	pipe.Publish(ctx, EventsChannel, msg)
	_, err = pipe.Exec(ctx)
	return err
}

// Snapshot returns the last stored round state, or nil if none is stored.
func (r *RoundRelay) Snapshot(ctx context.Context) (json.RawMessage, error) {
	b, err := r.client.Get(ctx, SnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Subscribe forwards events published by other instances to local until ctx
// is cancelled. The subscription is confirmed before it returns.
func (r *RoundRelay) Subscribe(ctx context.Context, local Broadcaster) error {
	sub := r.client.Subscribe(ctx, EventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.log.Warn("relay unmarshal failed", zap.Error(err))
					continue
				}
				if env.Source == r.source {
					continue
				}
				local.Broadcast(env.Type, env.Data)
			}
		}
	}()
	return nil
}
