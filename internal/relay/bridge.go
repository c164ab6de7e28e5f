// Package relay fans room events out across server processes over Redis
// pub/sub. Each process delivers its own events locally and publishes them;
// every other process receives the publication and delivers it to its own
// sockets.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/gateway"
)

// Deliverer is the local side of the bridge, implemented by gateway.Hub.
type Deliverer interface {
	Deliver(ev gateway.Event) int
}

type Options struct {
	PublishTimeout time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

func (o *Options) withDefaults() {
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 3 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
	}
}

// envelope is the wire format on the broker.
type envelope struct {
	Origin string `json:"origin"`
	gateway.Event
}

type Bridge struct {
	rdb        *redis.Client
	local      Deliverer
	instanceID string
	opts       Options
	log        *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewBridge(rdb *redis.Client, local Deliverer, opts Options, log *slog.Logger) *Bridge {
	opts.withDefaults()
	return &Bridge{
		rdb:        rdb,
		local:      local,
		instanceID: uuid.NewString(),
		opts:       opts,
		log:        log.With("component", "relay"),
		ready:      make(chan struct{}),
	}
}

// InstanceID identifies this process on the broker.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// Ready is closed once the first subscription is confirmed.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Broadcast delivers ev to this process's sockets and publishes it for the
// others. Local delivery happens even when the broker is unreachable.
func (b *Bridge) Broadcast(ctx context.Context, ev gateway.Event) error {
	if !gateway.ValidRoom(ev.Room) {
		return apperr.InvalidArgument("unknown room " + ev.Room)
	}
	b.local.Deliver(ev)

	data, err := json.Marshal(envelope{Origin: b.instanceID, Event: ev})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, ev.Room, data).Err(); err != nil {
		return apperr.Unavailable("relay publish", err)
	}
	return nil
}

// Run keeps a pattern subscription on every room namespace alive until ctx
// is cancelled, reconnecting with exponential backoff.
func (b *Bridge) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.opts.MinBackoff
	bo.MaxInterval = b.opts.MaxBackoff

	for {
		err := b.subscribe(ctx, bo)
		if ctx.Err() != nil {
			b.log.Info("relay stopped")
			return nil
		}

		wait := bo.NextBackOff()
		b.log.Warn("relay subscription lost, reconnecting", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (b *Bridge) subscribe(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	pubsub := b.rdb.PSubscribe(ctx, gateway.RoomPatterns()...)
	defer pubsub.Close()

	// A blocked read does not observe ctx; closing the subscription does.
	stop := context.AfterFunc(ctx, func() { pubsub.Close() })
	defer stop()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	bo.Reset()
	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info("relay subscribed", "patterns", gateway.RoomPatterns(), "instance_id", b.instanceID)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, redis.ErrClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		b.handle(msg)
	}
}

func (b *Bridge) handle(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Warn("dropping malformed relay message", "channel", msg.Channel, "error", err)
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	if env.Room == "" {
		env.Room = msg.Channel
	}
	b.local.Deliver(env.Event)
}
