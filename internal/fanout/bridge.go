package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

// Envelope is the transport payload.  Origin is the publishing instance and
// is only used in logs.
type Envelope struct {
	Origin string          `json:"origin"`
	Event  model.SeatEvent `json:"event"`
}

// Sink receives relayed notifications; broadcast.Hub implements it.
type Sink interface {
	Publish(group uint64, msg []byte) int
}

// Bridge connects the local hub to the shared transport.  Local
// subscribers receive notifications only through the transport, including
// those committed on this instance, so every instance observes the same
// per-seat order.
type Bridge struct {
	transport Transport
	sink      Sink
	origin    string
	log       *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func NewBridge(t Transport, sink Sink, origin string, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{transport: t, sink: sink, origin: origin, log: log, ready: make(chan struct{})}
}

// Publish sends ev to every instance.  It is called after the transition
// has been committed.
func (b *Bridge) Publish(ctx context.Context, ev model.SeatEvent) error {
	payload, err := json.Marshal(Envelope{Origin: b.origin, Event: ev})
	if err != nil {
		return errs.Wrap(err, "marshal seat event")
	}
	return b.transport.Publish(ctx, strconv.FormatUint(ev.SeatID, 10), payload)
}

// Ready is closed once the first subscription is established.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Run relays transport messages into the sink until ctx is cancelled,
// resubscribing with exponential backoff whenever the subscription drops.
func (b *Bridge) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil {
		msgs, err := b.transport.Subscribe(ctx)
		if err != nil {
			wait := bo.NextBackOff()
			b.log.Warn("fanout subscribe failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		b.readyOnce.Do(func() { close(b.ready) })
		b.relay(msgs)
		if ctx.Err() == nil {
			b.log.Warn("fanout subscription lost, resubscribing")
		}
	}
	return ctx.Err()
}

func (b *Bridge) relay(msgs <-chan []byte) {
	for raw := range msgs {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			b.log.Warn("dropping malformed notification", "error", err)
			continue
		}
		out, err := json.Marshal(env.Event)
		if err != nil {
			continue
		}
		n := b.sink.Publish(env.Event.EventID, out)
		b.log.Debug("relayed seat event", "event_id", env.Event.EventID, "seat_id", env.Event.SeatID,
			"status", env.Event.Status, "origin", env.Origin, "delivered", n)
	}
}
