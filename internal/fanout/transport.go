// Package fanout carries seat notifications between service instances.
// Every instance publishes committed transitions into a shared Transport
// and relays everything it receives from it into its local broadcast hub,
// so a subscriber sees a transition no matter which instance committed it.
package fanout

import "context"

// Transport is a broadcast channel shared by all instances.  Every
// subscription receives every message published after it was established;
// there is no replay.
type Transport interface {
	// Publish sends payload to all subscriptions.  key groups messages
	// that must stay ordered (the seat id) on transports that partition.
	Publish(ctx context.Context, key string, payload []byte) error
	// Subscribe starts a subscription.  The returned channel is closed when
	// ctx is cancelled or the subscription is lost; callers resubscribe.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}
