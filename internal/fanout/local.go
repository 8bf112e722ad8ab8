package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

var errClosed = errs.Wrap(errs.ErrStoreUnavailable, "local transport closed")

// LocalTransport is an in-process loopback used by single-instance runs
// and tests.  It delivers in publish order to every subscription.
type LocalTransport struct {
	mu     sync.RWMutex
	subs   map[string]*localSub
	closed bool
	buffer int
}

type localSub struct {
	ch   chan []byte
	done <-chan struct{}
}

func NewLocalTransport(buffer int) *LocalTransport {
	if buffer < 1 {
		buffer = 256
	}
	return &LocalTransport{subs: make(map[string]*localSub), buffer: buffer}
}

func (l *LocalTransport) Publish(ctx context.Context, _ string, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.subs {
		select {
		case s.ch <- payload:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (l *LocalTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errClosed
	}
	id := uuid.NewString()
	s := &localSub{ch: make(chan []byte, l.buffer), done: ctx.Done()}
	l.subs[id] = s
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(s.ch)
		}
		l.mu.Unlock()
	}()
	return s.ch, nil
}

func (l *LocalTransport) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for id, s := range l.subs {
		delete(l.subs, id)
		close(s.ch)
	}
	return nil
}
