package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return string(m)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestLocalTransport_DeliversToAllInOrder(t *testing.T) {
	lt := NewLocalTransport(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := lt.Subscribe(ctx)
	require.NoError(t, err)
	b, err := lt.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, lt.Publish(ctx, "1", []byte("held")))
	require.NoError(t, lt.Publish(ctx, "1", []byte("booked")))

	for _, ch := range []<-chan []byte{a, b} {
		assert.Equal(t, "held", recv(t, ch))
		assert.Equal(t, "booked", recv(t, ch))
	}
}

func TestLocalTransport_CancelClosesSubscription(t *testing.T) {
	lt := NewLocalTransport(8)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := lt.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, lt.Publish(context.Background(), "1", []byte("x")))
}

func TestLocalTransport_Closed(t *testing.T) {
	lt := NewLocalTransport(0)
	require.NoError(t, lt.Close())

	_, err := lt.Subscribe(context.Background())

	assert.Error(t, err)
}
