package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked int
}

func (s *fakeSession) Context() context.Context                    { return s.ctx }
func (s *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) { s.marked++ }

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

// fakeGroup runs a single claim until the context ends.  A non-nil gate
// delays the join until it is closed; joinErr fails the join outright.
type fakeGroup struct {
	sarama.ConsumerGroup
	claim   *fakeClaim
	gate    chan struct{}
	joinErr error
	closed  atomic.Bool
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, h sarama.ConsumerGroupHandler) error {
	if g.joinErr != nil {
		return g.joinErr
	}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil
		}
	}
	sess := &fakeSession{ctx: ctx}
	if err := h.Setup(sess); err != nil {
		return err
	}
	err := h.ConsumeClaim(sess, g.claim)
	_ = h.Cleanup(sess)
	return err
}

func (g *fakeGroup) Close() error { g.closed.Store(true); return nil }

func TestKafkaTransport_Publish(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"seat":7}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	kt := NewKafkaTransportWith(p, nil, "seat-events", "i1", nil)

	require.NoError(t, kt.Publish(context.Background(), "7", []byte(`{"seat":7}`)))
	require.NoError(t, kt.Close())
}

func TestKafkaTransport_PublishFailure(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	kt := NewKafkaTransportWith(p, nil, "seat-events", "i1", nil)

	err := kt.Publish(context.Background(), "7", []byte("x"))

	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.NoError(t, kt.Close())
}

func TestKafkaTransport_SubscribeUsesInstanceGroup(t *testing.T) {
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 2)}
	group := &fakeGroup{claim: claim}
	var gotGroup string
	kt := NewKafkaTransportWith(mocks.NewSyncProducer(t, nil), func(id string) (sarama.ConsumerGroup, error) {
		gotGroup = id
		return group, nil
	}, "seat-events", "i1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := kt.Subscribe(ctx)
	require.NoError(t, err)
	claim.msgs <- &sarama.ConsumerMessage{Value: []byte("a")}
	claim.msgs <- &sarama.ConsumerMessage{Value: []byte("b")}

	assert.Equal(t, "seat-events-i1", gotGroup)
	assert.Equal(t, "a", recv(t, ch))
	assert.Equal(t, "b", recv(t, ch))
}

func TestKafkaTransport_GroupFailure(t *testing.T) {
	kt := NewKafkaTransportWith(mocks.NewSyncProducer(t, nil), func(string) (sarama.ConsumerGroup, error) {
		return nil, sarama.ErrOutOfBrokers
	}, "seat-events", "i1", nil)

	_, err := kt.Subscribe(context.Background())

	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestRelayHandler_MarksDelivered(t *testing.T) {
	out := make(chan []byte, 1)
	h := newRelayHandler(out)
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 1)}
	claim.msgs <- &sarama.ConsumerMessage{Value: []byte("x")}
	close(claim.msgs)
	sess := &fakeSession{ctx: context.Background()}

	require.NoError(t, h.ConsumeClaim(sess, claim))

	assert.Equal(t, 1, sess.marked)
	assert.Equal(t, "x", string(<-out))
}

func TestKafkaTransport_SubscribeWaitsForJoin(t *testing.T) {
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 1)}
	group := &fakeGroup{claim: claim, gate: make(chan struct{})}
	kt := NewKafkaTransportWith(mocks.NewSyncProducer(t, nil), func(string) (sarama.ConsumerGroup, error) {
		return group, nil
	}, "seat-events", "i1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		ch  <-chan []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := kt.Subscribe(ctx)
		done <- result{ch, err}
	}()

	select {
	case <-done:
		t.Fatal("subscribe returned before the group joined")
	case <-time.After(50 * time.Millisecond):
	}
	close(group.gate)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		claim.msgs <- &sarama.ConsumerMessage{Value: []byte("a")}
		assert.Equal(t, "a", recv(t, r.ch))
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after join")
	}
}

func TestKafkaTransport_JoinFailure(t *testing.T) {
	group := &fakeGroup{joinErr: sarama.ErrOutOfBrokers}
	kt := NewKafkaTransportWith(mocks.NewSyncProducer(t, nil), func(string) (sarama.ConsumerGroup, error) {
		return group, nil
	}, "seat-events", "i1", nil)

	_, err := kt.Subscribe(context.Background())

	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	assert.Eventually(t, group.closed.Load, time.Second, 10*time.Millisecond)
}

func TestKafkaTransport_SubscribeCancelledBeforeJoin(t *testing.T) {
	group := &fakeGroup{claim: &fakeClaim{}, gate: make(chan struct{})}
	kt := NewKafkaTransportWith(mocks.NewSyncProducer(t, nil), func(string) (sarama.ConsumerGroup, error) {
		return group, nil
	}, "seat-events", "i1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := kt.Subscribe(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
