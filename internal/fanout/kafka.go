package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

// GroupFactory opens a consumer group.  Broken out for tests.
type GroupFactory func(groupID string) (sarama.ConsumerGroup, error)

// KafkaTransport publishes to one topic keyed by seat id, which keeps the
// notifications of a seat in one partition and therefore in order.  Each
// instance consumes with its own consumer group so all instances see all
// messages.
type KafkaTransport struct {
	producer sarama.SyncProducer
	newGroup GroupFactory
	topic    string
	groupID  string
	log      *slog.Logger
}

// NewKafkaTransport connects a producer to brokers.  instanceID makes the
// consumer group unique to this process.
func NewKafkaTransport(brokers []string, topic, instanceID string, log *slog.Logger) (*KafkaTransport, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errs.Unavailable(err, "kafka producer")
	}
	groups := func(groupID string) (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(brokers, groupID, config)
	}
	return NewKafkaTransportWith(producer, groups, topic, instanceID, log), nil
}

func NewKafkaTransportWith(p sarama.SyncProducer, groups GroupFactory, topic, instanceID string, log *slog.Logger) *KafkaTransport {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaTransport{
		producer: p,
		newGroup: groups,
		topic:    topic,
		groupID:  topic + "-" + instanceID,
		log:      log,
	}
}

func (k *KafkaTransport) Publish(_ context.Context, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return errs.Unavailable(err, "kafka publish")
	}
	return nil
}

// Subscribe returns once the consumer group session has joined and been
// assigned partitions, so messages published after it returns are seen.
// A group that fails before joining is reported as unavailable.
func (k *KafkaTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	group, err := k.newGroup(k.groupID)
	if err != nil {
		return nil, errs.Unavailable(err, "kafka consumer group")
	}
	out := make(chan []byte, 64)
	failed := make(chan error, 1)
	h := newRelayHandler(out)
	go func() {
		defer close(out)
		defer group.Close()
		for ctx.Err() == nil {
			// Consume returns on every rebalance.
			if err := group.Consume(ctx, []string{k.topic}, h); err != nil {
				k.log.Warn("kafka consume failed", "topic", k.topic, "error", err)
				if !h.hasJoined() {
					failed <- err
				}
				return
			}
		}
	}()

	select {
	case <-h.joined:
		return out, nil
	case err := <-failed:
		return nil, errs.Unavailable(err, "kafka join group")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *KafkaTransport) Close() error {
	return k.producer.Close()
}

// relayHandler forwards claimed messages to out.  joined is closed by the
// first session setup.
type relayHandler struct {
	out    chan<- []byte
	joined chan struct{}
	once   sync.Once
}

func newRelayHandler(out chan<- []byte) *relayHandler {
	return &relayHandler{out: out, joined: make(chan struct{})}
}

func (h *relayHandler) hasJoined() bool {
	select {
	case <-h.joined:
		return true
	default:
		return false
	}
}

func (h *relayHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.joined) })
	return nil
}

func (h *relayHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *relayHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.out <- m.Value:
				session.MarkMessage(m, "")
			case <-session.Context().Done():
				return nil
			}
		}
	}
}

