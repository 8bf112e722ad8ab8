package fanout

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

// AMQPTransport broadcasts through a RabbitMQ fanout exchange.  Each
// subscription binds its own exclusive, auto-deleted queue, so every
// instance receives every message.
type AMQPTransport struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPTransport(url, exchange string) *AMQPTransport {
	return &AMQPTransport{url: url, exchange: exchange}
}

func (a *AMQPTransport) declare(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		a.exchange, // name
		"fanout",   // kind
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	)
}

// publishChannel returns the shared publishing channel, redialling after
// the broker dropped it.
func (a *AMQPTransport) publishChannel() (*amqp.Channel, error) {
	if a.ch != nil && !a.ch.IsClosed() {
		return a.ch, nil
	}
	if a.conn == nil || a.conn.IsClosed() {
		conn, err := amqp.Dial(a.url)
		if err != nil {
			return nil, err
		}
		a.conn = conn
	}
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := a.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	a.ch = ch
	return ch, nil
}

func (a *AMQPTransport) Publish(ctx context.Context, key string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.publishChannel()
	if err != nil {
		return errs.Unavailable(err, "amqp channel")
	}
	err = ch.PublishWithContext(ctx,
		a.exchange, // exchange
		key,        // routing key, ignored by fanout exchanges
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Body:        payload,
		})
	if err != nil {
		_ = ch.Close()
		a.ch = nil
		return errs.Unavailable(err, "amqp publish")
	}
	return nil
}

// Subscribe opens a dedicated connection for the subscription; it is torn
// down when ctx ends or the broker closes the delivery channel.
func (a *AMQPTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, errs.Unavailable(err, "amqp dial")
	}
	deliveries, err := a.bind(conn)
	if err != nil {
		_ = conn.Close()
		return nil, errs.Unavailable(err, "amqp subscribe")
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- d.Body:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *AMQPTransport) bind(conn *amqp.Connection) (<-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := a.declare(ch); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(q.Name, "", a.exchange, false, nil); err != nil {
		return nil, err
	}
	return ch.Consume(q.Name, "", true, true, false, false, nil)
}

func (a *AMQPTransport) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil && !a.conn.IsClosed() {
		return a.conn.Close()
	}
	return nil
}
