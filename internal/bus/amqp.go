package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/park285/code-duel/internal/obslog"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Exchange is the durable topic exchange carrying every duel event.
const Exchange = "duel.events"

// AMQPBus carries envelopes over RabbitMQ. Each topic is consumed from one
// durable queue shared by all instances, so a delivery is handled once.
type AMQPBus struct {
	conn *amqp.Connection

	pubMu sync.Mutex
	pub   *amqp.Channel

	mu       sync.Mutex
	channels []*amqp.Channel
	prefetch int
	retry    RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAMQPBus(url string) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	obslog.L().Info("bus_amqp_connected", zap.String("exchange", Exchange))
	return &AMQPBus{conn: conn, pub: ch, prefetch: 8, retry: DefaultRetry, ctx: ctx, cancel: cancel}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pub.PublishWithContext(ctx,
		Exchange,
		string(env.Topic),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.OccurredAt,
			Body:         body,
		})
}

func (b *AMQPBus) Subscribe(topic Topic, h Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		ch.Close()
		return err
	}
	q, err := ch.QueueDeclare("duel."+string(topic), true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}
	if err := ch.QueueBind(q.Name, string(topic), Exchange, false, nil); err != nil {
		ch.Close()
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}
	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.mu.Unlock()

	obslog.L().Info("bus_amqp_subscribe", zap.String("topic", string(topic)), zap.String("queue", q.Name))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for d := range deliveries {
			b.wg.Add(1)
			go b.handle(h, d)
		}
	}()
	return nil
}

func (b *AMQPBus) handle(h Handler, d amqp.Delivery) {
	defer b.wg.Done()
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		obslog.L().Warn("bus_amqp_decode_error", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	err := deliver(b.ctx, h, env, b.retry)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	// One broker redelivery after the in-process retries; a second failure drops it.
	requeue := !IsPermanent(err) && !d.Redelivered
	obslog.L().Warn("bus_handler_error",
		zap.String("topic", string(env.Topic)),
		zap.String("match_id", env.MatchID),
		zap.Bool("requeue", requeue),
		zap.Error(err),
	)
	_ = d.Nack(false, requeue)
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	for _, ch := range b.channels {
		_ = ch.Close()
	}
	b.channels = nil
	b.mu.Unlock()
	b.wg.Wait()
	b.cancel()
	_ = b.pub.Close()
	return b.conn.Close()
}
