package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-mailer/internal/logger"
)

const retryHeader = "x-retry-count"

var ErrAMQPNotReady = errors.New("amqp broker not ready")

// DialAMQP connects to the broker, retrying while it comes up.
func DialAMQP(ctx context.Context, url string, attempts int, interval time.Duration) (*amqp.Connection, error) {
	var lastErr error
	for range attempts {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrAMQPNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, errors.Join(ErrAMQPNotReady, lastErr)
}

// AMQPQueue maps topics onto durable queues on the default exchange.
// Payloads travel as JSON; subscribers receive the raw body.
type AMQPQueue struct {
	conn       *amqp.Connection
	pubMu      sync.Mutex
	pub        *amqp.Channel
	routes     map[string]string
	prefetch   int
	MaxRetries int
	Logger     *slog.Logger
}

// NewAMQPQueue opens a publishing channel on conn. routes renames topics to
// queue names; unlisted topics use their own name.
func NewAMQPQueue(conn *amqp.Connection, routes map[string]string, prefetch int, log *slog.Logger) (*AMQPQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &AMQPQueue{
		conn:       conn,
		pub:        ch,
		routes:     routes,
		prefetch:   prefetch,
		MaxRetries: 3,
		Logger:     log.With(logger.Component("amqp")),
	}, nil
}

func (q *AMQPQueue) queueName(topic string) string {
	if name, ok := q.routes[topic]; ok && name != "" {
		return name
	}
	return topic
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return q.publish(q.queueName(topic), body, 0)
}

func (q *AMQPQueue) publish(name string, body []byte, retries int32) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if err := declare(q.pub, name); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return q.pub.Publish("", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{retryHeader: retries},
		Body:         body,
	})
}

// Subscribe consumes topic on a dedicated channel. A failed delivery is
// republished with a bumped retry count until MaxRetries, then dropped.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	name := q.queueName(topic)
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := declare(ch, name); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	msgs, err := ch.Consume(
		name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", name, err)
	}

	go func() {
		defer ch.Close()
		for d := range msgs {
			q.handle(name, d, handler)
		}
		q.Logger.Info("consumer stopped", slog.String("queue", name))
	}()
	return nil
}

func (q *AMQPQueue) handle(name string, d amqp.Delivery, handler func(payload any) error) {
	err := handler(d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d.Headers) + 1
	if int(retries) > q.MaxRetries {
		q.Logger.Error("job permanently failed",
			slog.String("queue", name), slog.Int("attempts", int(retries)), logger.Error(err))
		_ = d.Ack(false)
		return
	}

	q.Logger.Warn("job failed, requeueing",
		slog.String("queue", name), slog.Int("attempt", int(retries)), logger.Error(err))
	if perr := q.publish(name, d.Body, retries); perr != nil {
		// let the broker redeliver the original instead
		q.Logger.Error("requeue failed", slog.String("queue", name), logger.Error(perr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func retryCount(h amqp.Table) int32 {
	switch v := h[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int16:
		return int32(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	return errors.Join(q.pub.Close(), q.conn.Close())
}
