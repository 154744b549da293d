package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/logger"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue delivers to in-process subscribers with bounded retry.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	wg       sync.WaitGroup

	// MaxRetries bounds redelivery of a failing job
	MaxRetries int
	// Backoff is multiplied by the attempt number between retries
	Backoff time.Duration
	Logger  *slog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *slog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Logger:     log.With(logger.Component("queue")),
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{Topic: topic, Payload: payload, MaxRetries: q.MaxRetries}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()
	for {
		err := handler(job.Payload)
		if err == nil {
			q.Logger.Debug("job processed", slog.String("topic", job.Topic))
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.Logger.Error("job permanently failed",
				slog.String("topic", job.Topic), slog.Int("attempts", job.RetryCount), logger.Error(err))
			return
		}
		q.Logger.Warn("job failed, retrying",
			slog.String("topic", job.Topic), slog.Int("attempt", job.RetryCount), logger.Error(err))

		time.Sleep(time.Duration(job.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
