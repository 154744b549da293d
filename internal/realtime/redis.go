package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-mailer/internal/logger"
)

var (
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection string")
	ErrRedisNotReady         = errors.New("redis is not ready")
	ErrAlreadyStarted        = errors.New("subscription manager already started")
)

// Connect parses url and pings the server, retrying a few times.
func Connect(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}
	for range attempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, ErrRedisNotReady
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(u.CampaignID), payload).Err()
}

// Manager owns one pattern subscription on Redis and relays every update
// into a local Hub. The caller controls its lifetime with Start and Stop.
type Manager struct {
	client *redis.Client
	hub    *Hub
	log    *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(client *redis.Client, log *slog.Logger) *Manager {
	return &Manager{
		client: client,
		hub:    NewHub(),
		log:    log.With(logger.Component("realtime")),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pubsub != nil {
		return ErrAlreadyStarted
	}

	pubsub := m.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	m.pubsub = pubsub
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.relay(ctx, pubsub.Channel(), m.done)
	m.log.Info("realtime subscription started")
	return nil
}

func (m *Manager) relay(ctx context.Context, msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var u Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				m.log.Warn("dropping malformed status update", slog.String("channel", msg.Channel), logger.Error(err))
				continue
			}
			m.hub.Broadcast(u)
		}
	}
}

// Stop closes the subscription and waits for the relay to exit. Safe to call
// more than once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	pubsub, cancel, done := m.pubsub, m.cancel, m.done
	m.pubsub, m.cancel, m.done = nil, nil, nil
	m.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	cancel()
	err := pubsub.Close()
	<-done
	m.log.Info("realtime subscription stopped")
	return err
}

func (m *Manager) Subscribe(campaignID uuid.UUID) (<-chan Update, func()) {
	return m.hub.Subscribe(campaignID)
}
