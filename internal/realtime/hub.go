package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Hub delivers updates to in-process subscribers of a campaign. Slow
// subscribers lose updates rather than block the broadcaster.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan Update]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan Update]struct{})}
}

// Subscribe returns a channel of updates and a function that releases it.
func (h *Hub) Subscribe(campaignID uuid.UUID) (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	h.mu.Lock()
	if h.subs[campaignID] == nil {
		h.subs[campaignID] = make(map[chan Update]struct{})
	}
	h.subs[campaignID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[campaignID], ch)
			if len(h.subs[campaignID]) == 0 {
				delete(h.subs, campaignID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Broadcast(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[u.CampaignID] {
		select {
		case ch <- u:
		default:
		}
	}
}

// Subscribers counts live subscriptions for a campaign.
func (h *Hub) Subscribers(campaignID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[campaignID])
}

// Publish lets a Hub stand in for Redis in single-process deployments.
func (h *Hub) Publish(_ context.Context, u Update) error {
	h.Broadcast(u)
	return nil
}
