// Package broadcast fans conversation updates out to live subscribers.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Topic receives updates for every conversation.
const Topic = "*"

// Update is one change to a conversation.
type Update struct {
	ConversationID string                   `json:"conversation_id"`
	Conversation   *model.Conversation      `json:"conversation,omitempty"`
	Message        *model.Message           `json:"message,omitempty"`
	Event          *model.ConversationEvent `json:"event,omitempty"`
}

// Hub is an in-memory pub/sub of conversation updates. Subscribers register
// for one conversation id, or Topic for all of them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Update // conversationID -> subID -> ch
	logger      *logger.Logger
}

// NewHub creates a hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan Update),
		logger:      log.Component("broadcast"),
	}
}

// Subscribe registers a subscriber for conversationID. The subscription is
// removed and its channel closed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, conversationID string) (<-chan Update, string) {
	subID := uuid.New().String()
	ch := make(chan Update, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[conversationID]; !ok {
		h.subscribers[conversationID] = make(map[string]chan Update)
	}
	h.subscribers[conversationID][subID] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Notify delivers u to the subscribers of its conversation and of Topic.
// Updates are dropped for subscribers whose buffers are full.
func (h *Hub) Notify(_ context.Context, u Update) {
	h.mu.RLock()
	var targets []chan Update
	for _, key := range []string{u.ConversationID, Topic} {
		for _, ch := range h.subscribers[key] {
			targets = append(targets, ch)
		}
	}

	for _, ch := range targets {
		select {
		case ch <- u:
		default:
			h.logger.Debug("dropped update for slow subscriber",
				zap.String("conversation_id", u.ConversationID))
		}
	}
	h.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(conversationID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, conversationID)
	}
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for convID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, convID)
	}
}
