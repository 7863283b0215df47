// Package store holds the authoritative set of conversations and their
// summary state.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
)

var (
	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")

	// ErrDuplicate is returned when creating a conversation whose id or phone
	// number is already taken.
	ErrDuplicate = errors.New("conversation already exists")
)

// ConversationStore is an in-memory conversation store. Records are copied in
// and out under the lock so no reader observes a partially applied patch.
type ConversationStore struct {
	conversations map[string]*model.Conversation
	byPhone       map[string]string
	mu            sync.RWMutex
	now           func() time.Time
}

// New creates an empty conversation store.
func New() *ConversationStore {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty store that stamps UpdatedAt using now.
func NewWithClock(now func() time.Time) *ConversationStore {
	if now == nil {
		now = time.Now
	}
	return &ConversationStore{
		conversations: make(map[string]*model.Conversation),
		byPhone:       make(map[string]string),
		now:           now,
	}
}

// Create adds a conversation.
func (s *ConversationStore) Create(conv model.Conversation) (model.Conversation, error) {
	if conv.ID == "" {
		return model.Conversation{}, fmt.Errorf("conversation id is required")
	}
	if conv.Status == "" {
		conv.Status = model.StatusActive
	}
	if !conv.Status.Valid() {
		return model.Conversation{}, fmt.Errorf("invalid status %q", conv.Status)
	}
	if conv.UnreadCount > conv.MessageCount {
		conv.UnreadCount = conv.MessageCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return model.Conversation{}, ErrDuplicate
	}
	if conv.PhoneNumber != "" {
		if _, exists := s.byPhone[conv.PhoneNumber]; exists {
			return model.Conversation{}, ErrDuplicate
		}
	}

	now := s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}

	stored := conv.Clone()
	s.conversations[conv.ID] = &stored
	if conv.PhoneNumber != "" {
		s.byPhone[conv.PhoneNumber] = conv.ID
	}

	return stored.Clone(), nil
}

// Get retrieves a conversation by ID.
func (s *ConversationStore) Get(id string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return model.Conversation{}, ErrNotFound
	}
	return conv.Clone(), nil
}

// GetByPhone retrieves a conversation by the contact's phone number.
func (s *ConversationStore) GetByPhone(phone string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byPhone[phone]
	if !exists {
		return model.Conversation{}, ErrNotFound
	}
	return s.conversations[id].Clone(), nil
}

// List returns the conversations matching filter, most recent message first.
func (s *ConversationStore) List(filter model.Filter) []model.Conversation {
	search := strings.ToLower(strings.TrimSpace(filter.SearchText))

	s.mu.RLock()
	convs := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if matches(conv, search, filter.Status) {
			convs = append(convs, conv.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		ti, tj := convs[i].LastMessage.Timestamp, convs[j].LastMessage.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return convs[i].ID < convs[j].ID
	})

	return convs
}

func matches(conv *model.Conversation, search string, status model.Status) bool {
	if status != "" && status != model.StatusAll && conv.Status != status {
		return false
	}
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(conv.ContactName), search) ||
		strings.Contains(strings.ToLower(conv.PhoneNumber), search) ||
		strings.Contains(strings.ToLower(conv.LastMessage.Text), search)
}

// Upsert applies patch to the conversation with the given id and returns the
// updated record. The patch is validated before anything is written.
func (s *ConversationStore) Upsert(id string, patch model.Patch) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return model.Conversation{}, ErrNotFound
	}

	next := conv.Clone()
	applyPatch(&next, patch)

	if !next.Status.Valid() {
		return model.Conversation{}, fmt.Errorf("invalid status %q", next.Status)
	}
	if next.UnreadCount < 0 || next.MessageCount < 0 {
		return model.Conversation{}, fmt.Errorf("counts must not be negative")
	}
	if next.UnreadCount > next.MessageCount {
		return model.Conversation{}, fmt.Errorf("unread count %d exceeds message count %d", next.UnreadCount, next.MessageCount)
	}
	next.UpdatedAt = s.now()

	*conv = next
	return conv.Clone(), nil
}

func applyPatch(conv *model.Conversation, p model.Patch) {
	if p.ContactName != nil {
		conv.ContactName = *p.ContactName
	}
	if p.Status != nil {
		conv.Status = *p.Status
	}
	if p.AssignedAgent != nil {
		conv.AssignedAgent = *p.AssignedAgent
	}
	if p.UnreadCount != nil {
		conv.UnreadCount = *p.UnreadCount
	}
	if p.MessageCount != nil {
		conv.MessageCount = *p.MessageCount
	}
	if p.LastMessage != nil {
		conv.LastMessage = *p.LastMessage
	}
	if p.Tags != nil {
		conv.Tags = append([]string(nil), p.Tags...)
	}
	if p.HandoffReason != nil {
		conv.HandoffReason = *p.HandoffReason
	}
	if p.HandoffRequestedAt != nil {
		t := *p.HandoffRequestedAt
		conv.HandoffRequestedAt = &t
	}
	if p.HandoffCompletedAt != nil {
		t := *p.HandoffCompletedAt
		conv.HandoffCompletedAt = &t
	}
	if p.HandoffCompletedBy != nil {
		conv.HandoffCompletedBy = *p.HandoffCompletedBy
	}
}

// Stats counts conversations per lifecycle state. ResolvedToday counts
// resolved conversations updated on the same calendar day as now.
func (s *ConversationStore) Stats(now time.Time) model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, m, d := now.Date()
	var stats model.Stats
	for _, conv := range s.conversations {
		stats.Total++
		switch conv.State() {
		case model.StateAIActive:
			stats.AIActive++
		case model.StateHumanActive:
			stats.HumanActive++
		case model.StatePendingHandoff:
			stats.PendingHandoff++
		case model.StateResolved:
			uy, um, ud := conv.UpdatedAt.In(now.Location()).Date()
			if uy == y && um == m && ud == d {
				stats.ResolvedToday++
			}
		case model.StateClosed:
			stats.Closed++
		}
	}
	return stats
}
