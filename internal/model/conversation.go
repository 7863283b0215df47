// Package model defines data structures for the clinic inbox.
package model

import (
	"encoding/json"
	"time"
)

// Status is the stored status of a conversation.
type Status string

const (
	StatusActive         Status = "active"
	StatusPendingHandoff Status = "pending_handoff"
	StatusResolved       Status = "resolved"
	StatusClosed         Status = "closed"
)

// StatusAll matches every status in a Filter.
const StatusAll Status = "all"

// Valid reports whether s is a known stored status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPendingHandoff, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// State is the lifecycle state of a conversation. It is derived from the
// stored status and the assigned agent.
type State string

const (
	StateAIActive       State = "AI_ACTIVE"
	StatePendingHandoff State = "PENDING_HANDOFF"
	StateHumanActive    State = "HUMAN_ACTIVE"
	StateResolved       State = "RESOLVED"
	StateClosed         State = "CLOSED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s State) Terminal() bool {
	return s == StateClosed
}

// Snapshot mirrors the most recent message of a thread.
type Snapshot struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the summary record of one customer conversation.
type Conversation struct {
	ID          string `json:"id"`
	ContactName string `json:"contact_name"`
	PhoneNumber string `json:"phone_number"`
	Status      Status `json:"status"`

	// AssignedAgent is empty while the AI handles the conversation.
	AssignedAgent string   `json:"assigned_agent,omitempty"`
	UnreadCount   int      `json:"unread_count"`
	MessageCount  int      `json:"message_count"`
	LastMessage   Snapshot `json:"last_message"`
	Tags          []string `json:"tags,omitempty"`

	// Handoff bookkeeping
	HandoffReason      string     `json:"handoff_reason,omitempty"`
	HandoffRequestedAt *time.Time `json:"handoff_requested_at,omitempty"`
	HandoffCompletedAt *time.Time `json:"handoff_completed_at,omitempty"`
	HandoffCompletedBy string     `json:"handoff_completed_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State returns the lifecycle state of the conversation.
func (c *Conversation) State() State {
	switch c.Status {
	case StatusPendingHandoff:
		return StatePendingHandoff
	case StatusResolved:
		return StateResolved
	case StatusClosed:
		return StateClosed
	}
	if c.AssignedAgent != "" {
		return StateHumanActive
	}
	return StateAIActive
}

// MarshalJSON adds the derived lifecycle state to the encoded record.
func (c Conversation) MarshalJSON() ([]byte, error) {
	type plain Conversation
	return json.Marshal(struct {
		plain
		State State `json:"state"`
	}{plain(c), c.State()})
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() Conversation {
	out := *c
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	if c.HandoffRequestedAt != nil {
		t := *c.HandoffRequestedAt
		out.HandoffRequestedAt = &t
	}
	if c.HandoffCompletedAt != nil {
		t := *c.HandoffCompletedAt
		out.HandoffCompletedAt = &t
	}
	return out
}

// Filter selects conversations for the inbox list.
type Filter struct {
	SearchText string `json:"search,omitempty"`
	Status     Status `json:"status,omitempty"`
}

// Patch is a partial update to a conversation. Nil fields are left unchanged.
type Patch struct {
	ContactName        *string
	Status             *Status
	AssignedAgent      *string
	UnreadCount        *int
	MessageCount       *int
	LastMessage        *Snapshot
	Tags               []string
	HandoffReason      *string
	HandoffRequestedAt *time.Time
	HandoffCompletedAt *time.Time
	HandoffCompletedBy *string
}

// Stats summarizes the inbox for the dashboard cards.
type Stats struct {
	Total          int `json:"total_conversations"`
	AIActive       int `json:"ai_active"`
	HumanActive    int `json:"human_active"`
	PendingHandoff int `json:"pending_handoff"`
	ResolvedToday  int `json:"resolved_today"`
	Closed         int `json:"closed"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
