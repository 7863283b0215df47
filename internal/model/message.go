package model

import (
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderAI       SenderType = "ai"
	SenderHuman    SenderType = "human"
	SenderCustomer SenderType = "customer"
	SenderSystem   SenderType = "system"
)

// Message is one entry of a conversation thread. Messages are never mutated
// once appended.
type Message struct {
	ID             string     `json:"id" yaml:"id"`
	ConversationID string     `json:"conversation_id" yaml:"conversation_id"`
	SenderType     SenderType `json:"sender_type" yaml:"sender_type"`
	SenderName     string     `json:"sender_name" yaml:"sender_name"`
	Text           string     `json:"text" yaml:"text"`
	Timestamp      time.Time  `json:"timestamp" yaml:"timestamp"`
	IsRead         bool       `json:"is_read" yaml:"is_read"`

	// Pending is set on locally staged messages awaiting delivery.
	Pending bool `json:"pending,omitempty" yaml:"-"`
	// Discarded marks a staged message whose delivery failed and that
	// was dropped from the thread.
	Discarded bool `json:"discarded,omitempty" yaml:"-"`
}

// Before reports whether m sorts before other in thread order: timestamp
// ascending, ties broken by ID ascending.
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}

// SendMessageRequest is the request to send an agent message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message      Message      `json:"message"`
	Conversation Conversation `json:"conversation"`
}

// InboundMessageRequest is the request posted by the messaging gateway when a
// customer writes in.
type InboundMessageRequest struct {
	PhoneNumber string `json:"phone_number"`
	ContactName string `json:"contact_name,omitempty"`
	Text        string `json:"text"`
}

// SelectConversationResponse is the response for opening a conversation.
type SelectConversationResponse struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
	Pending      []Message    `json:"pending,omitempty"`
}

// HandoffRequest is the request to escalate a conversation to a human.
type HandoffRequest struct {
	Reason string `json:"reason"`
}
