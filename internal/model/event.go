package model

import (
	"time"
)

// EventType represents the type of conversation lifecycle event.
type EventType string

const (
	EventTypeHandoffRequested EventType = "handoff_requested"
	EventTypeAgentAssigned    EventType = "agent_assigned"
	EventTypeHandoffCompleted EventType = "handoff_completed"
	EventTypeResolved         EventType = "resolved"
	EventTypeReopened         EventType = "reopened"
	EventTypeClosed           EventType = "closed"
)

// ConversationEvent records one status transition.
type ConversationEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           EventType `json:"type"`
	From           State     `json:"from"`
	To             State     `json:"to"`
	Actor          string    `json:"actor,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrorEvent is the error body returned by the API.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent keeps a live stream open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ReplayCompleteEvent marks the end of the thread replayed on a new stream.
type ReplayCompleteEvent struct {
	MessageCount int `json:"message_count"`
}
