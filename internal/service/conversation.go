// Package service wires inbound customer traffic into the session manager.
package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/store"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

// ErrMissingPhone is returned for an inbound contact without a phone number.
var ErrMissingPhone = errors.New("phone number is required")

// ConversationService resolves inbound contacts to conversations.
type ConversationService struct {
	store  *store.ConversationStore
	logger *logger.Logger
	now    func() time.Time

	// Serializes creation so two first messages from one number make one
	// conversation.
	createMu sync.Mutex
}

// NewConversationService creates a new conversation service.
func NewConversationService(st *store.ConversationStore, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConversationService{
		store:  st,
		logger: log.Component("conversations"),
		now:    time.Now,
	}
}

// GetOrCreate returns the conversation for phone, creating an AI-handled one
// if the number has never been seen.
func (s *ConversationService) GetOrCreate(phone, contactName string) (model.Conversation, bool, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return model.Conversation{}, false, ErrMissingPhone
	}

	if conv, err := s.store.GetByPhone(phone); err == nil {
		return conv, false, nil
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if conv, err := s.store.GetByPhone(phone); err == nil {
		return conv, false, nil
	}

	name := strings.TrimSpace(contactName)
	if name == "" {
		name = phone
	}

	conv, err := s.store.Create(model.Conversation{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ContactName: name,
		PhoneNumber: phone,
		Status:      model.StatusActive,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return model.Conversation{}, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("phone_number", phone))

	return conv, true, nil
}
