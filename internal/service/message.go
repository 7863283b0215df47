package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/llm"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/metrics"
)

// Replier drafts an AI answer for a thread.
type Replier interface {
	Reply(ctx context.Context, conv model.Conversation, thread []model.Message) (string, error)
}

// Inbound outcomes.
const (
	OutcomeAIReplied = "ai_replied"
	OutcomeHandoff   = "handoff"
	OutcomeQueued    = "queued"
	OutcomeFailed    = "failed"
)

// InboundResult describes what happened to an inbound message.
type InboundResult struct {
	Conversation model.Conversation `json:"conversation"`
	Message      model.Message      `json:"message"`
	Reply        *model.Message     `json:"reply,omitempty"`
	Created      bool               `json:"created"`
	Outcome      string             `json:"outcome"`
}

// MessageService runs the inbound customer message pipeline: resolve the
// contact, classify the message, append it, and let the AI answer while it
// still owns the conversation.
type MessageService struct {
	conversations *ConversationService
	sessions      *session.Manager
	classifier    llm.Classifier
	replier       Replier
	logger        *logger.Logger
}

// NewMessageService creates a new message service. replier may be nil to
// disable automatic AI replies.
func NewMessageService(conversations *ConversationService, sessions *session.Manager, classifier llm.Classifier, replier Replier, log *logger.Logger) *MessageService {
	if classifier == nil {
		classifier = llm.NewKeywordClassifier()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageService{
		conversations: conversations,
		sessions:      sessions,
		classifier:    classifier,
		replier:       replier,
		logger:        log.Component("inbound"),
	}
}

// HandleInbound processes one customer message.
func (s *MessageService) HandleInbound(ctx context.Context, req model.InboundMessageRequest) (res InboundResult, err error) {
	defer func() {
		outcome := res.Outcome
		if err != nil {
			outcome = OutcomeFailed
		}
		metrics.InboundMessagesTotal.WithLabelValues(outcome).Inc()
	}()

	conv, created, err := s.conversations.GetOrCreate(req.PhoneNumber, req.ContactName)
	if err != nil {
		return InboundResult{}, err
	}

	thread, err := s.sessions.Thread(ctx, conv.ID)
	if err != nil {
		return InboundResult{}, fmt.Errorf("failed to load thread: %w", err)
	}

	in := session.Inbound{Text: req.Text, SenderName: req.ContactName}
	if state := conv.State(); state == model.StateAIActive || state == model.StateResolved {
		verdict, err := s.classifier.Classify(ctx, conv, thread, req.Text)
		if err != nil {
			s.logger.Warn("classification failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
		in.NeedsHuman = verdict.NeedsHuman
		in.Reason = verdict.Reason
	}

	conv, msg, err := s.sessions.ReceiveCustomerMessage(ctx, conv.ID, in)
	if err != nil {
		return InboundResult{}, err
	}

	res = InboundResult{Conversation: conv, Message: msg, Created: created, Outcome: OutcomeQueued}
	switch conv.State() {
	case model.StatePendingHandoff:
		res.Outcome = OutcomeHandoff
		if in.NeedsHuman {
			s.logger.Info("handoff requested",
				zap.String("conversation_id", conv.ID),
				zap.String("reason", in.Reason))
		}
	case model.StateAIActive:
		if reply := s.autoReply(ctx, conv, append(thread, msg)); reply != nil {
			res.Reply = reply
			res.Outcome = OutcomeAIReplied
			if updated, err := s.sessions.Conversation(conv.ID); err == nil {
				res.Conversation = updated
			}
		}
	}

	return res, nil
}

func (s *MessageService) autoReply(ctx context.Context, conv model.Conversation, thread []model.Message) *model.Message {
	if s.replier == nil {
		return nil
	}

	text, err := s.replier.Reply(ctx, conv, thread)
	if err != nil {
		s.logger.Warn("AI reply failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil
	}

	msg, err := s.sessions.SendAIReply(ctx, conv.ID, text)
	if err != nil {
		// An agent may have taken over while the reply was drafted.
		s.logger.Warn("AI reply not sent", zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil
	}
	return &msg
}
