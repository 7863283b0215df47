package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/broadcast"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

const (
	// StreamName is the name of the inbox stream.
	StreamName = "INBOX"

	// SubjectPrefix is the prefix for all inbox subjects.
	SubjectPrefix = "inbox"

	// InboundSubject carries customer messages from the SMS gateway.
	InboundSubject = SubjectPrefix + ".inbound"

	// InboundConsumer is the durable consumer of InboundSubject.
	InboundConsumer = "inbox-inbound"

	fetchBatchSize = 256
	fetchMaxWait   = 2 * time.Second
)

// ErrInvalidSubjectToken is returned for ids that cannot be used in a subject.
var ErrInvalidSubjectToken = errors.New("invalid subject token")

// MessageSubject returns the subject for a thread message.
func MessageSubject(conversationID string, sender model.SenderType) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, sender)
}

// EventSubject returns the subject for a lifecycle event.
func EventSubject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationID, eventType)
}

// ThreadFilter returns the filter subject for all messages in a conversation.
func ThreadFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, conversationID)
}

func validToken(token string) error {
	if token == "" || strings.ContainsAny(token, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidSubjectToken, token)
	}
	return nil
}

// Source is a message source backed by a JetStream stream. Every thread
// message is published to the stream, which is the system of record for
// thread history. An SMS gateway delivers human and AI messages from the
// stream and publishes customer messages to InboundSubject.
type Source struct {
	js     jetstream.JetStream
	logger *logger.Logger
}

// NewSource creates a JetStream message source.
func NewSource(client *Client, log *logger.Logger) *Source {
	return &Source{js: client.JetStream(), logger: log.Component("nats_source")}
}

// EnsureStream ensures the inbox stream exists with proper configuration.
func (s *Source) EnsureStream(ctx context.Context) error {
	if _, err := s.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := s.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Clinic inbox messages and events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	s.logger.Info("created stream", zap.String("stream", StreamName))
	return nil
}

// FetchThread reads the full message history of a conversation.
func (s *Source) FetchThread(ctx context.Context, conversationID string) ([]model.Message, error) {
	if err := validToken(conversationID); err != nil {
		return nil, err
	}

	consumer, err := s.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ThreadFilter(conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read consumer info: %w", err)
	}

	remaining := int(info.NumPending)
	messages := make([]model.Message, 0, remaining)

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := consumer.Fetch(min(remaining, fetchBatchSize), jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			var message model.Message
			if err := json.Unmarshal(msg.Data(), &message); err != nil {
				s.logger.Warn("skipping malformed thread message",
					zap.String("subject", msg.Subject()),
					zap.Error(err))
				continue
			}
			messages = append(messages, message)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if received == 0 {
			break
		}
		remaining -= received
	}

	return messages, nil
}

// SendToCustomer publishes an outbound message for the SMS gateway.
func (s *Source) SendToCustomer(ctx context.Context, conversationID string, msg model.Message) error {
	msg.ConversationID = conversationID
	return s.publishMessage(ctx, msg)
}

// Record publishes a message that is not delivered to the customer.
func (s *Source) Record(ctx context.Context, msg model.Message) error {
	return s.publishMessage(ctx, msg)
}

func (s *Source) publishMessage(ctx context.Context, msg model.Message) error {
	if err := validToken(msg.ConversationID); err != nil {
		return err
	}

	msg.Pending, msg.Discarded = false, false
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.js.Publish(ctx, MessageSubject(msg.ConversationID, msg.SenderType), data, jetstream.WithMsgID(msg.ID))
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishEvent publishes a lifecycle event.
func (s *Source) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	if err := validToken(event.ConversationID); err != nil {
		return 0, err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := s.js.Publish(ctx, EventSubject(event.ConversationID, event.Type), data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// Notify publishes lifecycle events carried by u. Other updates are ignored.
func (s *Source) Notify(ctx context.Context, u broadcast.Update) {
	if u.Event == nil {
		return
	}
	if _, err := s.PublishEvent(context.WithoutCancel(ctx), u.Event); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("conversation_id", u.ConversationID),
			zap.String("event", string(u.Event.Type)),
			zap.Error(err))
	}
}

// InboundHandler processes one inbound customer message.
type InboundHandler func(ctx context.Context, req model.InboundMessageRequest) error

// ConsumeInbound delivers messages published to InboundSubject to handle
// until ctx is cancelled. Failed messages are redelivered; malformed ones
// are terminated.
func (s *Source) ConsumeInbound(ctx context.Context, handle InboundHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       InboundConsumer,
		FilterSubject: InboundSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("failed to create inbound consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handleInbound(ctx, msg, handle)
	})
	if err != nil {
		return fmt.Errorf("failed to consume inbound messages: %w", err)
	}

	s.logger.Info("consuming inbound messages", zap.String("subject", InboundSubject))

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (s *Source) handleInbound(ctx context.Context, msg jetstream.Msg, handle InboundHandler) {
	req, err := DecodeInbound(msg.Data())
	if err != nil {
		s.logger.Warn("dropping malformed inbound message", zap.Error(err))
		if err := msg.Term(); err != nil {
			s.logger.Warn("failed to terminate message", zap.Error(err))
		}
		return
	}

	if err := handle(ctx, req); err != nil {
		s.logger.Error("inbound message failed",
			zap.String("phone_number", req.PhoneNumber),
			zap.Error(err))
		if err := msg.Nak(); err != nil {
			s.logger.Warn("failed to nak message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		s.logger.Warn("failed to ack message", zap.Error(err))
	}
}

// DecodeInbound parses an inbound message payload.
func DecodeInbound(data []byte) (model.InboundMessageRequest, error) {
	var req model.InboundMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to unmarshal inbound message: %w", err)
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return req, errors.New("inbound message has no phone number")
	}
	return req, nil
}
