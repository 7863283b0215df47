// Package session binds the conversation store and the thread cache into the
// conversation lifecycle: selection, sends, handoff and read state.
//
// Every status-mutating operation on a conversation holds that conversation's
// lock for its whole duration, so transitions for one id never interleave.
// Collaborator calls happen before any local state is written; if they fail
// or time out the operation returns without changing anything.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/broadcast"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/store"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/thread"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/metrics"
)

const (
	// DefaultCollaboratorTimeout bounds collaborator calls when the caller's
	// context carries no deadline.
	DefaultCollaboratorTimeout = 10 * time.Second

	// DefaultAssistantName labels AI-authored messages.
	DefaultAssistantName = "Clinic AI Assistant"

	systemSenderName = "System"
)

var tracer = otel.Tracer("github.com/zeeshangondal/ClinicsDashboard-V9/internal/session")

// MessageSource is the messaging backend.
type MessageSource interface {
	thread.Fetcher
	SendToCustomer(ctx context.Context, conversationID string, msg model.Message) error
}

// Recorder is implemented by message sources that also store messages which
// are not sent to the customer (customer and system messages).
type Recorder interface {
	Record(ctx context.Context, msg model.Message) error
}

// Notifier receives every committed change.
type Notifier interface {
	Notify(ctx context.Context, u broadcast.Update)
}

// Config configures a Manager.
type Config struct {
	CollaboratorTimeout time.Duration
	AssistantName       string
}

// Manager mediates all conversation mutations.
type Manager struct {
	store     *store.ConversationStore
	threads   *thread.Cache
	source    MessageSource
	notifiers []Notifier
	logger    *logger.Logger
	cfg       Config

	now   func() time.Time
	newID func() string

	locks *keyedMutex

	viewMu sync.RWMutex
	views  map[string]string // actor id -> selected conversation id
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithNotifier adds a receiver of committed changes.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifiers = append(m.notifiers, n) }
}

// NewManager creates a session manager.
func NewManager(st *store.ConversationStore, threads *thread.Cache, source MessageSource, log *logger.Logger, cfg Config, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = DefaultAssistantName
	}

	m := &Manager{
		store:   st,
		threads: threads,
		source:  source,
		logger:  log.Component("session"),
		cfg:     cfg,
		now:     time.Now,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		locks:   newKeyedMutex(),
		views:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Conversations lists conversations for the inbox.
func (m *Manager) Conversations(filter model.Filter) []model.Conversation {
	return m.store.List(filter)
}

// Conversation returns one conversation.
func (m *Manager) Conversation(id string) (model.Conversation, error) {
	return m.store.Get(id)
}

// Stats summarizes the inbox.
func (m *Manager) Stats() model.Stats {
	return m.store.Stats(m.now())
}

// Pending returns the messages of a conversation still awaiting delivery.
func (m *Manager) Pending(id string) []model.Message {
	return m.threads.Pending(id)
}

// Selected returns the conversation the actor has open, if any.
func (m *Manager) Selected(viewer Actor) (string, bool) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()

	id, ok := m.views[actorID(viewer)]
	return id, ok
}

// Deselect closes whatever conversation the actor has open.
func (m *Manager) Deselect(viewer Actor) {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()

	delete(m.views, actorID(viewer))
}

func (m *Manager) isOpen(conversationID string) bool {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()

	for _, id := range m.views {
		if id == conversationID {
			return true
		}
	}
	return false
}

// Thread returns the ordered messages of a conversation without changing its
// read state.
func (m *Manager) Thread(ctx context.Context, id string) ([]model.Message, error) {
	if _, err := m.store.Get(id); err != nil {
		return nil, err
	}
	return m.loadThread(ctx, id)
}

// SelectConversation opens a conversation for viewer: the thread is loaded,
// every message is marked read and the unread count drops to zero.
// Selecting an already open conversation returns its current state.
func (m *Manager) SelectConversation(ctx context.Context, id string, viewer Actor) (conv model.Conversation, msgs []model.Message, err error) {
	ctx, span := m.startSpan(ctx, "session.SelectConversation", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err = m.store.Get(id)
	if err != nil {
		return model.Conversation{}, nil, err
	}

	msgs, err = m.loadThread(ctx, id)
	if err != nil {
		return model.Conversation{}, nil, err
	}

	m.threads.MarkRead(id)
	for i := range msgs {
		msgs[i].IsRead = true
	}

	if conv.UnreadCount != 0 || conv.MessageCount != len(msgs) {
		zero, count := 0, len(msgs)
		conv, err = m.store.Upsert(id, model.Patch{UnreadCount: &zero, MessageCount: &count})
		if err != nil {
			return model.Conversation{}, nil, err
		}
		m.notify(ctx, broadcast.Update{ConversationID: id, Conversation: &conv})
	}

	m.viewMu.Lock()
	m.views[actorID(viewer)] = id
	m.viewMu.Unlock()

	return conv, msgs, nil
}

// SendMessage sends an agent message to the customer. A pending handoff
// becomes human-handled and is assigned to the sender.
func (m *Manager) SendMessage(ctx context.Context, id, text string, actor Actor) (msg model.Message, err error) {
	ctx, span := m.startSpan(ctx, "session.SendMessage", id)
	defer func() { endSpan(span, err) }()

	text = strings.TrimSpace(text)
	if text == "" || id == "" {
		return model.Message{}, ErrEmptyMessage
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err := m.store.Get(id)
	if err != nil {
		return model.Message{}, err
	}
	if conv.State() == model.StateClosed {
		return model.Message{}, invalidState("send to", conv.State())
	}

	name := displayName(actor)
	msg = m.newMessage(id, model.SenderHuman, name, text)
	msg, err = m.deliver(ctx, id, msg)
	if err != nil {
		return model.Message{}, err
	}

	patch := m.appendPatch(id, &conv, msg)
	var event *model.ConversationEvent
	if conv.State() == model.StatePendingHandoff {
		active := model.StatusActive
		patch.Status = &active
		if conv.AssignedAgent == "" {
			patch.AssignedAgent = &name
		}
		event = m.newEvent(id, model.EventTypeAgentAssigned, conv.State(), model.StateHumanActive, name, "")
	}

	updated, err := m.commit(ctx, id, patch, &msg, event)
	if err != nil {
		return model.Message{}, err
	}

	m.logger.Conversation(id).Info("agent message sent",
		zap.String("message_id", msg.ID),
		zap.String("agent", name),
		zap.String("state", string(updated.State())))

	return msg, nil
}

// SendAIReply sends an assistant message. Only conversations handled by the
// AI accept assistant replies.
func (m *Manager) SendAIReply(ctx context.Context, id, text string) (msg model.Message, err error) {
	ctx, span := m.startSpan(ctx, "session.SendAIReply", id)
	defer func() { endSpan(span, err) }()

	text = strings.TrimSpace(text)
	if text == "" || id == "" {
		return model.Message{}, ErrEmptyMessage
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err := m.store.Get(id)
	if err != nil {
		return model.Message{}, err
	}
	if conv.State() != model.StateAIActive {
		return model.Message{}, invalidState("send an AI reply to", conv.State())
	}

	msg = m.newMessage(id, model.SenderAI, m.cfg.AssistantName, text)
	msg, err = m.deliver(ctx, id, msg)
	if err != nil {
		return model.Message{}, err
	}

	if _, err := m.commit(ctx, id, m.appendPatch(id, &conv, msg), &msg, nil); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// CompleteHandoff ends a pending handoff: the conversation is resolved and a
// system message records who completed it and when.
func (m *Manager) CompleteHandoff(ctx context.Context, id string, actor Actor) (conv model.Conversation, err error) {
	ctx, span := m.startSpan(ctx, "session.CompleteHandoff", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err = m.store.Get(id)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.State() != model.StatePendingHandoff {
		return model.Conversation{}, invalidState("complete the handoff of", conv.State())
	}

	name := displayName(actor)
	text := fmt.Sprintf("Handoff completed by %s. AI can now take over this conversation.", name)
	msg := m.newMessage(id, model.SenderSystem, systemSenderName, text)
	if err := m.record(ctx, id, msg); err != nil {
		return model.Conversation{}, err
	}

	patch := m.appendPatch(id, &conv, msg)
	resolved := model.StatusResolved
	patch.Status = &resolved
	if conv.AssignedAgent == "" {
		patch.AssignedAgent = &name
	}
	patch.HandoffCompletedAt = &msg.Timestamp
	patch.HandoffCompletedBy = &name

	event := m.newEvent(id, model.EventTypeHandoffCompleted, conv.State(), model.StateResolved, name, "")
	return m.commit(ctx, id, patch, &msg, event)
}

// Resolve marks a human-handled conversation resolved.
func (m *Manager) Resolve(ctx context.Context, id string, actor Actor) (conv model.Conversation, err error) {
	ctx, span := m.startSpan(ctx, "session.Resolve", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err = m.store.Get(id)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.State() != model.StateHumanActive {
		return model.Conversation{}, invalidState("resolve", conv.State())
	}

	resolved := model.StatusResolved
	event := m.newEvent(id, model.EventTypeResolved, conv.State(), model.StateResolved, displayName(actor), "")
	return m.commit(ctx, id, model.Patch{Status: &resolved}, nil, event)
}

// Close moves any non-terminal conversation to the terminal closed state.
func (m *Manager) Close(ctx context.Context, id string, actor Actor) (conv model.Conversation, err error) {
	ctx, span := m.startSpan(ctx, "session.Close", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err = m.store.Get(id)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.State().Terminal() {
		return model.Conversation{}, invalidState("close", conv.State())
	}

	closed := model.StatusClosed
	event := m.newEvent(id, model.EventTypeClosed, conv.State(), model.StateClosed, displayName(actor), "")
	return m.commit(ctx, id, model.Patch{Status: &closed}, nil, event)
}

// RequestHandoff escalates an AI-handled conversation to the human queue.
func (m *Manager) RequestHandoff(ctx context.Context, id, reason string) (conv model.Conversation, err error) {
	ctx, span := m.startSpan(ctx, "session.RequestHandoff", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err = m.store.Get(id)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.State() != model.StateAIActive {
		return model.Conversation{}, invalidState("request a handoff for", conv.State())
	}

	var patch model.Patch
	event := m.handoffPatch(id, &conv, &patch, reason)
	return m.commit(ctx, id, patch, nil, event)
}

// Inbound is a customer message arriving from the messaging backend.
type Inbound struct {
	Text       string
	SenderName string
	Timestamp  time.Time

	// NeedsHuman is the classifier's verdict on the message.
	NeedsHuman bool
	Reason     string
}

// ReceiveCustomerMessage appends a customer message. It counts as unread
// unless someone has the conversation open. A resolved conversation reopens
// under AI handling, and an AI-handled one moves to the handoff queue when
// the message needs a human.
func (m *Manager) ReceiveCustomerMessage(ctx context.Context, id string, in Inbound) (conv model.Conversation, msg model.Message, err error) {
	ctx, span := m.startSpan(ctx, "session.ReceiveCustomerMessage", id)
	defer func() { endSpan(span, err) }()

	text := strings.TrimSpace(in.Text)
	if text == "" || id == "" {
		return model.Conversation{}, model.Message{}, ErrEmptyMessage
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	conv, err = m.store.Get(id)
	if err != nil {
		return model.Conversation{}, model.Message{}, err
	}
	if conv.State() == model.StateClosed {
		return model.Conversation{}, model.Message{}, invalidState("receive a message for", conv.State())
	}

	sender := in.SenderName
	if sender == "" {
		sender = conv.ContactName
	}
	msg = m.newMessage(id, model.SenderCustomer, sender, text)
	if !in.Timestamp.IsZero() {
		msg.Timestamp = in.Timestamp
	}
	open := m.isOpen(id)
	msg.IsRead = open

	count, err := m.checkAppend(ctx, id, msg)
	if err != nil {
		return model.Conversation{}, model.Message{}, err
	}

	// The summary is settled before the message leaves this process.
	unread := conv.UnreadCount
	state := conv.State()
	var events []*model.ConversationEvent
	var reopen bool

	if state == model.StateResolved {
		reopen = true
		unread = 0
		events = append(events, m.newEvent(id, model.EventTypeReopened, state, model.StateAIActive, sender, ""))
		state = model.StateAIActive
	}
	if !open {
		unread++
	}

	patch := summaryPatch(count, unread, msg)
	if reopen {
		active, none := model.StatusActive, ""
		patch.Status = &active
		patch.AssignedAgent = &none
	}
	if in.NeedsHuman && state == model.StateAIActive {
		events = append(events, m.handoffPatch(id, &conv, &patch, in.Reason))
	}

	if err := m.persist(ctx, id, msg); err != nil {
		return model.Conversation{}, model.Message{}, err
	}

	conv, err = m.commit(ctx, id, patch, &msg, events...)
	if err != nil {
		return model.Conversation{}, model.Message{}, err
	}
	if open {
		m.threads.MarkRead(id)
	}

	m.logger.Conversation(id).Debug("customer message received",
		zap.String("message_id", msg.ID),
		zap.Int("unread", conv.UnreadCount),
		zap.String("state", string(conv.State())))

	return conv, msg, nil
}

func (m *Manager) handoffPatch(id string, conv *model.Conversation, patch *model.Patch, reason string) *model.ConversationEvent {
	pending := model.StatusPendingHandoff
	now := m.now()
	patch.Status = &pending
	patch.HandoffReason = &reason
	patch.HandoffRequestedAt = &now
	return m.newEvent(id, model.EventTypeHandoffRequested, model.StateAIActive, model.StatePendingHandoff, "", reason)
}

// loadThread loads a thread under the collaborator deadline.
func (m *Manager) loadThread(ctx context.Context, id string) ([]model.Message, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	msgs, err := m.threads.Load(ctx, id)
	if err != nil {
		return nil, m.collaboratorFailure("fetch_thread", id, err)
	}
	return msgs, nil
}

// deliver sends msg to the customer. The message is staged as pending while
// the send is in flight and committed to the thread once acknowledged.
func (m *Manager) deliver(ctx context.Context, id string, msg model.Message) (model.Message, error) {
	if _, err := m.loadThread(ctx, id); err != nil {
		return model.Message{}, err
	}
	if err := m.threads.CheckAppend(id, msg); err != nil {
		return model.Message{}, err
	}

	m.threads.Stage(id, msg)
	pending := msg
	pending.Pending = true
	m.notify(ctx, broadcast.Update{ConversationID: id, Message: &pending})

	sendCtx, cancel := m.withTimeout(ctx)
	err := m.source.SendToCustomer(sendCtx, id, msg)
	cancel()
	if err != nil {
		if derr := m.threads.Discard(id, msg.ID); derr != nil {
			m.logger.Warn("failed to discard pending message", zap.String("message_id", msg.ID), zap.Error(derr))
		}
		discarded := msg
		discarded.Discarded = true
		m.notify(ctx, broadcast.Update{ConversationID: id, Message: &discarded})
		return model.Message{}, m.collaboratorFailure("send_to_customer", id, err)
	}

	committed, err := m.threads.Commit(id, msg.ID)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to commit message %s: %w", msg.ID, err)
	}
	return committed, nil
}

// record stores a message that is not sent to the customer and appends it
// to the thread.
func (m *Manager) record(ctx context.Context, id string, msg model.Message) error {
	if _, err := m.checkAppend(ctx, id, msg); err != nil {
		return err
	}
	return m.persist(ctx, id, msg)
}

// checkAppend loads the thread and verifies msg can be appended. It returns
// the thread length after the append.
func (m *Manager) checkAppend(ctx context.Context, id string, msg model.Message) (int, error) {
	msgs, err := m.loadThread(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := m.threads.CheckAppend(id, msg); err != nil {
		return 0, err
	}
	return m.threadCount(id, len(msgs)) + 1, nil
}

// persist hands msg to the recorder, if any, and appends it to the thread.
func (m *Manager) persist(ctx context.Context, id string, msg model.Message) error {
	if rec, ok := m.source.(Recorder); ok {
		recCtx, cancel := m.withTimeout(ctx)
		err := rec.Record(recCtx, msg)
		cancel()
		if err != nil {
			return m.collaboratorFailure("record", id, err)
		}
	}

	return m.threads.Append(id, msg)
}

// appendPatch builds the summary update for a message just appended.
func (m *Manager) appendPatch(id string, conv *model.Conversation, msg model.Message) model.Patch {
	return summaryPatch(m.threadCount(id, conv.MessageCount+1), conv.UnreadCount, msg)
}

// summaryPatch sets the thread summary for count messages, the newest being
// msg. unread is clamped so it never exceeds count.
func summaryPatch(count, unread int, msg model.Message) model.Patch {
	unread = max(0, min(unread, count))
	return model.Patch{
		LastMessage:  &model.Snapshot{Text: msg.Text, Timestamp: msg.Timestamp},
		MessageCount: &count,
		UnreadCount:  &unread,
	}
}

func (m *Manager) threadCount(id string, fallback int) int {
	if n, ok := m.threads.Count(id); ok {
		return n
	}
	return fallback
}

// commit writes the conversation patch and publishes the change.
func (m *Manager) commit(ctx context.Context, id string, patch model.Patch, msg *model.Message, events ...*model.ConversationEvent) (model.Conversation, error) {
	conv, err := m.store.Upsert(id, patch)
	if err != nil {
		return model.Conversation{}, err
	}

	if msg != nil {
		metrics.MessagesTotal.WithLabelValues(string(msg.SenderType)).Inc()
	}
	m.notify(ctx, broadcast.Update{ConversationID: id, Conversation: &conv, Message: msg})

	for _, event := range events {
		if event == nil {
			continue
		}
		metrics.RecordTransition(string(event.From), string(event.To))
		m.logger.Conversation(id).Info("conversation transition",
			zap.String("event", string(event.Type)),
			zap.String("from", string(event.From)),
			zap.String("to", string(event.To)),
			zap.String("actor", event.Actor))
		m.notify(ctx, broadcast.Update{ConversationID: id, Event: event})
	}

	return conv, nil
}

func (m *Manager) notify(ctx context.Context, u broadcast.Update) {
	for _, n := range m.notifiers {
		n.Notify(ctx, u)
	}
}

func (m *Manager) newMessage(id string, sender model.SenderType, name, text string) model.Message {
	return model.Message{
		ID:             m.newID(),
		ConversationID: id,
		SenderType:     sender,
		SenderName:     name,
		Text:           text,
		Timestamp:      m.now(),
		IsRead:         true,
	}
}

func (m *Manager) newEvent(id string, typ model.EventType, from, to model.State, actor, reason string) *model.ConversationEvent {
	return &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: id,
		Type:           typ,
		From:           from,
		To:             to,
		Actor:          actor,
		Reason:         reason,
		CreatedAt:      m.now(),
	}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
}

func (m *Manager) collaboratorFailure(op, id string, err error) error {
	cerr := collaboratorErr(op, err)
	kind := "error"
	if errors.Is(cerr, ErrTimeout) {
		kind = "timeout"
	}
	metrics.CollaboratorErrorsTotal.WithLabelValues(op, kind).Inc()
	m.logger.Warn("message source call failed",
		zap.String("op", op),
		zap.String("conversation_id", id),
		zap.Error(err))
	return cerr
}

func (m *Manager) startSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("conversation.id", id))
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
