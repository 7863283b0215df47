// Package source provides message source implementations for the inbox.
package source

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/store"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

//go:embed fixtures/inbox.yaml
var defaultFixture []byte

type fixtureFile struct {
	Conversations []fixtureConversation `yaml:"conversations"`
	Messages      []model.Message       `yaml:"messages"`
	QuickReplies  []string              `yaml:"quick_replies"`
}

type fixtureConversation struct {
	ID                 string       `yaml:"id"`
	ContactName        string       `yaml:"contact_name"`
	PhoneNumber        string       `yaml:"phone_number"`
	Status             model.Status `yaml:"status"`
	AssignedAgent      string       `yaml:"assigned_agent"`
	MessageCount       int          `yaml:"message_count"`
	UnreadCount        int          `yaml:"unread_count"`
	Tags               []string     `yaml:"tags"`
	HandoffReason      string       `yaml:"handoff_reason"`
	HandoffRequestedAt *time.Time   `yaml:"handoff_requested_at"`
	CreatedAt          time.Time    `yaml:"created_at"`
}

// Fixture is an in-memory message source loaded from YAML seed data.
// Sent and recorded messages are kept so later fetches see them.
type Fixture struct {
	logger  *logger.Logger
	latency time.Duration

	mu            sync.RWMutex
	conversations []model.Conversation
	threads       map[string][]model.Message
	quickReplies  []string
	outbox        []model.Message
}

// FixtureOption customizes a Fixture.
type FixtureOption func(*Fixture)

// WithLatency delays every fetch and send by d.
func WithLatency(d time.Duration) FixtureOption {
	return func(f *Fixture) { f.latency = d }
}

// WithLogger sets the fixture's logger.
func WithLogger(log *logger.Logger) FixtureOption {
	return func(f *Fixture) { f.logger = log.Component("fixture_source") }
}

// LoadFixture reads seed data from path, or the built-in clinic data when
// path is empty.
func LoadFixture(path string, opts ...FixtureOption) (*Fixture, error) {
	data := defaultFixture
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
		}
	}
	return ParseFixture(data, opts...)
}

// ParseFixture decodes YAML seed data.
func ParseFixture(data []byte, opts ...FixtureOption) (*Fixture, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	f := &Fixture{
		logger:       logger.NewNop(),
		threads:      make(map[string][]model.Message),
		quickReplies: file.QuickReplies,
	}
	for _, opt := range opts {
		opt(f)
	}

	known := make(map[string]struct{}, len(file.Conversations))
	for _, c := range file.Conversations {
		if c.ID == "" {
			return nil, fmt.Errorf("fixture conversation without id")
		}
		known[c.ID] = struct{}{}
	}
	for _, m := range file.Messages {
		if _, ok := known[m.ConversationID]; !ok {
			return nil, fmt.Errorf("fixture message %s references unknown conversation %q", m.ID, m.ConversationID)
		}
		f.threads[m.ConversationID] = append(f.threads[m.ConversationID], m)
	}
	for id := range f.threads {
		thread := f.threads[id]
		sort.SliceStable(thread, func(i, j int) bool { return thread[i].Before(&thread[j]) })
	}

	for _, c := range file.Conversations {
		conv := model.Conversation{
			ID:                 c.ID,
			ContactName:        c.ContactName,
			PhoneNumber:        c.PhoneNumber,
			Status:             c.Status,
			AssignedAgent:      c.AssignedAgent,
			MessageCount:       c.MessageCount,
			UnreadCount:        c.UnreadCount,
			Tags:               c.Tags,
			HandoffReason:      c.HandoffReason,
			HandoffRequestedAt: c.HandoffRequestedAt,
			CreatedAt:          c.CreatedAt,
		}
		if thread := f.threads[c.ID]; len(thread) > 0 {
			last := thread[len(thread)-1]
			conv.LastMessage = model.Snapshot{Text: last.Text, Timestamp: last.Timestamp}
			conv.MessageCount = len(thread)
		}
		f.conversations = append(f.conversations, conv)
	}

	return f, nil
}

// Conversations returns the seeded conversation records.
func (f *Fixture) Conversations() []model.Conversation {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]model.Conversation, len(f.conversations))
	for i := range f.conversations {
		out[i] = f.conversations[i].Clone()
	}
	return out
}

// QuickReplies returns the canned agent replies.
func (f *Fixture) QuickReplies() []string {
	return append([]string(nil), f.quickReplies...)
}

// Seed creates every fixture conversation in st.
func (f *Fixture) Seed(st *store.ConversationStore) error {
	for _, conv := range f.Conversations() {
		if _, err := st.Create(conv); err != nil {
			return fmt.Errorf("failed to seed conversation %s: %w", conv.ID, err)
		}
	}
	return nil
}

// FetchThread returns the stored messages of a conversation.
func (f *Fixture) FetchThread(ctx context.Context, conversationID string) ([]model.Message, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]model.Message(nil), f.threads[conversationID]...), nil
}

// SendToCustomer stores msg and adds it to the outbox.
func (f *Fixture) SendToCustomer(ctx context.Context, conversationID string, msg model.Message) error {
	if err := f.wait(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	f.threads[conversationID] = append(f.threads[conversationID], msg)
	f.outbox = append(f.outbox, msg)
	f.mu.Unlock()

	f.logger.Debug("message sent to customer",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.String("sender_type", string(msg.SenderType)))
	return nil
}

// Record stores msg without sending it.
func (f *Fixture) Record(ctx context.Context, msg model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.threads[msg.ConversationID] = append(f.threads[msg.ConversationID], msg)
	return nil
}

// Outbox returns every message sent to a customer, oldest first.
func (f *Fixture) Outbox() []model.Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]model.Message(nil), f.outbox...)
}

func (f *Fixture) wait(ctx context.Context) error {
	if f.latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(f.latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
