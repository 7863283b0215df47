package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/llm"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/source"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/store"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/thread"
)

type stubReplier struct {
	text string
	err  error
}

func (r stubReplier) Reply(context.Context, model.Conversation, []model.Message) (string, error) {
	return r.text, r.err
}

type env struct {
	svc     *MessageService
	store   *store.ConversationStore
	fixture *source.Fixture
}

func newEnv(t *testing.T, replier Replier) *env {
	t.Helper()

	fixture, err := source.LoadFixture("")
	require.NoError(t, err)

	st := store.New()
	require.NoError(t, fixture.Seed(st))

	mgr := session.NewManager(st, thread.New(fixture, thread.Options{}), fixture, nil, session.Config{})
	convs := NewConversationService(st, nil)

	return &env{
		svc:     NewMessageService(convs, mgr, llm.NewKeywordClassifier(), replier, nil),
		store:   st,
		fixture: fixture,
	}
}

func TestConversationService_GetOrCreate(t *testing.T) {
	st := store.New()
	svc := NewConversationService(st, nil)

	conv, created, err := svc.GetOrCreate(" +15550001111 ", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "+15550001111", conv.PhoneNumber)
	assert.Equal(t, "+15550001111", conv.ContactName)
	assert.Equal(t, model.StateAIActive, conv.State())

	again, created, err := svc.GetOrCreate("+15550001111", "Jane")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	_, _, err = svc.GetOrCreate("  ", "Nobody")
	assert.ErrorIs(t, err, ErrMissingPhone)
}

func TestConversationService_ConcurrentFirstMessages(t *testing.T) {
	st := store.New()
	svc := NewConversationService(st, nil)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := svc.GetOrCreate("+15550002222", "Sam")
			assert.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, st.List(model.Filter{}), 1)
}

func TestHandleInbound_AIReplies(t *testing.T) {
	e := newEnv(t, stubReplier{text: "The garage entrance is on Oak Street."})

	res, err := e.svc.HandleInbound(context.Background(), model.InboundMessageRequest{
		PhoneNumber: "+1987654321",
		Text:        "Where do I park?",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAIReplied, res.Outcome)
	assert.False(t, res.Created)
	require.NotNil(t, res.Reply)
	assert.Equal(t, model.SenderAI, res.Reply.SenderType)

	assert.Equal(t, 7, res.Conversation.MessageCount)
	assert.Equal(t, "The garage entrance is on Oak Street.", res.Conversation.LastMessage.Text)
	assert.Len(t, e.fixture.Outbox(), 1)
}

func TestHandleInbound_Handoff(t *testing.T) {
	e := newEnv(t, stubReplier{text: "should not be sent"})

	res, err := e.svc.HandleInbound(context.Background(), model.InboundMessageRequest{
		PhoneNumber: "+1987654321",
		Text:        "I need to talk to someone about billing",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandoff, res.Outcome)
	assert.Equal(t, model.StatePendingHandoff, res.Conversation.State())
	assert.NotEmpty(t, res.Conversation.HandoffReason)
	assert.Nil(t, res.Reply)
	assert.Empty(t, e.fixture.Outbox())
}

func TestHandleInbound_NewContactAndReopen(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	res, err := e.svc.HandleInbound(ctx, model.InboundMessageRequest{
		PhoneNumber: "+15550003333",
		ContactName: "Olivia Park",
		Text:        "Do you accept new patients?",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, 1, res.Conversation.MessageCount)
	assert.Equal(t, 1, res.Conversation.UnreadCount)

	// Conversation 1 is resolved; a new message hands it back to the AI.
	res, err = e.svc.HandleInbound(ctx, model.InboundMessageRequest{PhoneNumber: "+1234567890", Text: "One more thing"})
	require.NoError(t, err)
	assert.Equal(t, model.StateAIActive, res.Conversation.State())
	assert.Empty(t, res.Conversation.AssignedAgent)
	assert.Equal(t, 1, res.Conversation.UnreadCount)
}

func TestHandleInbound_ReplyFailureStillQueues(t *testing.T) {
	e := newEnv(t, stubReplier{err: errors.New("model unavailable")})

	res, err := e.svc.HandleInbound(context.Background(), model.InboundMessageRequest{
		PhoneNumber: "+1987654321",
		Text:        "Thanks!",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Nil(t, res.Reply)
}

func TestHandleInbound_Rejections(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.svc.HandleInbound(ctx, model.InboundMessageRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrMissingPhone)

	_, err = e.svc.HandleInbound(ctx, model.InboundMessageRequest{PhoneNumber: "+1987654321", Text: "   "})
	assert.ErrorIs(t, err, session.ErrEmptyMessage)
}
