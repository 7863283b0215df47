package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
)

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *ConversationStore {
	s := NewWithClock(func() time.Time { return baseTime })

	for _, conv := range []model.Conversation{
		{
			ID: "1", ContactName: "Michael Brown", PhoneNumber: "+1234567890",
			Status: model.StatusResolved, AssignedAgent: "Sarah Wilson",
			MessageCount: 9,
			LastMessage:  model.Snapshot{Text: "I received your appointment reminder. Thanks!", Timestamp: baseTime.Add(4 * time.Hour)},
		},
		{
			ID: "2", ContactName: "Emily Davis", PhoneNumber: "+1987654321",
			Status: model.StatusActive, MessageCount: 5, UnreadCount: 2,
			LastMessage: model.Snapshot{Text: "Can I get directions to your office?", Timestamp: baseTime.Add(5 * time.Hour)},
		},
		{
			ID: "3", ContactName: "David Wilson", PhoneNumber: "+1122334455",
			Status: model.StatusPendingHandoff, MessageCount: 1, UnreadCount: 1,
			LastMessage: model.Snapshot{Text: "Do I need to bring anything for my first visit?", Timestamp: baseTime.Add(6 * time.Hour)},
		},
	} {
		_, err := s.Create(conv)
		require.NoError(t, err)
	}
	return s
}

func ids(convs []model.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestStore_List_OrdersByLastMessageDescending(t *testing.T) {
	s := seedStore(t)

	assert.Equal(t, []string{"3", "2", "1"}, ids(s.List(model.Filter{})))
	assert.Equal(t, []string{"3", "2", "1"}, ids(s.List(model.Filter{Status: model.StatusAll})))
}

func TestStore_List_Search(t *testing.T) {
	s := seedStore(t)

	tests := []struct {
		name   string
		search string
		expect []string
	}{
		{"contact name case insensitive", "emily", []string{"2"}},
		{"phone number", "+1122", []string{"3"}},
		{"last message text", "DIRECTIONS", []string{"2"}},
		{"shared surname", "wilson", []string{"3"}},
		{"blank matches all", "   ", []string{"3", "2", "1"}},
		{"no match", "zzz", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ids(s.List(model.Filter{SearchText: tt.search})))
		})
	}
}

func TestStore_List_StatusFilter(t *testing.T) {
	s := seedStore(t)

	assert.Equal(t, []string{"3"}, ids(s.List(model.Filter{Status: model.StatusPendingHandoff})))
	assert.Equal(t, []string{"1"}, ids(s.List(model.Filter{Status: model.StatusResolved, SearchText: "michael"})))
	assert.Empty(t, s.List(model.Filter{Status: model.StatusClosed}))
}

func TestStore_Upsert_NotFound(t *testing.T) {
	s := seedStore(t)

	status := model.StatusClosed
	_, err := s.Upsert("missing", model.Patch{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Upsert_AppliesPatch(t *testing.T) {
	s := seedStore(t)

	zero := 0
	agent := "Agent A"
	updated, err := s.Upsert("2", model.Patch{UnreadCount: &zero, AssignedAgent: &agent})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.UnreadCount)
	assert.Equal(t, "Agent A", updated.AssignedAgent)
	assert.Equal(t, model.StateHumanActive, updated.State())

	got, err := s.Get("2")
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestStore_Upsert_RejectsUnreadAboveMessageCount(t *testing.T) {
	s := seedStore(t)

	unread := 10
	_, err := s.Upsert("2", model.Patch{UnreadCount: &unread})
	require.Error(t, err)

	got, err := s.Get("2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)
}

func TestStore_ReturnedRecordsAreCopies(t *testing.T) {
	s := seedStore(t)

	got, err := s.Get("2")
	require.NoError(t, err)
	got.UnreadCount = 0
	got.Tags = append(got.Tags, "mutated")

	again, err := s.Get("2")
	require.NoError(t, err)
	assert.Equal(t, 2, again.UnreadCount)
	assert.Empty(t, again.Tags)
}

func TestStore_Create_Duplicate(t *testing.T) {
	s := seedStore(t)

	_, err := s.Create(model.Conversation{ID: "1"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.Create(model.Conversation{ID: "9", PhoneNumber: "+1234567890"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestStore_GetByPhone(t *testing.T) {
	s := seedStore(t)

	conv, err := s.GetByPhone("+1987654321")
	require.NoError(t, err)
	assert.Equal(t, "2", conv.ID)

	_, err = s.GetByPhone("+0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Stats(t *testing.T) {
	s := seedStore(t)

	stats := s.Stats(baseTime.Add(2 * time.Hour))
	assert.Equal(t, model.Stats{
		Total:          3,
		AIActive:       1,
		PendingHandoff: 1,
		ResolvedToday:  1,
	}, stats)

	stats = s.Stats(baseTime.Add(48 * time.Hour))
	assert.Equal(t, 0, stats.ResolvedToday)
}

func TestStore_ConcurrentUpsertsAreAtomic(t *testing.T) {
	s := seedStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			count, unread := 20, 20
			_, _ = s.Upsert("2", model.Patch{MessageCount: &count, UnreadCount: &unread})
		}()
		go func() {
			defer wg.Done()
			conv, err := s.Get("2")
			assert.NoError(t, err)
			assert.LessOrEqual(t, conv.UnreadCount, conv.MessageCount)
		}()
	}
	wg.Wait()
}
