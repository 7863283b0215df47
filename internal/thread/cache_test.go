package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
)

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// fakeFetcher counts fetches and can hold them until released.
type fakeFetcher struct {
	threads map[string][]model.Message
	err     error
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeFetcher) FetchThread(ctx context.Context, id string) ([]model.Message, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Message(nil), f.threads[id]...), nil
}

func msg(id string, offset time.Duration) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: "c1",
		SenderType:     model.SenderCustomer,
		Text:           "text " + id,
		Timestamp:      t0.Add(offset),
	}
}

func msgIDs(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestCache_Load_SortsByTimestampThenID(t *testing.T) {
	f := &fakeFetcher{threads: map[string][]model.Message{
		"c1": {msg("3", time.Minute), msg("b", 0), msg("a", 0), msg("2", -time.Minute)},
	}}
	c := New(f, Options{})

	msgs, err := c.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "a", "b", "3"}, msgIDs(msgs))
}

func TestCache_Load_CachesAfterFirstFetch(t *testing.T) {
	f := &fakeFetcher{threads: map[string][]model.Message{"c1": {msg("a", 0)}}}
	c := New(f, Options{})

	for i := 0; i < 3; i++ {
		_, err := c.Load(context.Background(), "c1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.True(t, c.Cached("c1"))
}

func TestCache_Load_CoalescesConcurrentFetches(t *testing.T) {
	f := &fakeFetcher{
		threads: map[string][]model.Message{"c2": {msg("a", 0), msg("b", time.Second)}},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	c := New(f, Options{})

	var wg sync.WaitGroup
	results := make([][]model.Message, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Load(context.Background(), "c2")
		}(i)
	}

	<-f.started
	// Give the second caller time to join the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, []string{"a", "b"}, msgIDs(results[0]))
}

func TestCache_Load_FetchErrorCachesNothing(t *testing.T) {
	f := &fakeFetcher{err: errors.New("backend down")}
	c := New(f, Options{})

	_, err := c.Load(context.Background(), "c1")
	require.Error(t, err)
	assert.False(t, c.Cached("c1"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_Load_ContextDeadline(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c := New(f, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Load(ctx, "c1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.Cached("c1"))
}

func TestCache_Load_ShortDeadlineDoesNotFailOtherWaiters(t *testing.T) {
	f := &fakeFetcher{
		threads: map[string][]model.Message{"c1": {msg("a", 0)}},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := New(f, Options{})

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	long, cancelLong := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelLong()

	var wg sync.WaitGroup
	var shortErr, longErr error
	var longMsgs []model.Message

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = c.Load(short, "c1")
	}()
	<-f.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		longMsgs, longErr = c.Load(long, "c1")
	}()

	time.Sleep(100 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	require.NoError(t, longErr)
	assert.Equal(t, []string{"a"}, msgIDs(longMsgs))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCache_Load_SharedFetchHasOwnTimeout(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c := New(f, Options{FetchTimeout: 20 * time.Millisecond})

	_, err := c.Load(context.Background(), "c1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.Cached("c1"))
}

func TestCache_Load_ReadStateFromLeadingReadRun(t *testing.T) {
	unread := msg("b", time.Second)
	reply := msg("c", 2*time.Second)
	reply.SenderType = model.SenderAI
	reply.IsRead = true
	first := msg("a", 0)
	first.IsRead = true

	f := &fakeFetcher{threads: map[string][]model.Message{"c1": {first, unread, reply}}}
	c := New(f, Options{})

	msgs, err := c.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, msgs[0].IsRead)
	assert.False(t, msgs[1].IsRead, "reply after an unread message must not mark it read")
	assert.True(t, msgs[2].IsRead)
}

func TestCache_Append_NonDecreasingKeepsOrder(t *testing.T) {
	f := &fakeFetcher{threads: map[string][]model.Message{"c1": {msg("a", 0)}}}
	c := New(f, Options{})
	_, err := c.Load(context.Background(), "c1")
	require.NoError(t, err)

	require.NoError(t, c.Append("c1", msg("b", time.Second)))
	require.NoError(t, c.Append("c1", msg("c", time.Second)))
	require.NoError(t, c.Append("c1", msg("d", time.Minute)))

	msgs, err := c.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, msgIDs(msgs))
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].Before(&msgs[i-1]))
	}
}

func TestCache_Append_CreatesEmptyThread(t *testing.T) {
	c := New(&fakeFetcher{}, Options{})

	require.NoError(t, c.Append("c9", msg("a", 0)))
	assert.Equal(t, 1, c.Len())
}

func TestCache_Append_RejectsOutOfOrderBeyondTolerance(t *testing.T) {
	c := New(&fakeFetcher{}, Options{ClockSkewTolerance: time.Second})
	require.NoError(t, c.Append("c1", msg("a", time.Minute)))

	// Within tolerance: accepted at the tail.
	require.NoError(t, c.Append("c1", msg("b", time.Minute-500*time.Millisecond)))

	err := c.Append("c1", msg("c", 0))
	assert.ErrorIs(t, err, ErrOrderViolation)
}

func TestCache_Append_RejectsDuplicateID(t *testing.T) {
	c := New(&fakeFetcher{}, Options{})
	require.NoError(t, c.Append("c1", msg("a", 0)))

	assert.ErrorIs(t, c.Append("c1", msg("a", time.Second)), ErrDuplicateMessage)
}

func TestCache_Load_FetchesEvenAfterAppendCreatedThread(t *testing.T) {
	f := &fakeFetcher{threads: map[string][]model.Message{"c1": {msg("a", 0), msg("b", time.Second)}}}
	c := New(f, Options{})

	require.NoError(t, c.Append("c1", msg("c", time.Minute)))

	msgs, err := c.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, msgIDs(msgs))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCache_MarkRead(t *testing.T) {
	f := &fakeFetcher{threads: map[string][]model.Message{"c1": {msg("a", 0), msg("b", time.Second)}}}
	c := New(f, Options{})

	assert.False(t, c.MarkRead("c1"))

	msgs, err := c.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, msgs[0].IsRead)

	assert.True(t, c.MarkRead("c1"))
	require.NoError(t, c.Append("c1", msg("c", time.Minute)))

	msgs, err = c.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, msgs[0].IsRead)
	assert.True(t, msgs[1].IsRead)
	assert.False(t, msgs[2].IsRead)
}

func TestCache_StageCommitDiscard(t *testing.T) {
	f := &fakeFetcher{threads: map[string][]model.Message{"c1": {msg("a", 0)}}}
	c := New(f, Options{})
	_, err := c.Load(context.Background(), "c1")
	require.NoError(t, err)

	c.Stage("c1", msg("p1", time.Second))
	c.Stage("c1", msg("p2", 2*time.Second))

	pending := c.Pending("c1")
	require.Len(t, pending, 2)
	assert.True(t, pending[0].Pending)

	msgs, _ := c.Load(context.Background(), "c1")
	assert.Equal(t, []string{"a"}, msgIDs(msgs))

	committed, err := c.Commit("c1", "p1")
	require.NoError(t, err)
	assert.False(t, committed.Pending)
	require.NoError(t, c.Discard("c1", "p2"))

	msgs, _ = c.Load(context.Background(), "c1")
	assert.Equal(t, []string{"a", "p1"}, msgIDs(msgs))
	assert.Empty(t, c.Pending("c1"))

	_, err = c.Commit("c1", "p2")
	assert.ErrorIs(t, err, ErrNoPending)
	assert.ErrorIs(t, c.Discard("c1", "nope"), ErrNoPending)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	threads := map[string][]model.Message{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("c%d", i)
		threads[id] = []model.Message{msg("a", 0)}
	}
	f := &fakeFetcher{threads: threads}
	c := New(f, Options{MaxThreads: 2})
	ctx := context.Background()

	_, _ = c.Load(ctx, "c0")
	_, _ = c.Load(ctx, "c1")
	_, _ = c.Load(ctx, "c0") // c1 is now least recently used
	_, _ = c.Load(ctx, "c2")

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Cached("c0"))
	assert.False(t, c.Cached("c1"))
	assert.True(t, c.Cached("c2"))
}

func TestCache_EvictionSkipsThreadsWithPendingSends(t *testing.T) {
	f := &fakeFetcher{threads: map[string][]model.Message{}}
	c := New(f, Options{MaxThreads: 1})
	ctx := context.Background()

	_, _ = c.Load(ctx, "c0")
	c.Stage("c0", msg("p", 0))
	_, _ = c.Load(ctx, "c1")

	assert.True(t, c.Cached("c0"))
	assert.Len(t, c.Pending("c0"), 1)
}
