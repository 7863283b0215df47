// Package thread caches the ordered message history of each conversation.
//
// Threads are loaded lazily from a Fetcher on first use. Concurrent loads of
// the same conversation share a single fetch. Cached threads are append-only:
// an append whose timestamp falls behind the current tail by more than the
// clock-skew tolerance is rejected rather than re-sorted, so a rendered thread
// never reshuffles under the reader.
package thread

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
)

var (
	// ErrOrderViolation is returned when an append would land before the
	// current tail by more than the tolerance.
	ErrOrderViolation = errors.New("message out of order")

	// ErrDuplicateMessage is returned when a message id is already in the thread.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrNoPending is returned when committing or discarding an unknown
	// pending message.
	ErrNoPending = errors.New("no such pending message")
)

const (
	// DefaultClockSkewTolerance is used when Options.ClockSkewTolerance is zero.
	DefaultClockSkewTolerance = 2 * time.Second

	// DefaultFetchTimeout is used when Options.FetchTimeout is zero.
	DefaultFetchTimeout = 30 * time.Second
)

// Fetcher loads the full message history of a conversation.
type Fetcher interface {
	FetchThread(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Options configures a Cache.
type Options struct {
	// ClockSkewTolerance is how far behind the tail an append may be.
	ClockSkewTolerance time.Duration

	// MaxThreads bounds the number of cached threads. Least recently used
	// threads are evicted first. Zero means unbounded.
	MaxThreads int

	// FetchTimeout bounds a shared fetch. It is independent of any one
	// caller's context; each caller stops waiting at its own deadline.
	FetchTimeout time.Duration

	// OnLoad, if set, is called after every completed fetch.
	OnLoad func(conversationID string, count int, err error)
}

type entry struct {
	id       string
	messages []model.Message
	pending  []model.Message
	// readMark is the number of leading messages that have been read.
	readMark int
	// loaded is set once the thread has been fetched from the Fetcher.
	loaded  bool
	element *list.Element
}

// Cache is a thread-safe, size-bounded cache of conversation threads.
type Cache struct {
	fetcher Fetcher
	opts    Options
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // least recently used at front
}

// New creates a thread cache backed by fetcher.
func New(fetcher Fetcher, opts Options) *Cache {
	if opts.ClockSkewTolerance <= 0 {
		opts.ClockSkewTolerance = DefaultClockSkewTolerance
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Cache{
		fetcher: fetcher,
		opts:    opts,
		entries: make(map[string]*entry),
		order:   list.New(),
	}
}

// Load returns the thread for conversationID, fetching it if it is not cached.
// Concurrent calls for the same id while a fetch is in flight wait for that
// fetch instead of starting another. The fetch outlives a caller that gives
// up, so the remaining callers still get its result.
func (c *Cache) Load(ctx context.Context, conversationID string) ([]model.Message, error) {
	if msgs, ok := c.loadedSnapshot(conversationID); ok {
		return msgs, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(conversationID, func() (any, error) {
		if c.isLoaded(conversationID) {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(fetchCtx, c.opts.FetchTimeout)
		defer cancel()

		fetched, err := c.fetcher.FetchThread(ctx, conversationID)
		if c.opts.OnLoad != nil {
			c.opts.OnLoad(conversationID, len(fetched), err)
		}
		if err != nil {
			return nil, err
		}

		c.store(conversationID, fetched)
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	msgs, ok := c.snapshot(conversationID)
	if !ok {
		// Evicted between the fetch and the read; the fetched data is gone.
		return nil, fmt.Errorf("thread %s evicted during load", conversationID)
	}
	return msgs, nil
}

// store installs a freshly fetched thread. Messages appended while the fetch
// was in flight are merged in.
func (c *Cache) store(conversationID string, fetched []model.Message) {
	msgs := make([]model.Message, 0, len(fetched))
	seen := make(map[string]struct{}, len(fetched))
	for _, m := range fetched {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m.Pending = false
		msgs = append(msgs, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if exists {
		for _, m := range e.messages {
			if _, dup := seen[m.ID]; !dup {
				msgs = append(msgs, m)
			}
		}
	}
	sortThread(msgs)

	if !exists {
		e = c.insertLocked(conversationID)
	}
	readMark := 0
	for readMark < len(msgs) && msgs[readMark].IsRead {
		readMark++
	}
	if e.readMark > readMark {
		readMark = e.readMark
	}
	if readMark > len(msgs) {
		readMark = len(msgs)
	}
	e.messages = msgs
	e.readMark = readMark
	e.loaded = true
}

// Append adds msg to the end of the thread, creating an empty thread if none
// is cached.
func (c *Cache) Append(conversationID string, msg model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists {
		e = c.insertLocked(conversationID)
	} else {
		c.order.MoveToBack(e.element)
	}

	if err := c.checkLocked(e, &msg); err != nil {
		return err
	}

	msg.Pending = false
	e.messages = append(e.messages, msg)
	return nil
}

// CheckAppend reports whether msg could be appended right now without
// changing the cache.
func (c *Cache) CheckAppend(conversationID string, msg model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists {
		return nil
	}
	return c.checkLocked(e, &msg)
}

func (c *Cache) checkLocked(e *entry, msg *model.Message) error {
	for i := range e.messages {
		if e.messages[i].ID == msg.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
		}
	}
	if n := len(e.messages); n > 0 {
		last := e.messages[n-1].Timestamp
		if msg.Timestamp.Before(last.Add(-c.opts.ClockSkewTolerance)) {
			return fmt.Errorf("%w: %s is %s behind the last message", ErrOrderViolation,
				msg.ID, last.Sub(msg.Timestamp))
		}
	}
	return nil
}

// MarkRead marks every message currently in the thread as read. It reports
// false if the thread is not cached.
func (c *Cache) MarkRead(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists {
		return false
	}
	e.readMark = len(e.messages)
	return true
}

// Stage records msg as a pending, not yet delivered message.
func (c *Cache) Stage(conversationID string, msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists {
		e = c.insertLocked(conversationID)
	}
	msg.Pending = true
	e.pending = append(e.pending, msg)
}

// Commit moves a staged message into the thread.
func (c *Cache) Commit(conversationID, messageID string) (model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists {
		return model.Message{}, ErrNoPending
	}
	idx := pendingIndex(e, messageID)
	if idx < 0 {
		return model.Message{}, ErrNoPending
	}

	msg := e.pending[idx]
	msg.Pending = false
	if err := c.checkLocked(e, &msg); err != nil {
		return model.Message{}, err
	}

	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	e.messages = append(e.messages, msg)
	return msg, nil
}

// Discard drops a staged message.
func (c *Cache) Discard(conversationID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists {
		return ErrNoPending
	}
	idx := pendingIndex(e, messageID)
	if idx < 0 {
		return ErrNoPending
	}
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return nil
}

func pendingIndex(e *entry, messageID string) int {
	for i := range e.pending {
		if e.pending[i].ID == messageID {
			return i
		}
	}
	return -1
}

// Pending returns the staged messages of a thread in staging order.
func (c *Cache) Pending(conversationID string) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists || len(e.pending) == 0 {
		return nil
	}
	return append([]model.Message(nil), e.pending...)
}

// Cached reports whether a thread has been loaded and is still cached.
func (c *Cache) Cached(conversationID string) bool {
	return c.isLoaded(conversationID)
}

// Count returns the number of committed messages in a loaded thread.
func (c *Cache) Count(conversationID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists || !e.loaded {
		return 0, false
	}
	return len(e.messages), true
}

// Len returns the number of cached threads.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) isLoaded(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	return exists && e.loaded
}

func (c *Cache) loadedSnapshot(conversationID string) ([]model.Message, bool) {
	if !c.isLoaded(conversationID) {
		return nil, false
	}
	return c.snapshot(conversationID)
}

// snapshot returns a copy of a cached thread with read state materialized.
func (c *Cache) snapshot(conversationID string) ([]model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[conversationID]
	if !exists {
		return nil, false
	}
	c.order.MoveToBack(e.element)

	out := make([]model.Message, len(e.messages))
	copy(out, e.messages)
	for i := 0; i < e.readMark && i < len(out); i++ {
		out[i].IsRead = true
	}
	return out, true
}

// insertLocked adds an empty entry, evicting the least recently used thread
// without pending messages if the cache is full. Must be called with mu held.
func (c *Cache) insertLocked(conversationID string) *entry {
	if c.opts.MaxThreads > 0 {
		for elem := c.order.Front(); elem != nil && len(c.entries) >= c.opts.MaxThreads; {
			next := elem.Next()
			victim := c.entries[elem.Value.(string)]
			if len(victim.pending) == 0 {
				c.order.Remove(elem)
				delete(c.entries, victim.id)
			}
			elem = next
		}
	}

	e := &entry{id: conversationID}
	e.element = c.order.PushBack(conversationID)
	c.entries[conversationID] = e
	return e
}

func sortThread(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(&msgs[j])
	})
}
