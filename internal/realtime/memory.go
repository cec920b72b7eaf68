package realtime

import (
	"context"
	"sync"
)

// MemoryFeed broadcasts events to subscribers of this process only.
type MemoryFeed struct {
	buffer int

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool
}

func NewMemoryFeed(buffer int) *MemoryFeed {
	return &MemoryFeed{
		buffer: buffer,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

func (f *MemoryFeed) Publish(ctx context.Context, ev Event) error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrClosed
	}
	var lagged []*Subscription
	for sub := range f.topics[topic(ev.RoomID, ev.Table)] {
		if !sub.deliver(ev) {
			lagged = append(lagged, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range lagged {
		sub.detach()
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, roomID string, tables ...Table) (*Subscription, error) {
	if len(tables) == 0 {
		tables = RoomTables
	}
	sub := newSubscription(f.buffer)

	keys := make([]string, 0, len(tables))
	for _, table := range tables {
		keys = append(keys, topic(roomID, table))
	}

	sub.release = func() { f.remove(sub, keys) }

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	for _, key := range keys {
		subs, ok := f.topics[key]
		if !ok {
			subs = make(map[*Subscription]struct{})
			f.topics[key] = subs
		}
		subs[sub] = struct{}{}
	}
	f.mu.Unlock()

	sub.watch(ctx)
	return sub, nil
}

func (f *MemoryFeed) remove(sub *Subscription, keys []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		subs := f.topics[key]
		delete(subs, sub)
		if len(subs) == 0 {
			delete(f.topics, key)
		}
	}
}

// Close ends every subscription; later calls to Publish and Subscribe fail.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	seen := make(map[*Subscription]struct{})
	for _, subs := range f.topics {
		for sub := range subs {
			seen[sub] = struct{}{}
		}
	}
	f.topics = make(map[string]map[*Subscription]struct{})
	f.mu.Unlock()

	for sub := range seen {
		sub.finish(ErrClosed)
	}
	return nil
}

// Subscribers returns the number of live subscriptions on a room topic.
func (f *MemoryFeed) Subscribers(roomID string, table Table) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.topics[topic(roomID, table)])
}
