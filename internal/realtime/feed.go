// Package realtime fans row changes out to subscribers, one topic per room
// and table.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Table string

const (
	TableRooms        Table = "rooms"
	TableParticipants Table = "participants"
	TablePlayback     Table = "playback_state"
	TableSignals      Table = "signals"
)

// RoomTables are the tables a room snapshot follows.
var RoomTables = []Table{TableRooms, TableParticipants, TablePlayback}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ErrLagged closes a subscription whose buffer overflowed. The consumer
// should reload a snapshot before following events again.
var ErrLagged = errors.New("realtime: subscriber lagged behind")

var ErrClosed = errors.New("realtime: feed closed")

// Event is a change notification. Record holds the row as it is after the
// change, or as it was before a delete.
type Event struct {
	Table  Table           `json:"table"`
	Type   EventType       `json:"type"`
	RoomID string          `json:"room_id"`
	RowID  string          `json:"row_id"`
	Record json.RawMessage `json:"record,omitempty"`
	At     time.Time       `json:"at"`
}

// NewEvent builds an event with record encoded as JSON.
func NewEvent(table Table, typ EventType, roomID, rowID string, record interface{}, at time.Time) (Event, error) {
	ev := Event{Table: table, Type: typ, RoomID: roomID, RowID: rowID, At: at}
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			return ev, err
		}
		ev.Record = data
	}
	return ev, nil
}

// Emit publishes a change and logs a failure instead of returning it. Clients
// recover missed events by reloading a snapshot.
func Emit(ctx context.Context, feed Feed, table Table, typ EventType, roomID, rowID string, record interface{}, at time.Time) {
	if feed == nil {
		return
	}
	ev, err := NewEvent(table, typ, roomID, rowID, record, at)
	if err == nil {
		err = feed.Publish(ctx, ev)
	}
	if err != nil {
		log.Warn().Err(err).
			Str("table", string(table)).
			Str("type", string(typ)).
			Str("room_id", roomID).
			Msg("Failed to publish realtime event")
	}
}

// Feed publishes events and hands out room subscriptions.
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, roomID string, tables ...Table) (*Subscription, error)
	Close() error
}

func topic(roomID string, table Table) string {
	return "room:" + roomID + ":" + string(table)
}

// Subscription is a bounded stream of events. Events is closed when the
// subscription ends; Err then tells whether it ended because it lagged.
type Subscription struct {
	ch   chan Event
	done chan struct{}

	mu     sync.Mutex
	closed bool
	err    error

	release     func()
	releaseOnce sync.Once
}

func newSubscription(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscription{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.finish(nil)
}

// deliver queues ev without blocking. It reports false when the subscription
// is closed, including when this very event overflowed it.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.closeLocked(ErrLagged)
		return false
	}
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	if !s.closed {
		s.closeLocked(err)
	}
	s.mu.Unlock()
	s.detach()
}

func (s *Subscription) closeLocked(err error) {
	s.closed = true
	s.err = err
	close(s.ch)
	close(s.done)
}

func (s *Subscription) detach() {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// watch ends the subscription when ctx is cancelled.
func (s *Subscription) watch(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.finish(nil)
		case <-s.done:
			s.detach()
		}
	}()
}
