package signaling

import (
	"context"
	"encoding/json"
	"time"

	"tunesync-backend/internal/apperr"
	"tunesync-backend/internal/realtime"

	"github.com/rs/zerolog/log"
)

// Relay fans signaling messages out over the room's signals topic.
type Relay struct {
	feed    realtime.Feed
	limiter *RateLimiter
	now     func() time.Time
}

func NewRelay(feed realtime.Feed, limiter *RateLimiter) *Relay {
	return &Relay{
		feed:    feed,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send publishes msg to the room without waiting for any receiver.
func (r *Relay) Send(ctx context.Context, roomID string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if r.limiter != nil && !r.limiter.Allow(roomID, msg.FromPrincipalID) {
		return apperr.CapacityExceeded("too many signaling messages, slow down")
	}

	ev, err := realtime.NewEvent(realtime.TableSignals, realtime.EventInsert, roomID, msg.FromPrincipalID, msg, r.now())
	if err != nil {
		return apperr.Unknown("failed to encode signal", err)
	}
	if err := r.feed.Publish(ctx, ev); err != nil {
		return apperr.Unknown("failed to relay signal", err)
	}
	return nil
}

// Stream delivers the messages of one room addressed to one recipient.
type Stream struct {
	messages chan Message
	sub      *realtime.Subscription
}

func (s *Stream) Messages() <-chan Message {
	return s.messages
}

// Err reports why the stream ended, realtime.ErrLagged if it fell behind.
func (s *Stream) Err() error {
	return s.sub.Err()
}

func (s *Stream) Close() {
	s.sub.Close()
}

// Subscribe follows the room's signals as recipient. The stream ends when
// ctx is cancelled or Close is called.
func (r *Relay) Subscribe(ctx context.Context, roomID string, recipient Recipient) (*Stream, error) {
	sub, err := r.feed.Subscribe(ctx, roomID, realtime.TableSignals)
	if err != nil {
		return nil, apperr.Unknown("failed to subscribe to signals", err)
	}

	stream := &Stream{messages: make(chan Message, 16), sub: sub}
	go func() {
		defer close(stream.messages)
		for ev := range sub.Events() {
			var msg Message
			if err := json.Unmarshal(ev.Record, &msg); err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Msg("Dropping malformed signal")
				continue
			}
			if !Deliverable(msg, recipient) {
				continue
			}
			select {
			case stream.messages <- msg:
			case <-sub.Done():
				return
			}
		}
	}()
	return stream, nil
}

// PruneLimiter forgets idle senders.
func (r *Relay) PruneLimiter() {
	if r.limiter != nil {
		r.limiter.Prune()
	}
}
