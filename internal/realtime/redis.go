package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisFeed relays events through Redis pub/sub so that every instance
// behind a load balancer sees the same room changes.
type RedisFeed struct {
	client redis.UniversalClient
	prefix string
	buffer int
}

func NewRedisFeed(client redis.UniversalClient, prefix string, buffer int) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix, buffer: buffer}
}

func (f *RedisFeed) channel(roomID string, table Table) string {
	return f.prefix + topic(roomID, table)
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel(ev.RoomID, ev.Table), data).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, roomID string, tables ...Table) (*Subscription, error) {
	if len(tables) == 0 {
		tables = RoomTables
	}
	channels := make([]string, 0, len(tables))
	for _, table := range tables {
		channels = append(channels, f.channel(roomID, table))
	}

	pubsub := f.client.Subscribe(ctx, channels...)
	// wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := newSubscription(f.buffer)
	sub.release = func() { _ = pubsub.Close() }

	go func() {
		messages := pubsub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					sub.finish(nil)
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed realtime event")
					continue
				}
				if !sub.deliver(ev) {
					sub.detach()
					return
				}
			case <-ctx.Done():
				sub.finish(nil)
				return
			case <-sub.Done():
				sub.detach()
				return
			}
		}
	}()

	return sub, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
