package realtime

import (
	"tunesync-backend/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Open returns the feed selected by cfg. The redis driver shares events
// between every instance; the memory driver stays inside this process.
func Open(cfg *config.RealtimeConfig) Feed {
	if cfg.Driver != "redis" {
		log.Info().Msg("Using in-process realtime feed")
		return NewMemoryFeed(cfg.BufferSize)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	log.Info().Str("addr", cfg.RedisAddr).Msg("Using redis realtime feed")
	return NewRedisFeed(client, cfg.KeyPrefix, cfg.BufferSize)
}
