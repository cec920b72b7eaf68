// Package cleanup reaps abandoned and expired rooms, at most once per
// window across all instances sharing the store.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

type Options struct {
	Window    time.Duration
	HostGrace time.Duration
	MaxAge    time.Duration
	Timeout   time.Duration
	Now       func() time.Time
}

type Result struct {
	Skipped         bool      `json:"skipped"`
	InactiveDeleted int64     `json:"inactive_deleted"`
	ExpiredDeleted  int64     `json:"expired_deleted"`
	RanAt           time.Time `json:"ran_at"`
}

type Reaper struct {
	rooms    *repository.RoomRepository
	throttle *repository.CleanupRepository
	feed     realtime.Feed
	opts     Options
	wg       sync.WaitGroup
}

func NewReaper(rooms *repository.RoomRepository, throttle *repository.CleanupRepository, feed realtime.Feed, opts Options) *Reaper {
	if opts.Window <= 0 {
		opts.Window = 2 * time.Minute
	}
	if opts.HostGrace <= 0 {
		opts.HostGrace = time.Minute
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 6 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Reaper{rooms: rooms, throttle: throttle, feed: feed, opts: opts}
}

// Run reaps unless another run happened within the window.
func (r *Reaper) Run(ctx context.Context) (*Result, error) {
	now := r.opts.Now()

	last, found, err := r.throttle.LastRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cleanup throttle: %w", err)
	}
	if found && now.Sub(last) < r.opts.Window {
		return &Result{Skipped: true, RanAt: last}, nil
	}

	return r.reap(ctx, now)
}

// Force reaps regardless of the throttle window.
func (r *Reaper) Force(ctx context.Context) (*Result, error) {
	return r.reap(ctx, r.opts.Now())
}

func (r *Reaper) reap(ctx context.Context, now time.Time) (*Result, error) {
	// claim the window before deleting anything
	if err := r.throttle.MarkRun(ctx, now); err != nil {
		return nil, fmt.Errorf("write cleanup throttle: %w", err)
	}

	result := &Result{RanAt: now}

	abandoned, err := r.rooms.FindAbandoned(ctx, now.Add(-r.opts.HostGrace))
	if err != nil {
		return nil, fmt.Errorf("find abandoned rooms: %w", err)
	}
	result.InactiveDeleted, err = r.delete(ctx, abandoned, now)
	if err != nil {
		return nil, fmt.Errorf("delete abandoned rooms: %w", err)
	}

	expired, err := r.rooms.FindCreatedBefore(ctx, now.Add(-r.opts.MaxAge))
	if err != nil {
		return nil, fmt.Errorf("find expired rooms: %w", err)
	}
	result.ExpiredDeleted, err = r.delete(ctx, expired, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired rooms: %w", err)
	}

	if result.InactiveDeleted > 0 || result.ExpiredDeleted > 0 {
		log.Info().
			Str("module", "cleanup").
			Int64("inactive", result.InactiveDeleted).
			Int64("expired", result.ExpiredDeleted).
			Msg("Rooms reaped")
	}
	return result, nil
}

func (r *Reaper) delete(ctx context.Context, roomIDs []string, now time.Time) (int64, error) {
	if len(roomIDs) == 0 {
		return 0, nil
	}
	deleted, err := r.rooms.DeleteRooms(ctx, roomIDs)
	if err != nil {
		return 0, err
	}
	for _, id := range roomIDs {
		realtime.Emit(ctx, r.feed, realtime.TableRooms, realtime.EventDelete, id, id, map[string]string{"id": id}, now)
	}
	return deleted, nil
}

// Trigger runs the reaper in the background. Failures are logged only.
func (r *Reaper) Trigger() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
		defer cancel()

		result, err := r.Run(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "cleanup").Msg("Cleanup run failed")
			return
		}
		if result.Skipped {
			log.Debug().Str("module", "cleanup").Time("last_run", result.RanAt).Msg("Cleanup skipped, ran recently")
		}
	}()
}

// Wait blocks until triggered runs have finished.
func (r *Reaper) Wait() {
	r.wg.Wait()
}
