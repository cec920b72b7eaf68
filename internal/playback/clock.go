// Package playback keeps the authoritative playback state of each room.
// Only the host writes it; everybody derives the live position from it.
package playback

import (
	"context"
	"time"

	"tunesync-backend/internal/apperr"
	"tunesync-backend/internal/models"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

const maxRefLength = 255

type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
)

// PlayParams leaves a field unchanged when it is nil. An omitted position
// resumes from wherever playback currently is, or starts from 0 when the
// track or queue item changes.
type PlayParams struct {
	TrackURI    *string `json:"track_uri"`
	QueueItemID *string `json:"queue_item_id"`
	PositionMs  *int64  `json:"position_ms"`
}

type SkipParams struct {
	Direction   Direction `json:"direction"`
	TrackURI    *string   `json:"track_uri"`
	QueueItemID *string   `json:"queue_item_id"`
}

// SkipResult reports whether the skip named a concrete track. When it did
// not, nothing was written and the caller resolves the track and plays it.
type SkipResult struct {
	State     *models.PlaybackState `json:"state"`
	Direction Direction             `json:"direction"`
	Resolved  bool                  `json:"resolved"`
}

type Clock struct {
	rooms  *repository.RoomRepository
	states *repository.PlaybackRepository
	feed   realtime.Feed
	now    func() time.Time
}

func NewClock(rooms *repository.RoomRepository, states *repository.PlaybackRepository, feed realtime.Feed, now func() time.Time) *Clock {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Clock{rooms: rooms, states: states, feed: feed, now: now}
}

// Interpolate returns the position a client should display at now.
func Interpolate(state *models.PlaybackState, now time.Time) int64 {
	if state == nil {
		return 0
	}
	position := state.PositionMs
	if state.IsPlaying && state.StartedAt != nil {
		position += now.Sub(*state.StartedAt).Milliseconds()
	}
	if position < 0 {
		return 0
	}
	return position
}

// Get returns the playback state of a room, idle if it never played
func (c *Clock) Get(ctx context.Context, roomID string) (*models.PlaybackState, error) {
	room, err := c.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, apperr.Unknown("failed to look up room", err)
	}
	if room == nil {
		return nil, apperr.NotFound("room not found")
	}
	state, _, err := c.current(ctx, roomID)
	return state, err
}

func (c *Clock) Play(ctx context.Context, roomID, requester string, params PlayParams) (*models.PlaybackState, error) {
	if params.PositionMs != nil {
		if err := validatePosition(*params.PositionMs); err != nil {
			return nil, err
		}
	}
	if err := validateRefs(params.TrackURI, params.QueueItemID); err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, roomID, requester); err != nil {
		return nil, err
	}

	state, existed, err := c.current(ctx, roomID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	switch {
	case params.PositionMs != nil:
		state.PositionMs = *params.PositionMs
	case changesItem(state, params):
		state.PositionMs = 0
	default:
		state.PositionMs = Interpolate(state, now)
	}
	if params.TrackURI != nil {
		state.CurrentTrackURI = params.TrackURI
	}
	if params.QueueItemID != nil {
		state.CurrentQueueItemID = params.QueueItemID
	}
	state.IsPlaying = true
	state.StartedAt = &now

	return c.save(ctx, state, existed, "play")
}

func changesItem(state *models.PlaybackState, params PlayParams) bool {
	return differs(params.TrackURI, state.CurrentTrackURI) || differs(params.QueueItemID, state.CurrentQueueItemID)
}

// differs reports whether next names a value other than current.
func differs(next, current *string) bool {
	if next == nil {
		return false
	}
	return current == nil || *next != *current
}

func (c *Clock) Pause(ctx context.Context, roomID, requester string, positionMs int64) (*models.PlaybackState, error) {
	if err := validatePosition(positionMs); err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, roomID, requester); err != nil {
		return nil, err
	}

	state, existed, err := c.current(ctx, roomID)
	if err != nil {
		return nil, err
	}
	state.IsPlaying = false
	state.StartedAt = nil
	state.PositionMs = positionMs

	return c.save(ctx, state, existed, "pause")
}

func (c *Clock) Seek(ctx context.Context, roomID, requester string, positionMs int64) (*models.PlaybackState, error) {
	if err := validatePosition(positionMs); err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, roomID, requester); err != nil {
		return nil, err
	}

	state, existed, err := c.current(ctx, roomID)
	if err != nil {
		return nil, err
	}
	state.PositionMs = positionMs
	if state.IsPlaying {
		now := c.now()
		state.StartedAt = &now
	}

	return c.save(ctx, state, existed, "seek")
}

func (c *Clock) Skip(ctx context.Context, roomID, requester string, params SkipParams) (*SkipResult, error) {
	if params.Direction != DirectionNext && params.Direction != DirectionPrevious {
		return nil, apperr.Validation("direction must be next or previous")
	}
	if err := validateRefs(params.TrackURI, params.QueueItemID); err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, roomID, requester); err != nil {
		return nil, err
	}

	if params.TrackURI == nil {
		state, _, err := c.current(ctx, roomID)
		if err != nil {
			return nil, err
		}
		return &SkipResult{State: state, Direction: params.Direction}, nil
	}

	start := int64(0)
	state, err := c.Play(ctx, roomID, requester, PlayParams{
		TrackURI:    params.TrackURI,
		QueueItemID: params.QueueItemID,
		PositionMs:  &start,
	})
	if err != nil {
		return nil, err
	}
	return &SkipResult{State: state, Direction: params.Direction, Resolved: true}, nil
}

func (c *Clock) authorize(ctx context.Context, roomID, requester string) error {
	room, err := c.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return apperr.Unknown("failed to look up room", err)
	}
	if room == nil {
		return apperr.NotFound("room not found")
	}
	if requester == "" || requester != room.HostPrincipalID {
		return apperr.PermissionDenied("only the host can control playback")
	}
	return nil
}

func (c *Clock) current(ctx context.Context, roomID string) (*models.PlaybackState, bool, error) {
	state, err := c.states.GetState(ctx, roomID)
	if err != nil {
		return nil, false, apperr.Unknown("failed to load playback state", err)
	}
	if state == nil {
		return models.IdlePlayback(roomID), false, nil
	}
	return state, true, nil
}

func (c *Clock) save(ctx context.Context, state *models.PlaybackState, existed bool, action string) (*models.PlaybackState, error) {
	now := c.now()
	state.UpdatedAt = now
	if err := c.states.SaveState(ctx, state); err != nil {
		return nil, apperr.Unknown("failed to save playback state", err)
	}

	log.Debug().
		Str("room_id", state.RoomID).
		Str("action", action).
		Bool("playing", state.IsPlaying).
		Int64("position_ms", state.PositionMs).
		Msg("Playback updated")

	eventType := realtime.EventUpdate
	if !existed {
		eventType = realtime.EventInsert
	}
	realtime.Emit(ctx, c.feed, realtime.TablePlayback, eventType, state.RoomID, state.RoomID, state, now)
	return state, nil
}

func validatePosition(positionMs int64) error {
	if positionMs < 0 {
		return apperr.Validation("position_ms must not be negative")
	}
	return nil
}

func validateRefs(trackURI, queueItemID *string) error {
	if trackURI != nil && (*trackURI == "" || len(*trackURI) > maxRefLength) {
		return apperr.Validation("track_uri must be between 1 and 255 characters")
	}
	if queueItemID != nil && len(*queueItemID) > 64 {
		return apperr.Validation("queue_item_id must be at most 64 characters")
	}
	return nil
}
