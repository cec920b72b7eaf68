// Package rooms owns the room lifecycle: creation by a premium host, lookup,
// discovery and termination.
package rooms

import (
	"context"
	"errors"
	"time"

	"tunesync-backend/internal/apperr"
	"tunesync-backend/internal/models"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Cleaner starts a cleanup pass without waiting for it.
type Cleaner interface {
	Trigger()
}

// Host is the identity asking to create a room.
type Host struct {
	PrincipalID string
	Premium     bool
}

type CreateParams struct {
	Name     string              `json:"name"`
	IsPublic bool                `json:"is_public"`
	Settings models.RoomSettings `json:"settings"`
}

// RoomSummary is a room with its connected participant count.
type RoomSummary struct {
	models.Room
	ParticipantCount int64 `json:"participant_count"`
}

type Options struct {
	DefaultMaxParticipants int
	CodeAttempts           int
	Now                    func() time.Time
	GenerateCode           func() (string, error)
}

type Registry struct {
	rooms   *repository.RoomRepository
	feed    realtime.Feed
	cleaner Cleaner
	opts    Options
}

func NewRegistry(rooms *repository.RoomRepository, feed realtime.Feed, cleaner Cleaner, opts Options) *Registry {
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = 10
	}
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = models.DefaultMaxMembers
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.GenerateCode == nil {
		opts.GenerateCode = GenerateCode
	}
	return &Registry{rooms: rooms, feed: feed, cleaner: cleaner, opts: opts}
}

// CreateRoom creates a room hosted by host together with its host participant
func (r *Registry) CreateRoom(ctx context.Context, host Host, params CreateParams) (*models.Room, error) {
	if host.PrincipalID == "" {
		return nil, apperr.PermissionDenied("sign in to host a room")
	}
	if !host.Premium {
		return nil, apperr.PermissionDenied("a premium account is required to host a room")
	}

	name, err := models.NormalizeRoomName(params.Name)
	if err != nil {
		return nil, err
	}
	settings, err := models.NormalizeSettings(params.Settings, r.opts.DefaultMaxParticipants)
	if err != nil {
		return nil, err
	}

	existing, err := r.rooms.GetRoomByHost(ctx, host.PrincipalID)
	if err != nil {
		return nil, apperr.Unknown("failed to look up existing room", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("you already host a room", existing)
	}

	for attempt := 0; attempt < r.opts.CodeAttempts; attempt++ {
		code, err := r.opts.GenerateCode()
		if err != nil {
			return nil, apperr.Unknown("failed to generate room code", err)
		}

		now := r.opts.Now()
		room := &models.Room{
			ID:              uuid.New().String(),
			Code:            code,
			Name:            name,
			HostPrincipalID: host.PrincipalID,
			IsActive:        true,
			IsPublic:        params.IsPublic,
			Settings:        settings,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		err = r.rooms.CreateRoom(ctx, room)
		if err == nil {
			log.Info().Str("room_id", room.ID).Str("code", room.Code).Str("host", host.PrincipalID).Msg("Room created")
			realtime.Emit(ctx, r.feed, realtime.TableRooms, realtime.EventInsert, room.ID, room.ID, room, now)
			if room.Host != nil {
				realtime.Emit(ctx, r.feed, realtime.TableParticipants, realtime.EventInsert, room.ID, room.Host.ID, room.Host, now)
			}
			r.triggerCleanup()
			return room, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Unknown("failed to create room", err)
		}

		// either the code or the host index collided
		existing, lookupErr := r.rooms.GetRoomByHost(ctx, host.PrincipalID)
		if lookupErr != nil {
			return nil, apperr.Unknown("failed to look up existing room", lookupErr)
		}
		if existing != nil {
			return nil, apperr.Conflict("you already host a room", existing)
		}
		log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("Room code collision, retrying")
	}

	return nil, apperr.Unknown("could not allocate a unique room code", nil)
}

// GetRoomByCode looks a room up by its case-insensitive code
func (r *Registry) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	normalized, err := models.NormalizeRoomCode(code)
	if err != nil {
		return nil, err
	}

	room, err := r.rooms.GetRoomByCode(ctx, normalized)
	if err != nil {
		return nil, apperr.Unknown("failed to look up room", err)
	}
	if room == nil {
		return nil, apperr.NotFound("room not found")
	}
	return room, nil
}

func (r *Registry) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, apperr.Unknown("failed to look up room", err)
	}
	if room == nil {
		return nil, apperr.NotFound("room not found")
	}
	return room, nil
}

// ListPublicRooms returns public rooms whose host is connected, newest first
func (r *Registry) ListPublicRooms(ctx context.Context) ([]RoomSummary, error) {
	rooms, err := r.rooms.ListPublicActive(ctx)
	if err != nil {
		return nil, apperr.Unknown("failed to list rooms", err)
	}
	return r.summarize(ctx, rooms)
}

// ListAllRooms returns every room regardless of visibility or activity
func (r *Registry) ListAllRooms(ctx context.Context) ([]RoomSummary, error) {
	rooms, err := r.rooms.GetAllRooms(ctx)
	if err != nil {
		return nil, apperr.Unknown("failed to list rooms", err)
	}
	return r.summarize(ctx, rooms)
}

func (r *Registry) summarize(ctx context.Context, rooms []models.Room) ([]RoomSummary, error) {
	ids := make([]string, 0, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
	}
	counts, err := r.rooms.CountConnected(ctx, ids)
	if err != nil {
		return nil, apperr.Unknown("failed to count participants", err)
	}

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, RoomSummary{Room: room, ParticipantCount: counts[room.ID]})
	}
	return summaries, nil
}

// GetMyRoom returns the room hosted by principalID, if any
func (r *Registry) GetMyRoom(ctx context.Context, principalID string) (*models.Room, bool, error) {
	room, err := r.rooms.GetRoomByHost(ctx, principalID)
	if err != nil {
		return nil, false, apperr.Unknown("failed to look up room", err)
	}
	return room, room != nil, nil
}

// TerminateRoom deletes a room and everything it owns. Only the host may do so.
func (r *Registry) TerminateRoom(ctx context.Context, roomID, requester string) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if requester == "" || room.HostPrincipalID != requester {
		return apperr.PermissionDenied("only the host can end the room")
	}
	return r.delete(ctx, room)
}

// ForceTerminate deletes a room without a host check, for operators
func (r *Registry) ForceTerminate(ctx context.Context, roomID string) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	return r.delete(ctx, room)
}

func (r *Registry) delete(ctx context.Context, room *models.Room) error {
	deleted, err := r.rooms.DeleteRoom(ctx, room.ID)
	if err != nil {
		return apperr.Unknown("failed to delete room", err)
	}
	if !deleted {
		return apperr.NotFound("room not found")
	}

	log.Info().Str("room_id", room.ID).Str("code", room.Code).Msg("Room terminated")
	realtime.Emit(ctx, r.feed, realtime.TableRooms, realtime.EventDelete, room.ID, room.ID, room, r.opts.Now())
	return nil
}

func (r *Registry) triggerCleanup() {
	if r.cleaner != nil {
		r.cleaner.Trigger()
	}
}
