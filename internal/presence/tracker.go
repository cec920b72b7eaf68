// Package presence tracks who is in a room: joins, reconnects, disconnects
// and explicit leaves.
package presence

import (
	"context"
	"errors"
	"strings"
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

// Identity names a participant either by principal or by nickname.
type Identity struct {
	PrincipalID string `json:"principal_id,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
}

func (i Identity) validate() error {
	hasPrincipal := strings.TrimSpace(i.PrincipalID) != ""
	hasNickname := strings.TrimSpace(i.Nickname) != ""
	if hasPrincipal == hasNickname {
		return apperr.Validation("provide either a signed-in identity or a nickname")
	}
	if models.IsReservedPrincipal(strings.TrimSpace(i.PrincipalID)) {
		return apperr.Validation("principal id must not start with " + models.AnonymousIdentityPrefix)
	}
	return nil
}

// owns reports whether p is the row this identity joined as.
func (i Identity) owns(p *models.Participant) bool {
	if i.PrincipalID != "" {
		return p.PrincipalID != nil && *p.PrincipalID == i.PrincipalID
	}
	return p.IsAnonymous() && p.Nickname == i.Nickname
}

type JoinParams struct {
	RoomCode string
	Identity
}

type JoinResult struct {
	Room        *models.Room        `json:"room"`
	Participant *models.Participant `json:"participant"`
	Reconnected bool                `json:"reconnected"`
}

type DisconnectResult struct {
	Noop        bool                `json:"noop"`
	Participant *models.Participant `json:"participant,omitempty"`
}

type Tracker struct {
	rooms        *repository.RoomRepository
	participants *repository.ParticipantRepository
	feed         realtime.Feed
	cleaner      Cleaner
	now          func() time.Time
}

func NewTracker(rooms *repository.RoomRepository, participants *repository.ParticipantRepository, feed realtime.Feed, cleaner Cleaner, now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		rooms:        rooms,
		participants: participants,
		feed:         feed,
		cleaner:      cleaner,
		now:          now,
	}
}

// Join adds the caller to the room behind the code, or reconnects the
// participant row it already owns there.
func (t *Tracker) Join(ctx context.Context, params JoinParams) (*JoinResult, error) {
	if err := params.Identity.validate(); err != nil {
		return nil, err
	}

	identity := Identity{PrincipalID: strings.TrimSpace(params.PrincipalID)}
	if identity.PrincipalID == "" {
		nickname, err := models.NormalizeNickname(params.Nickname)
		if err != nil {
			return nil, err
		}
		identity.Nickname = nickname
	}

	code, err := models.NormalizeRoomCode(params.RoomCode)
	if err != nil {
		return nil, err
	}
	room, err := t.rooms.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, apperr.Unknown("failed to look up room", err)
	}
	if room == nil {
		return nil, apperr.NotFound("room not found")
	}

	existing, err := t.find(ctx, room.ID, identity)
	if err != nil {
		return nil, apperr.Unknown("failed to look up participant", err)
	}

	var result *JoinResult
	if existing != nil {
		result, err = t.reconnect(ctx, room, existing)
	} else {
		result, err = t.insert(ctx, room, identity)
	}
	if err != nil {
		return nil, err
	}

	if t.cleaner != nil {
		t.cleaner.Trigger()
	}
	return result, nil
}

func (t *Tracker) reconnect(ctx context.Context, room *models.Room, p *models.Participant) (*JoinResult, error) {
	if p.IsAnonymous() && p.IsConnected() {
		return nil, apperr.Conflict("nickname is already taken in this room", nil)
	}

	now := t.now()
	flipped, err := t.participants.Reconnect(ctx, p, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("participant not found")
		}
		return nil, apperr.Unknown("failed to reconnect participant", err)
	}

	log.Info().Str("room_id", room.ID).Str("participant_id", p.ID).Str("identity", p.Identity()).Msg("Participant reconnected")
	realtime.Emit(ctx, t.feed, realtime.TableParticipants, realtime.EventUpdate, room.ID, p.ID, p, now)
	if flipped != nil {
		room = flipped
		realtime.Emit(ctx, t.feed, realtime.TableRooms, realtime.EventUpdate, room.ID, room.ID, room, now)
	}

	return &JoinResult{Room: room, Participant: p, Reconnected: true}, nil
}

func (t *Tracker) insert(ctx context.Context, room *models.Room, identity Identity) (*JoinResult, error) {
	// the host whose row was removed by a leave takes its seat back
	isHost := identity.PrincipalID != "" && identity.PrincipalID == room.HostPrincipalID
	if !isHost {
		connected, err := t.participants.CountConnected(ctx, room.ID)
		if err != nil {
			return nil, apperr.Unknown("failed to count participants", err)
		}
		if connected >= int64(room.Settings.MaxParticipants) {
			return nil, apperr.CapacityExceeded("room is full")
		}
	}

	now := t.now()
	participant := &models.Participant{
		ID:               uuid.New().String(),
		RoomID:           room.ID,
		Nickname:         identity.Nickname,
		IsHost:           isHost,
		ConnectionStatus: models.StatusConnected,
		JoinedAt:         now,
	}
	if identity.PrincipalID != "" {
		principal := identity.PrincipalID
		participant.PrincipalID = &principal
	}

	flipped, err := t.participants.Create(ctx, participant)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// lost a race with a concurrent join under the same identity
			return nil, apperr.Conflict("nickname is already taken in this room", nil)
		}
		return nil, apperr.Unknown("failed to add participant", err)
	}

	log.Info().Str("room_id", room.ID).Str("participant_id", participant.ID).Str("identity", participant.Identity()).Bool("host", isHost).Msg("Participant joined")
	realtime.Emit(ctx, t.feed, realtime.TableParticipants, realtime.EventInsert, room.ID, participant.ID, participant, now)
	if flipped != nil {
		room = flipped
		realtime.Emit(ctx, t.feed, realtime.TableRooms, realtime.EventUpdate, room.ID, room.ID, room, now)
	}

	return &JoinResult{Room: room, Participant: participant}, nil
}

// Disconnect marks the matching connected participant as disconnected. A
// missing or already disconnected participant is reported as a no-op.
func (t *Tracker) Disconnect(ctx context.Context, roomID string, identity Identity) (*DisconnectResult, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}
	identity.PrincipalID = strings.TrimSpace(identity.PrincipalID)
	identity.Nickname = strings.TrimSpace(identity.Nickname)

	participant, err := t.find(ctx, roomID, identity)
	if err != nil {
		return nil, apperr.Unknown("failed to look up participant", err)
	}
	if participant == nil || !participant.IsConnected() {
		return &DisconnectResult{Noop: true}, nil
	}

	now := t.now()
	changed, flipped, err := t.participants.MarkDisconnected(ctx, participant, now)
	if err != nil {
		return nil, apperr.Unknown("failed to disconnect participant", err)
	}
	if !changed {
		return &DisconnectResult{Noop: true}, nil
	}

	log.Info().Str("room_id", roomID).Str("participant_id", participant.ID).Bool("host", participant.IsHost).Msg("Participant disconnected")
	realtime.Emit(ctx, t.feed, realtime.TableParticipants, realtime.EventUpdate, roomID, participant.ID, participant, now)
	if flipped != nil {
		realtime.Emit(ctx, t.feed, realtime.TableRooms, realtime.EventUpdate, roomID, roomID, flipped, now)
	}

	return &DisconnectResult{Participant: participant}, nil
}

// Leave removes the caller's own participant row for good. The host leaving
// deactivates the room; hosting is never handed over.
func (t *Tracker) Leave(ctx context.Context, roomID, participantID string, identity Identity) error {
	if err := identity.validate(); err != nil {
		return err
	}
	identity.PrincipalID = strings.TrimSpace(identity.PrincipalID)
	identity.Nickname = strings.TrimSpace(identity.Nickname)

	participant, err := t.participants.GetParticipant(ctx, roomID, participantID)
	if err != nil {
		return apperr.Unknown("failed to look up participant", err)
	}
	if participant == nil {
		return apperr.NotFound("participant not found")
	}
	if !identity.owns(participant) {
		return apperr.PermissionDenied("participants can only remove themselves")
	}

	removed, flipped, err := t.participants.Delete(ctx, roomID, participantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("participant not found")
		}
		return apperr.Unknown("failed to remove participant", err)
	}

	now := t.now()
	log.Info().Str("room_id", roomID).Str("participant_id", participantID).Msg("Participant left")
	realtime.Emit(ctx, t.feed, realtime.TableParticipants, realtime.EventDelete, roomID, removed.ID, removed, now)
	if flipped != nil {
		realtime.Emit(ctx, t.feed, realtime.TableRooms, realtime.EventUpdate, roomID, roomID, flipped, now)
	}
	return nil
}

// ListParticipants returns the participants of a room in join order
func (t *Tracker) ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	room, err := t.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, apperr.Unknown("failed to look up room", err)
	}
	if room == nil {
		return nil, apperr.NotFound("room not found")
	}

	participants, err := t.participants.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, apperr.Unknown("failed to list participants", err)
	}
	return participants, nil
}

// FindConnected returns the connected participant of a room matching identity.
func (t *Tracker) FindConnected(ctx context.Context, roomID string, identity Identity) (*models.Participant, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}
	identity.PrincipalID = strings.TrimSpace(identity.PrincipalID)
	identity.Nickname = strings.TrimSpace(identity.Nickname)

	participant, err := t.find(ctx, roomID, identity)
	if err != nil {
		return nil, apperr.Unknown("failed to look up participant", err)
	}
	if participant == nil || !participant.IsConnected() {
		return nil, apperr.NotFound("not a connected participant of this room")
	}
	return participant, nil
}

func (t *Tracker) find(ctx context.Context, roomID string, identity Identity) (*models.Participant, error) {
	if identity.PrincipalID != "" {
		return t.participants.FindByPrincipal(ctx, roomID, identity.PrincipalID)
	}
	return t.participants.FindAnonymous(ctx, roomID, identity.Nickname)
}
