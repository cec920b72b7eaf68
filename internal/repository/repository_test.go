package repository_test

import (
	"context"
	"testing"
	"time"

	"tunesync-backend/internal/models"
	"tunesync-backend/internal/repository"
	"tunesync-backend/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(code, host string, createdAt time.Time) *models.Room {
	return &models.Room{
		ID:              uuid.New().String(),
		Code:            code,
		Name:            "Room " + code,
		HostPrincipalID: host,
		IsActive:        true,
		Settings:        models.RoomSettings{MaxParticipants: 20},
		CreatedAt:       createdAt,
	}
}

func TestCreateRoomInsertsHostParticipant(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)
	participants := repository.NewParticipantRepository(db)
	ctx := context.Background()

	room := newRoom("ABC123", "host-1", time.Now().UTC())
	require.NoError(t, rooms.CreateRoom(ctx, room))

	list, err := participants.ListByRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsHost)
	assert.Equal(t, "host-1", *list[0].PrincipalID)
	assert.Equal(t, models.StatusConnected, list[0].ConnectionStatus)
}

func TestCreateRoomDuplicateCodeAndHost(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)
	ctx := context.Background()

	require.NoError(t, rooms.CreateRoom(ctx, newRoom("ABC123", "host-1", time.Now().UTC())))

	err := rooms.CreateRoom(ctx, newRoom("ABC123", "host-2", time.Now().UTC()))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	err = rooms.CreateRoom(ctx, newRoom("XYZ789", "host-1", time.Now().UTC()))
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestGetRoomMissingReturnsNil(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)

	room, err := rooms.GetRoomByCode(context.Background(), "NOPE00")
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestDeleteRoomsCascades(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)
	participants := repository.NewParticipantRepository(db)
	playback := repository.NewPlaybackRepository(db)
	ctx := context.Background()

	room := newRoom("ABC123", "host-1", time.Now().UTC())
	require.NoError(t, rooms.CreateRoom(ctx, room))
	require.NoError(t, playback.SaveState(ctx, &models.PlaybackState{RoomID: room.ID, PositionMs: 10}))

	deleted, err := rooms.DeleteRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	list, err := participants.ListByRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	state, err := playback.GetState(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, state)

	deleted, err = rooms.DeleteRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestHostDisconnectAndReconnectFlipRoom(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)
	participants := repository.NewParticipantRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	room := newRoom("ABC123", "host-1", now)
	require.NoError(t, rooms.CreateRoom(ctx, room))
	host, err := participants.FindByPrincipal(ctx, room.ID, "host-1")
	require.NoError(t, err)
	require.NotNil(t, host)

	changed, flipped, err := participants.MarkDisconnected(ctx, host, now)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, flipped)
	assert.False(t, flipped.IsActive)

	changed, flipped, err = participants.MarkDisconnected(ctx, host, now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, flipped)

	flipped, err = participants.Reconnect(ctx, host, now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, flipped)
	assert.True(t, flipped.IsActive)
	assert.Nil(t, host.DisconnectedAt)
}

func TestFindAbandonedAndExpired(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)
	participants := repository.NewParticipantRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newRoom("STALE1", "host-1", now)
	fresh := newRoom("FRESH1", "host-2", now)
	old := newRoom("OLD001", "host-3", now.Add(-7*time.Hour))
	for _, r := range []*models.Room{stale, fresh, old} {
		require.NoError(t, rooms.CreateRoom(ctx, r))
	}

	staleHost, err := participants.FindByPrincipal(ctx, stale.ID, "host-1")
	require.NoError(t, err)
	_, _, err = participants.MarkDisconnected(ctx, staleHost, now.Add(-2*time.Minute))
	require.NoError(t, err)

	freshHost, err := participants.FindByPrincipal(ctx, fresh.ID, "host-2")
	require.NoError(t, err)
	_, _, err = participants.MarkDisconnected(ctx, freshHost, now.Add(-10*time.Second))
	require.NoError(t, err)

	abandoned, err := rooms.FindAbandoned(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, abandoned)

	expired, err := rooms.FindCreatedBefore(ctx, now.Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, expired)
}

func TestFindAbandonedWithoutHostRow(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)
	participants := repository.NewParticipantRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	room := newRoom("LEFT01", "host-1", now)
	require.NoError(t, rooms.CreateRoom(ctx, room))
	host, err := participants.FindByPrincipal(ctx, room.ID, "host-1")
	require.NoError(t, err)

	_, flipped, err := participants.Delete(ctx, room.ID, host.ID)
	require.NoError(t, err)
	require.NotNil(t, flipped)
	assert.False(t, flipped.IsActive)

	abandoned, err := rooms.FindAbandoned(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, abandoned)

	abandoned, err = rooms.FindAbandoned(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{room.ID}, abandoned)
}

func TestCreateHostParticipantReactivatesRoom(t *testing.T) {
	db := testutil.NewDB(t)
	rooms := repository.NewRoomRepository(db)
	participants := repository.NewParticipantRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	room := newRoom("BACK01", "host-1", now)
	require.NoError(t, rooms.CreateRoom(ctx, room))
	host, err := participants.FindByPrincipal(ctx, room.ID, "host-1")
	require.NoError(t, err)
	_, _, err = participants.Delete(ctx, room.ID, host.ID)
	require.NoError(t, err)

	principal := "guest-1"
	flipped, err := participants.Create(ctx, &models.Participant{
		ID:               uuid.New().String(),
		RoomID:           room.ID,
		PrincipalID:      &principal,
		ConnectionStatus: models.StatusConnected,
		JoinedAt:         now,
	})
	require.NoError(t, err)
	assert.Nil(t, flipped)

	principal = "host-1"
	flipped, err = participants.Create(ctx, &models.Participant{
		ID:               uuid.New().String(),
		RoomID:           room.ID,
		PrincipalID:      &principal,
		IsHost:           true,
		ConnectionStatus: models.StatusConnected,
		JoinedAt:         now,
	})
	require.NoError(t, err)
	require.NotNil(t, flipped)
	assert.True(t, flipped.IsActive)

	abandoned, err := rooms.FindAbandoned(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, abandoned)
}

func TestCleanupThrottleUpsert(t *testing.T) {
	db := testutil.NewDB(t)
	throttle := repository.NewCleanupRepository(db)
	ctx := context.Background()

	_, found, err := throttle.LastRun(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	first := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, throttle.MarkRun(ctx, first))
	require.NoError(t, throttle.MarkRun(ctx, first.Add(time.Minute)))

	last, found, err := throttle.LastRun(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, last.Equal(first.Add(time.Minute)))
}
