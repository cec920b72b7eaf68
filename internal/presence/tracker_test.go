package presence

import (
	"context"
	"testing"
	"time"

	"tunesync-backend/internal/apperr"
	"tunesync-backend/internal/models"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/repository"
	"tunesync-backend/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCleaner struct{ calls int }

func (c *nopCleaner) Trigger() { c.calls++ }

type fixture struct {
	tracker *Tracker
	rooms   *repository.RoomRepository
	feed    *realtime.MemoryFeed
	cleaner *nopCleaner
	clock   *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	feed := realtime.NewMemoryFeed(32)
	t.Cleanup(func() { _ = feed.Close() })
	clock := testutil.NewClock()
	cleaner := &nopCleaner{}
	rooms := repository.NewRoomRepository(db)

	return &fixture{
		tracker: NewTracker(rooms, repository.NewParticipantRepository(db), feed, cleaner, clock.Now),
		rooms:   rooms,
		feed:    feed,
		cleaner: cleaner,
		clock:   clock,
	}
}

func (f *fixture) createRoom(t *testing.T, code, host string, max int) *models.Room {
	t.Helper()
	room := &models.Room{
		ID:              uuid.New().String(),
		Code:            code,
		Name:            "Room",
		HostPrincipalID: host,
		IsActive:        true,
		Settings:        models.RoomSettings{MaxParticipants: max},
		CreatedAt:       f.clock.Now(),
	}
	require.NoError(t, f.rooms.CreateRoom(context.Background(), room))
	return room
}

func TestJoinRequiresExactlyOneIdentity(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{PrincipalID: "p", Nickname: "n"}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "bad!name"}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t)

	_, err := f.tracker.Join(context.Background(), JoinParams{RoomCode: "NOPE00", Identity: Identity{Nickname: "ann"}})

	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestReconnectKeepsParticipantID(t *testing.T) {
	// Arrange
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()
	first, err := f.tracker.Join(ctx, JoinParams{RoomCode: "abc123", Identity: Identity{PrincipalID: "guest-1"}})
	require.NoError(t, err)
	require.False(t, first.Reconnected)

	_, err = f.tracker.Disconnect(ctx, room.ID, Identity{PrincipalID: "guest-1"})
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)

	// Act
	second, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{PrincipalID: "guest-1"}})

	// Assert
	require.NoError(t, err)
	assert.True(t, second.Reconnected)
	assert.Equal(t, first.Participant.ID, second.Participant.ID)
	assert.Equal(t, models.StatusConnected, second.Participant.ConnectionStatus)
	assert.Nil(t, second.Participant.DisconnectedAt)
	require.NotNil(t, second.Participant.ReconnectedAt)
	assert.True(t, second.Participant.ReconnectedAt.Equal(f.clock.Now()))
	assert.Equal(t, 2, f.cleaner.calls)
}

func TestHostDisconnectAndReconnectFlipActive(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()

	sub, err := f.feed.Subscribe(ctx, room.ID, realtime.TableRooms)
	require.NoError(t, err)
	defer sub.Close()

	res, err := f.tracker.Disconnect(ctx, room.ID, Identity{PrincipalID: "host-1"})
	require.NoError(t, err)
	assert.False(t, res.Noop)

	stored, err := f.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	ev := <-sub.Events()
	assert.Equal(t, realtime.EventUpdate, ev.Type)
	assert.Contains(t, string(ev.Record), `"is_active":false`)

	joined, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{PrincipalID: "host-1"}})
	require.NoError(t, err)
	assert.True(t, joined.Reconnected)
	assert.True(t, joined.Room.IsActive)
	assert.True(t, joined.Participant.IsHost)

	stored, err = f.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestJoinInactiveRoomIsAllowed(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()
	_, err := f.tracker.Disconnect(ctx, room.ID, Identity{PrincipalID: "host-1"})
	require.NoError(t, err)

	res, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})

	require.NoError(t, err)
	assert.False(t, res.Room.IsActive)
}

func TestCapacityExceeded(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 2)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)

	_, err = f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "bob"}})
	assert.True(t, apperr.IsKind(err, apperr.KindCapacityExceeded))

	// a slot frees up once someone disconnects, and reconnecting is never capped
	_, err = f.tracker.Disconnect(ctx, room.ID, Identity{Nickname: "ann"})
	require.NoError(t, err)
	_, err = f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "bob"}})
	require.NoError(t, err)
	res, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)
	assert.True(t, res.Reconnected)
}

func TestNicknameCollisionThenReuse(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()

	first, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)

	_, err = f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: " ann "}})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	_, err = f.tracker.Disconnect(ctx, room.ID, Identity{Nickname: "ann"})
	require.NoError(t, err)

	again, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)
	assert.True(t, again.Reconnected)
	assert.Equal(t, first.Participant.ID, again.Participant.ID)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()
	_, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)

	res, err := f.tracker.Disconnect(ctx, room.ID, Identity{Nickname: "ann"})
	require.NoError(t, err)
	assert.False(t, res.Noop)
	require.NotNil(t, res.Participant.DisconnectedAt)

	res, err = f.tracker.Disconnect(ctx, room.ID, Identity{Nickname: "ann"})
	require.NoError(t, err)
	assert.True(t, res.Noop)

	res, err = f.tracker.Disconnect(ctx, room.ID, Identity{Nickname: "nobody"})
	require.NoError(t, err)
	assert.True(t, res.Noop)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()
	joined, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)

	require.NoError(t, f.tracker.Leave(ctx, room.ID, joined.Participant.ID, Identity{Nickname: "ann"}))

	err = f.tracker.Leave(ctx, room.ID, joined.Participant.ID, Identity{Nickname: "ann"})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	participants, err := f.tracker.ListParticipants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.True(t, participants[0].IsHost)
}

func TestHostLeaveDeactivatesRoom(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()
	host, err := f.tracker.FindConnected(ctx, room.ID, Identity{PrincipalID: "host-1"})
	require.NoError(t, err)

	require.NoError(t, f.tracker.Leave(ctx, room.ID, host.ID, Identity{PrincipalID: "host-1"}))

	stored, err := f.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "host-1", stored.HostPrincipalID)
}

func TestLeaveOnlyRemovesOwnRow(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()
	host, err := f.tracker.FindConnected(ctx, room.ID, Identity{PrincipalID: "host-1"})
	require.NoError(t, err)
	ann, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)

	err = f.tracker.Leave(ctx, room.ID, host.ID, Identity{Nickname: "ann"})
	assert.True(t, apperr.IsKind(err, apperr.KindPermissionDenied))

	err = f.tracker.Leave(ctx, room.ID, ann.Participant.ID, Identity{PrincipalID: "host-1"})
	assert.True(t, apperr.IsKind(err, apperr.KindPermissionDenied))

	// a signed-in caller cannot pose as a guest with the same name
	err = f.tracker.Leave(ctx, room.ID, ann.Participant.ID, Identity{PrincipalID: "ann"})
	assert.True(t, apperr.IsKind(err, apperr.KindPermissionDenied))

	err = f.tracker.Leave(ctx, room.ID, host.ID, Identity{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	participants, err := f.tracker.ListParticipants(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	stored, err := f.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestHostRejoinAfterLeaveRestoresRoom(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 1)
	ctx := context.Background()
	host, err := f.tracker.FindConnected(ctx, room.ID, Identity{PrincipalID: "host-1"})
	require.NoError(t, err)
	require.NoError(t, f.tracker.Leave(ctx, room.ID, host.ID, Identity{PrincipalID: "host-1"}))

	// the only seat went to a guest meanwhile
	_, err = f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)

	sub, err := f.feed.Subscribe(ctx, room.ID, realtime.TableRooms)
	require.NoError(t, err)
	defer sub.Close()

	res, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{PrincipalID: "host-1"}})
	require.NoError(t, err)
	assert.False(t, res.Reconnected)
	assert.True(t, res.Participant.IsHost)
	assert.True(t, res.Room.IsActive)

	stored, err := f.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	ev := <-sub.Events()
	assert.Equal(t, realtime.EventUpdate, ev.Type)
	assert.Contains(t, string(ev.Record), `"is_active":true`)
}

func TestListParticipantsInJoinOrder(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, "ABC123", "host-1", 20)
	ctx := context.Background()

	f.clock.Advance(time.Second)
	_, err := f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{Nickname: "ann"}})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.tracker.Join(ctx, JoinParams{RoomCode: "ABC123", Identity: Identity{PrincipalID: "user-2"}})
	require.NoError(t, err)

	participants, err := f.tracker.ListParticipants(ctx, room.ID)

	require.NoError(t, err)
	require.Len(t, participants, 3)
	assert.Equal(t, "host-1", participants[0].Identity())
	assert.Equal(t, "nick:ann", participants[1].Identity())
	assert.Equal(t, "user-2", participants[2].Identity())

	_, err = f.tracker.ListParticipants(ctx, "missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
