package models

import (
	"strings"
	"testing"

	"tunesync-backend/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoomCode(t *testing.T) {
	code, err := NormalizeRoomCode("  abc123 ")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", code)

	_, err = NormalizeRoomCode("abc12")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = NormalizeRoomCode("abc-12")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestNormalizeRoomName(t *testing.T) {
	name, err := NormalizeRoomName("  Friday mix ")
	require.NoError(t, err)
	assert.Equal(t, "Friday mix", name)

	_, err = NormalizeRoomName("   ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = NormalizeRoomName(strings.Repeat("x", 51))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestNormalizeNickname(t *testing.T) {
	nick, err := NormalizeNickname(" Alex_2-b ")
	require.NoError(t, err)
	assert.Equal(t, "Alex_2-b", nick)

	_, err = NormalizeNickname("alex!")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = NormalizeNickname(strings.Repeat("a", 31))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestNormalizeSettings(t *testing.T) {
	s, err := NormalizeSettings(RoomSettings{}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMembers, s.MaxParticipants)

	s, err = NormalizeSettings(RoomSettings{MaxParticipants: 2}, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, s.MaxParticipants)

	_, err = NormalizeSettings(RoomSettings{MaxParticipants: -1}, 20)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestParticipantIdentityNamespaces(t *testing.T) {
	principal := "host-1"
	signedIn := Participant{PrincipalID: &principal}
	guest := Participant{Nickname: "host-1"}

	assert.Equal(t, "host-1", signedIn.Identity())
	assert.Equal(t, "nick:host-1", guest.Identity())
	assert.NotEqual(t, signedIn.Identity(), guest.Identity())

	assert.True(t, IsReservedPrincipal(guest.Identity()))
	assert.False(t, IsReservedPrincipal("host-1"))
}
