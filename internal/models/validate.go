package models

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"tunesync-backend/internal/apperr"
)

const (
	RoomCodeLength    = 6
	RoomCodeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	MaxRoomNameLength = 50
	MaxNicknameLength = 30
	DefaultMaxMembers = 20
	MaxAllowedMembers = 500
)

var (
	roomCodeRe = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	nicknameRe = regexp.MustCompile(`^[A-Za-z0-9 _-]+$`)
)

// NormalizeRoomCode trims and uppercases a user supplied room code.
func NormalizeRoomCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !roomCodeRe.MatchString(normalized) {
		return "", apperr.Validation("room code must be 6 letters or digits")
	}
	return normalized, nil
}

// NormalizeRoomName trims a room name and checks its length.
func NormalizeRoomName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", apperr.Validation("room name is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxRoomNameLength {
		return "", apperr.Validation("room name must be at most 50 characters")
	}
	return trimmed, nil
}

// NormalizeNickname trims a nickname and checks its length and alphabet.
func NormalizeNickname(nickname string) (string, error) {
	trimmed := strings.TrimSpace(nickname)
	if trimmed == "" {
		return "", apperr.Validation("nickname is required")
	}
	if len(trimmed) > MaxNicknameLength {
		return "", apperr.Validation("nickname must be at most 30 characters")
	}
	if !nicknameRe.MatchString(trimmed) {
		return "", apperr.Validation("nickname may only contain letters, digits, spaces, dashes and underscores")
	}
	return trimmed, nil
}

// NormalizeSettings applies defaults and bounds to room settings.
func NormalizeSettings(s RoomSettings, defaultMax int) (RoomSettings, error) {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxMembers
	}
	if s.MaxParticipants == 0 {
		s.MaxParticipants = defaultMax
	}
	if s.MaxParticipants < 1 || s.MaxParticipants > MaxAllowedMembers {
		return s, apperr.Validation("max_participants must be between 1 and 500")
	}
	return s, nil
}
