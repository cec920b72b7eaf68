package handlers

import (
	"tunesync-backend/internal/models"
	"tunesync-backend/internal/playback"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error" example:"Error message"`
}

// CreateRoomRequest represents the request body for creating a new room
type CreateRoomRequest struct {
	Name     string              `json:"name" example:"Friday mix"`
	IsPublic bool                `json:"is_public" example:"true"`
	Settings models.RoomSettings `json:"settings"`
}

// JoinRoomRequest represents the request body for joining a room.
// Signed-in callers are identified by the token; a nickname they send is ignored.
type JoinRoomRequest struct {
	RoomCode string `json:"room_code" example:"K7Q2ZD"`
	// Code is accepted when room_code is absent.
	Code     string `json:"code,omitempty"`
	Nickname string `json:"nickname,omitempty" example:"alex"`
}

func (r JoinRoomRequest) roomCode() string {
	if r.RoomCode != "" {
		return r.RoomCode
	}
	return r.Code
}

// DisconnectRequest names an anonymous caller; signed-in callers send a token
type DisconnectRequest struct {
	Nickname string `json:"nickname,omitempty" example:"alex"`
}

// LeaveRequest names the caller's own participant row. Anonymous callers
// add their nickname; signed-in callers send a token.
type LeaveRequest struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname,omitempty" example:"alex"`
}

// MyRoomResponse answers GET /rooms/mine
type MyRoomResponse struct {
	Room    *models.Room `json:"room"`
	HasRoom bool         `json:"has_room"`
}

// PlaybackResponse is the stored state plus the position derived for now
type PlaybackResponse struct {
	*models.PlaybackState
	PositionNowMs int64 `json:"position_now_ms"`
}

type PositionRequest struct {
	PositionMs *int64 `json:"position_ms" example:"5000"`
}

type PlayRequest = playback.PlayParams

type SkipRequest = playback.SkipParams
