package models

import "time"

// PlaybackState is the single authoritative playback row of a room.
// IsPlaying implies StartedAt is set; a paused state keeps the frozen
// position in PositionMs and a nil StartedAt.
type PlaybackState struct {
	RoomID             string     `json:"room_id" gorm:"primaryKey;type:varchar(36)"`
	CurrentTrackURI    *string    `json:"current_track_uri" gorm:"type:varchar(255)"`
	CurrentQueueItemID *string    `json:"current_queue_item_id" gorm:"type:varchar(64)"`
	IsPlaying          bool       `json:"is_playing" gorm:"not null"`
	PositionMs         int64      `json:"position_ms" gorm:"not null"`
	StartedAt          *time.Time `json:"started_at"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"autoUpdateTime;not null"`
}

func (PlaybackState) TableName() string {
	return "playback_state"
}

// IdlePlayback returns the state reported for a room that never played.
func IdlePlayback(roomID string) *PlaybackState {
	return &PlaybackState{RoomID: roomID}
}

// CleanupThrottle is the shared timestamp record of the cleanup reaper.
type CleanupThrottle struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(16)"`
	LastRunAt time.Time `json:"last_run_at" gorm:"not null"`
}

func (CleanupThrottle) TableName() string {
	return "cleanup_throttle"
}

// CleanupThrottleID is the primary key of the only throttle row.
const CleanupThrottleID = "global"
