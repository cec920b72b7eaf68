package repository

import (
	"context"
	"errors"
	"time"

	"tunesync-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PlaybackRepository struct {
	db *gorm.DB
}

func NewPlaybackRepository(db *gorm.DB) *PlaybackRepository {
	return &PlaybackRepository{db: db}
}

// GetState returns the stored playback state of a room, or nil if it never played
func (r *PlaybackRepository) GetState(ctx context.Context, roomID string) (*models.PlaybackState, error) {
	var state models.PlaybackState
	result := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&state)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &state, nil
}

// SaveState upserts the full playback row of a room
func (r *PlaybackRepository) SaveState(ctx context.Context, state *models.PlaybackState) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			UpdateAll: true,
		}).
		Create(state).Error
}

type CleanupRepository struct {
	db *gorm.DB
}

func NewCleanupRepository(db *gorm.DB) *CleanupRepository {
	return &CleanupRepository{db: db}
}

// LastRun returns the time of the last recorded cleanup pass
func (r *CleanupRepository) LastRun(ctx context.Context) (time.Time, bool, error) {
	var throttle models.CleanupThrottle
	result := r.db.WithContext(ctx).Where("id = ?", models.CleanupThrottleID).First(&throttle)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, result.Error
	}
	return throttle.LastRunAt, true, nil
}

// MarkRun records at as the last cleanup pass
func (r *CleanupRepository) MarkRun(ctx context.Context, at time.Time) error {
	throttle := &models.CleanupThrottle{ID: models.CleanupThrottleID, LastRunAt: at}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_run_at"}),
		}).
		Create(throttle).Error
}
