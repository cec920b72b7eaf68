package repository

import (
	"context"
	"errors"
	"time"

	"tunesync-backend/internal/models"

	"gorm.io/gorm"
)

type ParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Create inserts a new participant row. A host row reactivates its room,
// which is returned when it changed.
func (r *ParticipantRepository) Create(ctx context.Context, p *models.Participant) (*models.Room, error) {
	var flipped *models.Room

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		if p.IsHost {
			room, err := setRoomActive(tx, p.RoomID, true)
			if err != nil {
				return err
			}
			flipped = room
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return flipped, nil
}

// GetParticipant retrieves a participant of a room by ID
func (r *ParticipantRepository) GetParticipant(ctx context.Context, roomID, participantID string) (*models.Participant, error) {
	return r.first(r.db.WithContext(ctx), "room_id = ? AND id = ?", roomID, participantID)
}

// FindByPrincipal returns the participant of the room bound to a principal
func (r *ParticipantRepository) FindByPrincipal(ctx context.Context, roomID, principalID string) (*models.Participant, error) {
	return r.first(r.db.WithContext(ctx), "room_id = ? AND principal_id = ?", roomID, principalID)
}

// FindAnonymous returns the nickname-only participant of the room with that nickname
func (r *ParticipantRepository) FindAnonymous(ctx context.Context, roomID, nickname string) (*models.Participant, error) {
	return r.first(r.db.WithContext(ctx), "room_id = ? AND principal_id IS NULL AND nickname = ?", roomID, nickname)
}

func (r *ParticipantRepository) first(db *gorm.DB, query string, args ...interface{}) (*models.Participant, error) {
	var participant models.Participant
	result := db.Where(query, args...).First(&participant)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &participant, nil
}

// CountConnected returns the number of connected participants in a room
func (r *ParticipantRepository) CountConnected(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("room_id = ? AND connection_status = ?", roomID, models.StatusConnected).
		Count(&count).Error
	return count, err
}

// ListByRoom returns the participants of a room in join order
func (r *ParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&participants).Error
	return participants, err
}

// Reconnect marks p connected again. When p is the host of an inactive room the
// room is reactivated and returned; otherwise the returned room is nil.
func (r *ParticipantRepository) Reconnect(ctx context.Context, p *models.Participant, at time.Time) (*models.Room, error) {
	var flipped *models.Room

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Participant{}).
			Where("id = ?", p.ID).
			Updates(map[string]interface{}{
				"connection_status": models.StatusConnected,
				"disconnected_at":   nil,
				"reconnected_at":    at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		if p.IsHost {
			room, err := setRoomActive(tx, p.RoomID, true)
			if err != nil {
				return err
			}
			flipped = room
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.ConnectionStatus = models.StatusConnected
	p.DisconnectedAt = nil
	p.ReconnectedAt = &at
	return flipped, nil
}

// MarkDisconnected flips a connected participant to disconnected. It reports
// false when the participant was not connected anymore. A host disconnect
// deactivates the room, which is returned when it changed.
func (r *ParticipantRepository) MarkDisconnected(ctx context.Context, p *models.Participant, at time.Time) (bool, *models.Room, error) {
	var (
		changed bool
		flipped *models.Room
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Participant{}).
			Where("id = ? AND connection_status = ?", p.ID, models.StatusConnected).
			Updates(map[string]interface{}{
				"connection_status": models.StatusDisconnected,
				"disconnected_at":   at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		changed = true

		if p.IsHost {
			room, err := setRoomActive(tx, p.RoomID, false)
			if err != nil {
				return err
			}
			flipped = room
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}

	if changed {
		p.ConnectionStatus = models.StatusDisconnected
		p.DisconnectedAt = &at
	}
	return changed, flipped, nil
}

// Delete removes a participant of a room. Deleting the host deactivates the
// room, which is returned when it changed.
func (r *ParticipantRepository) Delete(ctx context.Context, roomID, participantID string) (*models.Participant, *models.Room, error) {
	var (
		removed *models.Participant
		flipped *models.Room
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participant, err := r.first(tx, "room_id = ? AND id = ?", roomID, participantID)
		if err != nil {
			return err
		}
		if participant == nil {
			return ErrNotFound
		}

		if err := tx.Delete(participant).Error; err != nil {
			return err
		}
		removed = participant

		if participant.IsHost {
			room, err := setRoomActive(tx, roomID, false)
			if err != nil {
				return err
			}
			flipped = room
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return removed, flipped, nil
}

// setRoomActive updates is_active when it differs and returns the refreshed
// room, or nil when nothing changed.
func setRoomActive(tx *gorm.DB, roomID string, active bool) (*models.Room, error) {
	result := tx.Model(&models.Room{}).
		Where("id = ? AND is_active = ?", roomID, !active).
		Update("is_active", active)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var room models.Room
	if err := tx.Where("id = ?", roomID).First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}
