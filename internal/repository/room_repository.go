package repository

import (
	"context"
	"errors"
	"time"

	"tunesync-backend/internal/models"

	"gorm.io/gorm"
)

type RoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// CreateRoom inserts the room; the host participant row is created by the
// Room AfterCreate hook in the same transaction.
func (r *RoomRepository) CreateRoom(ctx context.Context, room *models.Room) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(room).Error
	})
	return translate(err)
}

// GetRoom retrieves a room by ID
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	return r.first(ctx, "id = ?", id)
}

// GetRoomByCode retrieves a room by its normalized code
func (r *RoomRepository) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	return r.first(ctx, "code = ?", code)
}

// GetRoomByHost retrieves the room hosted by a principal, if any
func (r *RoomRepository) GetRoomByHost(ctx context.Context, principalID string) (*models.Room, error) {
	return r.first(ctx, "host_principal_id = ?", principalID)
}

func (r *RoomRepository) first(ctx context.Context, query string, args ...interface{}) (*models.Room, error) {
	var room models.Room
	result := r.db.WithContext(ctx).Where(query, args...).First(&room)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &room, nil
}

// ListPublicActive returns discoverable rooms whose host is connected, newest first
func (r *RoomRepository) ListPublicActive(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.WithContext(ctx).
		Where("is_public = ? AND is_active = ?", true, true).
		Order("created_at DESC").
		Find(&rooms).Error
	return rooms, err
}

func (r *RoomRepository) GetAllRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rooms).Error
	return rooms, err
}

// CountConnected returns the number of connected participants per room id
func (r *RoomRepository) CountConnected(ctx context.Context, roomIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		RoomID string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Select("room_id, COUNT(*) AS total").
		Where("room_id IN ? AND connection_status = ?", roomIDs, models.StatusConnected).
		Group("room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.RoomID] = row.Total
	}
	return counts, nil
}

// DeleteRoom removes the room together with its participants and playback state.
// It reports whether a room row was deleted.
func (r *RoomRepository) DeleteRoom(ctx context.Context, roomID string) (bool, error) {
	deleted, err := r.DeleteRooms(ctx, []string{roomID})
	return deleted > 0, err
}

// DeleteRooms cascades the deletion of several rooms in one transaction
func (r *RoomRepository) DeleteRooms(ctx context.Context, roomIDs []string) (int64, error) {
	if len(roomIDs) == 0 {
		return 0, nil
	}

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id IN ?", roomIDs).Delete(&models.PlaybackState{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id IN ?", roomIDs).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", roomIDs).Delete(&models.Room{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// FindAbandoned returns inactive rooms whose host disconnected before the
// cutoff. A room whose host row is gone counts from its last update.
func (r *RoomRepository) FindAbandoned(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Room{}).
		Where("rooms.is_active = ?", false).
		Where(`(EXISTS (SELECT 1 FROM participants h WHERE h.room_id = rooms.id AND h.is_host = ?
				AND h.disconnected_at IS NOT NULL AND h.disconnected_at < ?)
			OR (NOT EXISTS (SELECT 1 FROM participants h WHERE h.room_id = rooms.id AND h.is_host = ?)
				AND rooms.updated_at < ?))`, true, cutoff, true, cutoff).
		Pluck("rooms.id", &ids).Error
	return ids, err
}

// FindCreatedBefore returns rooms created before the cutoff regardless of activity
func (r *RoomRepository) FindCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Room{}).
		Where("created_at < ?", cutoff).
		Pluck("id", &ids).Error
	return ids, err
}
