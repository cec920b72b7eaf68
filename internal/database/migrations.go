package database

import (
	"tunesync-backend/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// RunMigrations performs all database migrations
func RunMigrations() error {
	return Migrate(GetDB())
}

// Migrate creates or updates the coordinator tables on db.
func Migrate(db *gorm.DB) error {
	// Run migrations in correct order
	if err := db.AutoMigrate(&models.Room{}); err != nil {
		return err
	}
	if err := db.AutoMigrate(&models.Participant{}); err != nil {
		return err
	}
	if err := db.AutoMigrate(&models.PlaybackState{}); err != nil {
		return err
	}
	if err := db.AutoMigrate(&models.CleanupThrottle{}); err != nil {
		return err
	}

	// Nicknames are unique per room only among anonymous participants
	if err := db.Exec(`
        CREATE UNIQUE INDEX IF NOT EXISTS idx_room_anonymous_nickname
        ON participants (room_id, nickname)
        WHERE principal_id IS NULL
    `).Error; err != nil {
		return err
	}

	if db.Dialector.Name() == "postgres" {
		addCascade(db, "participants", "fk_participants_room")
		addCascade(db, "playback_state", "fk_playback_state_room")
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

func addCascade(db *gorm.DB, table, constraint string) {
	if err := db.Exec(`
        ALTER TABLE ` + table + `
        ADD CONSTRAINT ` + constraint + `
        FOREIGN KEY (room_id)
        REFERENCES rooms(id)
        ON DELETE CASCADE
    `).Error; err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Failed to add foreign key constraint - might already exist")
	}
}
