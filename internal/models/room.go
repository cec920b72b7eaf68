package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// AnonymousIdentityPrefix keeps guest identities apart from principal ids on
// the wire. Nicknames cannot contain a colon, so no guest collides with
// another, and principals carrying the prefix are refused.
const AnonymousIdentityPrefix = "nick:"

type Room struct {
	ID              string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code            string       `json:"code" gorm:"uniqueIndex;not null;type:varchar(6)"`
	Name            string       `json:"name" gorm:"not null;type:varchar(50)"`
	HostPrincipalID string       `json:"host_principal_id" gorm:"uniqueIndex;not null;type:varchar(255)"`
	IsActive        bool         `json:"is_active" gorm:"not null;default:true;index"`
	IsPublic        bool         `json:"is_public" gorm:"not null;default:false;index"`
	Settings        RoomSettings `json:"settings" gorm:"embedded;embeddedPrefix:settings_"`
	CreatedAt       time.Time    `json:"created_at" gorm:"autoCreateTime;not null;index"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"autoUpdateTime;not null"`

	// Host is set by AfterCreate and never persisted through this field.
	Host *Participant `json:"-" gorm:"-"`
}

// RoomSettings represents the host-tunable settings of a room
type RoomSettings struct {
	MaxParticipants int `json:"max_participants" gorm:"not null;default:20"`
}

// Participant represents a connected or recently connected member of a room.
// PrincipalID is nil for nickname-only guests.
type Participant struct {
	ID               string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RoomID           string           `json:"room_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_room_principal;index"`
	PrincipalID      *string          `json:"principal_id" gorm:"type:varchar(255);uniqueIndex:idx_room_principal"`
	Nickname         string           `json:"nickname" gorm:"type:varchar(30)"`
	IsHost           bool             `json:"is_host" gorm:"not null;default:false"`
	ConnectionStatus ConnectionStatus `json:"connection_status" gorm:"type:varchar(16);not null;default:connected"`
	DisconnectedAt   *time.Time       `json:"disconnected_at"`
	ReconnectedAt    *time.Time       `json:"reconnected_at"`
	JoinedAt         time.Time        `json:"joined_at" gorm:"autoCreateTime;not null"`
}

// TableName specifies the table names for GORM
func (Room) TableName() string {
	return "rooms"
}

func (Participant) TableName() string {
	return "participants"
}

// AfterCreate inserts the host participant in the same transaction as the
// room, so a room never exists without its host row.
func (r *Room) AfterCreate(tx *gorm.DB) error {
	host := r.HostPrincipalID
	participant := &Participant{
		ID:               uuid.New().String(),
		RoomID:           r.ID,
		PrincipalID:      &host,
		IsHost:           true,
		ConnectionStatus: StatusConnected,
		JoinedAt:         r.CreatedAt,
	}
	if err := tx.Create(participant).Error; err != nil {
		return err
	}
	r.Host = participant
	return nil
}

// IsConnected reports whether the participant currently holds a live connection.
func (p *Participant) IsConnected() bool {
	return p.ConnectionStatus == StatusConnected
}

// IsAnonymous reports whether the participant joined with a nickname only.
func (p *Participant) IsAnonymous() bool {
	return p.PrincipalID == nil
}

// Identity returns the principal id, or the prefixed nickname for anonymous
// guests.
func (p *Participant) Identity() string {
	if p.PrincipalID != nil {
		return *p.PrincipalID
	}
	return AnonymousIdentityPrefix + p.Nickname
}

// IsReservedPrincipal reports whether id lives in the guest namespace.
func IsReservedPrincipal(id string) bool {
	return strings.HasPrefix(id, AnonymousIdentityPrefix)
}
