package db

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one versioned game document (room, game state, player, hand).
// Ref is the slash-separated path the store layer addresses it by; Version
// backs the conditional-commit check.
type Document struct {
	ID        uint           `gorm:"primaryKey"`
	Ref       string         `gorm:"size:256;uniqueIndex;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	Version   int64          `gorm:"not null;default:0"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// Event is the append-only audit log of committed game transitions.
type Event struct {
	ID        uint           `gorm:"primaryKey"`
	RoomID    string         `gorm:"size:64;index;not null"`
	ActorUID  string         `gorm:"size:64;index"`
	Type      string         `gorm:"size:64;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}
