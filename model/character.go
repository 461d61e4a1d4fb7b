package model

import (
	"time"

	"gorm.io/datatypes"
)

// Character is a character mirrored from the external directory.
// UserID is nil for unlinked characters; only those carry a ToyHash.
type Character struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DirectoryID     *int64         `json:"directory_id"`
	Name            string         `gorm:"size:64;not null;uniqueIndex:idx_character_identity,priority:1" json:"name"`
	Realm           string         `gorm:"size:64;not null;uniqueIndex:idx_character_identity,priority:2" json:"realm"`
	Region          string         `gorm:"size:8;not null;uniqueIndex:idx_character_identity,priority:3" json:"region"`
	UserID          *int64         `gorm:"index:idx_character_user" json:"user_id"`
	ClassID         int            `json:"class_id"`
	Level           int            `json:"level"`
	IsAvailable     bool           `gorm:"not null" json:"is_available"`
	ProfileData     datatypes.JSON `json:"-"`
	EquipmentData   datatypes.JSON `json:"-"`
	MythicData      datatypes.JSON `json:"-"`
	ProfessionsData datatypes.JSON `json:"-"`
	ToyHash         *string        `gorm:"size:64;index:idx_character_toy_hash" json:"toy_hash"`
	LastSyncedAt    *time.Time     `json:"last_synced_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Linked reports whether the character belongs to a local user account.
func (c *Character) Linked() bool { return c.UserID != nil }

// HasIdentity reports whether name, realm and region are all present.
func (c *Character) HasIdentity() bool {
	return c.Name != "" && c.Realm != "" && c.Region != ""
}
