package model

import "time"

// User is a local account. Characters link to it through Character.UserID.
type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BattleNetID int64     `gorm:"uniqueIndex;not null" json:"battlenet_id"`
	BattleTag   string    `gorm:"size:64" json:"battletag"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
