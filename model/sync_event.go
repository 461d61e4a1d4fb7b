package model

import (
	"time"

	"gorm.io/datatypes"
)

// Stages recorded in SyncEvent.Stage.
const (
	StageRun    = "run"
	StageGuild  = "guild"
	StageCore   = "core"
	StageMember = "member"
	StageRank   = "rank"
)

// Outcomes recorded in SyncEvent.Outcome.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// SyncEvent records one stage outcome of a reconciliation run.
type SyncEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID      string         `gorm:"index:idx_sync_event_run;size:36;not null" json:"run_id"`
	GuildID    *int64         `gorm:"index:idx_sync_event_guild" json:"guild_id"`
	Stage      string         `gorm:"size:16;not null" json:"stage"`
	Outcome    string         `gorm:"size:16;not null" json:"outcome"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int64          `json:"duration_ms"`
	Details    datatypes.JSON `json:"details"`
	CreatedAt  time.Time      `gorm:"index:idx_sync_event_created;autoCreateTime:milli" json:"created_at"`
}
