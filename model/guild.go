package model

import (
	"strings"
	"time"

	"github.com/kasuganosora/guildsync/directory"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Guild is a guild mirrored from the external directory.
// Identity is (name_slug, realm_slug, region), fixed at registration. Name and
// Realm hold the directory's display names and follow upstream renames.
// DirectoryID is filled in on the first successful sync.
type Guild struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DirectoryID     *int64         `gorm:"index:idx_guild_directory" json:"directory_id"`
	Name            string         `gorm:"size:64;not null" json:"name"`
	Realm           string         `gorm:"size:64;not null" json:"realm"`
	NameSlug        string         `gorm:"size:64;not null;uniqueIndex:idx_guild_identity,priority:1" json:"name_slug"`
	RealmSlug       string         `gorm:"size:64;not null;uniqueIndex:idx_guild_identity,priority:2" json:"realm_slug"`
	Region          string         `gorm:"size:8;not null;uniqueIndex:idx_guild_identity,priority:3" json:"region"`
	ExcludeFromSync bool           `gorm:"not null;index:idx_guild_sync" json:"exclude_from_sync"`
	MemberCount     int            `gorm:"default:0" json:"member_count"`
	LeaderID        *int64         `json:"leader_id"`
	LastUpdated     *time.Time     `json:"last_updated"`
	GuildData       datatypes.JSON `json:"-"`
	RosterData      datatypes.JSON `json:"-"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Normalize fills the identity columns from the registered names.
func (g *Guild) Normalize() {
	g.Region = strings.ToLower(strings.TrimSpace(g.Region))
	if g.NameSlug == "" {
		g.NameSlug = directory.Slug(g.Name)
	}
	if g.RealmSlug == "" {
		g.RealmSlug = directory.Slug(g.Realm)
	}
}

func (g *Guild) BeforeCreate(*gorm.DB) error {
	g.Normalize()
	return nil
}

// GuildFilter narrows a guild listing. Nil/empty fields match everything.
type GuildFilter struct {
	ExcludeFromSync *bool
	Region          string
}

// GuildRank is one entry of a guild's rank-name table.
type GuildRank struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID     int64  `gorm:"not null;uniqueIndex:idx_guild_rank,priority:1" json:"guild_id"`
	RankID      int    `gorm:"not null;uniqueIndex:idx_guild_rank,priority:2" json:"rank_id"`
	RankName    string `gorm:"size:64;not null" json:"rank_name"`
	IsCustom    bool   `gorm:"not null" json:"is_custom"`
	MemberCount int    `gorm:"default:0" json:"member_count"`
}

// GuildMember links a character to a guild. Rows are never deleted: a character that
// leaves the roster gets LeftAt set, and a later re-join clears it again.
type GuildMember struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID     int64      `gorm:"not null;uniqueIndex:idx_guild_member,priority:1" json:"guild_id"`
	CharacterID int64      `gorm:"not null;uniqueIndex:idx_guild_member,priority:2;index:idx_member_char" json:"character_id"`
	RankID      int        `gorm:"not null" json:"rank_id"`
	JoinedAt    time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt      *time.Time `gorm:"index:idx_member_left" json:"left_at"`
	IsMain      bool       `gorm:"not null" json:"is_main"`
}

// Active reports whether the membership is currently open.
func (m *GuildMember) Active() bool { return m.LeftAt == nil }
