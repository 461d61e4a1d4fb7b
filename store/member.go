package store

import (
	"context"
	"time"

	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/reconcile"
	"gorm.io/gorm"
)

type MemberRepo struct {
	db *gorm.DB
}

var _ reconcile.GuildMemberRepository = (*MemberRepo)(nil)

func NewMemberRepo(db *gorm.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

func (r *MemberRepo) FindAllByGuildID(ctx context.Context, guildID int64) ([]model.GuildMember, error) {
	var out []model.GuildMember
	err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("id").Find(&out).Error
	return out, err
}

// MemberView is a membership row joined with its character.
type MemberView struct {
	model.GuildMember
	Name        string `json:"name"`
	Realm       string `json:"realm"`
	Level       int    `json:"level"`
	ClassID     int    `json:"class_id"`
	IsAvailable bool   `json:"is_available"`
	Linked      bool   `json:"linked"`
}

// ListByGuild returns the guild's members ordered by rank then name.
// Departed members are included only when includeLeft is set.
func (r *MemberRepo) ListByGuild(ctx context.Context, guildID int64, includeLeft bool) ([]MemberView, error) {
	q := r.db.WithContext(ctx).Table("guild_members").
		Select("guild_members.*, c.name, c.realm, c.level, c.class_id, c.is_available, c.user_id IS NOT NULL AS linked").
		Joins("JOIN characters c ON c.id = guild_members.character_id").
		Where("guild_members.guild_id = ?", guildID).
		Order("guild_members.rank_id, c.name")
	if !includeLeft {
		q = q.Where("guild_members.left_at IS NULL")
	}
	var out []MemberView
	if err := q.Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MemberRepo) Create(ctx context.Context, m *model.GuildMember) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *MemberRepo) Update(ctx context.Context, m *model.GuildMember) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *MemberRepo) MarkLeft(ctx context.Context, guildID int64, characterIDs []int64, at time.Time) error {
	if len(characterIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.GuildMember{}).
		Where("guild_id = ? AND character_id IN ? AND left_at IS NULL", guildID, characterIDs).
		Update("left_at", at).Error
}
