package store

import (
	"context"

	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/reconcile"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RankRepo struct {
	db *gorm.DB
}

var _ reconcile.GuildRankRepository = (*RankRepo)(nil)

func NewRankRepo(db *gorm.DB) *RankRepo {
	return &RankRepo{db: db}
}

func (r *RankRepo) FindAllByGuildID(ctx context.Context, guildID int64) ([]model.GuildRank, error) {
	var out []model.GuildRank
	err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("rank_id").Find(&out).Error
	return out, err
}

// Upsert never touches rank_name or is_custom of an existing row.
func (r *RankRepo) Upsert(ctx context.Context, rk *model.GuildRank) error {
	row := model.GuildRank{
		GuildID:     rk.GuildID,
		RankID:      rk.RankID,
		RankName:    rk.RankName,
		IsCustom:    rk.IsCustom,
		MemberCount: rk.MemberCount,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "rank_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"member_count"}),
	}).Create(&row).Error
}

// Rename sets a custom rank name. The row is created with a zero member
// count if the rank has not been seen on a roster yet.
func (r *RankRepo) Rename(ctx context.Context, guildID int64, rankID int, name string) (*model.GuildRank, error) {
	rk := &model.GuildRank{GuildID: guildID, RankID: rankID, RankName: name, IsCustom: true}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "rank_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rank_name", "is_custom"}),
	}).Create(rk).Error
	if err != nil {
		return nil, err
	}
	var out model.GuildRank
	err = r.db.WithContext(ctx).Where("guild_id = ? AND rank_id = ?", guildID, rankID).First(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}
