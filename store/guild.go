package store

import (
	"context"
	"strings"

	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/reconcile"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GuildRepo struct {
	db *gorm.DB
}

var _ reconcile.GuildRepository = (*GuildRepo)(nil)

func NewGuildRepo(db *gorm.DB) *GuildRepo {
	return &GuildRepo{db: db}
}

func (r *GuildRepo) FindByID(ctx context.Context, id int64) (*model.Guild, error) {
	var g model.Guild
	if err := r.db.WithContext(ctx).First(&g, id).Error; err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

func (r *GuildRepo) FindAll(ctx context.Context, f model.GuildFilter) ([]model.Guild, error) {
	q := r.db.WithContext(ctx).Order("id")
	if f.ExcludeFromSync != nil {
		q = q.Where("exclude_from_sync = ?", *f.ExcludeFromSync)
	}
	if f.Region != "" {
		q = q.Where("region = ?", strings.ToLower(f.Region))
	}
	var out []model.Guild
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// guildSyncColumns are the columns owned by the core sync stage. Identity
// slugs and the exclude flag are left alone.
var guildSyncColumns = []string{
	"directory_id", "name", "realm", "guild_data", "roster_data",
	"member_count", "last_updated", "leader_id", "updated_at",
}

// Update writes the sync columns of g.
func (r *GuildRepo) Update(ctx context.Context, g *model.Guild) error {
	res := r.db.WithContext(ctx).Model(g).Select(guildSyncColumns).Updates(g)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return exists(ctx, r.db, &model.Guild{}, g.ID)
	}
	return nil
}

// Create registers a guild. Names are matched by slug, so an existing row
// registered under any spelling of the same guild is returned unchanged
// with created=false.
func (r *GuildRepo) Create(ctx context.Context, g *model.Guild) (created bool, err error) {
	g.Normalize()
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(g)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	err = r.db.WithContext(ctx).
		Where("name_slug = ? AND realm_slug = ? AND region = ?", g.NameSlug, g.RealmSlug, g.Region).
		First(g).Error
	return false, translate(err)
}

// SetExcludeFromSync toggles whether the scheduled run picks the guild up.
func (r *GuildRepo) SetExcludeFromSync(ctx context.Context, id int64, exclude bool) error {
	res := r.db.WithContext(ctx).Model(&model.Guild{}).Where("id = ?", id).
		Update("exclude_from_sync", exclude)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return exists(ctx, r.db, &model.Guild{}, id)
	}
	return nil
}
