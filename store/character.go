package store

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/reconcile"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// syncColumns are the columns written by one character sync. toy_hash is
// written separately so a link made mid-run is never overwritten.
var syncColumns = []string{
	"directory_id", "class_id", "level", "is_available",
	"profile_data", "equipment_data", "mythic_data", "professions_data",
	"last_synced_at", "updated_at",
}

// toyHashExpr keeps toy_hash NULL on linked rows whatever the caller loaded.
const toyHashExpr = "CASE WHEN user_id IS NULL THEN ? ELSE NULL END"

type CharacterRepo struct {
	db *gorm.DB
}

var _ reconcile.CharacterRepository = (*CharacterRepo)(nil)

func NewCharacterRepo(db *gorm.DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

func (r *CharacterRepo) FindByID(ctx context.Context, id int64) (*model.Character, error) {
	var c model.Character
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *CharacterRepo) FindByIdentity(ctx context.Context, name, realm, region string) (*model.Character, error) {
	var c model.Character
	err := r.db.WithContext(ctx).
		Where("name = ? AND realm = ? AND region = ?", name, realm, region).
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// FindOrCreate inserts ch unless a row with the same identity exists, then
// returns the stored row. Concurrent callers converge on one row.
func (r *CharacterRepo) FindOrCreate(ctx context.Context, ch *model.Character) (*model.Character, error) {
	if existing, err := r.FindByIdentity(ctx, ch.Name, ch.Realm, ch.Region); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	row := *ch
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}
	return r.FindByIdentity(ctx, ch.Name, ch.Realm, ch.Region)
}

func (r *CharacterRepo) FindActiveByGuildID(ctx context.Context, guildID int64) ([]model.Character, error) {
	var out []model.Character
	err := r.db.WithContext(ctx).
		Joins("JOIN guild_members gm ON gm.character_id = characters.id").
		Where("gm.guild_id = ? AND gm.left_at IS NULL", guildID).
		Order("characters.id").
		Find(&out).Error
	return out, err
}

// UpdateSyncData writes the sync columns of ch. The toy hash only lands on
// rows that are still unlinked at write time.
func (r *CharacterRepo) UpdateSyncData(ctx context.Context, ch *model.Character) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(ch).Select(syncColumns).Updates(ch)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var hash any
		if ch.ToyHash != nil {
			hash = *ch.ToyHash
		}
		return tx.Model(&model.Character{}).Where("id = ?", ch.ID).
			Update("toy_hash", gorm.Expr(toyHashExpr, hash)).Error
	})
}

func (r *CharacterRepo) MarkUnavailable(ctx context.Context, id int64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Character{}).Where("id = ?", id).
		Updates(map[string]any{"is_available": false, "last_synced_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Link attaches the character to a user, or detaches it when userID is nil.
// Linked characters never carry a toy hash.
func (r *CharacterRepo) Link(ctx context.Context, id int64, userID *int64) error {
	updates := map[string]any{"user_id": userID}
	if userID != nil {
		updates["toy_hash"] = nil
	}
	res := r.db.WithContext(ctx).Model(&model.Character{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return exists(ctx, r.db, &model.Character{}, id)
	}
	return nil
}

// ToyCluster is a group of unlinked characters sharing one toy hash.
type ToyCluster struct {
	ToyHash    string            `json:"toy_hash"`
	Characters []model.Character `json:"characters"`
}

// ToyClusters groups unlinked characters by toy hash, keeping only hashes
// shared by at least two characters. The no-toys hash is left out unless
// includeEmpty is set.
func (r *CharacterRepo) ToyClusters(ctx context.Context, includeEmpty bool) ([]ToyCluster, error) {
	q := r.db.WithContext(ctx).Model(&model.Character{}).
		Select("toy_hash").
		Where("user_id IS NULL AND toy_hash IS NOT NULL").
		Group("toy_hash").
		Having("COUNT(*) > 1").
		Order("toy_hash")
	if !includeEmpty {
		q = q.Where("toy_hash <> ?", reconcile.NoToysHash)
	}
	var hashes []string
	if err := q.Pluck("toy_hash", &hashes).Error; err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return []ToyCluster{}, nil
	}

	var chars []model.Character
	err := r.db.WithContext(ctx).
		Where("user_id IS NULL AND toy_hash IN ?", hashes).
		Order("toy_hash, id").
		Find(&chars).Error
	if err != nil {
		return nil, err
	}
	byHash := make(map[string]int, len(hashes))
	out := make([]ToyCluster, len(hashes))
	for i, h := range hashes {
		byHash[h] = i
		out[i].ToyHash = h
	}
	for _, c := range chars {
		i := byHash[*c.ToyHash]
		out[i].Characters = append(out[i].Characters, c)
	}
	return out, nil
}
