// Package store implements the reconcile repositories on gorm.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: record not found")

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Store groups every repository over one *gorm.DB.
type Store struct {
	DB         *gorm.DB
	Guilds     *GuildRepo
	Characters *CharacterRepo
	Members    *MemberRepo
	Ranks      *RankRepo
	Users      *UserRepo
}

func New(db *gorm.DB) *Store {
	return &Store{
		DB:         db,
		Guilds:     NewGuildRepo(db),
		Characters: NewCharacterRepo(db),
		Members:    NewMemberRepo(db),
		Ranks:      NewRankRepo(db),
		Users:      NewUserRepo(db),
	}
}

// exists returns ErrNotFound unless a row of m's table has the given id.
// MySQL reports zero affected rows for no-op updates, so updates that may
// not change anything confirm the row separately.
func exists(ctx context.Context, db *gorm.DB, m any, id int64) error {
	var n int64
	if err := db.WithContext(ctx).Model(m).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
