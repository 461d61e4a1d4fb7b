package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// CharacterOutcome classifies one character sync.
type CharacterOutcome int

const (
	CharacterSynced CharacterOutcome = iota
	CharacterUnavailable
	CharacterFailed
)

var errIncompleteIdentity = errors.New("character identity incomplete")

// CharacterStage refreshes one character's detail payloads.
type CharacterStage struct {
	dir        DirectoryClient
	characters CharacterRepository
	toys       *ToyHashResolver
	logger     *zap.Logger
}

func NewCharacterStage(deps Deps) *CharacterStage {
	deps = deps.withDefaults()
	return &CharacterStage{
		dir:        deps.Directory,
		characters: deps.Characters,
		toys:       NewToyHashResolver(deps.Directory, deps.Logger),
		logger:     deps.Logger,
	}
}

// Sync fetches profile, equipment, mythic progress and professions.
//
// A not-found profile marks the character unavailable and skips the rest.
// Any other failure returns an error before anything is written. A
// not-found sub-resource keeps the stored snapshot for that payload.
func (s *CharacterStage) Sync(ctx context.Context, ch *model.Character) (CharacterOutcome, error) {
	if !ch.HasIdentity() {
		return CharacterFailed, errIncompleteIdentity
	}

	profile, err := s.dir.GetCharacterProfile(ctx, ch.Region, ch.Realm, ch.Name)
	if directory.IsNotFound(err) {
		if err := s.characters.MarkUnavailable(ctx, ch.ID, now()); err != nil {
			return CharacterFailed, fmt.Errorf("mark unavailable: %w", err)
		}
		s.logger.Debug("character not found upstream", zap.Int64("character_id", ch.ID))
		return CharacterUnavailable, nil
	}
	if err != nil {
		return CharacterFailed, fmt.Errorf("profile: %w", err)
	}

	equipment, err := optional(s.dir.GetCharacterEquipment(ctx, ch.Region, ch.Realm, ch.Name))
	if err != nil {
		return CharacterFailed, fmt.Errorf("equipment: %w", err)
	}
	mythic, err := optional(s.dir.GetCharacterMythicProfile(ctx, ch.Region, ch.Realm, ch.Name))
	if err != nil {
		return CharacterFailed, fmt.Errorf("mythic profile: %w", err)
	}
	professions, err := optional(s.dir.GetCharacterProfessions(ctx, ch.Region, ch.Realm, ch.Name))
	if err != nil {
		return CharacterFailed, fmt.Errorf("professions: %w", err)
	}

	next := *ch
	next.ProfileData = datatypes.JSON(profile.Raw)
	if equipment != nil {
		next.EquipmentData = datatypes.JSON(equipment)
	}
	if mythic != nil {
		next.MythicData = datatypes.JSON(mythic)
	}
	if professions != nil {
		next.ProfessionsData = datatypes.JSON(professions)
	}
	if profile.ID != 0 {
		id := profile.ID
		next.DirectoryID = &id
	}
	if profile.Level != 0 {
		next.Level = profile.Level
	}
	if profile.CharacterClass.ID != 0 {
		next.ClassID = profile.CharacterClass.ID
	}
	next.IsAvailable = true
	ts := now()
	next.LastSyncedAt = &ts

	if ch.Linked() {
		next.ToyHash = nil
	} else if hash, ok := s.toys.Resolve(ctx, ch); ok {
		next.ToyHash = &hash
	}

	if err := s.characters.UpdateSyncData(ctx, &next); err != nil {
		return CharacterFailed, fmt.Errorf("update character: %w", err)
	}
	*ch = next
	return CharacterSynced, nil
}

// optional maps a not-found response to a nil payload.
func optional(raw json.RawMessage, err error) (json.RawMessage, error) {
	if directory.IsNotFound(err) {
		return nil, nil
	}
	return raw, err
}
