package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
)

// MemberResult counts membership transitions of one reconciliation.
type MemberResult struct {
	Joined      int `json:"joined"`
	Rejoined    int `json:"rejoined"`
	RankChanged int `json:"rank_changed"`
	Left        int `json:"left"`
	Failed      int `json:"failed"`
}

// MemberStage reconciles guild_members rows against a roster snapshot.
type MemberStage struct {
	characters CharacterRepository
	members    GuildMemberRepository
	logger     *zap.Logger
}

func NewMemberStage(deps Deps) *MemberStage {
	deps = deps.withDefaults()
	return &MemberStage{characters: deps.Characters, members: deps.Members, logger: deps.Logger}
}

// Sync opens memberships for new roster entries, re-opens returning ones,
// tracks rank changes and closes memberships absent from the roster.
// Closing is skipped when any roster entry failed to resolve, since the
// missing entry would otherwise be marked as having left.
func (s *MemberStage) Sync(ctx context.Context, guild *model.Guild, roster *directory.GuildRoster) (MemberResult, error) {
	var res MemberResult
	existing, err := s.members.FindAllByGuildID(ctx, guild.ID)
	if err != nil {
		return res, fmt.Errorf("load members: %w", err)
	}
	byChar := make(map[int64]*model.GuildMember, len(existing))
	for i := range existing {
		byChar[existing[i].CharacterID] = &existing[i]
	}

	region := strings.ToLower(guild.Region)
	seen := make(map[int64]struct{}, len(roster.Members))
	unresolved := false
	ts := now()

	for _, rm := range roster.Members {
		ch, err := s.characters.FindOrCreate(ctx, characterFromRoster(rm, guild, region))
		if err != nil {
			unresolved = true
			res.Failed++
			s.logger.Warn("resolve roster character failed",
				zap.Int64("guild_id", guild.ID),
				zap.String("character", rm.Character.Name),
				zap.Error(err))
			continue
		}
		seen[ch.ID] = struct{}{}

		m, ok := byChar[ch.ID]
		switch {
		case !ok:
			m = &model.GuildMember{
				GuildID:     guild.ID,
				CharacterID: ch.ID,
				RankID:      rm.Rank,
				JoinedAt:    ts,
			}
			if err := s.members.Create(ctx, m); err != nil {
				res.Failed++
				s.logger.Warn("create member failed",
					zap.Int64("guild_id", guild.ID), zap.Int64("character_id", ch.ID), zap.Error(err))
				continue
			}
			byChar[ch.ID] = m
			res.Joined++
		case !m.Active():
			m.LeftAt = nil
			m.JoinedAt = ts
			m.RankID = rm.Rank
			if err := s.members.Update(ctx, m); err != nil {
				res.Failed++
				s.logger.Warn("rejoin member failed",
					zap.Int64("guild_id", guild.ID), zap.Int64("character_id", ch.ID), zap.Error(err))
				continue
			}
			res.Rejoined++
		case m.RankID != rm.Rank:
			m.RankID = rm.Rank
			if err := s.members.Update(ctx, m); err != nil {
				res.Failed++
				s.logger.Warn("update member rank failed",
					zap.Int64("guild_id", guild.ID), zap.Int64("character_id", ch.ID), zap.Error(err))
				continue
			}
			res.RankChanged++
		}
	}

	if unresolved {
		s.logger.Warn("skipping departures: roster partially unresolved",
			zap.Int64("guild_id", guild.ID), zap.Int("unresolved", res.Failed))
		return res, nil
	}

	var leaving []int64
	for charID, m := range byChar {
		if _, ok := seen[charID]; !ok && m.Active() {
			leaving = append(leaving, charID)
		}
	}
	if len(leaving) == 0 {
		return res, nil
	}
	if err := s.members.MarkLeft(ctx, guild.ID, leaving, ts); err != nil {
		return res, fmt.Errorf("mark left: %w", err)
	}
	res.Left = len(leaving)
	return res, nil
}

func characterFromRoster(rm directory.RosterMember, guild *model.Guild, region string) *model.Character {
	realm := rm.Character.Realm.Slug
	if realm == "" {
		realm = directory.Slug(guild.Realm)
	}
	ch := &model.Character{
		Name:        rm.Character.Name,
		Realm:       realm,
		Region:      region,
		ClassID:     rm.Character.PlayableClass.ID,
		Level:       rm.Character.Level,
		IsAvailable: true,
	}
	if rm.Character.ID != 0 {
		id := rm.Character.ID
		ch.DirectoryID = &id
	}
	return ch
}
