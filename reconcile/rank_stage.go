package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
)

// RankResult counts rank rows touched by one reconciliation.
type RankResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// RankStage keeps guild_ranks member counts in line with the roster.
// Rank names are only written when a rank is first discovered.
type RankStage struct {
	ranks  GuildRankRepository
	logger *zap.Logger
}

func NewRankStage(deps Deps) *RankStage {
	deps = deps.withDefaults()
	return &RankStage{ranks: deps.Ranks, logger: deps.Logger}
}

// DefaultRankName is the name given to a newly discovered rank.
func DefaultRankName(rankID int) string {
	if rankID == 0 {
		return "Guild Master"
	}
	return "Rank " + strconv.Itoa(rankID)
}

// Sync upserts one row per rank seen in the roster. Known ranks absent
// from the roster drop to a member count of zero and are kept.
func (s *RankStage) Sync(ctx context.Context, guildID int64, roster *directory.GuildRoster) (RankResult, error) {
	var res RankResult
	existing, err := s.ranks.FindAllByGuildID(ctx, guildID)
	if err != nil {
		return res, fmt.Errorf("load ranks: %w", err)
	}

	counts := make(map[int]int)
	for _, m := range roster.Members {
		counts[m.Rank]++
	}
	known := make(map[int]*model.GuildRank, len(existing))
	for i := range existing {
		known[existing[i].RankID] = &existing[i]
		if _, ok := counts[existing[i].RankID]; !ok {
			counts[existing[i].RankID] = 0
		}
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		r, ok := known[id]
		if ok && r.MemberCount == counts[id] {
			continue
		}
		if !ok {
			r = &model.GuildRank{GuildID: guildID, RankID: id, RankName: DefaultRankName(id)}
		}
		r.MemberCount = counts[id]
		if err := s.ranks.Upsert(ctx, r); err != nil {
			res.Failed++
			s.logger.Warn("upsert rank failed",
				zap.Int64("guild_id", guildID), zap.Int("rank_id", id), zap.Error(err))
			continue
		}
		if ok {
			res.Updated++
		} else {
			res.Created++
		}
	}
	return res, nil
}
