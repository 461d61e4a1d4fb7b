package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CharacterResult counts character sync outcomes for one guild.
type CharacterResult struct {
	Synced      int `json:"synced"`
	Unavailable int `json:"unavailable"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"` // already synced earlier in the run
}

// GuildOutcome is everything one guild workflow produced. CoreErr set means
// the guild counts as failed; the other errors are contained.
type GuildOutcome struct {
	GuildID      int64           `json:"guild_id"`
	Name         string          `json:"name"`
	CoreErr      error           `json:"-"`
	MemberErr    error           `json:"-"`
	RankErr      error           `json:"-"`
	CharacterErr error           `json:"-"`
	Members      MemberResult    `json:"members"`
	Ranks        RankResult      `json:"ranks"`
	Characters   CharacterResult `json:"characters"`
	Duration     time.Duration   `json:"duration"`
}

func (o *GuildOutcome) Failed() bool { return o.CoreErr != nil }

// claimSet hands out each character id once per run.
type claimSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newClaimSet() *claimSet { return &claimSet{ids: make(map[int64]struct{})} }

func (c *claimSet) claim(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return false
	}
	c.ids[id] = struct{}{}
	return true
}

// Workflow runs the stages for one guild in order: core, members, ranks,
// characters. Only a core failure stops the later stages.
type Workflow struct {
	core       *CoreGuildStage
	members    *MemberStage
	ranks      *RankStage
	chars      *CharacterStage
	characters CharacterRepository
	events     EventRecorder
	logger     *zap.Logger
	charLimit  int
}

func NewWorkflow(deps Deps, opts Options) *Workflow {
	deps = deps.withDefaults()
	opts = opts.withDefaults()
	return &Workflow{
		core:       NewCoreGuildStage(deps),
		members:    NewMemberStage(deps),
		ranks:      NewRankStage(deps),
		chars:      NewCharacterStage(deps),
		characters: deps.Characters,
		events:     deps.Events,
		logger:     deps.Logger,
		charLimit:  opts.CharacterConcurrency,
	}
}

// SyncGuild never panics and never returns an error; everything is
// reported through the outcome.
func (w *Workflow) SyncGuild(ctx context.Context, runID string, g *model.Guild) GuildOutcome {
	return w.syncGuild(ctx, runID, g, newClaimSet())
}

func (w *Workflow) syncGuild(ctx context.Context, runID string, g *model.Guild, claims *claimSet) (out GuildOutcome) {
	start := time.Now()
	out.GuildID = g.ID
	out.Name = g.Name
	log := w.logger.With(zap.String("run_id", runID), zap.Int64("guild_id", g.ID), zap.String("guild", g.Name))

	defer func() {
		if r := recover(); r != nil {
			out.CoreErr = fmt.Errorf("panic: %v", r)
			log.Error("guild workflow panicked", zap.Any("recover", r), zap.ByteString("stack", debug.Stack()))
		}
		out.Duration = time.Since(start)
		w.record(runID, g.ID, model.StageGuild, out.CoreErr, out.Duration, out)
	}()

	stageStart := time.Now()
	core := w.core.Sync(ctx, g)
	w.record(runID, g.ID, model.StageCore, core.Err, time.Since(stageStart), nil)
	if !core.Success {
		out.CoreErr = core.Err
		log.Error("core guild sync failed", zap.Error(core.Err))
		return out
	}

	stageStart = time.Now()
	out.Members, out.MemberErr = w.members.Sync(ctx, g, core.Roster)
	w.record(runID, g.ID, model.StageMember, out.MemberErr, time.Since(stageStart), out.Members)
	if out.MemberErr != nil {
		log.Error("member reconciliation failed", zap.Error(out.MemberErr))
	}

	stageStart = time.Now()
	out.Ranks, out.RankErr = w.ranks.Sync(ctx, g.ID, core.Roster)
	w.record(runID, g.ID, model.StageRank, out.RankErr, time.Since(stageStart), out.Ranks)
	if out.RankErr != nil {
		log.Error("rank reconciliation failed", zap.Error(out.RankErr))
	}

	out.Characters, out.CharacterErr = w.syncCharacters(ctx, log, g.ID, claims)
	if out.CharacterErr != nil {
		log.Error("character sync failed", zap.Error(out.CharacterErr))
	}
	return out
}

func (w *Workflow) syncCharacters(ctx context.Context, log *zap.Logger, guildID int64, claims *claimSet) (CharacterResult, error) {
	var res CharacterResult
	chars, err := w.characters.FindActiveByGuildID(ctx, guildID)
	if err != nil {
		return res, fmt.Errorf("load characters: %w", err)
	}

	var synced, unavailable, failed atomic.Int32
	var eg errgroup.Group
	eg.SetLimit(w.charLimit)
	for i := range chars {
		ch := &chars[i]
		if !claims.claim(ch.ID) {
			res.Skipped++
			continue
		}
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					log.Error("character sync panicked", zap.Int64("character_id", ch.ID), zap.Any("recover", r))
				}
			}()
			outcome, err := w.chars.Sync(ctx, ch)
			switch outcome {
			case CharacterSynced:
				synced.Add(1)
			case CharacterUnavailable:
				unavailable.Add(1)
			default:
				failed.Add(1)
				log.Warn("character sync failed",
					zap.Int64("character_id", ch.ID), zap.String("character", ch.Name), zap.Error(err))
			}
			return nil
		})
	}
	_ = eg.Wait()

	res.Synced = int(synced.Load())
	res.Unavailable = int(unavailable.Load())
	res.Failed = int(failed.Load())
	return res, nil
}

func (w *Workflow) record(runID string, guildID int64, stage string, err error, d time.Duration, details any) {
	ev := &model.SyncEvent{
		RunID:      runID,
		GuildID:    &guildID,
		Stage:      stage,
		Outcome:    model.OutcomeOK,
		DurationMs: d.Milliseconds(),
	}
	if err != nil {
		ev.Outcome = model.OutcomeFailed
		ev.Error = err.Error()
	}
	if details != nil {
		if b, mErr := json.Marshal(details); mErr == nil {
			ev.Details = b
		}
	}
	w.events.Record(ev)
}
