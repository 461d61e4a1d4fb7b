package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FailedGuild names a guild whose core stage failed.
type FailedGuild struct {
	GuildID int64  `json:"guild_id"`
	Name    string `json:"name"`
	Error   string `json:"error"`
}

// Summary aggregates one run.
type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Guilds     int             `json:"guilds"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Failures   []FailedGuild   `json:"failures,omitempty"`
	Members    MemberResult    `json:"members"`
	Ranks      RankResult      `json:"ranks"`
	Characters CharacterResult `json:"characters"`
}

// Orchestrator runs the guild workflow for every eligible guild under a
// concurrency cap and waits for all of them to settle.
type Orchestrator struct {
	guilds   GuildRepository
	workflow *Workflow
	events   EventRecorder
	notifier Notifier
	logger   *zap.Logger
	limit    int
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	deps = deps.withDefaults()
	opts = opts.withDefaults()
	return &Orchestrator{
		guilds:   deps.Guilds,
		workflow: NewWorkflow(deps, opts),
		events:   deps.Events,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		limit:    opts.GuildConcurrency,
	}
}

// Run syncs every guild not excluded from sync. It returns an error only
// when the guild list cannot be loaded; per-guild failures are counted in
// the summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	return o.RunWithID(ctx, uuid.NewString())
}

// RunWithID is Run with a caller-chosen run id.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string) (*Summary, error) {
	s := &Summary{RunID: runID, StartedAt: now()}
	log := o.logger.With(zap.String("run_id", runID))

	include := false
	guilds, err := o.guilds.FindAll(ctx, model.GuildFilter{ExcludeFromSync: &include})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrEnumeration, err)
		o.events.Record(&model.SyncEvent{
			RunID:   runID,
			Stage:   model.StageRun,
			Outcome: model.OutcomeFailed,
			Error:   err.Error(),
		})
		log.Error("sync run aborted", zap.Error(err))
		return nil, err
	}
	s.Guilds = len(guilds)
	log.Info("sync run started", zap.Int("guilds", len(guilds)), zap.Int("concurrency", o.limit))

	outcomes := make([]GuildOutcome, len(guilds))
	claims := newClaimSet()
	var eg errgroup.Group
	eg.SetLimit(o.limit)
	for i := range guilds {
		i := i
		eg.Go(func() error {
			outcomes[i] = o.workflow.syncGuild(ctx, runID, &guilds[i], claims)
			return nil
		})
	}
	_ = eg.Wait()

	for i := range outcomes {
		s.add(&outcomes[i])
	}
	s.FinishedAt = now()
	o.finish(ctx, log, s)
	return s, nil
}

func (s *Summary) add(o *GuildOutcome) {
	if o.Failed() {
		s.Failed++
		s.Failures = append(s.Failures, FailedGuild{GuildID: o.GuildID, Name: o.Name, Error: o.CoreErr.Error()})
		return
	}
	s.Succeeded++
	s.Members.Joined += o.Members.Joined
	s.Members.Rejoined += o.Members.Rejoined
	s.Members.RankChanged += o.Members.RankChanged
	s.Members.Left += o.Members.Left
	s.Members.Failed += o.Members.Failed
	s.Ranks.Created += o.Ranks.Created
	s.Ranks.Updated += o.Ranks.Updated
	s.Ranks.Failed += o.Ranks.Failed
	s.Characters.Synced += o.Characters.Synced
	s.Characters.Unavailable += o.Characters.Unavailable
	s.Characters.Failed += o.Characters.Failed
	s.Characters.Skipped += o.Characters.Skipped
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, s *Summary) {
	details, _ := json.Marshal(s)
	ev := &model.SyncEvent{
		RunID:      s.RunID,
		Stage:      model.StageRun,
		Outcome:    model.OutcomeOK,
		DurationMs: s.FinishedAt.Sub(s.StartedAt).Milliseconds(),
		Details:    details,
	}
	if s.Failed > 0 {
		ev.Outcome = model.OutcomeFailed
		ev.Error = fmt.Sprintf("%d of %d guilds failed", s.Failed, s.Guilds)
	}
	o.events.Record(ev)

	log.Info("sync run finished",
		zap.Int("guilds", s.Guilds),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("characters_synced", s.Characters.Synced),
		zap.Int("characters_unavailable", s.Characters.Unavailable),
		zap.Int("characters_failed", s.Characters.Failed),
		zap.Duration("duration", s.FinishedAt.Sub(s.StartedAt)))

	if o.notifier != nil {
		if err := o.notifier.NotifyRun(ctx, s); err != nil {
			log.Warn("run notification failed", zap.Error(err))
		}
	}
}
