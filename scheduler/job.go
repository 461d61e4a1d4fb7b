package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/guildsync/cache"
	"github.com/kasuganosora/guildsync/reconcile"
	"go.uber.org/zap"
)

// LockKey is held in the cache for the duration of a sync run.
const LockKey = "guildsync:lock"

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("sync run already in progress")

// Runner starts one reconciliation run.
type Runner interface {
	RunWithID(ctx context.Context, runID string) (*reconcile.Summary, error)
}

var _ Runner = (*reconcile.Orchestrator)(nil)

// JobStatus is the last known state of the sync job.
type JobStatus struct {
	Running     bool               `json:"running"`
	CurrentRun  string             `json:"current_run,omitempty"`
	LastRunID   string             `json:"last_run_id,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	LastSummary *reconcile.Summary `json:"last_summary,omitempty"`
	LastFinish  *time.Time         `json:"last_finish,omitempty"`
}

// SyncJob makes sure at most one run is active across every process that
// shares the cache.
type SyncJob struct {
	runner Runner
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	status JobStatus
	wg     sync.WaitGroup
}

func NewSyncJob(runner Runner, c cache.Cache, ttl time.Duration, logger *zap.Logger) *SyncJob {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &SyncJob{runner: runner, cache: c, ttl: ttl, logger: logger}
}

// Tick is the TaskFn for the scheduler. A held lock skips the tick.
func (j *SyncJob) Tick(ctx context.Context) {
	_, err := j.Run(ctx)
	if errors.Is(err, ErrRunInProgress) {
		j.logger.Info("sync tick skipped, run in progress")
	}
}

// Run executes one run synchronously under the lock.
func (j *SyncJob) Run(ctx context.Context) (*reconcile.Summary, error) {
	runID, err := j.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return j.execute(ctx, runID)
}

// Start acquires the lock and runs in the background. ctx only bounds the
// lock acquisition; the run itself uses base.
func (j *SyncJob) Start(ctx, base context.Context) (string, error) {
	runID, err := j.acquire(ctx)
	if err != nil {
		return "", err
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		_, _ = j.execute(base, runID)
	}()
	return runID, nil
}

// Wait blocks until background runs started with Start have finished.
func (j *SyncJob) Wait() { j.wg.Wait() }

func (j *SyncJob) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *SyncJob) acquire(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	ok, err := j.cache.SetNX(ctx, LockKey, runID, j.ttl)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrRunInProgress
	}
	j.mu.Lock()
	j.status.Running = true
	j.status.CurrentRun = runID
	j.mu.Unlock()
	return runID, nil
}

func (j *SyncJob) execute(ctx context.Context, runID string) (*reconcile.Summary, error) {
	defer func() {
		// Release with a fresh context so a cancelled run still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := j.cache.DelIfEqual(rctx, LockKey, runID); err != nil {
			j.logger.Warn("sync lock release failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	summary, err := j.runner.RunWithID(ctx, runID)

	finished := time.Now().UTC()
	j.mu.Lock()
	j.status.Running = false
	j.status.CurrentRun = ""
	j.status.LastRunID = runID
	j.status.LastFinish = &finished
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	} else {
		j.status.LastSummary = summary
	}
	j.mu.Unlock()

	if err != nil {
		j.logger.Error("sync run failed", zap.String("run_id", runID), zap.Error(err))
	}
	return summary, err
}
