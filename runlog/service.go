// Package runlog persists reconciliation stage outcomes asynchronously.
package runlog

import (
	"context"
	"sync"
	"time"

	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/reconcile"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Service writes sync events to the database in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.SyncEvent
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

var _ reconcile.EventRecorder = (*Service)(nil)

// New creates a Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.SyncEvent, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Record enqueues an event. It never blocks; events are dropped when the
// queue is full.
func (svc *Service) Record(ev *model.SyncEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	select {
	case svc.ch <- ev:
	default:
		svc.logger.Warn("runlog queue full, dropping event",
			zap.String("run_id", ev.RunID), zap.String("stage", ev.Stage))
	}
}

// Stop flushes pending events and waits for the worker to exit.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.SyncEvent, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("runlog batch write failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-svc.ch:
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case ev := <-svc.ch:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// RunEvents returns every event of one run in write order.
func (svc *Service) RunEvents(ctx context.Context, runID string) ([]model.SyncEvent, error) {
	var out []model.SyncEvent
	err := svc.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&out).Error
	return out, err
}

// RecentRuns returns the latest run-level events, newest first.
func (svc *Service) RecentRuns(ctx context.Context, limit int) ([]model.SyncEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.SyncEvent
	err := svc.db.WithContext(ctx).
		Where("stage = ?", model.StageRun).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
