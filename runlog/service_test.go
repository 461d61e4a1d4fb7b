package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestRecord_FlushedOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	guildID := int64(7)
	svc.Record(&model.SyncEvent{
		RunID:      "run-1",
		GuildID:    &guildID,
		Stage:      model.StageCore,
		Outcome:    model.OutcomeFailed,
		Error:      "guild profile: not found",
		DurationMs: 42,
		Details:    datatypes.JSON(`{"members":3}`),
	})
	svc.Stop(context.Background())

	events, err := svc.RunEvents(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.StageCore, events[0].Stage)
	assert.Equal(t, model.OutcomeFailed, events[0].Outcome)
	assert.Equal(t, int64(42), events[0].DurationMs)
	require.NotNil(t, events[0].GuildID)
	assert.Equal(t, int64(7), *events[0].GuildID)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestRecord_BatchFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	for i := 0; i < batchSize; i++ {
		svc.Record(&model.SyncEvent{RunID: "run-batch", Stage: model.StageGuild, Outcome: model.OutcomeOK})
	}
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.SyncEvent{}).Where("run_id = ?", "run-batch").Count(&count)
	assert.Equal(t, int64(batchSize), count)
}

func TestRecord_TimerFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	defer svc.Stop(context.Background())

	svc.Record(&model.SyncEvent{RunID: "run-timer", Stage: model.StageRun, Outcome: model.OutcomeOK})

	require.Eventually(t, func() bool {
		var count int64
		db.Model(&model.SyncEvent{}).Where("run_id = ?", "run-timer").Count(&count)
		return count == 1
	}, flushInterval+2*time.Second, 100*time.Millisecond)
}

func TestRecentRuns(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	for _, id := range []string{"a", "b", "c"} {
		svc.Record(&model.SyncEvent{RunID: id, Stage: model.StageRun, Outcome: model.OutcomeOK})
		svc.Record(&model.SyncEvent{RunID: id, Stage: model.StageCore, Outcome: model.OutcomeOK})
	}
	svc.Stop(context.Background())

	runs, err := svc.RecentRuns(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}

func TestRecord_DropsWhenFull(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	for i := 0; i < queueSize+10; i++ {
		svc.Record(&model.SyncEvent{RunID: "flood", Stage: model.StageGuild, Outcome: model.OutcomeOK})
	}
	svc.Stop(context.Background())
}
