package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guildsync/api/rest"
	"github.com/kasuganosora/guildsync/config"
	"github.com/kasuganosora/guildsync/reconcile"
	"github.com/kasuganosora/guildsync/runlog"
	"github.com/kasuganosora/guildsync/scheduler"
	"github.com/kasuganosora/guildsync/store"
	"github.com/kasuganosora/guildsync/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAdminKey = "secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// blockingRunner holds every run open until release is closed.
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 4), release: make(chan struct{})}
}

func (r *blockingRunner) RunWithID(ctx context.Context, runID string) (*reconcile.Summary, error) {
	r.started <- runID
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &reconcile.Summary{RunID: runID}, nil
}

type testEnv struct {
	router *gin.Engine
	st     *store.Store
	job    *scheduler.SyncJob
	sched  *scheduler.Scheduler
	runner *blockingRunner
	runs   *runlog.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	log := zap.NewNop()

	st := store.New(db)
	runner := newBlockingRunner()
	job := scheduler.NewSyncJob(runner, c, 0, log)
	sched := scheduler.New(log)
	runs := runlog.New(db, log)
	t.Cleanup(func() {
		sched.Stop()
		runs.Stop(context.Background())
	})

	cfg := &config.Config{
		Server:   config.ServerConfig{Debug: true, AdminKey: testAdminKey},
		Security: config.SecurityConfig{RateLimitRPS: 1000, RateLimitBurst: 1000},
	}
	h := rest.Handlers{
		Guilds:     rest.NewGuildHandler(st, log),
		Characters: rest.NewCharacterHandler(st, log),
		Admin:      rest.NewAdminHandler(context.Background(), job, sched, runs, log),
	}
	return &testEnv{
		router: rest.NewRouter(cfg, h, log),
		st:     st,
		job:    job,
		sched:  sched,
		runner: runner,
		runs:   runs,
	}
}

func (e *testEnv) do(method, path, key, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	return newRecorder(e.router, req)
}

func newRecorder(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
