package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apirest "github.com/kasuganosora/guildsync/api/rest"
	"github.com/kasuganosora/guildsync/cache"
	"github.com/kasuganosora/guildsync/config"
	dbadapter "github.com/kasuganosora/guildsync/db"
	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/reconcile"
	"github.com/kasuganosora/guildsync/runlog"
	"github.com/kasuganosora/guildsync/scheduler"
	"github.com/kasuganosora/guildsync/store"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "guildsync",
		Short:         "Mirror guild rosters and characters from the game directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default "+defaultConfigPath+" if present)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the periodic sync",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Run one reconciliation pass and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSync(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update database tables",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cfgPath)
			},
		},
	)
	return root
}

// app holds the shared services every command builds on.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	cache  cache.Cache
	pubsub cache.PubSub
	store  *store.Store
	runs   *runlog.Service
	orch   *reconcile.Orchestrator
	job    *scheduler.SyncJob
}

func loadConfig(path string) (*config.Config, error) {
	// .env.local overrides .env; both are optional.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Server.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openDB(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", zap.String("mode", cfg.Database.Mode))
	return db, nil
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	if a.db, err = openDB(cfg, logger); err != nil {
		return nil, err
	}
	if a.cache, err = cache.NewCache(cfg.Cache); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if a.pubsub, err = cache.NewPubSub(cfg.Cache); err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	if cfg.Cache.RedisAddr != "" {
		logger.Info("cache: using Redis", zap.String("addr", cfg.Cache.RedisAddr))
	} else {
		logger.Info("cache: using in-process LocalCache")
	}

	if cfg.Directory.ClientID == "" {
		logger.Warn("directory.client_id is not set; directory requests are unauthenticated")
	}
	dir := directory.NewClient(cfg.Directory, logger.Named("directory"))

	a.store = store.New(a.db)
	a.runs = runlog.New(a.db, logger.Named("runlog"))
	a.orch = reconcile.NewOrchestrator(reconcile.Deps{
		Directory:  dir,
		Guilds:     a.store.Guilds,
		Characters: a.store.Characters,
		Members:    a.store.Members,
		Ranks:      a.store.Ranks,
		Users:      a.store.Users,
		Events:     a.runs,
		Notifier:   reconcile.NewPubSubNotifier(a.pubsub),
		Logger:     logger.Named("reconcile"),
	}, reconcile.Options{
		GuildConcurrency:     cfg.Sync.GuildConcurrency,
		CharacterConcurrency: cfg.Sync.CharacterConcurrency,
	})
	a.job = scheduler.NewSyncJob(a.orch, a.cache, cfg.Sync.LockTTL, logger.Named("job"))
	return a, nil
}

func (a *app) close() {
	a.runs.Stop(context.Background())
	if c, ok := a.cache.(interface{ Close() }); ok {
		c.Close()
	}
	if err := dbadapter.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func runServe(ctx context.Context, cfgPath string) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	sched := scheduler.New(logger.Named("scheduler"))
	if cfg.Sync.RunOnStartup {
		sched.AddTickerNow("guild-sync", cfg.Sync.Interval, a.job.Tick)
	} else {
		sched.AddTicker("guild-sync", cfg.Sync.Interval, a.job.Tick)
	}

	r := apirest.NewRouter(cfg, apirest.Handlers{
		Guilds:     apirest.NewGuildHandler(a.store, logger),
		Characters: apirest.NewCharacterHandler(a.store, logger),
		Admin:      apirest.NewAdminHandler(ctx, a.job, sched, a.runs, logger),
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Duration("sync_interval", cfg.Sync.Interval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			sched.Stop()
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	// Stop cancels the scheduler context; in-flight runs wind down and
	// release the lock.
	sched.Stop()
	a.job.Wait()
	return nil
}

// runSync performs one run. Only a failure to enumerate guilds is an error;
// individual guild failures are reported in the summary.
func runSync(ctx context.Context, cfgPath string) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.job.Run(ctx)
	if errors.Is(err, scheduler.ErrRunInProgress) {
		a.logger.Warn("another sync run holds the lock")
		return nil
	}
	if err != nil {
		if errors.Is(err, reconcile.ErrEnumeration) {
			return err
		}
		a.logger.Error("sync run ended with error", zap.Error(err))
		return nil
	}
	a.logger.Info("sync finished",
		zap.String("run_id", summary.RunID),
		zap.Int("guilds", summary.Guilds),
		zap.Int("failed", summary.Failed))
	return nil
}

func runMigrate(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	if err := dbadapter.Close(db); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	logger.Info("migration complete")
	return nil
}
