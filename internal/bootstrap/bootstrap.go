// Package bootstrap wires the engine together from config.Config. Both the
// API and the worker binaries build a Runtime and start only the parts they
// serve.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/classvest/achievement-engine/config"
	"github.com/classvest/achievement-engine/internal/application/command"
	"github.com/classvest/achievement-engine/internal/application/eventhandler"
	"github.com/classvest/achievement-engine/internal/application/query"
	"github.com/classvest/achievement-engine/internal/application/saga"
	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/investment"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/internal/domain/student"
	"github.com/classvest/achievement-engine/internal/infrastructure/messaging"
	"github.com/classvest/achievement-engine/internal/infrastructure/persistence/memory"
	"github.com/classvest/achievement-engine/internal/infrastructure/persistence/postgres"
	redisstore "github.com/classvest/achievement-engine/internal/infrastructure/persistence/redis"
	"github.com/classvest/achievement-engine/internal/infrastructure/scheduler"
	"github.com/classvest/achievement-engine/internal/infrastructure/scheduler/jobs"
	"github.com/classvest/achievement-engine/internal/infrastructure/seed"
	"github.com/classvest/achievement-engine/internal/infrastructure/service"
	httpserver "github.com/classvest/achievement-engine/internal/interface/http"
	"github.com/classvest/achievement-engine/internal/interface/http/handlers"
	"github.com/classvest/achievement-engine/pkg/circuitbreaker"
	"github.com/classvest/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// Storage groups the storage ports used by the application layer.
type Storage struct {
	Achievements achievement.Repository
	Unlocks      achievement.UnlockStore
	Progress     achievement.ProgressStore
	Revocations  achievement.RevocationStore
	Ledger       investment.Ledger
	Roster       student.Roster

	// Memory is set for the memory driver.
	Memory *memory.Store
}

// MemoryStorage backs every port with one in-memory store.
func MemoryStorage(store *memory.Store) Storage {
	return Storage{
		Achievements: store,
		Unlocks:      store,
		Progress:     store,
		Revocations:  store,
		Ledger:       store,
		Roster:       store,
		Memory:       store,
	}
}

// PostgresStorage backs every port with pgx repositories.
func PostgresStorage(db *postgres.Connection) Storage {
	ledger := postgres.NewLedgerRepository(db)
	return Storage{
		Achievements: postgres.NewAchievementRepository(db),
		Unlocks:      postgres.NewUnlockRepository(db),
		Progress:     postgres.NewProgressRepository(db),
		Revocations:  postgres.NewRevocationRepository(db),
		Ledger:       ledger,
		Roster:       ledger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME
// ══════════════════════════════════════════════════════════════════════════════

// Runtime holds every wired component.
type Runtime struct {
	Config  *config.Config
	Slog    *slog.Logger
	Log     *logger.Logger
	Storage Storage

	LocalBus *messaging.InMemoryEventBus
	RedisBus *messaging.RedisEventBus
	Bus      shared.EventBus

	Cache     *redisstore.Cache
	Summaries *redisstore.SummaryStore

	Flow   *saga.UnlockFlow
	Policy achievement.RegrantPolicy

	Award               *command.AwardAchievementHandler
	Revoke              *command.RevokeAchievementHandler
	ClearRevocation     *command.ClearRevocationHandler
	Acknowledge         *command.AcknowledgeUnlockHandler
	Define              *command.DefineAchievementHandler
	DeleteAchievement   *command.DeleteAchievementHandler
	StudentAchievements *query.GetStudentAchievementsHandler
	WeeklySummary       *query.GetWeeklySummaryHandler

	Batch   *jobs.EvaluateAllStudentsJob
	Streak  *jobs.EvaluateAllStudentsJob
	Summary *jobs.WeeklySummaryJob

	Health *handlers.CompositeHealthChecker

	closers []func()
}

// New connects storage and Redis and builds the application layer.
func New(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (*Runtime, error) {
	if slogger == nil {
		slogger = NewSlog(cfg, os.Stdout)
	}
	r := &Runtime{
		Config: cfg,
		Slog:   slogger,
		Log:    NewLogger(cfg, slogger),
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
		Policy: achievement.ParseRegrantPolicy(cfg.Engine.RegrantPolicy),
	}

	storage, err := r.openStorage(ctx)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Storage = storage
	r.Health.AddCheck("roster", handlers.NewPingCheck(storage.Roster))

	r.openRedis()
	r.buildEventBus()

	if err := r.buildApplication(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// NewWithStorage builds a Runtime on prepared storage, without Redis.
func NewWithStorage(cfg *config.Config, storage Storage, slogger *slog.Logger) (*Runtime, error) {
	if slogger == nil {
		slogger = NewSlog(cfg, os.Stdout)
	}
	r := &Runtime{
		Config:  cfg,
		Slog:    slogger,
		Log:     NewLogger(cfg, slogger),
		Storage: storage,
		Health:  handlers.NewCompositeHealthChecker(cfg.App.Version),
		Policy:  achievement.ParseRegrantPolicy(cfg.Engine.RegrantPolicy),
	}
	r.Health.AddCheck("roster", handlers.NewPingCheck(storage.Roster))
	r.buildEventBus()
	if err := r.buildApplication(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) onClose(fn func()) { r.closers = append(r.closers, fn) }

// Close releases everything in reverse order. Safe to call twice.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Storage and Redis
// ─────────────────────────────────────────────────────────────────────────────

func (r *Runtime) openStorage(ctx context.Context) (Storage, error) {
	if r.Config.Database.Driver == config.DriverMemory {
		r.Slog.Warn("using in-memory storage; data is lost on exit")
		return MemoryStorage(memory.NewStore()), nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = r.Config.Database.URL
	pgCfg.MaxConns = r.Config.Database.MaxConns
	pgCfg.MinConns = r.Config.Database.MinConns
	pgCfg.MaxConnLifetime = r.Config.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = r.Config.Database.ConnMaxIdleTime

	r.Slog.Info("connecting to database...")
	db, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return Storage{}, fmt.Errorf("connect database: %w", err)
	}
	r.onClose(func() {
		r.Slog.Info("closing database connection...")
		db.Close()
	})
	r.Health.AddCheck("database", handlers.NewPingCheck(db))

	if r.Config.Database.RunMigrations {
		migrator := postgres.NewMigrator(db)
		if err := migrator.Migrate(ctx); err != nil {
			return Storage{}, fmt.Errorf("run migrations: %w", err)
		}
		if status, err := migrator.Status(ctx); err != nil {
			r.Slog.Warn("failed to get migration status", "error", err)
		} else {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			r.Slog.Info("migrations completed", "applied", applied, "total", len(status))
		}
	}
	return PostgresStorage(db), nil
}

// openRedis connects Redis. Failure is not fatal: the engine runs without
// the run lock, the stored summary and cross-instance events.
func (r *Runtime) openRedis() {
	if r.Config.Redis.Disabled {
		return
	}
	rc := redisstore.DefaultConfig()
	rc.Addr = r.Config.Redis.Addr
	rc.Password = r.Config.Redis.Password
	rc.DB = r.Config.Redis.DB
	rc.PoolSize = r.Config.Redis.PoolSize
	rc.DialTimeout = r.Config.Redis.DialTimeout
	rc.ReadTimeout = r.Config.Redis.ReadTimeout
	rc.WriteTimeout = r.Config.Redis.WriteTimeout
	rc.KeyPrefix = r.Config.Redis.KeyPrefix

	r.Slog.Info("connecting to Redis...", "addr", rc.Addr)
	cache, err := redisstore.NewCache(rc)
	if err != nil {
		r.Slog.Warn("failed to connect to Redis, continuing without it", "error", err)
		return
	}
	r.Cache = cache
	r.Summaries = redisstore.NewSummaryStore(cache)
	r.Health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	r.onClose(func() { _ = cache.Close() })
	r.Slog.Info("Redis connection established")
}

// ─────────────────────────────────────────────────────────────────────────────
// Event bus
// ─────────────────────────────────────────────────────────────────────────────

func (r *Runtime) buildEventBus() {
	r.LocalBus = messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig(r.Slog))
	r.onClose(func() {
		r.Slog.Info("closing event bus...")
		_ = r.LocalBus.Close()
	})
	r.Bus = r.LocalBus

	if r.Cache == nil || !r.Config.Features.IsEnabled(config.FeatureRedisFanout) {
		return
	}

	breaker := circuitbreaker.EventBusBreaker(func(name string, from, to circuitbreaker.State) {
		r.Slog.Warn("event bus breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	busCfg := messaging.DefaultRedisEventBusConfig(r.Slog)
	busCfg.ChannelPrefix = r.Cache.Keys().Events()
	r.RedisBus = messaging.NewRedisEventBus(r.LocalBus, messaging.NewGoRedisClient(r.Cache.Client()), breaker, busCfg)
	r.onClose(func() { _ = r.RedisBus.Close() })
	r.Bus = r.RedisBus
}

// StartEventBus subscribes to the shared channel when Redis fan-out is on.
func (r *Runtime) StartEventBus(ctx context.Context) error {
	if r.RedisBus == nil {
		return nil
	}
	if err := r.RedisBus.Start(ctx); err != nil {
		return fmt.Errorf("start redis event bus: %w", err)
	}
	r.Slog.Info("redis event bus started", "instance_id", r.RedisBus.InstanceID())
	return nil
}

// SubscribeEvaluation evaluates a student whenever an investment is recorded.
func (r *Runtime) SubscribeEvaluation() error {
	if !r.Config.Features.IsEnabled(config.FeatureEventEvaluation) {
		r.Slog.Info("event-driven evaluation disabled")
		return nil
	}
	flags := r.Config.Features
	h := eventhandler.NewOnInvestmentRecordedHandler(r.Flow, r.Slog, eventhandler.InvestmentRecordedConfig{
		Timeout: r.Config.Engine.EventTimeout,
		ShouldEvaluate: func(studentID string) bool {
			return flags.IsEnabledFor(config.FeatureEventEvaluation, studentID)
		},
	})
	return r.Bus.Subscribe(shared.EventInvestmentRecorded, h.Handle)
}

// ─────────────────────────────────────────────────────────────────────────────
// Application layer
// ─────────────────────────────────────────────────────────────────────────────

func (r *Runtime) buildApplication() error {
	cfg := r.Config
	st := r.Storage
	loc := cfg.App.Location

	balanceCfg := service.BalanceConfig{
		AnnualRate:  cfg.Balance.AnnualRate,
		Compounding: service.Compounding(cfg.Balance.Compounding),
	}
	if err := balanceCfg.Validate(); err != nil {
		return fmt.Errorf("balance config: %w", err)
	}
	balance := service.NewBalanceService(balanceCfg)
	metrics := investment.NewMetricsCalculator(st.Ledger, balance, investment.WithLocation(loc))

	r.Flow = saga.NewUnlockFlow(st.Achievements, st.Unlocks, st.Progress, st.Revocations,
		metrics, r.Bus, r.Log, saga.UnlockFlowConfig{RegrantPolicy: r.Policy})

	r.Award = command.NewAwardAchievementHandler(st.Achievements, st.Unlocks, r.Bus, r.Log, command.DefaultAwardAchievementHandlerConfig())
	r.Revoke = command.NewRevokeAchievementHandler(st.Achievements, st.Unlocks, st.Revocations, r.Bus, r.Log, r.Policy)
	r.ClearRevocation = command.NewClearRevocationHandler(st.Revocations, r.Bus, r.Log)
	r.Acknowledge = command.NewAcknowledgeUnlockHandler(st.Unlocks)
	r.Define = command.NewDefineAchievementHandler(st.Achievements, r.Bus, r.Log)
	r.DeleteAchievement = command.NewDeleteAchievementHandler(st.Achievements, r.Bus, r.Log)
	r.StudentAchievements = query.NewGetStudentAchievementsHandler(st.Achievements, st.Unlocks, st.Progress)
	r.WeeklySummary = query.NewGetWeeklySummaryHandler(st.Achievements, st.Unlocks)

	var lock jobs.RunLock
	if r.Cache != nil {
		lock = redisstore.NewRunLock(r.Cache)
	}
	batchCfg := jobs.DefaultEvaluateAllStudentsConfig()
	streakCfg := jobs.DailyStreakConfig()
	for _, c := range []*jobs.EvaluateAllStudentsConfig{&batchCfg, &streakCfg} {
		c.Concurrency = cfg.Engine.Workers
		c.FailureThreshold = cfg.Engine.FailureThreshold
		c.Timeout = cfg.Engine.BatchTimeout
		c.LockTTL = cfg.Engine.LockTTL
	}
	r.Batch = jobs.NewEvaluateAllStudentsJob(st.Roster, r.Flow, r.Bus, lock, r.Slog, batchCfg)
	r.Streak = jobs.NewEvaluateAllStudentsJob(st.Roster, r.Flow, r.Bus, lock, r.Slog, streakCfg)

	var sink jobs.SummarySink
	if r.Summaries != nil {
		sink = r.Summaries
	}
	r.Summary = jobs.NewWeeklySummaryJob(r.WeeklySummary, sink, loc, r.Slog)
	return nil
}

// SeedCatalog upserts the configured achievement catalog, if any.
func (r *Runtime) SeedCatalog(ctx context.Context) error {
	path := r.Config.Seed.CatalogPath
	if path == "" {
		return nil
	}
	catalog, err := seed.LoadCatalog(path)
	if err != nil {
		if errors.Is(err, seed.ErrEmptyCatalog) {
			r.Slog.Warn("achievement catalog is empty", "path", path)
			return nil
		}
		return err
	}
	res, err := catalog.Apply(ctx, r.Define)
	if err != nil {
		return fmt.Errorf("apply catalog: %w", err)
	}
	r.Slog.Info("achievement catalog applied", "path", path, "created", res.Created, "updated", res.Updated)
	return nil
}

// NewScheduler registers the batch, daily streak and weekly summary jobs.
func (r *Runtime) NewScheduler() (*scheduler.Scheduler, error) {
	cfg := r.Config
	sched := scheduler.NewScheduler(scheduler.Config{Logger: r.Slog, Timezone: cfg.App.Location})

	if err := sched.Register(r.Batch, scheduler.NewIntervalSchedule(cfg.Scheduler.EvaluateInterval)); err != nil {
		return nil, err
	}
	if cfg.Features.IsEnabled(config.FeatureDailyStreakJob) {
		s, err := scheduler.NewCronSchedule(cfg.Scheduler.StreakCron, cfg.App.Location)
		if err != nil {
			return nil, err
		}
		if err := sched.Register(r.Streak, s); err != nil {
			return nil, err
		}
	}
	if cfg.Features.IsEnabled(config.FeatureWeeklySummaryJob) {
		s, err := scheduler.NewCronSchedule(cfg.Scheduler.SummaryCron, cfg.App.Location)
		if err != nil {
			return nil, err
		}
		if err := sched.Register(r.Summary, s); err != nil {
			return nil, err
		}
	}

	sched.OnJobComplete(func(res scheduler.RunResult) {
		if !res.Success {
			r.Slog.Error("scheduled job failed", "job", res.JobName, "error", res.Error, "duration", res.Duration)
		}
	})
	return sched, nil
}

// HTTPServer builds the admin API on top of the runtime.
func (r *Runtime) HTTPServer() *httpserver.Server {
	cfg := r.Config
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.JWTSecret = cfg.HTTP.JWTSecret
	httpCfg.ServiceKeyHash = cfg.HTTP.ServiceKeyHash
	httpCfg.Location = cfg.App.Location
	httpCfg.EvaluateRate = cfg.HTTP.EvaluateRate
	httpCfg.EvaluateBurst = cfg.HTTP.EvaluateBurst
	if cfg.App.Debug {
		httpCfg.Mode = "debug"
	}

	deps := httpserver.Dependencies{
		ClearRevocationHandler:     r.ClearRevocation,
		AcknowledgeHandler:         r.Acknowledge,
		DeleteAchievementHandler:   r.DeleteAchievement,
		StudentAchievementsHandler: r.StudentAchievements,
		WeeklySummaryHandler:       r.WeeklySummary,
		Evaluator:                  r.Flow,
		Batch:                      r.Batch,
		HealthChecker:              r.Health,
		Logger:                     r.Log,
	}
	if cfg.Features.IsEnabled(config.FeatureManualAwards) {
		deps.AwardHandler = r.Award
		deps.RevokeHandler = r.Revoke
	}
	if r.Summaries != nil {
		deps.Summaries = r.Summaries
	}
	return httpserver.NewServer(httpCfg, deps)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewSlog builds the slog logger used by infrastructure: JSON in production
// or when LOG_FORMAT=json, text otherwise.
func NewSlog(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel), AddSource: cfg.App.Debug}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var h slog.Handler
	if cfg.IsProduction() || cfg.Observability.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// NewLogger builds the typed logger of the application and HTTP layers on
// top of the process slog handler.
func NewLogger(cfg *config.Config, slogger *slog.Logger) *logger.Logger {
	return logger.FromSlog(slogger, cfg.App.Debug).With(logger.String("service", cfg.App.Name))
}

func slogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
