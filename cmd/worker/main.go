// Package main - точка входа фонового процесса (Worker) движка достижений.
//
// Worker отвечает за:
// - периодическую пакетную проверку всех студентов;
// - ежедневный проход по сериям (streak) после полуночи;
// - еженедельную сводку разблокировок;
// - проверку студента сразу после события investment.recorded.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classvest/achievement-engine/config"
	"github.com/classvest/achievement-engine/internal/bootstrap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewSlog(cfg, os.Stdout)
	log.Info("starting achievement worker",
		"env", cfg.App.Environment,
		"debug", cfg.App.Debug,
		"timezone", cfg.App.Timezone,
		"regrant_policy", cfg.Engine.RegrantPolicy,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ, REDIS, EVENT BUS, APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer rt.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КАТАЛОГ ДОСТИЖЕНИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if err := rt.SeedCatalog(ctx); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	if err := rt.SubscribeEvaluation(); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := rt.StartEventBus(ctx); err != nil {
		// Без Redis остаются пакетные проходы, это не фатально.
		log.Warn("cross-instance events unavailable", "error", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled; serving events only")
	} else {
		sched, err := rt.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			if err := sched.Stop(); err != nil {
				log.Error("failed to stop scheduler", "error", err)
			}
		}()

		if cfg.Scheduler.RunOnStart {
			go func() {
				if _, err := sched.RunNow(ctx, rt.Batch.Name()); err != nil {
					log.Error("initial batch failed", "error", err)
				}
			}()
		}
		for _, j := range sched.ListJobs() {
			log.Info("job scheduled", "job", j.Name, "schedule", j.Schedule)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("achievement worker is running")
	<-ctx.Done()

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	done := make(chan struct{})
	go func() {
		rt.LocalBus.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("event handlers still running at shutdown timeout")
	}

	log.Info("shutdown completed")
	return nil
}
