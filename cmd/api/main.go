// Package main - точка входа HTTP API движка достижений.
//
// API отдаёт студентам их значки и прогресс, а администраторам - ручную
// выдачу, отзыв и запуск проверки. Плановые задачи живут в cmd/worker.
//
// Флаг -issue-token печатает токен администратора и завершает работу:
//
//	api -issue-token admin-42
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/classvest/achievement-engine/config"
	"github.com/classvest/achievement-engine/internal/bootstrap"
)

func main() {
	issueToken := flag.String("issue-token", "", "print an admin token for this admin ID and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := run(ctx, *issueToken); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, issueToken string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.HTTP.JWTSecret == "" {
		return errors.New("HTTP_JWT_SECRET is required for the API")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewSlog(cfg, os.Stdout)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ, REDIS, EVENT BUS, APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer rt.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. СОЗДАНИЕ HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := rt.HTTPServer()

	if issueToken != "" {
		token, err := server.Authenticator().IssueAdminToken(issueToken, cfg.HTTP.AdminTokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	// Разблокировки из API (ручная выдача, /evaluate) уходят другим
	// экземплярам через Redis.
	if err := rt.StartEventBus(ctx); err != nil {
		log.Warn("cross-instance events unavailable", "error", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	errCh := server.StartAsync()
	log.Info("achievement API is running", "address", cfg.HTTP.Host, "port", cfg.HTTP.Port)

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("service error", "error", err)
			return err
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}
	rt.LocalBus.Wait()
	log.Info("shutdown completed successfully")
	return nil
}
