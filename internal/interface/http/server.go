// Package http implements the admin REST API of the achievement engine:
// manual awards and revocations, on-demand evaluation, student achievement
// queries and health probes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classvest/achievement-engine/internal/application/command"
	"github.com/classvest/achievement-engine/internal/application/query"
	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/infrastructure/scheduler/jobs"
	"github.com/classvest/achievement-engine/internal/interface/http/handlers"
	"github.com/classvest/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int

	AllowedOrigins []string

	// JWTSecret signs admin bearer tokens.
	JWTSecret string

	// ServiceKeyHash is the bcrypt hash of the service key. Empty disables it.
	ServiceKeyHash string

	// Mode is the gin mode: debug, release or test.
	Mode string

	// Location is the class timezone used for calendar windows.
	Location *time.Location

	// EvaluateRate and EvaluateBurst limit evaluation calls per caller.
	// A zero rate disables the limit.
	EvaluateRate  float64
	EvaluateBurst int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 45 * time.Second,
		MaxHeaderBytes: 1 << 20,
		AllowedOrigins: []string{"*"},
		Mode:           gin.ReleaseMode,
		EvaluateRate:   1,
		EvaluateBurst:  5,
	}
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// StudentEvaluator runs the automatic unlock path for one student.
type StudentEvaluator interface {
	ProcessStudent(ctx context.Context, studentID string, source achievement.Source) ([]*achievement.Achievement, error)
}

// BatchRunner evaluates every student.
type BatchRunner interface {
	RunForAllStudents(ctx context.Context) (*jobs.BatchResult, error)
	LastResult() *jobs.BatchResult
}

// SummaryReader returns the latest stored weekly summary.
type SummaryReader interface {
	LatestWeeklySummary(ctx context.Context) (*query.WeeklySummaryDTO, error)
}

// Dependencies contains everything the handlers call.
type Dependencies struct {
	// AwardHandler and RevokeHandler are optional; their routes are not
	// registered without them.
	AwardHandler               *command.AwardAchievementHandler
	RevokeHandler              *command.RevokeAchievementHandler
	ClearRevocationHandler     *command.ClearRevocationHandler
	AcknowledgeHandler         *command.AcknowledgeUnlockHandler
	DeleteAchievementHandler   *command.DeleteAchievementHandler
	StudentAchievementsHandler *query.GetStudentAchievementsHandler
	WeeklySummaryHandler       *query.GetWeeklySummaryHandler

	Evaluator StudentEvaluator
	Batch     BatchRunner

	// Summaries is optional; without it the summary is computed on demand.
	Summaries SummaryReader

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	auth       *handlers.Authenticator
	httpServer *http.Server
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time

	// Batches started from the API outlive their request. They run under
	// batchCtx, which Shutdown cancels once its grace period is over.
	batchCtx     context.Context
	cancelBatch  context.CancelFunc
	batchRunning atomic.Bool
	batches      sync.WaitGroup
}

// NewServer creates the server and its routes.
func NewServer(config Config, deps Dependencies) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker("v1")
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		auth:   handlers.NewAuthenticator(config.JWTSecret, config.ServiceKeyHash),
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.batchCtx, s.cancelBatch = context.WithCancel(context.Background())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) location() *time.Location {
	if s.config.Location != nil {
		return s.config.Location
	}
	return time.UTC
}

// Authenticator returns the admin authenticator.
func (s *Server) Authenticator() *handlers.Authenticator { return s.auth }

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.engine
	r.Use(
		handlers.RequestIDMiddleware(s.logger),
		handlers.RecoveryMiddleware(s.logger),
		handlers.RequestLogger(s.logger),
		handlers.CORS(s.config.AllowedOrigins),
		handlers.TimeoutMiddleware(s.config.RequestTimeout),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/health", s.handleHealth)
	r.GET("/healthz", s.handleHealth)
	r.GET("/live", s.handleLive)

	v1 := r.Group("/api/v1")

	// ─────────────────────────────────────────────────────────────────────────
	// Student-facing
	// ─────────────────────────────────────────────────────────────────────────
	v1.GET("/students/:id/achievements", s.handleGetStudentAchievements)
	v1.POST("/students/:id/achievements/:aid/seen", s.handleAcknowledge)
	evaluate := []gin.HandlerFunc{s.auth.RequireServiceOrAdmin()}
	if s.config.EvaluateRate > 0 {
		evaluate = append(evaluate, handlers.RateLimitMiddleware(
			handlers.NewKeyedRateLimiter(s.config.EvaluateRate, s.config.EvaluateBurst)))
	}
	v1.POST("/students/:id/evaluate", append(evaluate, s.handleEvaluateStudent)...)

	// ─────────────────────────────────────────────────────────────────────────
	// Admin
	// ─────────────────────────────────────────────────────────────────────────
	v1.POST("/admin/evaluate", append(evaluate, s.handleEvaluateAll)...)
	v1.GET("/admin/evaluate", s.auth.RequireServiceOrAdmin(), s.handleBatchStatus)

	admin := v1.Group("/admin", s.auth.RequireAdmin())
	if s.deps.AwardHandler != nil {
		admin.POST("/students/:id/achievements/:aid/award", s.handleAward)
	}
	if s.deps.RevokeHandler != nil {
		admin.DELETE("/students/:id/achievements/:aid", s.handleRevoke)
	}
	admin.DELETE("/students/:id/revocations/:aid", s.handleClearRevocation)
	admin.DELETE("/achievements/:aid", s.handleDeleteAchievement)
	admin.GET("/summary/weekly", s.handleWeeklySummary)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server, then waits for an API-started batch
// until ctx ends. A batch still running at that point is cancelled; its
// remaining students are reported as skipped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	var err error
	if wasRunning {
		s.logger.Info("shutting down HTTP server")
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("cancelling running batch")
		s.cancelBatch()
		<-done
	}
	s.cancelBatch()
	return err
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
