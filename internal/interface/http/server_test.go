package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/classvest/achievement-engine/internal/application/command"
	"github.com/classvest/achievement-engine/internal/application/query"
	"github.com/classvest/achievement-engine/internal/application/saga"
	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/investment"
	"github.com/classvest/achievement-engine/internal/domain/student"
	"github.com/classvest/achievement-engine/internal/infrastructure/persistence/memory"
	"github.com/classvest/achievement-engine/internal/infrastructure/scheduler/jobs"
	"github.com/classvest/achievement-engine/internal/interface/http/handlers"
	"github.com/classvest/achievement-engine/pkg/logger"
)

const (
	studentID  = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	jwtSecret  = "test-secret"
	serviceKey = "ledger-service-key"
)

type testEnv struct {
	server *Server
	store  *memory.Store
	first  *achievement.Achievement
	helper *achievement.Achievement
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	first := &achievement.Achievement{
		Name: "First Step", Rarity: achievement.RarityCommon, TriggerType: achievement.TriggerAutomatic, IsActive: true, Points: 10,
		TriggerConfig: &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 1},
	}
	helper := &achievement.Achievement{
		Name: "Class Helper", Rarity: achievement.RarityLegendary, TriggerType: achievement.TriggerManual, IsActive: true, Points: 100,
	}
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, helper))
	store.AddStudent(studentID)
	store.AddInvestment(investment.Investment{ID: "i1", StudentID: studentID, Date: time.Now(), Amount: 25})

	log := logger.Nop()
	balance := investment.BalanceFunc(func(_ context.Context, _ string, h []investment.Investment) (float64, error) {
		return float64(len(h)) * 25, nil
	})
	flow := saga.NewUnlockFlow(store, store, store, store, investment.NewMetricsCalculator(store, balance), nil, log, saga.DefaultUnlockFlowConfig())
	batch := jobs.NewEvaluateAllStudentsJob(store, flow, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), jobs.DefaultEvaluateAllStudentsConfig())

	hash, err := bcrypt.GenerateFromPassword([]byte(serviceKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.JWTSecret = jwtSecret
	cfg.ServiceKeyHash = string(hash)

	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("roster", handlers.NewPingCheck(store))

	srv := NewServer(cfg, Dependencies{
		AwardHandler:               command.NewAwardAchievementHandler(store, store, nil, log, command.DefaultAwardAchievementHandlerConfig()),
		RevokeHandler:              command.NewRevokeAchievementHandler(store, store, store, nil, log, achievement.RegrantSuppressed),
		ClearRevocationHandler:     command.NewClearRevocationHandler(store, nil, log),
		AcknowledgeHandler:         command.NewAcknowledgeUnlockHandler(store),
		DeleteAchievementHandler:   command.NewDeleteAchievementHandler(store, nil, log),
		StudentAchievementsHandler: query.NewGetStudentAchievementsHandler(store, store, store),
		WeeklySummaryHandler:       query.NewGetWeeklySummaryHandler(store, store),
		Evaluator:                  flow,
		Batch:                      batch,
		HealthChecker:              health,
		Logger:                     log,
	})

	token, err := srv.Authenticator().IssueAdminToken("admin-7", time.Hour)
	require.NoError(t, err)

	return &testEnv{server: srv, store: store, first: first, helper: helper, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, handlers.JSONResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var resp handlers.JSONResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (e *testEnv) admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.token}
}

func path(format string, args ...any) string {
	return "/api/v1" + fmt.Sprintf(format, args...)
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/health", nil, map[string]string{handlers.HeaderRequestID: "req-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", rec.Header().Get(handlers.HeaderRequestID))
	assert.Equal(t, "req-1", resp.RequestID)

	rec, _ = env.do(t, http.MethodGet, "/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(handlers.HeaderRequestID))
}

func TestAward_RequiresAdminToken(t *testing.T) {
	env := newTestEnv(t)
	url := path("/admin/students/%s/achievements/%d/award", studentID, env.helper.ID)

	rec, resp := env.do(t, http.MethodPost, url, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)

	rec, _ = env.do(t, http.MethodPost, url, nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, url, nil, map[string]string{handlers.HeaderServiceKey: serviceKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "service key is not enough for manual awards")
}

func TestAward_ManualFlow(t *testing.T) {
	env := newTestEnv(t)
	url := path("/admin/students/%s/achievements/%d/award", studentID, env.helper.ID)

	rec, resp := env.do(t, http.MethodPost, url, AwardRequest{Note: "helped with homework"}, env.admin())
	require.Equal(t, http.StatusCreated, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["created"])
	meta := data["metadata"].(map[string]any)
	assert.Equal(t, "manual", meta["source"])
	assert.Equal(t, "admin-7", meta["admin_id"])

	rec, resp = env.do(t, http.MethodPost, url, nil, env.admin())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, resp.Data.(map[string]any)["created"])

	rec, _ = env.do(t, http.MethodPost, path("/admin/students/%s/achievements/%d/award", studentID, env.first.ID), nil, env.admin())
	assert.Equal(t, http.StatusConflict, rec.Code, "automatic achievements cannot be awarded")

	rec, _ = env.do(t, http.MethodPost, path("/admin/students/%s/achievements/999/award", studentID), nil, env.admin())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, path("/admin/students/not-a-uuid/achievements/%d/award", env.helper.ID), nil, env.admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, path("/admin/students/%s/achievements/abc/award", studentID), nil, env.admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateStudent_ThenQueryAndAcknowledge(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, path("/students/%s/evaluate", studentID), nil, map[string]string{handlers.HeaderServiceKey: serviceKey})
	require.Equal(t, http.StatusOK, rec.Code)
	unlocked := resp.Data.(map[string]any)["unlocked"].([]any)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "First Step", unlocked[0].(map[string]any)["name"])

	rec, resp = env.do(t, http.MethodPost, path("/students/%s/evaluate", studentID), nil, env.admin())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Data.(map[string]any)["unlocked"], "second evaluation grants nothing")

	rec, _ = env.do(t, http.MethodPost, path("/students/%s/evaluate", studentID), nil, map[string]string{handlers.HeaderServiceKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp = env.do(t, http.MethodGet, path("/students/%s/achievements", studentID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := resp.Data.(map[string]any)
	assert.EqualValues(t, 1, dto["unseen_count"])

	rec, _ = env.do(t, http.MethodPost, path("/students/%s/achievements/%d/seen", studentID, env.first.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	u, err := env.store.GetUnlock(context.Background(), studentID, env.first.ID)
	require.NoError(t, err)
	assert.True(t, u.Seen)
	assert.False(t, u.CelebrationShown)

	rec, _ = env.do(t, http.MethodPost, path("/students/%s/achievements/%d/seen", studentID, env.helper.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevoke_SuppressesAndClears(t *testing.T) {
	env := newTestEnv(t)
	svc := map[string]string{handlers.HeaderServiceKey: serviceKey}

	rec, _ := env.do(t, http.MethodPost, path("/students/%s/evaluate", studentID), nil, svc)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := env.do(t, http.MethodDelete, path("/admin/students/%s/achievements/%d", studentID, env.first.ID), RevokeRequest{Reason: "test data"}, env.admin())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"deleted": true, "suppressed": true}, resp.Data)

	_, resp = env.do(t, http.MethodPost, path("/students/%s/evaluate", studentID), nil, svc)
	assert.Empty(t, resp.Data.(map[string]any)["unlocked"], "tombstone blocks re-grant")

	rec, _ = env.do(t, http.MethodDelete, path("/admin/students/%s/revocations/%d", studentID, env.first.ID), nil, env.admin())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, path("/admin/students/%s/revocations/%d", studentID, env.first.ID), nil, env.admin())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, resp = env.do(t, http.MethodPost, path("/students/%s/evaluate", studentID), nil, svc)
	assert.Len(t, resp.Data.(map[string]any)["unlocked"], 1)
}

func TestDeleteAchievement_InUseConflicts(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPost, path("/admin/students/%s/achievements/%d/award", studentID, env.helper.ID), nil, env.admin())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := env.do(t, http.MethodDelete, path("/admin/achievements/%d", env.helper.ID), nil, env.admin())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", resp.Error.Code)

	rec, _ = env.do(t, http.MethodDelete, path("/admin/achievements/%d", env.first.ID), nil, env.admin())
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func (e *testEnv) waitForBatch(t *testing.T) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		rec, resp := e.do(t, http.MethodGet, path("/admin/evaluate"), nil, e.admin())
		if rec.Code != http.StatusOK {
			return false
		}
		status := resp.Data.(map[string]any)
		last, _ = status["last"].(map[string]any)
		return status["running"] == false && last != nil
	}, 5*time.Second, 10*time.Millisecond)
	return last
}

func TestEvaluateAll_AndWeeklySummary(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, path("/admin/evaluate"), nil, env.admin())
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]any)["running"])

	result := env.waitForBatch(t)
	assert.EqualValues(t, 1, result["processed_count"])
	assert.EqualValues(t, 0, result["error_count"])

	rec, resp = env.do(t, http.MethodGet, path("/admin/summary/weekly"), nil, env.admin())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, resp.Data.(map[string]any)["total_unlocks"])
}

type blockingBatch struct {
	release chan struct{}
	done    atomic.Int32
}

func (b *blockingBatch) RunForAllStudents(ctx context.Context) (*jobs.BatchResult, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	b.done.Add(1)
	return &jobs.BatchResult{}, nil
}

func (b *blockingBatch) LastResult() *jobs.BatchResult { return nil }

func TestEvaluateAll_RejectsOverlappingRun(t *testing.T) {
	env := newTestEnv(t)
	batch := &blockingBatch{release: make(chan struct{})}
	env.server.deps.Batch = batch

	rec, _ := env.do(t, http.MethodPost, path("/admin/evaluate"), nil, env.admin())
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, resp := env.do(t, http.MethodPost, path("/admin/evaluate"), nil, env.admin())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "batch_running", resp.Error.Code)

	close(batch.release)
	require.Eventually(t, func() bool { return !env.server.batchRunning.Load() }, time.Second, time.Millisecond)

	rec, _ = env.do(t, http.MethodPost, path("/admin/evaluate"), nil, env.admin())
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, env.server.Shutdown(context.Background()))
	assert.EqualValues(t, 2, batch.done.Load())
}

func TestEvaluateAll_ShutdownCancelsAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	batch := &blockingBatch{release: make(chan struct{})}
	env.server.deps.Batch = batch

	rec, _ := env.do(t, http.MethodPost, path("/admin/evaluate"), nil, env.admin())
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))
	assert.Zero(t, batch.done.Load())
	assert.False(t, env.server.batchRunning.Load())
}

type slowEvaluator struct {
	delay time.Duration
	seen  atomic.Int32
}

func (e *slowEvaluator) ProcessStudent(ctx context.Context, id string, source achievement.Source) ([]*achievement.Achievement, error) {
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	e.seen.Add(1)
	return nil, nil
}

func TestEvaluateAll_OutlivesRequestTimeout(t *testing.T) {
	roster := make(student.StaticRoster, 20)
	for i := range roster {
		roster[i] = fmt.Sprintf("student-%02d", i)
	}
	eval := &slowEvaluator{delay: 15 * time.Millisecond}
	cfg := jobs.DefaultEvaluateAllStudentsConfig()
	cfg.Concurrency = 1
	job := jobs.NewEvaluateAllStudentsJob(roster, eval, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)

	srvCfg := DefaultConfig()
	srvCfg.Mode = gin.TestMode
	srvCfg.JWTSecret = jwtSecret
	srvCfg.RequestTimeout = 50 * time.Millisecond
	srv := NewServer(srvCfg, Dependencies{Batch: job, Logger: logger.Nop()})
	token, err := srv.Authenticator().IssueAdminToken("admin-7", time.Hour)
	require.NoError(t, err)
	env := &testEnv{server: srv, token: token}

	rec, _ := env.do(t, http.MethodPost, path("/admin/evaluate"), nil, env.admin())
	require.Equal(t, http.StatusAccepted, rec.Code)

	result := env.waitForBatch(t)
	assert.EqualValues(t, 20, result["processed_count"])
	assert.EqualValues(t, 0, result["error_count"])
	assert.EqualValues(t, 0, result["skipped"])
	assert.EqualValues(t, 20, eval.seen.Load())
}

func TestForbiddenWithoutAdminRole(t *testing.T) {
	env := newTestEnv(t)
	auth := env.server.Authenticator()

	token, err := signClaims(jwtSecret, handlers.AdminClaims{Role: "student"}, "s-1")
	require.NoError(t, err)
	_, err = auth.ParseAdminToken(token)
	require.Error(t, err)

	rec, _ := env.do(t, http.MethodDelete, path("/admin/achievements/%d", env.first.ID), nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func signClaims(secret string, claims handlers.AdminClaims, subject string) (string, error) {
	claims.Subject = subject
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func TestErrorStatus_Unknown(t *testing.T) {
	status, code := handlers.ErrorStatus(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_server_error", code)
}

func TestEvaluate_RateLimitedPerCaller(t *testing.T) {
	env := newTestEnv(t)
	svc := map[string]string{handlers.HeaderServiceKey: serviceKey}
	url := path("/students/%s/evaluate", studentID)

	for i := 0; i < 5; i++ {
		rec, _ := env.do(t, http.MethodPost, url, nil, svc)
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i+1)
	}
	rec, resp := env.do(t, http.MethodPost, url, nil, svc)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "rate_limited", resp.Error.Code)

	// An admin has a separate budget.
	rec, _ = env.do(t, http.MethodPost, url, nil, env.admin())
	assert.Equal(t, http.StatusOK, rec.Code)
}
