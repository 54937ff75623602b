package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classvest/achievement-engine/internal/application/command"
	"github.com/classvest/achievement-engine/internal/application/query"
	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/internal/infrastructure/scheduler/jobs"
	"github.com/classvest/achievement-engine/internal/interface/http/handlers"
	"github.com/classvest/achievement-engine/pkg/logger"
	"github.com/classvest/achievement-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST AND RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

// AwardRequest is the optional body of a manual award.
type AwardRequest struct {
	Note string `json:"note" binding:"max=500"`
}

// RevokeRequest is the optional body of a revoke.
type RevokeRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// AcknowledgeRequest selects which flags to set. An empty body marks the
// unlock as seen.
type AcknowledgeRequest struct {
	Seen             *bool `json:"seen"`
	CelebrationShown bool  `json:"celebration_shown"`
}

// UnlockedDTO is one achievement unlocked by an evaluation.
type UnlockedDTO struct {
	AchievementID int64  `json:"achievement_id"`
	Name          string `json:"name"`
	Rarity        string `json:"rarity"`
	Points        int    `json:"points"`
}

// EvaluateResponse is returned by single-student evaluation.
type EvaluateResponse struct {
	StudentID string        `json:"student_id"`
	Unlocked  []UnlockedDTO `json:"unlocked"`
}

// BatchStatusResponse reports an API-started batch. Last is the most recent
// completed run, nil before the first one.
type BatchStatusResponse struct {
	Running bool              `json:"running"`
	Last    *jobs.BatchResult `json:"last"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Ready {
		handlers.RespondOK(c, http.StatusServiceUnavailable, status)
		return
	}
	handlers.RespondOK(c, http.StatusOK, status)
}

func (s *Server) handleLive(c *gin.Context) {
	handlers.RespondOK(c, http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetStudentAchievements(c *gin.Context) {
	result, err := s.deps.StudentAchievementsHandler.Handle(c.Request.Context(), query.GetStudentAchievementsQuery{
		StudentID: c.Param("id"),
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	handlers.RespondOK(c, http.StatusOK, result)
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	aid, ok := achievementParam(c)
	if !ok {
		return
	}
	var req AcknowledgeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	seen := req.Seen == nil || *req.Seen

	err := s.deps.AcknowledgeHandler.Handle(c.Request.Context(), command.AcknowledgeUnlockCommand{
		StudentID:        c.Param("id"),
		AchievementID:    aid,
		Seen:             seen,
		CelebrationShown: req.CelebrationShown,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEvaluateStudent(c *gin.Context) {
	id, err := shared.NewStudentID(c.Param("id"))
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	unlocked, err := s.deps.Evaluator.ProcessStudent(c.Request.Context(), id.String(), achievement.SourceAPIRequest)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("student evaluation failed",
			logger.StudentID(id.String()), logger.Err(err))
		handlers.RespondError(c, err)
		return
	}

	resp := EvaluateResponse{StudentID: id.String(), Unlocked: make([]UnlockedDTO, 0, len(unlocked))}
	for _, a := range unlocked {
		resp.Unlocked = append(resp.Unlocked, UnlockedDTO{
			AchievementID: a.ID,
			Name:          a.Name,
			Rarity:        string(a.Rarity),
			Points:        a.Points,
		})
	}
	handlers.RespondOK(c, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// handleEvaluateAll starts a batch and answers 202 at once. The run is not
// bound to the request timeout; the job's own timeout applies.
func (s *Server) handleEvaluateAll(c *gin.Context) {
	if !s.batchRunning.CompareAndSwap(false, true) {
		handlers.AbortWithError(c, http.StatusConflict, "batch_running", "a batch started from the API is still running")
		return
	}

	log := logger.FromContext(c.Request.Context())
	ctx := logger.WithContext(s.batchCtx, log)
	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		defer s.batchRunning.Store(false)

		result, err := s.deps.Batch.RunForAllStudents(ctx)
		switch {
		case errors.Is(err, jobs.ErrBatchLocked):
			log.Warn("batch not started, another instance holds the run lock")
		case err != nil:
			log.Error("batch failed", logger.Err(err))
		default:
			log.Info("batch finished",
				logger.Int("processed", result.ProcessedCount),
				logger.Int("errors", result.ErrorCount),
				logger.Int("skipped", result.Skipped),
				logger.UnlockCount(result.UnlockCount()))
		}
	}()

	handlers.RespondOK(c, http.StatusAccepted, BatchStatusResponse{Running: true, Last: s.deps.Batch.LastResult()})
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	handlers.RespondOK(c, http.StatusOK, BatchStatusResponse{
		Running: s.batchRunning.Load(),
		Last:    s.deps.Batch.LastResult(),
	})
}

func (s *Server) handleAward(c *gin.Context) {
	aid, ok := achievementParam(c)
	if !ok {
		return
	}
	var req AwardRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := s.deps.AwardHandler.Handle(c.Request.Context(), command.AwardAchievementCommand{
		StudentID:     c.Param("id"),
		AchievementID: aid,
		AdminID:       handlers.AdminID(c),
		Note:          req.Note,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	handlers.RespondOK(c, status, gin.H{
		"achievement_id": result.Achievement.ID,
		"name":           result.Achievement.Name,
		"created":        result.Created,
		"unlocked_at":    result.Unlock.UnlockedAt,
		"metadata":       result.Unlock.Metadata,
	})
}

func (s *Server) handleRevoke(c *gin.Context) {
	aid, ok := achievementParam(c)
	if !ok {
		return
	}
	var req RevokeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := s.deps.RevokeHandler.Handle(c.Request.Context(), command.RevokeAchievementCommand{
		StudentID:     c.Param("id"),
		AchievementID: aid,
		AdminID:       handlers.AdminID(c),
		Reason:        req.Reason,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	handlers.RespondOK(c, http.StatusOK, gin.H{"deleted": result.Deleted, "suppressed": result.Suppressed})
}

func (s *Server) handleClearRevocation(c *gin.Context) {
	aid, ok := achievementParam(c)
	if !ok {
		return
	}
	err := s.deps.ClearRevocationHandler.Handle(c.Request.Context(), command.ClearRevocationCommand{
		StudentID:     c.Param("id"),
		AchievementID: aid,
		AdminID:       handlers.AdminID(c),
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteAchievement(c *gin.Context) {
	aid, ok := achievementParam(c)
	if !ok {
		return
	}
	err := s.deps.DeleteAchievementHandler.Handle(c.Request.Context(), command.DeleteAchievementCommand{
		AchievementID: aid,
		AdminID:       handlers.AdminID(c),
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWeeklySummary(c *gin.Context) {
	ctx := c.Request.Context()
	if s.deps.Summaries != nil && c.Query("fresh") != "true" {
		summary, err := s.deps.Summaries.LatestWeeklySummary(ctx)
		if err == nil && summary != nil {
			handlers.RespondOK(c, http.StatusOK, summary)
			return
		}
		if err != nil {
			logger.FromContext(ctx).Debug("stored weekly summary unavailable", logger.Err(err))
		}
	}

	until := time.Now().UTC()
	summary, err := s.deps.WeeklySummaryHandler.Handle(ctx, query.GetWeeklySummaryQuery{
		Since: timeutil.StartOfDay(until, s.location()).AddDate(0, 0, -7),
		Until: until,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}
	handlers.RespondOK(c, http.StatusOK, summary)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func achievementParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("aid"), 10, 64)
	if err != nil || id <= 0 {
		handlers.AbortWithError(c, http.StatusBadRequest, "invalid_request", "achievement id must be a positive integer")
		return 0, false
	}
	return id, true
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		handlers.AbortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}
