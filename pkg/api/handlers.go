package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

// ErrorResponse is the error envelope for all failed requests.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable error code and message.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ExecuteRequest is the body for rule execution endpoints.
type ExecuteRequest struct {
	Context       map[string]interface{} `json:"context"`
	Caller        orchestrator.Caller    `json:"caller"`
	CorrelationID string                 `json:"correlation_id"`
	DryRun        bool                   `json:"dry_run"`
}

// InlineExecuteRequest carries a full rule plus its execution context.
type InlineExecuteRequest struct {
	Rule          rule.Rule              `json:"rule" binding:"required"`
	Context       map[string]interface{} `json:"context"`
	Caller        orchestrator.Caller    `json:"caller"`
	CorrelationID string                 `json:"correlation_id"`
	DryRun        bool                   `json:"dry_run"`
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.orch.HealthCheck(c.Request.Context())

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var r rule.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	result, err := s.validator.Validate(r)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	if !result.Valid() {
		respondError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rule failed validation", result)
		return
	}

	eventType := events.TypeRuleCreated
	if _, err := s.store.GetRule(c.Request.Context(), r.ID); err == nil {
		eventType = events.TypeRuleUpdated
	}

	if err := s.store.SaveRule(c.Request.Context(), &r); err != nil {
		s.logger.Error().Err(err).Str("rule_id", r.ID).Msg("Failed to save rule")
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	s.publishEvent(c.Request.Context(), eventType, map[string]interface{}{
		"rule_id":   r.ID,
		"rule_name": r.Name,
	})

	c.JSON(http.StatusCreated, gin.H{
		"rule_id":  r.ID,
		"warnings": result.Warnings,
	})
}

func (s *Server) handleListRules(c *gin.Context) {
	rules, err := s.store.ListRules(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"total": len(rules),
	})
}

func (s *Server) handleGetRule(c *gin.Context) {
	r, err := s.store.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeleteRule(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
		return
	}
	s.publishEvent(c.Request.Context(), events.TypeRuleDeleted, map[string]interface{}{
		"rule_id": id,
	})
	c.Status(http.StatusNoContent)
}

// publishEvent emits a rule lifecycle event when a bus is configured.
func (s *Server) publishEvent(ctx context.Context, eventType events.Type, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, events.New(eventType, "api", data)); err != nil {
		s.logger.Warn().Err(err).Str("type", string(eventType)).Msg("Failed to publish event")
	}
}

func (s *Server) handleExecuteRule(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	result, err := s.orch.ExecuteRule(c.Request.Context(), c.Param("id"), req.Context, orchestrator.ExecuteOptions{
		Caller:        req.Caller,
		CorrelationID: req.CorrelationID,
		DryRun:        req.DryRun,
	})
	s.respondExecution(c, result, err)
}

func (s *Server) handleExecuteInline(c *gin.Context) {
	var req InlineExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	validation, err := s.validator.Validate(req.Rule)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	if !validation.Valid() {
		respondError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rule failed validation", validation)
		return
	}

	result, err := s.orch.Execute(c.Request.Context(), req.Rule, req.Context, orchestrator.ExecuteOptions{
		Caller:        req.Caller,
		CorrelationID: req.CorrelationID,
		DryRun:        req.DryRun,
	})
	s.respondExecution(c, result, err)
}

// respondExecution maps execution outcomes onto HTTP statuses.
func (s *Server) respondExecution(c *gin.Context, result *orchestrator.Result, err error) {
	if err != nil {
		code := orchestrator.CodeOf(err)
		status := statusForCode(code)
		detail := interface{}(nil)
		if result != nil {
			detail = result
		}
		respondError(c, status, code, err.Error(), detail)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListAdapters(c *gin.Context) {
	adapters := s.registry.List()

	type adapterInfo struct {
		Name         string   `json:"name"`
		Framework    string   `json:"framework"`
		Capabilities []string `json:"capabilities"`
	}
	infos := make([]adapterInfo, 0, len(adapters))
	for _, a := range adapters {
		infos = append(infos, adapterInfo{
			Name:         a.Name(),
			Framework:    a.Framework(),
			Capabilities: a.Capabilities(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"adapters": infos,
		"total":    len(infos),
	})
}

func (s *Server) handleAdapterHealth(c *gin.Context) {
	adapter, ok := s.registry.Get(c.Param("name"))
	if !ok {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "adapter not found", nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, adapter.Health(ctx))
}

func (s *Server) handleListExecutions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}

	executions, err := s.store.ListExecutions(c.Request.Context(), c.Query("rule_id"), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"total":      len(executions),
	})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	result, err := s.store.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "execution not found", nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondError(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// statusForCode maps orchestration error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case orchestrator.ErrCodeNotFound:
		return http.StatusNotFound
	case orchestrator.ErrCodePermissionDenied:
		return http.StatusForbidden
	case orchestrator.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case orchestrator.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case orchestrator.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
