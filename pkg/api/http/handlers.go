package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/icarrero/agentpool/internal/application/dispatch"
	"github.com/icarrero/agentpool/internal/application/orchestrator"
	"github.com/icarrero/agentpool/pkg/domain"
)

// JobSubmitRequest represents a job submission request
type JobSubmitRequest struct {
	Payload     string `json:"payload" binding:"required"`
	CallerID    string `json:"caller_id" binding:"required"`
	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"max_attempts"`
	Wait        bool   `json:"wait"`
}

// JobSubmitResponse represents a job submission response
type JobSubmitResponse struct {
	JobID         string `json:"job_id"`
	QueuePosition int    `json:"queue_position"`
	EstimatedWait string `json:"estimated_wait"`
	SubmittedAt   string `json:"submitted_at"`
}

// BatchSubmitRequest represents a batch submission request
type BatchSubmitRequest struct {
	Payloads    []string `json:"payloads" binding:"required"`
	CallerID    string   `json:"caller_id" binding:"required"`
	Priority    int      `json:"priority"`
	MaxAttempts int      `json:"max_attempts"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if !s.orchestrator.Healthy() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"pool": status,
		},
	})
}

// handleSubmitJob handles job submission
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req JobSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	opts := dispatch.SubmitOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	}

	receipt, err := s.orchestrator.Submit(c.Request.Context(), req.Payload, req.CallerID, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if req.Wait {
		result, err := s.orchestrator.AwaitResult(c.Request.Context(), receipt.JobID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	c.JSON(http.StatusAccepted, JobSubmitResponse{
		JobID:         receipt.JobID,
		QueuePosition: receipt.QueuePosition,
		EstimatedWait: receipt.EstimatedWait.String(),
		SubmittedAt:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSubmitBatch handles batch submission. The call blocks until every
// job in the batch has reached a terminal state.
func (s *Server) handleSubmitBatch(c *gin.Context) {
	var req BatchSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	opts := orchestrator.SubmitBatchOptions{
		SubmitOptions: dispatch.SubmitOptions{
			Priority:    req.Priority,
			MaxAttempts: req.MaxAttempts,
		},
	}

	results, err := s.orchestrator.SubmitBatch(c.Request.Context(), req.Payloads, req.CallerID, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   len(results),
	})
}

// handleGetResult handles getting a job result
func (s *Server) handleGetResult(c *gin.Context) {
	jobID := c.Param("id")

	result, err := s.orchestrator.AwaitResult(c.Request.Context(), jobID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handlePoolStats handles getting pool statistics
func (s *Server) handlePoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Stats())
}

// handleListInstances handles listing worker instances
func (s *Server) handleListInstances(c *gin.Context) {
	snapshot := s.orchestrator.Stats()
	instances := snapshot.Instances
	if instances == nil {
		instances = []domain.InstanceInfo{}
	}

	c.JSON(http.StatusOK, gin.H{
		"instances": instances,
		"total":     len(instances),
	})
}

// handleRecycleInstance handles forced recycling of one instance
func (s *Server) handleRecycleInstance(c *gin.Context) {
	instanceID := c.Param("id")

	if err := s.orchestrator.Recycle(c.Request.Context(), instanceID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"instance_id": instanceID,
		"status":      "recycled",
		"recycled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var code string
	var status int

	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		code, status = "RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCapacity):
		code, status = "CAPACITY_EXCEEDED", http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNoInstanceAvailable):
		code, status = "NO_INSTANCE_AVAILABLE", http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrShuttingDown):
		code, status = "SHUTTING_DOWN", http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNotFound):
		code, status = "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, domain.ErrExecutionTimeout):
		code, status = "EXECUTION_TIMEOUT", http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProvisioning):
		code, status = "PROVISIONING_FAILED", http.StatusBadGateway
	default:
		code, status = "INTERNAL_ERROR", http.StatusUnprocessableEntity
	}

	s.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}
