package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/lock"
)

// StartScheduler starts the periodic event sync
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the periodic event sync
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce syncs the provider event log now
func (h *Handlers) RunOnce(c *gin.Context) {
	report, err := h.scheduler.RunOnce(c.Request.Context())
	if errors.Is(err, lock.ErrLocked) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "sync_in_progress",
			Message: "An event sync is already running",
			Code:    http.StatusConflict,
		})
		return
	}
	if err != nil {
		logrus.Errorf("Manual event sync failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "sync_error",
			"message": err.Error(),
			"code":    http.StatusInternalServerError,
			"report":  report,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Event sync completed successfully",
		"report":  report,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	state := "stopped"
	if h.scheduler.IsRunning() {
		state = "running"
	}

	response := gin.H{
		"status":   state,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	}
	if report, err := h.scheduler.LastResult(); report != nil || err != nil {
		response["last_report"] = report
		if err != nil {
			response["last_error"] = err.Error()
		}
	}

	c.JSON(http.StatusOK, response)
}
