package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tracked-mail-relay-go/internal/repository"
)

// GetRecords returns event records with pagination, most recent activity first
func (h *Handlers) GetRecords(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	offset := (page - 1) * limit

	records, total, err := h.store.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch records",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]RecordSummary, 0, len(records))
	for _, rec := range records {
		responses = append(responses, RecordSummary{
			MessageID:   rec.MessageID,
			Accepted:    rec.Accepted,
			Rejected:    rec.Rejected,
			Delivered:   rec.Delivered,
			Bounced:     rec.Bounced,
			Opened:      rec.Opened,
			LatestEvent: rec.LatestEvent,
			EventCount:  len(rec.Events),
			UpdatedAt:   rec.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"records": responses,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetRecord returns one record with its timeline
func (h *Handlers) GetRecord(c *gin.Context) {
	messageID := c.Param("messageId")

	rec, err := h.store.Get(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Record not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch record",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, RecordResponse{EventRecord: *rec, Summary: rec.SummaryTimeline()})
}
