package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tracked-mail-relay-go/internal/errs"
)

// SendMessage sends an email through the dispatcher
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	result, err := h.sender.Send(c.Request.Context(), req.Email())
	if err != nil {
		status := http.StatusInternalServerError
		if errs.IsValidation(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, ErrorResponse{
			Error:   "send_error",
			Message: err.Error(),
			Code:    status,
		})
		return
	}

	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, SendMessageResponse{
		HTTPResponseCode: result.StatusCode,
		HTTPResponseBody: SendResponseBody{ID: result.ID, Message: result.Message},
		Transport:        result.Transport,
	})
}
