package handler

import (
	"time"

	"tracked-mail-relay-go/internal/model"
)

// SendMessageRequest represents the request structure for sending an email
type SendMessageRequest struct {
	To          string             `json:"to" binding:"required"`
	From        string             `json:"from" binding:"required"`
	Subject     string             `json:"subject"`
	HTMLBody    string             `json:"html_body"`
	PlainBody   string             `json:"plain_body"`
	Headers     map[string]string  `json:"headers"`
	Attachments []model.Attachment `json:"attachments"`
}

// Email converts the request to the dispatcher's input
func (r SendMessageRequest) Email() model.Email {
	return model.Email{
		To:          r.To,
		From:        r.From,
		Subject:     r.Subject,
		HTMLBody:    r.HTMLBody,
		PlainBody:   r.PlainBody,
		Attachments: r.Attachments,
		Headers:     r.Headers,
	}
}

// SendMessageResponse mirrors the provider's send response shape
type SendMessageResponse struct {
	HTTPResponseCode int              `json:"http_response_code"`
	HTTPResponseBody SendResponseBody `json:"http_response_body"`
	Transport        string           `json:"transport,omitempty"`
}

type SendResponseBody struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// RecordSummary is one row of the record listing
type RecordSummary struct {
	MessageID   string    `json:"message_id"`
	Accepted    *float64  `json:"accepted"`
	Rejected    *float64  `json:"rejected"`
	Delivered   *float64  `json:"delivered"`
	Bounced     *float64  `json:"bounced"`
	Opened      *float64  `json:"opened"`
	LatestEvent *float64  `json:"latest_event"`
	EventCount  int       `json:"event_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RecordResponse is a single record with its full timeline
type RecordResponse struct {
	model.EventRecord
	Summary string `json:"summary"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
