package transport

import (
	"context"

	"tracked-mail-relay-go/internal/model"
)

// Message is a fully prepared outgoing message. Cc, Bcc and Reply-To have
// already been lifted out of Headers.
type Message struct {
	From        string
	To          string
	Cc          []string
	Bcc         []string
	ReplyTo     string
	Subject     string
	Text        string
	HTML        string
	Headers     map[string]string
	MessageID   string
	Attachments []model.Attachment
	Inline      []model.Attachment
}

// Recipients returns every envelope recipient
func (m *Message) Recipients() []string {
	out := make([]string, 0, 1+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// Result is either Delivered or Failed
type Result interface {
	isResult()
}

// Delivered means the transport accepted the message
type Delivered struct {
	ID         string
	Message    string
	StatusCode int
}

// Failed means the message was not accepted
type Failed struct {
	Reason     string
	StatusCode int
}

func (Delivered) isResult() {}
func (Failed) isResult()    {}

// Transport submits a message somewhere
type Transport interface {
	Name() string
	Deliver(ctx context.Context, msg *Message) Result
}

// Unavailable is the transport used when no fallback is configured
type Unavailable struct{}

func (Unavailable) Name() string { return "none" }

func (Unavailable) Deliver(context.Context, *Message) Result {
	return Failed{Reason: "no fallback transport configured"}
}
