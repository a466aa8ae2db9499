package model

import (
	"encoding/json"
	"strconv"

	"tracked-mail-relay-go/internal/errs"
)

// Event kinds reported by the provider's event log
const (
	KindAccepted     = "accepted"
	KindRejected     = "rejected"
	KindDelivered    = "delivered"
	KindBounced      = "bounced"
	KindOpened       = "opened"
	KindFailed       = "failed"
	KindClicked      = "clicked"
	KindUnsubscribed = "unsubscribed"
	KindComplained   = "complained"
	KindStored       = "stored"
)

// MessageIDHeader is the header key carrying the message identifier
const MessageIDHeader = "message-id"

// Event is one item of the provider's event log. Fields the reconciler does
// not interpret are kept in Metadata and written back unchanged.
type Event struct {
	Timestamp json.Number
	Kind      string
	Recipient string
	Message   EventMessage
	Metadata  map[string]json.RawMessage
}

// EventMessage is the nested message block of an event
type EventMessage struct {
	Headers  map[string]any
	Metadata map[string]json.RawMessage
}

// MessageID returns the message identifier header, or "" when absent
func (e Event) MessageID() string {
	if e.Message.Headers == nil {
		return ""
	}
	id, _ := e.Message.Headers[MessageIDHeader].(string)
	return id
}

// Key is the deduplication key: the timestamp exactly as the provider sent it
func (e Event) Key() string {
	return e.Timestamp.String()
}

// Time returns the timestamp as fractional seconds since the epoch
func (e Event) Time() (float64, error) {
	return strconv.ParseFloat(e.Timestamp.String(), 64)
}

// Validate checks the fields required to reconcile the event
func (e Event) Validate() error {
	ts := e.Timestamp.String()
	if ts == "" {
		return &errs.MalformedEventError{Missing: "timestamp"}
	}
	f, err := e.Time()
	if err != nil || f == 0 {
		return &errs.MalformedEventError{Missing: "timestamp", Timestamp: ts}
	}
	if e.Kind == "" {
		return &errs.MalformedEventError{Missing: "event", Timestamp: ts}
	}
	if e.Recipient == "" {
		return &errs.MalformedEventError{Missing: "recipient", Timestamp: ts}
	}
	if e.MessageID() == "" {
		return &errs.MalformedEventError{Missing: "message.headers.message-id", Timestamp: ts}
	}
	return nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var known struct {
		Timestamp json.Number  `json:"timestamp"`
		Kind      string       `json:"event"`
		Recipient string       `json:"recipient"`
		Message   EventMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var rest map[string]json.RawMessage
	if err := json.Unmarshal(data, &rest); err != nil {
		return err
	}
	for _, k := range []string{"timestamp", "event", "recipient", "message"} {
		delete(rest, k)
	}
	if len(rest) == 0 {
		rest = nil
	}

	*e = Event{
		Timestamp: known.Timestamp,
		Kind:      known.Kind,
		Recipient: known.Recipient,
		Message:   known.Message,
		Metadata:  rest,
	}
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Metadata)+4)
	for k, v := range e.Metadata {
		out[k] = v
	}
	if e.Timestamp != "" {
		out["timestamp"] = e.Timestamp
	}
	out["event"] = e.Kind
	out["recipient"] = e.Recipient
	out["message"] = e.Message
	return json.Marshal(out)
}

func (m *EventMessage) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var known struct {
		Headers map[string]any `json:"headers"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var rest map[string]json.RawMessage
	if err := json.Unmarshal(data, &rest); err != nil {
		return err
	}
	delete(rest, "headers")
	if len(rest) == 0 {
		rest = nil
	}

	*m = EventMessage{Headers: known.Headers, Metadata: rest}
	return nil
}

func (m EventMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		out[k] = v
	}
	if m.Headers != nil {
		out["headers"] = m.Headers
	}
	return json.Marshal(out)
}
