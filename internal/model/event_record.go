package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EventRecord is the persisted event timeline of one message
type EventRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Accepted    *float64  `json:"accepted" gorm:"column:message_accepted"`
	Rejected    *float64  `json:"rejected" gorm:"column:message_rejected"`
	Delivered   *float64  `json:"delivered" gorm:"column:message_delivered"`
	Bounced     *float64  `json:"bounced" gorm:"column:message_bounced"`
	Opened      *float64  `json:"opened" gorm:"column:message_opened"`
	LatestEvent *float64  `json:"latest_event" gorm:"type:decimal(20,4);index"`
	Events      Timeline  `json:"events" gorm:"column:events_json;type:longtext"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for EventRecord
func (EventRecord) TableName() string {
	return "event_records"
}

// NewEventRecord returns an empty, not yet persisted record
func NewEventRecord(messageID string) *EventRecord {
	return &EventRecord{MessageID: messageID}
}

// IsNew reports whether the record has never been saved
func (r *EventRecord) IsNew() bool {
	return r.ID == 0
}

// Watermark returns LatestEvent, treating unset as zero
func (r *EventRecord) Watermark() float64 {
	if r.LatestEvent == nil {
		return 0
	}
	return *r.LatestEvent
}

// AdvanceWatermark moves LatestEvent forward to ts; it never moves back
func (r *EventRecord) AdvanceWatermark(ts float64) bool {
	if r.LatestEvent != nil && ts <= *r.LatestEvent {
		return false
	}
	v := ts
	r.LatestEvent = &v
	return true
}

// RefreshStatusFlags clears the five status fields and walks the timeline in
// stored order, assigning each kind the timestamp of the last match seen.
// The timeline is newest first, so each field ends on the earliest occurrence.
func (r *EventRecord) RefreshStatusFlags() {
	r.Accepted, r.Rejected, r.Delivered, r.Bounced, r.Opened = nil, nil, nil, nil, nil
	for _, entry := range r.Events {
		ts := entry.Timestamp
		switch entry.Event.Kind {
		case KindAccepted:
			r.Accepted = &ts
		case KindRejected:
			r.Rejected = &ts
		case KindDelivered:
			r.Delivered = &ts
		case KindBounced:
			r.Bounced = &ts
		case KindOpened:
			r.Opened = &ts
		}
	}
}

// SummaryTimeline renders the message id followed by one line per event
func (r *EventRecord) SummaryTimeline() string {
	lines := []string{r.MessageID}
	for _, entry := range r.Events {
		lines = append(lines, fmt.Sprintf("%s\t%s: %s",
			FormatTimestamp(entry.Timestamp), entry.Event.Kind, entry.Event.Recipient))
	}
	return strings.Join(lines, "\n")
}

// FormatTimestamp renders epoch seconds as "2006-01-02 15:04:05" in UTC
func FormatTimestamp(ts float64) string {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format("2006-01-02 15:04:05")
}
