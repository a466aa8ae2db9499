package reconciler

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/metrics"
	"tracked-mail-relay-go/internal/model"
	"tracked-mail-relay-go/internal/repository"
)

// Outcome describes what Ingest did with an event
type Outcome int

const (
	Dropped Outcome = iota
	Recorded
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case Duplicate:
		return "duplicate"
	default:
		return "dropped"
	}
}

// Reconciler merges provider events into per-message records. It is the
// only writer of the store.
type Reconciler struct {
	store   repository.Store
	metrics *metrics.Metrics
}

func New(store repository.Store, m *metrics.Metrics) *Reconciler {
	return &Reconciler{store: store, metrics: m}
}

// Ingest records ev on its message's timeline. Malformed events return a
// *errs.MalformedEventError and touch nothing; an event whose timestamp key
// is already stored is a no-op.
func (r *Reconciler) Ingest(ctx context.Context, ev model.Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		r.metrics.EventsMalformed.Inc()
		logrus.WithError(err).Warn("Skipping malformed event")
		return Dropped, err
	}

	messageID := ev.MessageID()
	record, err := r.store.GetOrCreate(ctx, messageID)
	if err != nil {
		return Dropped, fmt.Errorf("failed to load record for %s: %w", messageID, err)
	}

	inserted, err := record.Events.Insert(ev)
	if err != nil {
		return Dropped, fmt.Errorf("failed to add event to %s: %w", messageID, err)
	}
	if !inserted {
		r.metrics.EventsDuplicate.Inc()
		logrus.Debugf("Event %s for %s already recorded, skipping", ev.Key(), messageID)
		return Duplicate, nil
	}

	ts, _ := ev.Time()
	record.AdvanceWatermark(ts)
	record.RefreshStatusFlags()

	if err := r.store.Save(ctx, record); err != nil {
		return Dropped, fmt.Errorf("failed to save record for %s: %w", messageID, err)
	}

	r.metrics.EventsIngested.Inc()
	logrus.WithFields(logrus.Fields{
		"message_id": messageID,
		"event":      ev.Kind,
		"timestamp":  ev.Key(),
		"recipient":  ev.Recipient,
	}).Info("Recorded event")
	return Recorded, nil
}
