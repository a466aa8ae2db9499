package eventsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
	"tracked-mail-relay-go/internal/errs"
	"tracked-mail-relay-go/internal/lock"
	"tracked-mail-relay-go/internal/metrics"
	"tracked-mail-relay-go/internal/model"
	"tracked-mail-relay-go/internal/provider"
	"tracked-mail-relay-go/internal/service/reconciler"
)

// EventSource is the provider's event log
type EventSource interface {
	GetEvents(ctx context.Context, path string, params url.Values) (int, *provider.EventPage, error)
	EventsPath() string
	NormalizeEventsURL(link string) string
}

// Ingester records a single event
type Ingester interface {
	Ingest(ctx context.Context, ev model.Event) (reconciler.Outcome, error)
}

// WatermarkSource finds where the previous sync left off
type WatermarkSource interface {
	MostRecentByWatermark(ctx context.Context) (*model.EventRecord, error)
}

// Report summarizes one poll
type Report struct {
	Pages      int       `json:"pages"`
	Items      int       `json:"items"`
	Recorded   int       `json:"recorded"`
	Duplicates int       `json:"duplicates"`
	Malformed  int       `json:"malformed"`
	Warnings   []string  `json:"warnings,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`

	warnings *multierror.Error
}

func (r *Report) warn(err error) {
	r.warnings = multierror.Append(r.warnings, err)
	r.Warnings = append(r.Warnings, err.Error())
}

// Err returns every warning collected during the poll, or nil
func (r *Report) Err() error {
	return r.warnings.ErrorOrNil()
}

// Engine walks the provider's event log from the last watermark and feeds
// every event to the reconciler.
type Engine struct {
	source   EventSource
	ingester Ingester
	store    WatermarkSource
	cfg      config.SyncConfig
	locker   lock.Locker
	metrics  *metrics.Metrics
}

// New creates an Engine. A nil locker means an in-process lock.
func New(source EventSource, ingester Ingester, store WatermarkSource, cfg config.SyncConfig, locker lock.Locker, m *metrics.Metrics) (*Engine, error) {
	if cfg.PageLimit <= 0 {
		return nil, &errs.ConfigurationError{Key: "sync.page_limit", Reason: "must be greater than 0"}
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Engine{
		source:   source,
		ingester: ingester,
		store:    store,
		cfg:      cfg,
		locker:   locker,
		metrics:  m,
	}, nil
}

// Run polls from the stored watermark while holding the sync lock. It
// returns lock.ErrLocked when another sync is in progress.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	var report *Report
	err := e.locker.WithLock(ctx, e.cfg.LockKey, e.cfg.LockTTL, func(ctx context.Context) error {
		e.metrics.SyncRuns.Inc()
		began := time.Now()

		var err error
		report, err = e.Poll(ctx, "", nil)
		e.metrics.SyncDuration.Observe(time.Since(began).Seconds())
		if err != nil {
			e.metrics.SyncFailures.Inc()
			return err
		}
		return nil
	})
	if errors.Is(err, lock.ErrLocked) {
		logrus.Info("Event sync already in progress, skipping")
	}
	return report, err
}

// Poll fetches pages starting at startURL, or at the computed resume point
// when startURL is empty, until a page is empty or has no next link. Bad
// pages and malformed events are collected as warnings; only transport and
// storage failures stop the poll.
func (e *Engine) Poll(ctx context.Context, startURL string, filters url.Values) (*Report, error) {
	report := &Report{StartedAt: time.Now()}
	defer func() { report.Duration = time.Since(report.StartedAt).String() }()

	path, params, err := e.start(ctx, startURL, filters)
	if err != nil {
		return report, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		status, page, err := e.source.GetEvents(ctx, path, params)
		if err != nil {
			logrus.WithError(err).Warnf("Failed to fetch events page %s", path)
			return report, err
		}
		report.Pages++
		e.metrics.SyncPages.Inc()

		if status != http.StatusOK {
			warning := &errs.TransportError{Op: "get events " + path, StatusCode: status}
			logrus.Warn(warning.Error())
			report.warn(warning)
		}

		for _, err := range page.Malformed {
			report.Items++
			report.Malformed++
			e.metrics.EventsMalformed.Inc()
			logrus.WithError(err).Warn("Dropping undecodable event")
			report.warn(err)
		}

		for _, ev := range page.Items {
			report.Items++
			outcome, err := e.ingester.Ingest(ctx, ev)
			if err != nil {
				if errs.IsMalformedEvent(err) {
					report.Malformed++
					report.warn(err)
					continue
				}
				return report, fmt.Errorf("failed to ingest event %s: %w", ev.Key(), err)
			}
			switch outcome {
			case reconciler.Recorded:
				report.Recorded++
			case reconciler.Duplicate:
				report.Duplicates++
			}
		}

		if len(page.Items)+len(page.Malformed) == 0 || page.Paging.Next == "" {
			break
		}
		path, params = e.source.NormalizeEventsURL(page.Paging.Next), nil
	}

	logrus.WithFields(logrus.Fields{
		"pages":      report.Pages,
		"items":      report.Items,
		"recorded":   report.Recorded,
		"duplicates": report.Duplicates,
		"malformed":  report.Malformed,
		"warnings":   len(report.Warnings),
	}).Info("Event sync completed")
	return report, nil
}

func (e *Engine) start(ctx context.Context, startURL string, filters url.Values) (string, url.Values, error) {
	params := url.Values{}
	for k, v := range filters {
		params[k] = append([]string(nil), v...)
	}

	if startURL != "" {
		return e.source.NormalizeEventsURL(startURL), params, nil
	}

	if params.Get("limit") == "" {
		params.Set("limit", strconv.Itoa(e.cfg.PageLimit))
	}

	latest, err := e.store.MostRecentByWatermark(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load sync watermark: %w", err)
	}
	if latest != nil && latest.LatestEvent != nil {
		begin := *latest.LatestEvent - e.cfg.Overlap.Seconds()
		params.Set("begin", strconv.FormatFloat(begin, 'f', -1, 64))
		params.Set("ascending", "yes")
		logrus.Debugf("Resuming event sync from %s (watermark of %s)", params.Get("begin"), latest.MessageID)
	}

	return e.source.EventsPath(), params, nil
}
