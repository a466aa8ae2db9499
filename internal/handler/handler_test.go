package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracked-mail-relay-go/internal/errs"
	"tracked-mail-relay-go/internal/lock"
	"tracked-mail-relay-go/internal/model"
	"tracked-mail-relay-go/internal/repository"
	"tracked-mail-relay-go/internal/service/eventsync"
)

type stubSender struct {
	got    model.Email
	result model.SendResult
	err    error
}

func (s *stubSender) Send(_ context.Context, email model.Email) (model.SendResult, error) {
	s.got = email
	return s.result, s.err
}

type stubScheduler struct {
	running bool
	report  *eventsync.Report
	err     error
}

func (s *stubScheduler) Start() error {
	s.running = true
	return nil
}

func (s *stubScheduler) Stop() error {
	s.running = false
	return nil
}

func (s *stubScheduler) IsRunning() bool { return s.running }
func (s *stubScheduler) RunOnce(context.Context) (*eventsync.Report, error) {
	return s.report, s.err
}
func (s *stubScheduler) LastResult() (*eventsync.Report, error) { return s.report, nil }
func (s *stubScheduler) GetNextRun() time.Time                  { return time.Time{} }
func (s *stubScheduler) GetLastRun() time.Time                  { return time.Time{} }

func setup(t *testing.T, sender *stubSender, sched *stubScheduler, ping func(context.Context) error) (*gin.Engine, *repository.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := repository.NewMemoryStore()
	h := NewHandlers(store, sender, sched, ping, prometheus.NewRegistry())
	r := gin.New()
	h.SetupRoutes(r)
	return r, store
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	r, _ := setup(t, &stubSender{}, &stubScheduler{}, nil)
	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "stopped", resp.Metrics["scheduler"])
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	r, _ := setup(t, &stubSender{}, &stubScheduler{}, func(context.Context) error { return errors.New("gone away") })
	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetRecordsAndRecord(t *testing.T) {
	r, store := setup(t, &stubSender{}, &stubScheduler{}, nil)
	ctx := context.Background()

	rec, err := store.GetOrCreate(ctx, "<a@mg.example.com>")
	require.NoError(t, err)
	_, err = rec.Events.Insert(model.Event{
		Timestamp: "1467099125.5",
		Kind:      model.KindDelivered,
		Recipient: "jane@example.com",
		Message:   model.EventMessage{Headers: map[string]any{model.MessageIDHeader: "<a@mg.example.com>"}},
	})
	require.NoError(t, err)
	rec.AdvanceWatermark(1467099125.5)
	rec.RefreshStatusFlags()
	require.NoError(t, store.Save(ctx, rec))

	w := do(r, http.MethodGet, "/api/v1/records?page=1&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Records    []RecordSummary `json:"records"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Records, 1)
	assert.Equal(t, int64(1), list.Pagination.Total)
	assert.Equal(t, 1, list.Records[0].EventCount)
	require.NotNil(t, list.Records[0].Delivered)

	w = do(r, http.MethodGet, "/api/v1/records/"+"%3Ca@mg.example.com%3E", "")
	require.Equal(t, http.StatusOK, w.Code)
	var one map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "<a@mg.example.com>", one["message_id"])
	assert.Equal(t, "<a@mg.example.com>\n2016-06-28 07:32:05\tdelivered: jane@example.com", one["summary"])
	assert.Contains(t, one["events"], "1467099125_5")

	w = do(r, http.MethodGet, "/api/v1/records/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessage(t *testing.T) {
	sender := &stubSender{result: model.SendResult{ID: "<id@mg>", Message: "Queued. Thank you.", StatusCode: http.StatusOK, Transport: "provider"}}
	r, _ := setup(t, sender, &stubScheduler{}, nil)

	body, _ := json.Marshal(map[string]any{
		"to":         "jane@example.com",
		"from":       "shop@example.com",
		"subject":    "Hi",
		"plain_body": "Hello",
		"headers":    map[string]string{"Cc": "boss@example.com"},
		"attachments": []map[string]any{
			{"filename": "a.txt", "mime_type": "text/plain", "data": []byte("hello")},
		},
	})
	w := do(r, http.MethodPost, "/api/v1/messages", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 200, resp.HTTPResponseCode)
	assert.Equal(t, "<id@mg>", resp.HTTPResponseBody.ID)
	assert.Equal(t, "boss@example.com", sender.got.Headers["Cc"])
	require.Len(t, sender.got.Attachments, 1)
	assert.Equal(t, []byte("hello"), sender.got.Attachments[0].Data)
}

func TestSendMessageFailures(t *testing.T) {
	r, _ := setup(t, &stubSender{}, &stubScheduler{}, nil)
	w := do(r, http.MethodPost, "/api/v1/messages", `{"subject": "no recipients"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sender := &stubSender{err: &errs.ValidationError{Field: "to", Reason: "invalid address"}}
	r, _ = setup(t, sender, &stubScheduler{}, nil)
	w = do(r, http.MethodPost, "/api/v1/messages", `{"to": "x", "from": "y", "plain_body": "z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sender = &stubSender{result: model.SendResult{ID: "<none>", StatusCode: http.StatusInternalServerError}}
	r, _ = setup(t, sender, &stubScheduler{}, nil)
	w = do(r, http.MethodPost, "/api/v1/messages", `{"to": "a@example.com", "from": "b@example.com", "plain_body": "z"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`"id":"<none>"`)))
}

func TestRunOnce(t *testing.T) {
	sched := &stubScheduler{report: &eventsync.Report{Pages: 1, Recorded: 2}}
	r, _ := setup(t, &stubSender{}, sched, nil)

	w := do(r, http.MethodPost, "/api/v1/sync/run-once", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recorded":2`)

	sched.err = lock.ErrLocked
	w = do(r, http.MethodPost, "/api/v1/sync/run-once", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	sched.err = errors.New("provider unreachable")
	w = do(r, http.MethodPost, "/api/v1/sync/run-once", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	sched := &stubScheduler{}
	r, _ := setup(t, &stubSender{}, sched, nil)

	w := do(r, http.MethodPost, "/api/v1/scheduler/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sched.running)

	w = do(r, http.MethodGet, "/api/v1/scheduler/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = do(r, http.MethodPost, "/api/v1/scheduler/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sched.running)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setup(t, &stubSender{}, &stubScheduler{}, nil)
	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
