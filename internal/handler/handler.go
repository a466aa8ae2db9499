package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/model"
	"tracked-mail-relay-go/internal/repository"
	"tracked-mail-relay-go/internal/service/eventsync"
)

// Sender sends one email
type Sender interface {
	Send(ctx context.Context, email model.Email) (model.SendResult, error)
}

// SyncScheduler controls the periodic event sync
type SyncScheduler interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (*eventsync.Report, error)
	LastResult() (*eventsync.Report, error)
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store     repository.Store
	sender    Sender
	scheduler SyncScheduler
	pingDB    func(ctx context.Context) error
	gatherer  prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers. pingDB may be nil when there is no
// database to check.
func NewHandlers(store repository.Store, sender Sender, scheduler SyncScheduler, pingDB func(ctx context.Context) error, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		store:     store,
		sender:    sender,
		scheduler: scheduler,
		pingDB:    pingDB,
		gatherer:  gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/records", h.GetRecords)
		api.GET("/records/:messageId", h.GetRecord)

		api.POST("/messages", h.SendMessage)

		api.POST("/sync/run-once", h.RunOnce)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if h.pingDB != nil {
		if err := h.pingDB(c.Request.Context()); err != nil {
			response.Status = "error"
			response.Database = "error"
			logrus.Errorf("Database health check failed: %v", err)
		}
	}

	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
