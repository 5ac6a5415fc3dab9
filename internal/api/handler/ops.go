// Package handler provides HTTP handlers for the dashboard API.
package handler

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/dispatchwatch/dispatchwatch/internal/api/models"
	"github.com/dispatchwatch/dispatchwatch/internal/api/response"
	"github.com/dispatchwatch/dispatchwatch/internal/provider/resilience"
	"github.com/dispatchwatch/dispatchwatch/internal/worker"
)

// ReadinessChecker reports whether the dashboard has loaded its server list.
type ReadinessChecker interface {
	Ready() bool
}

// PollStatsProvider exposes the poller counters.
type PollStatsProvider interface {
	GetStats() worker.PollStats
}

// OpsConfig configures an OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string
	Readiness ReadinessChecker
	Registry  *resilience.Registry
	Poller    PollStatsProvider
	Now       func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	readiness ReadinessChecker
	registry  *resilience.Registry
	poller    PollStatsProvider
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		readiness: cfg.Readiness,
		registry:  cfg.Registry,
		poller:    cfg.Poller,
		now:       now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. It fails until the first server
// list has been loaded.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil && !h.readiness.Ready() {
		response.ServiceUnavailable(w, r, "server list not loaded yet")
		return
	}

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - upstream client and poller status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(h.now()),
		Providers: []models.ProviderStatus{},
	}

	if h.registry != nil {
		for _, health := range h.registry.GetAllHealth() {
			ps := providerStatus(health)
			status.Providers = append(status.Providers, ps)
			status.Status = worseStatus(status.Status, ps.Status)
		}
	}

	if h.poller != nil {
		stats := h.poller.GetStats()
		status.Poller = pollerStatus(&stats)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(health *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:            health.Name,
		Status:              models.HealthStatusOK,
		CircuitState:        health.CircuitState.String(),
		ConsecutiveFailures: health.Counts.ConsecutiveFailures,
	}

	switch health.Level() {
	case resilience.LevelDown:
		ps.Status = models.HealthStatusFail
	case resilience.LevelDegraded:
		ps.Status = models.HealthStatusDegraded
	}

	if health.LastSuccessAt != nil {
		ps.LastSuccessAt = models.NewTimestamp(*health.LastSuccessAt)
	}
	if health.LastFailureAt != nil {
		ps.LastFailureAt = models.NewTimestamp(*health.LastFailureAt)
	}
	if health.LastError != "" && ps.Status != models.HealthStatusOK {
		msg := health.LastError
		ps.Message = &msg
	}
	if health.CircuitState == gobreaker.StateOpen && ps.Message == nil {
		msg := "circuit open"
		ps.Message = &msg
	}

	return ps
}

func pollerStatus(s *worker.PollStats) models.PollerStatus {
	return models.PollerStatus{
		PollsIssued:      s.PollsIssued,
		PollsFailed:      s.PollsFailed,
		StaleDropped:     s.StaleDropped,
		SnapshotsApplied: s.SnapshotsApplied,
		OccupancyChanges: s.OccupancyChanges,
		ServerLoads:      s.ServerLoads,
		ServerLoadErrors: s.ServerLoadErrors,
		LastPollAt:       models.NewTimestamp(s.LastPollAt),
		LastSuccessAt:    models.NewTimestamp(s.LastSuccessAt),
		LastPollDuration: s.LastPollDuration.String(),
	}
}

var statusRank = map[models.HealthStatus]int{
	models.HealthStatusOK:       0,
	models.HealthStatusDegraded: 1,
	models.HealthStatusFail:     2,
}

func worseStatus(a, b models.HealthStatus) models.HealthStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}
