package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dispatchwatch/dispatchwatch/internal/api/middleware"
	"github.com/dispatchwatch/dispatchwatch/internal/api/models"
	"github.com/dispatchwatch/dispatchwatch/internal/api/response"
	"github.com/dispatchwatch/dispatchwatch/internal/dashboard"
	"github.com/dispatchwatch/dispatchwatch/internal/occupancy"
	"github.com/dispatchwatch/dispatchwatch/internal/railway"
)

// DashboardController is the subset of dashboard.Controller the HTTP layer drives.
type DashboardController interface {
	View(ctx context.Context) (dashboard.View, error)
	Servers(ctx context.Context) ([]railway.Server, error)
	SelectServer(ctx context.Context, code string) error
	ToggleTheme(ctx context.Context) (bool, error)
	SetFilter(ctx context.Context, filter string) error
	Stations(ctx context.Context) ([]string, error)
	History(ctx context.Context, prefix string) (dashboard.StationView, error)
}

// DashboardHandler serves the dashboard view and its user commands.
type DashboardHandler struct {
	controller DashboardController
	logger     zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(controller DashboardController, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		controller: controller,
		logger:     logger,
	}
}

// GetDashboard handles GET /v1/dashboard.
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.controller.View(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := models.Dashboard{
		Servers:        toServers(view.Servers),
		DarkMode:       view.DarkMode,
		Filter:         view.Filter,
		Stations:       nonNil(view.Stations),
		Histories:      make([]models.StationHistory, 0, len(view.Histories)),
		LastSnapshotAt: models.NewTimestamp(view.LastSnapshotAt),
		RenderedAt:     models.Timestamp(view.RenderedAt),
	}
	if view.Selected != nil {
		selected := toServer(*view.Selected)
		out.SelectedServer = &selected
	}
	for _, sv := range view.Histories {
		out.Histories = append(out.Histories, toStationHistory(sv))
	}

	response.JSON(w, r, http.StatusOK, out)
}

// ListServers handles GET /v1/servers.
func (h *DashboardHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.controller.Servers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.ServerList{Items: toServers(servers)})
}

// SelectServer handles PUT /v1/selection. Selecting a server, even the
// current one, clears every station history.
func (h *DashboardHandler) SelectServer(w http.ResponseWriter, r *http.Request) {
	var input models.SelectionInput
	if err := response.DecodeJSON(r, &input); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}

	code := strings.TrimSpace(input.ServerCode)
	if code == "" {
		response.BadRequest(w, r, "validation failed", []models.FieldError{
			{Field: "serverCode", Message: "is required", Code: "required"},
		})
		return
	}

	if err := h.controller.SelectServer(r.Context(), code); err != nil {
		if errors.Is(err, dashboard.ErrUnknownServer) {
			response.UnknownServer(w, r, code)
			return
		}
		h.writeError(w, r, err)
		return
	}

	servers, err := h.controller.Servers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	selected, ok := railway.FindActive(servers, code)
	if !ok {
		selected = railway.Server{Code: code}
	}

	response.JSON(w, r, http.StatusOK, models.Selection{Server: toServer(selected)})
}

// ToggleTheme handles POST /v1/theme:toggle.
func (h *DashboardHandler) ToggleTheme(w http.ResponseWriter, r *http.Request) {
	dark, err := h.controller.ToggleTheme(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.Theme{DarkMode: dark})
}

// SetFilter handles PUT /v1/filter. An empty station clears the filter.
func (h *DashboardHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var input models.FilterInput
	if err := response.DecodeJSON(r, &input); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}

	station := strings.TrimSpace(input.Station)
	if err := h.controller.SetFilter(r.Context(), station); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.Filter{Station: station})
}

// ListStations handles GET /v1/stations.
func (h *DashboardHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.controller.Stations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.StationList{Items: nonNil(stations)})
}

// GetStationHistory handles GET /v1/stations/{prefix}/history.
func (h *DashboardHandler) GetStationHistory(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")

	view, err := h.controller.History(r.Context(), prefix)
	if err != nil {
		if errors.Is(err, occupancy.ErrStationNotFound) {
			response.NotFound(w, r, "station "+prefix+" has no recorded history")
			return
		}
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toStationHistory(view))
}

func (h *DashboardHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dashboard.ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		response.ServiceUnavailable(w, r, "dashboard is not running")
		return
	}

	h.logger.Error().
		Err(err).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("dashboard request failed")
	response.InternalError(w, r, "an unexpected error occurred")
}

func toServer(s railway.Server) models.Server {
	return models.Server{Code: s.Code, Name: s.Name, Region: s.Region}
}

func toServers(servers []railway.Server) []models.Server {
	out := make([]models.Server, 0, len(servers))
	for _, s := range servers {
		out = append(out, toServer(s))
	}
	return out
}

func toStationHistory(sv dashboard.StationView) models.StationHistory {
	events := make([]models.OccupancyEvent, 0, len(sv.Events))
	for _, e := range sv.Events {
		events = append(events, models.OccupancyEvent{
			At:         models.Timestamp(e.At),
			Clock:      e.Clock,
			Occupant:   e.Occupant,
			Bot:        e.Bot,
			ProfileURL: e.ProfileURL,
		})
	}
	return models.StationHistory{Prefix: sv.Prefix, Current: sv.Current, Events: events}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
