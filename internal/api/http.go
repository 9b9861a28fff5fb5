// Package api serves the dashboard-facing HTTP surface: read endpoints over
// the engine snapshot, the control endpoint, the presentation websocket and
// the operational probes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icsight/icsight/internal/alert"
	"github.com/icsight/icsight/internal/control"
	"github.com/icsight/icsight/internal/engine"
	"github.com/icsight/icsight/internal/hub"
	"github.com/icsight/icsight/internal/model"
	"github.com/icsight/icsight/internal/store"
)

// defaultEventLimit caps GET /api/events responses without a limit param.
const defaultEventLimit = 100

// HTTPAPI provides the HTTP endpoints of the dashboard service.
type HTTPAPI struct {
	engine    *engine.Engine
	events    *store.Events
	status    *store.Status
	alerts    *alert.Emitter
	facade    *control.Facade
	hub       *hub.Hub
	transport func() model.ConnectionState
	natsConn  *nats.Conn
	logger    *slog.Logger
}

// NewHTTPAPI creates the API over its collaborators. facade, hub and
// natsConn may be nil in reduced deployments.
func NewHTTPAPI(eng *engine.Engine, events *store.Events, status *store.Status,
	alerts *alert.Emitter, facade *control.Facade, h *hub.Hub,
	transportState func() model.ConnectionState, natsConn *nats.Conn,
	logger *slog.Logger) *HTTPAPI {
	return &HTTPAPI{
		engine:    eng,
		events:    events,
		status:    status,
		alerts:    alerts,
		facade:    facade,
		hub:       h,
		transport: transportState,
		natsConn:  natsConn,
		logger:    logger,
	}
}

// Router builds the service routes.
func (api *HTTPAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", api.handleEvents)
		r.Get("/timeline", api.handleTimeline)
		r.Get("/graph", api.handleGraph)
		r.Get("/distributions", api.handleDistributions)
		r.Get("/talkers", api.handleTalkers)
		r.Get("/health-score", api.handleHealthScore)
		r.Get("/status", api.handleStatus)
		r.Get("/alerts", api.handleAlerts)
		r.Get("/snapshot", api.handleSnapshot)
		r.Post("/control", api.handleControl)
	})

	if api.hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			hub.ServeWS(api.hub, w, r)
		})
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", api.handleHealth)
	r.Get("/readyz", api.handleReady)
	return r
}

// handleEvents handles GET /api/events with an optional limit parameter.
// Events are returned newest first.
func (api *HTTPAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	events := api.events.Recent(limit)
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":    events,
		"count":     len(events),
		"timestamp": time.Now().UTC(),
	})
}

func (api *HTTPAPI) handleTimeline(w http.ResponseWriter, r *http.Request) {
	snap := api.engine.View()
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timeline":     snap.Timeline,
		"count":        len(snap.Timeline),
		"generated_at": snap.GeneratedAt,
	})
}

func (api *HTTPAPI) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap := api.engine.View()
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"graph":        snap.Graph,
		"generated_at": snap.GeneratedAt,
	})
}

func (api *HTTPAPI) handleDistributions(w http.ResponseWriter, r *http.Request) {
	snap := api.engine.View()
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"distributions":    snap.Distributions,
		"top_attack_types": snap.TopAttackTypes,
		"generated_at":     snap.GeneratedAt,
	})
}

func (api *HTTPAPI) handleTalkers(w http.ResponseWriter, r *http.Request) {
	snap := api.engine.View()
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"talkers":      snap.TopTalkers,
		"count":        len(snap.TopTalkers),
		"generated_at": snap.GeneratedAt,
	})
}

func (api *HTTPAPI) handleHealthScore(w http.ResponseWriter, r *http.Request) {
	snap := api.engine.View()
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"score":            snap.HealthScore,
		"connection_state": api.transport().String(),
		"generated_at":     snap.GeneratedAt,
	})
}

func (api *HTTPAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, updatedAt := api.status.Get()
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"updated_at": updatedAt,
	})
}

func (api *HTTPAPI) handleAlerts(w http.ResponseWriter, r *http.Request) {
	history := api.alerts.History()
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"current":   api.alerts.Current(),
		"history":   history,
		"count":     len(history),
		"timestamp": time.Now().UTC(),
	})
}

func (api *HTTPAPI) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.engine.View())
}

// handleControl handles POST /api/control, forwarding the command upstream.
// The local state only changes on upstream confirmation.
func (api *HTTPAPI) handleControl(w http.ResponseWriter, r *http.Request) {
	if api.facade == nil {
		http.Error(w, "Control channel not configured", http.StatusServiceUnavailable)
		return
	}

	var req control.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "Failed to parse request body", http.StatusBadRequest)
		return
	}

	status, err := api.facade.SendCommand(req.Action, req.Speed)
	if err != nil {
		var cmdErr *control.CommandError
		if errors.As(err, &cmdErr) {
			api.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"status":    "error",
				"message":   cmdErr.Message,
				"timestamp": time.Now().UTC(),
			})
			return
		}
		http.Error(w, "Command failed", http.StatusInternalServerError)
		return
	}

	if req.Action == control.ActionReset {
		api.engine.Reset()
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"data":      status,
		"timestamp": time.Now().UTC(),
	})
}

// handleHealth handles GET /healthz.
func (api *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"events":    api.events.Len(),
	})
}

// handleReady handles GET /readyz. Ready means the telemetry transport is
// live; the NATS mirror is reported but optional.
func (api *HTTPAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	state := api.transport()
	natsConnected := api.natsConn != nil && api.natsConn.IsConnected()

	ready := state.Live()
	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	api.writeJSON(w, statusCode, map[string]interface{}{
		"status":          status,
		"timestamp":       time.Now().UTC(),
		"transport_state": state.String(),
		"nats_connected":  natsConnected,
	})
}

func (api *HTTPAPI) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.logger.Warn("Failed to encode response", "error", err)
	}
}
