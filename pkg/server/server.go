// Package server is the HTTP front: a chi router over the catalog, the
// state engine, the stream registry and negotiator, the preview proxy,
// and the analytics sink.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/history"
	"github.com/jordansnyder/maestra-core/pkg/preview"
	"github.com/jordansnyder/maestra-core/pkg/state"
	"github.com/jordansnyder/maestra-core/pkg/store"
	"github.com/jordansnyder/maestra-core/pkg/stream"
	"github.com/jordansnyder/maestra-core/pkg/util"
	"github.com/jordansnyder/maestra-core/pkg/version"
)

// Server holds the wired subsystems behind the REST surface.
type Server struct {
	store      store.Store
	engine     *state.Engine
	registry   *stream.Registry
	negotiator *stream.Negotiator
	recorder   history.Recorder
	proxy      *preview.Proxy
	fanout     *bus.Fanout
}

// New wires a server over already-connected subsystems.
func New(st store.Store, engine *state.Engine, registry *stream.Registry, negotiator *stream.Negotiator, recorder history.Recorder, fan *bus.Fanout) *Server {
	return &Server{
		store:      st,
		engine:     engine,
		registry:   registry,
		negotiator: negotiator,
		recorder:   recorder,
		proxy:      preview.NewProxy(registry, negotiator),
		fanout:     fan,
	}
}

// Router builds the full route tree. Static prefixes are registered
// before catch-all id parameters so /streams/sessions/... never matches
// /streams/{id}.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(recoverMiddleware)
	r.Use(logMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/devices", func(r chi.Router) {
		r.Post("/register", s.handleDeviceRegister)
		r.Post("/heartbeat", s.handleDeviceHeartbeat)
		r.Get("/", s.handleDeviceList)
		r.Get("/{id}", s.handleDeviceGet)
		r.Delete("/{id}", s.handleDeviceDelete)
	})
	r.Post("/metrics", s.handleMetric)
	r.Post("/metrics/batch", s.handleMetricBatch)
	r.Post("/events", s.handleDeviceEvent)

	r.Route("/entities", func(r chi.Router) {
		r.Get("/", s.handleEntityList)
		r.Post("/", s.handleEntityCreate)

		r.Get("/types", s.handleEntityTypeList)
		r.Post("/types", s.handleEntityTypeCreate)
		r.Get("/types/by-name/{name}", s.handleEntityTypeByName)
		r.Get("/types/{id}", s.handleEntityTypeGet)
		r.Delete("/types/{id}", s.handleEntityTypeDelete)

		r.Get("/tree", s.handleEntityTree)
		r.Get("/by-slug/{slug}", s.handleEntityBySlug)
		r.Post("/state/bulk-get", s.handleBulkGet)
		r.Post("/state/bulk-update", s.handleBulkUpdate)

		r.Get("/{id}", s.handleEntityGet)
		r.Put("/{id}", s.handleEntityUpdate)
		r.Delete("/{id}", s.handleEntityDelete)
		r.Get("/{id}/children", s.handleEntityChildren)
		r.Get("/{id}/ancestors", s.handleEntityAncestors)
		r.Get("/{id}/descendants", s.handleEntityDescendants)
		r.Get("/{id}/siblings", s.handleEntitySiblings)

		r.Get("/{id}/state", s.handleStateGet)
		r.Patch("/{id}/state", s.handleStatePatch)
		r.Put("/{id}/state", s.handleStateReplace)

		r.Get("/{id}/variables", s.handleVariablesGet)
		r.Put("/{id}/variables", s.handleVariablesPut)
		r.Post("/{id}/variables/validate", s.handleVariablesValidate)
		r.Post("/{id}/variables/{name}", s.handleVariableUpsert)
		r.Put("/{id}/variables/{name}", s.handleVariableUpsert)
		r.Delete("/{id}/variables/{name}", s.handleVariableDelete)
	})

	r.Route("/streams", func(r chi.Router) {
		r.Get("/", s.handleStreamList)
		r.Post("/advertise", s.handleStreamAdvertise)
		r.Get("/state", s.handleStreamState)

		r.Get("/types", s.handleStreamTypeList)
		r.Post("/types", s.handleStreamTypeCreate)

		r.Get("/sessions", s.handleSessionList)
		r.Get("/sessions/history", s.handleSessionHistory)
		r.Delete("/sessions/{id}", s.handleSessionStop)
		r.Post("/sessions/{id}/heartbeat", s.handleSessionHeartbeat)

		r.Get("/{id}", s.handleStreamGet)
		r.Delete("/{id}", s.handleStreamWithdraw)
		r.Post("/{id}/heartbeat", s.handleStreamHeartbeat)
		r.Post("/{id}/request", s.handleStreamRequest)
		r.Get("/{id}/preview", s.handleStreamPreview)
	})

	r.Route("/routing", func(r chi.Router) {
		r.Get("/state", s.handleRoutingState)

		r.Get("/devices", s.handleRoutingDeviceList)
		r.Post("/devices", s.handleRoutingDeviceCreate)
		r.Put("/devices/positions", s.handleRoutingPositions)
		r.Get("/devices/{id}", s.handleRoutingDeviceGet)
		r.Put("/devices/{id}", s.handleRoutingDeviceUpdate)
		r.Delete("/devices/{id}", s.handleRoutingDeviceDelete)

		r.Get("/routes", s.handleRouteList)
		r.Post("/routes", s.handleRouteCreate)
		r.Put("/routes", s.handleRouteReplaceAll)
		r.Delete("/routes", s.handleRouteDeleteByPorts)
		r.Post("/routes/clear", s.handleRouteClear)
		r.Delete("/routes/{id}", s.handleRouteDelete)

		r.Get("/presets", s.handlePresetList)
		r.Post("/presets", s.handlePresetCreate)
		r.Get("/presets/{id}", s.handlePresetGet)
		r.Put("/presets/{id}", s.handlePresetUpdate)
		r.Delete("/presets/{id}", s.handlePresetDelete)
		r.Post("/presets/{id}/save", s.handlePresetSave)
		r.Post("/presets/{id}/recall", s.handlePresetRecall)
	})

	r.Route("/analytics", func(r chi.Router) {
		r.Get("/annotations", s.handleAnnotationList)
		r.Post("/annotations", s.handleAnnotationCreate)
		r.Put("/annotations/{id}", s.handleAnnotationUpdate)
		r.Delete("/annotations/{id}", s.handleAnnotationDelete)

		r.Get("/summary", s.handleAnalyticsSummary)
		r.Get("/export/{dataset}", s.handleAnalyticsExport)

		r.Get("/config", s.handleCollectionConfigList)
		r.Put("/config", s.handleCollectionConfigPut)
		r.Delete("/config/{id}", s.handleCollectionConfigDelete)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "maestra-core",
		"version":   version.Version,
		"timestamp": bus.Timestamp(time.Now()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entities, devices, err := s.store.Counts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       "maestra-core",
		"version":       version.Info(),
		"entities":      entities,
		"devices":       devices,
		"bus_connected": s.fanout.Connected(),
		"timestamp":     bus.Timestamp(time.Now()),
	})
}

// writeJSON encodes a response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			util.WithComponent("server").WithError(err).Warn("response encode failed")
		}
	}
}

// decodeJSON parses a request body, surfacing malformed input as 400.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &badRequestError{cause: err}
	}
	return nil
}

type badRequestError struct{ cause error }

func (e *badRequestError) Error() string { return "malformed request body: " + e.cause.Error() }

// fail maps the error taxonomy onto status codes. All error bodies are
// {"detail": ...}.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		status = http.StatusBadRequest
	case errors.Is(err, util.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, util.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, util.ErrValidationFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, util.ErrUpstreamTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, util.ErrUpstreamRejected):
		status = http.StatusBadGateway
	case errors.Is(err, util.ErrDependencyDown):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		util.WithComponent("server").WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

// corsMiddleware is deliberately permissive; the fabric runs on a
// closed show network.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				util.WithComponent("server").Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		util.WithComponent("server").Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
