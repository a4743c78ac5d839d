package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// handleRoutingState is the single-fetch snapshot the node graph editor
// loads on startup.
func (s *Server) handleRoutingState(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListRoutingDevices(r.Context(), "", 0, 0)
	if err != nil {
		s.fail(w, err)
		return
	}
	routes, err := s.store.ListRoutes(r.Context(), "", true)
	if err != nil {
		s.fail(w, err)
		return
	}
	presets, err := s.store.ListPresets(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RoutingState{
		Devices: devices,
		Routes:  routes,
		Presets: presets,
	})
}

func (s *Server) handleRoutingDeviceCreate(w http.ResponseWriter, r *http.Request) {
	var d model.RoutingDevice
	if err := decodeJSON(r, &d); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.CreateRoutingDevice(r.Context(), &d); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &d)
}

func (s *Server) handleRoutingDeviceList(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListRoutingDevices(r.Context(), r.URL.Query().Get("device_type"),
		queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleRoutingDeviceGet(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetRoutingDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRoutingDeviceUpdate(w http.ResponseWriter, r *http.Request) {
	var d model.RoutingDevice
	if err := decodeJSON(r, &d); err != nil {
		s.fail(w, err)
		return
	}
	d.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateRoutingDevice(r.Context(), &d); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &d)
}

func (s *Server) handleRoutingDeviceDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRoutingDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRoutingPositions(w http.ResponseWriter, r *http.Request) {
	var positions map[string]model.Position
	if err := decodeJSON(r, &positions); err != nil {
		s.fail(w, err)
		return
	}
	n, err := s.store.UpdatePositions(r.Context(), positions)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleRouteCreate(w http.ResponseWriter, r *http.Request) {
	var rc model.RouteCreate
	if err := decodeJSON(r, &rc); err != nil {
		s.fail(w, err)
		return
	}
	route, err := s.store.CreateRoute(r.Context(), rc)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (s *Server) handleRouteList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	routes, err := s.store.ListRoutes(r.Context(), q.Get("preset_id"), q.Get("preset_id") == "")
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleRouteReplaceAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Routes []model.RouteCreate `json:"routes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	routes, err := s.store.ReplaceActiveRoutes(r.Context(), req.Routes)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleRouteDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRoute(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRouteDeleteByPorts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, fromPort := q.Get("from_device"), q.Get("from_port")
	to, toPort := q.Get("to_device"), q.Get("to_port")
	if from == "" || fromPort == "" || to == "" || toPort == "" {
		s.fail(w, util.NewValidationError("from_device, from_port, to_device and to_port are required"))
		return
	}
	if err := s.store.DeleteRouteByPorts(r.Context(), from, fromPort, to, toPort); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRouteClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearActiveRoutes(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handlePresetCreate(w http.ResponseWriter, r *http.Request) {
	var p model.RoutePreset
	if err := decodeJSON(r, &p); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.CreatePreset(r.Context(), &p); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (s *Server) handlePresetList(w http.ResponseWriter, r *http.Request) {
	presets, err := s.store.ListPresets(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handlePresetGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPreset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePresetUpdate(w http.ResponseWriter, r *http.Request) {
	var p model.RoutePreset
	if err := decodeJSON(r, &p); err != nil {
		s.fail(w, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	if err := s.store.UpdatePreset(r.Context(), &p); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

func (s *Server) handlePresetDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePreset(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePresetSave(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.SavePreset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "route_count": n})
}

func (s *Server) handlePresetRecall(w http.ResponseWriter, r *http.Request) {
	p, n, err := s.store.RecallPreset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "recalled",
		"preset":      p,
		"route_count": n,
	})
}
