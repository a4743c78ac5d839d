package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

func (s *Server) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	var reg model.DeviceRegistration
	if err := decodeJSON(r, &reg); err != nil {
		s.fail(w, err)
		return
	}
	b := &util.ValidationBuilder{}
	b.Add(reg.Name != "", "name is required")
	b.Add(reg.DeviceType != "", "device_type is required")
	b.Add(reg.HardwareID != "", "hardware_id is required")
	if err := b.Build(); err != nil {
		s.fail(w, err)
		return
	}

	d := &model.Device{
		Name:            reg.Name,
		DeviceType:      reg.DeviceType,
		HardwareID:      reg.HardwareID,
		FirmwareVersion: reg.FirmwareVersion,
		IPAddress:       reg.IPAddress,
		Location:        reg.Location,
		Metadata:        reg.Metadata,
		Status:          model.DeviceOnline,
	}
	if err := s.store.RegisterDevice(r.Context(), d); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDeviceHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb model.DeviceHeartbeat
	if err := decodeJSON(r, &hb); err != nil {
		s.fail(w, err)
		return
	}
	d, err := s.store.DeviceHeartbeat(r.Context(), hb, time.Now().UTC())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context(), r.URL.Query().Get("device_type"),
		queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeviceDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	var m model.Metric
	if err := decodeJSON(r, &m); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.recorder.RecordMetric(r.Context(), m); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleMetricBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metrics []model.Metric `json:"metrics"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.recorder.RecordMetrics(r.Context(), req.Metrics); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status": "recorded",
		"count":  len(req.Metrics),
	})
}

func (s *Server) handleDeviceEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.DeviceEvent
	if err := decodeJSON(r, &ev); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.recorder.RecordEvent(r.Context(), ev); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
