package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordansnyder/maestra-core/pkg/model"
)

func (s *Server) handleStreamList(w http.ResponseWriter, r *http.Request) {
	streams, err := s.registry.List(r.Context(), r.URL.Query().Get("stream_type"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

func (s *Server) handleStreamAdvertise(w http.ResponseWriter, r *http.Request) {
	var adv model.StreamAdvertise
	if err := decodeJSON(r, &adv); err != nil {
		s.fail(w, err)
		return
	}
	stream, err := s.registry.Advertise(r.Context(), adv)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stream)
}

func (s *Server) handleStreamGet(w http.ResponseWriter, r *http.Request) {
	stream, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (s *Server) handleStreamWithdraw(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Withdraw(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleStreamHeartbeat(w http.ResponseWriter, r *http.Request) {
	stream, err := s.registry.Heartbeat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (s *Server) handleStreamRequest(w http.ResponseWriter, r *http.Request) {
	var req model.StreamRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	offer, err := s.negotiator.Negotiate(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) handleStreamPreview(w http.ResponseWriter, r *http.Request) {
	if err := s.proxy.Serve(w, r, chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
	}
}

// handleStreamState is the single-fetch snapshot: live streams plus
// live sessions in one response.
func (s *Server) handleStreamState(w http.ResponseWriter, r *http.Request) {
	streams, err := s.registry.List(r.Context(), "")
	if err != nil {
		s.fail(w, err)
		return
	}
	sessions, err := s.negotiator.ListSessions(r.Context(), "")
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"streams":  streams,
		"sessions": sessions,
	})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.negotiator.ListSessions(r.Context(), r.URL.Query().Get("stream_id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.recorder.SessionHistory(r.Context(), r.URL.Query().Get("stream_id"), queryInt(r, "limit", 100))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.negotiator.StopSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSessionHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.negotiator.SessionHeartbeat(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleStreamTypeList(w http.ResponseWriter, r *http.Request) {
	types, err := s.store.ListStreamTypes(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleStreamTypeCreate(w http.ResponseWriter, r *http.Request) {
	var st model.StreamType
	if err := decodeJSON(r, &st); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.CreateStreamType(r.Context(), &st); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &st)
}
