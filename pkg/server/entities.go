package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jordansnyder/maestra-core/pkg/model"
)

func (s *Server) handleEntityTypeCreate(w http.ResponseWriter, r *http.Request) {
	var et model.EntityType
	if err := decodeJSON(r, &et); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.CreateEntityType(r.Context(), &et); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &et)
}

func (s *Server) handleEntityTypeList(w http.ResponseWriter, r *http.Request) {
	types, err := s.store.ListEntityTypes(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleEntityTypeGet(w http.ResponseWriter, r *http.Request) {
	et, err := s.store.GetEntityType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, et)
}

func (s *Server) handleEntityTypeByName(w http.ResponseWriter, r *http.Request) {
	et, err := s.store.GetEntityTypeByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, et)
}

func (s *Server) handleEntityTypeDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEntityType(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEntityCreate(w http.ResponseWriter, r *http.Request) {
	var req model.EntityCreate
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	ent, err := s.engine.CreateEntity(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ent)
}

func (s *Server) handleEntityList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.EntityFilter{
		EntityType: q.Get("entity_type"),
		Status:     q.Get("status"),
		Search:     q.Get("search"),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	}
	if parent := q.Get("parent_id"); parent != "" {
		f.ParentID = &parent
	}
	if tags, ok := q["tags"]; ok {
		f.Tags = tags
	}
	entities, err := s.store.ListEntities(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleEntityGet(w http.ResponseWriter, r *http.Request) {
	s.respondEntity(w, r, func() (*model.Entity, error) {
		return s.store.GetEntity(r.Context(), chi.URLParam(r, "id"))
	})
}

func (s *Server) handleEntityBySlug(w http.ResponseWriter, r *http.Request) {
	s.respondEntity(w, r, func() (*model.Entity, error) {
		return s.store.GetEntityBySlug(r.Context(), chi.URLParam(r, "slug"))
	})
}

func (s *Server) respondEntity(w http.ResponseWriter, r *http.Request, get func() (*model.Entity, error)) {
	ent, err := get()
	if err != nil {
		s.fail(w, err)
		return
	}
	if r.URL.Query().Get("include_children") == "true" {
		children, err := s.store.Children(r.Context(), ent.ID)
		if err != nil {
			s.fail(w, err)
			return
		}
		ent.Children = children
	}
	writeJSON(w, http.StatusOK, ent)
}

func (s *Server) handleEntityUpdate(w http.ResponseWriter, r *http.Request) {
	var upd model.EntityUpdate
	if err := decodeJSON(r, &upd); err != nil {
		s.fail(w, err)
		return
	}
	ent, err := s.engine.UpdateEntity(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

func (s *Server) handleEntityDelete(w http.ResponseWriter, r *http.Request) {
	cascade := r.URL.Query().Get("cascade") == "true"
	deleted, err := s.engine.DeleteEntity(r.Context(), chi.URLParam(r, "id"), cascade)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "deleted",
		"cascade":     cascade,
		"deleted_ids": deleted,
	})
}

func (s *Server) handleEntityChildren(w http.ResponseWriter, r *http.Request) {
	s.respondEntityList(w, func() ([]*model.Entity, error) {
		return s.store.Children(r.Context(), chi.URLParam(r, "id"))
	})
}

func (s *Server) handleEntityAncestors(w http.ResponseWriter, r *http.Request) {
	s.respondEntityList(w, func() ([]*model.Entity, error) {
		return s.store.Ancestors(r.Context(), chi.URLParam(r, "id"))
	})
}

func (s *Server) handleEntityDescendants(w http.ResponseWriter, r *http.Request) {
	s.respondEntityList(w, func() ([]*model.Entity, error) {
		return s.store.Descendants(r.Context(), chi.URLParam(r, "id"), queryInt(r, "max_depth", 0))
	})
}

func (s *Server) handleEntitySiblings(w http.ResponseWriter, r *http.Request) {
	s.respondEntityList(w, func() ([]*model.Entity, error) {
		return s.store.Siblings(r.Context(), chi.URLParam(r, "id"))
	})
}

func (s *Server) respondEntityList(w http.ResponseWriter, list func() ([]*model.Entity, error)) {
	entities, err := list()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleEntityTree(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tree, err := s.store.Tree(r.Context(), q.Get("root_id"), q.Get("entity_type"), queryInt(r, "max_depth", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.GetState(r.Context(), chi.URLParam(r, "id"), r.URL.Query()["paths"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatePatch(w http.ResponseWriter, r *http.Request) {
	var upd model.StateUpdate
	if err := decodeJSON(r, &upd); err != nil {
		s.fail(w, err)
		return
	}
	resp, err := s.engine.Patch(r.Context(), chi.URLParam(r, "id"), upd.State, upd.Source)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStateReplace(w http.ResponseWriter, r *http.Request) {
	var upd model.StateUpdate
	if err := decodeJSON(r, &upd); err != nil {
		s.fail(w, err)
		return
	}
	resp, err := s.engine.Replace(r.Context(), chi.URLParam(r, "id"), upd.State, upd.Source)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBulkGet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slugs []string `json:"slugs"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	found, missing := s.engine.BulkGet(r.Context(), req.Slugs)
	writeJSON(w, http.StatusOK, map[string]any{
		"states":  found,
		"missing": missing,
	})
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req model.BulkStateUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": s.engine.BulkUpdate(r.Context(), req),
	})
}

func (s *Server) handleVariablesGet(w http.ResponseWriter, r *http.Request) {
	vars, err := s.engine.GetVariables(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vars)
}

func (s *Server) handleVariablesPut(w http.ResponseWriter, r *http.Request) {
	var vars model.Variables
	if err := decodeJSON(r, &vars); err != nil {
		s.fail(w, err)
		return
	}
	out, err := s.engine.PutVariables(r.Context(), chi.URLParam(r, "id"), vars)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVariableUpsert(w http.ResponseWriter, r *http.Request) {
	var def model.VariableDef
	if err := decodeJSON(r, &def); err != nil {
		s.fail(w, err)
		return
	}
	def.Name = chi.URLParam(r, "name")
	out, err := s.engine.UpsertVariable(r.Context(), chi.URLParam(r, "id"), def)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVariableDelete(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.DeleteVariable(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVariablesValidate(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ValidateState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
