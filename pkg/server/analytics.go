package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

func (s *Server) handleAnnotationCreate(w http.ResponseWriter, r *http.Request) {
	var a model.Annotation
	if err := decodeJSON(r, &a); err != nil {
		s.fail(w, err)
		return
	}
	if a.Title == "" {
		s.fail(w, util.NewValidationError("title is required"))
		return
	}
	if err := s.recorder.CreateAnnotation(r.Context(), &a); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &a)
}

func (s *Server) handleAnnotationList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from, to *time.Time
	if t, ok := queryTime(r, "from"); ok {
		from = &t
	}
	if t, ok := queryTime(r, "to"); ok {
		to = &t
	}
	annotations, err := s.recorder.ListAnnotations(r.Context(), q.Get("category"), from, to, queryInt(r, "limit", 100))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, annotations)
}

func (s *Server) handleAnnotationUpdate(w http.ResponseWriter, r *http.Request) {
	var a model.Annotation
	if err := decodeJSON(r, &a); err != nil {
		s.fail(w, err)
		return
	}
	a.ID = chi.URLParam(r, "id")
	if err := s.recorder.UpdateAnnotation(r.Context(), &a); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &a)
}

func (s *Server) handleAnnotationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.recorder.DeleteAnnotation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	from, to := queryWindow(r)
	summary, err := s.recorder.Summary(r.Context(), from, to)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAnalyticsExport(w http.ResponseWriter, r *http.Request) {
	dataset := chi.URLParam(r, "dataset")
	from, to := queryWindow(r)
	rows, err := s.recorder.Export(r.Context(), dataset, from, to)
	if err != nil {
		s.fail(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]any{
			"dataset": dataset,
			"from":    from,
			"to":      to,
			"rows":    rows,
		})
	case "csv":
		writeCSV(w, dataset, rows)
	default:
		s.fail(w, util.NewValidationError("format must be json or csv"))
	}
}

// writeCSV flattens export rows into a CSV with a stable column order.
// Nested values are serialized as JSON cells.
func writeCSV(w http.ResponseWriter, dataset string, rows []map[string]any) {
	columns := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			columns[k] = true
		}
	}
	header := make([]string, 0, len(columns))
	for k := range columns {
		header = append(header, k)
	}
	sort.Strings(header)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", dataset))
	cw := csv.NewWriter(w)
	defer cw.Flush()

	cw.Write(header)
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = csvCell(row[col])
		}
		cw.Write(record)
	}
}

func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, bool, int, int64:
		return fmt.Sprintf("%v", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

func (s *Server) handleCollectionConfigList(w http.ResponseWriter, r *http.Request) {
	configs, err := s.recorder.ListCollectionConfigs(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleCollectionConfigPut(w http.ResponseWriter, r *http.Request) {
	var cc model.CollectionConfig
	if err := decodeJSON(r, &cc); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.recorder.PutCollectionConfig(r.Context(), &cc); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &cc)
}

func (s *Server) handleCollectionConfigDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.recorder.DeleteCollectionConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func queryTime(r *http.Request, key string) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// queryWindow defaults to the last 24 hours.
func queryWindow(r *http.Request) (time.Time, time.Time) {
	to, ok := queryTime(r, "to")
	if !ok {
		to = time.Now().UTC()
	}
	from, ok := queryTime(r, "from")
	if !ok {
		from = to.Add(-24 * time.Hour)
	}
	return from, to
}
