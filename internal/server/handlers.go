package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &query); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		v := r.URL.Query()
		query.Query = v.Get("q")
		if query.Query == "" {
			query.Query = v.Get("query")
		}
		query.Mode = v.Get("mode")
		query.FromNumber = v.Get("from_number")
		query.ToNumber = v.Get("to_number")
		var err error
		if query.Limit, err = intParam(r, "limit", 0); err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		if ms := v.Get("min_score"); ms != "" {
			if query.MinScore, err = strconv.ParseFloat(ms, 64); err != nil {
				s.respondError(w, http.StatusBadRequest, "min_score must be a number")
				return
			}
		}
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit), zap.String("mode", query.Mode))
	response, err := s.engine.Query(r.Context(), &query)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", models.DefaultLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	recs, err := s.engine.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent calls failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"calls": recs, "count": len(recs)})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.correlator.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecentTranscripts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", models.DefaultLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	docs, err := s.engine.RecentDocuments(r.Context(), limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transcripts": docs, "count": len(docs)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byStatus := make(map[string]int64, len(counts))
	var total int64
	for st, n := range counts {
		byStatus[string(st)] = n
		total += n
	}
	resp := map[string]any{
		"calls":           total,
		"calls_by_status": byStatus,
	}
	if info, err := s.engine.Info(ctx); err == nil {
		resp["index"] = info
	} else {
		s.logger.Warn("status: index info unavailable", zap.Error(err))
		resp["index_error"] = err.Error()
	}

	cfg := s.config
	resp["config"] = map[string]any{
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"index_backend":        cfg.Index.Backend,
		"stage_timeout":        cfg.Correlation.StageTimeout.String(),
		"requeue_after":        cfg.Correlation.RequeueAfter.String(),
		"infobip_call_control": s.calls != nil,
		"database_path":        cfg.Storage.DatabasePath,
		"vector_index_path":    cfg.Storage.VectorIndexPath,
		"bleve_index_path":     cfg.Storage.BleveIndexPath,
	}
	diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.VectorIndexPath, cfg.Storage.BleveIndexPath)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
