package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/querydeck/internal/apperr"
)

func (s *Server) routes(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Route not found", Code: apperr.Code(apperr.NotFound)})
	})

	r.Get("/health", s.health)

	r.Route("/api/v1/dbs", func(r chi.Router) {
		r.Get("/", s.listDatabases)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.getDatabase)
			r.Put("/", s.putDatabase)
			r.Delete("/", s.deleteDatabase)
			r.Post("/schema/refresh", s.refreshSchema)
			r.Post("/query", s.query)
			r.With(s.limiter.middleware).Post("/query/natural", s.naturalQuery)
		})
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type putDatabaseRequest struct {
	URL string `json:"url"`
}

type queryRequest struct {
	SQL string `json:"sql"`
}

type naturalQueryRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	conns, err := s.engine.ListDatabases(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) getDatabase(w http.ResponseWriter, r *http.Request) {
	meta, err := s.engine.Schema(r.Context(), chi.URLParam(r, "name"), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) putDatabase(w http.ResponseWriter, r *http.Request) {
	var req putDatabaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.engine.PutDatabase(r.Context(), chi.URLParam(r, "name"), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) deleteDatabase(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteDatabase(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refreshSchema(w http.ResponseWriter, r *http.Request) {
	meta, err := s.engine.Schema(r.Context(), chi.URLParam(r, "name"), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.engine.Query(r.Context(), chi.URLParam(r, "name"), req.SQL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) naturalQuery(w http.ResponseWriter, r *http.Request) {
	var req naturalQueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.engine.Ask(r.Context(), chi.URLParam(r, "name"), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validationf("Request body too large (max %d bytes)", tooLarge.Limit)
		}
		return apperr.Wrap(apperr.Validation, "Invalid request body", err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("id", RequestIDFrom(r.Context())),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: apperr.Code(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
