package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/store"
)

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealthCheck)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// The event stream is long-lived and stays outside the request timeout.
	r.Get("/runs/{runID}/events", s.handleRunEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		r.Post("/runs", s.handleSubmitRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Delete("/runs/{runID}", s.handleCancelRun)
		r.Get("/runs/{runID}/history", s.handleGetHistory)
	})
	return r
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := jsonAPI.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	view, err := s.Submit(req)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.respondWithError(w, status, err.Error())
		return
	}
	w.Header().Set("Location", "/runs/"+view.ID)
	s.respond(w, http.StatusAccepted, "accepted", view)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{"active": s.registry.List()}
	if s.store != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := s.store.ListRuns(r.Context(), limit)
		if err != nil {
			s.logger.Error("Failed to list persisted runs", zap.Error(err))
			s.respondWithError(w, http.StatusInternalServerError, "Internal error listing runs.")
			return
		}
		data["persisted"] = runs
	}
	s.respond(w, http.StatusOK, "success", data)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if view, _, ok := s.registry.Get(id); ok {
		s.respond(w, http.StatusOK, "success", view)
		return
	}
	export, ok := s.lookupPersisted(w, r, id)
	if !ok {
		return
	}
	view := RunView{ID: export.RunID, StartedAt: export.StartedAt}
	finished := export.FinishedAt
	view.FinishedAt = &finished
	view.State.Task = export.Task
	view.State.Status = agent.Status(export.Status)
	view.State.Step = len(export.Records)
	view.State.LastErrorKind = export.ErrorKind
	view.State.LastError = export.Error
	s.respond(w, http.StatusOK, "success", view)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if _, _, ok := s.registry.Get(id); !ok {
		s.respondWithError(w, http.StatusNotFound, "Run not found.")
		return
	}
	if !s.registry.Cancel(id) {
		s.respondWithError(w, http.StatusConflict, "Run has already finished.")
		return
	}
	s.logger.Info("Run cancellation requested", zap.String("run_id", id))
	s.respond(w, http.StatusAccepted, "accepted", map[string]string{"id": id})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if view, result, ok := s.registry.Get(id); ok {
		if result == nil {
			if view.FinishedAt != nil {
				s.respondWithError(w, http.StatusNotFound, "Run was rejected and has no history.")
			} else {
				s.respondWithError(w, http.StatusConflict, "Run is still in progress.")
			}
			return
		}
		s.respond(w, http.StatusOK, "success", result.Export(s.cfg.Export))
		return
	}
	export, ok := s.lookupPersisted(w, r, id)
	if !ok {
		return
	}
	s.respond(w, http.StatusOK, "success", export)
}

// -- Helpers --

func (s *Server) lookupPersisted(w http.ResponseWriter, r *http.Request, id string) (export history.RunExport, ok bool) {
	if s.store == nil {
		s.respondWithError(w, http.StatusNotFound, "Run not found.")
		return export, false
	}
	export, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Run not found.")
		return export, false
	}
	if err != nil {
		s.logger.Error("Failed to load persisted run", zap.String("run_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving run.")
		return export, false
	}
	return export, true
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := jsonAPI.NewEncoder(w).Encode(Response{Status: "error", Error: message}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, status string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := jsonAPI.NewEncoder(w).Encode(Response{Status: status, Data: data}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// instrument logs every request and, when metrics are enabled, records it
// under its route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		}
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// corsMiddleware provides basic CORS support for browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
