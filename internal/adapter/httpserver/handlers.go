package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/sprite-forge/internal/adapter/observability"
	"github.com/fairyhunter13/sprite-forge/internal/config"
	"github.com/fairyhunter13/sprite-forge/internal/domain"
	"github.com/fairyhunter13/sprite-forge/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg      config.Config
	Submit   *usecase.SubmitService
	Status   *usecase.StatusService
	DLQAdmin *usecase.DLQAdminService
	Stats    *observability.Stats

	RedisCheck func(ctx context.Context) error
	DBCheck    func(ctx context.Context) error
	QueueDepth func(ctx context.Context) (int64, error)
	DLQSize    func(ctx context.Context) (int64, error)
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, submit *usecase.SubmitService, status *usecase.StatusService, dlq *usecase.DLQAdminService, stats *observability.Stats) *Server {
	return &Server{Cfg: cfg, Submit: submit, Status: status, DLQAdmin: dlq, Stats: stats}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// SubmitHandler admits a sprite generation request.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if s.Stats != nil {
			s.Stats.Begin()
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			UserID string                  `json:"user_id" validate:"required"`
			Prompt domain.StructuredPrompt `json:"prompt" validate:"required"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.endStats("submit", r.URL.Path, http.StatusBadRequest, start, false)
			writeError(w, r, domain.NewClassifiedError(domain.KindValidation, false, "invalid json"), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			s.endStats("submit", r.URL.Path, http.StatusBadRequest, start, false)
			writeError(w, r, domain.NewClassifiedError(domain.KindValidation, false, "validation failed"), verrs)
			return
		}

		res, err := s.Submit.Submit(r.Context(), req.UserID, req.Prompt)
		if err != nil {
			s.endStats("submit", r.URL.Path, statusForKind(domain.Classify(err).Kind), start, false)
			writeError(w, r, err, nil)
			return
		}
		status := http.StatusAccepted
		if res.CacheHit {
			status = http.StatusOK
		}
		s.endStats("submit", r.URL.Path, status, start, true)
		writeJSON(w, status, res)
	}
}

// JobStatusHandler returns the current view of one job.
func (s *Server) JobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, domain.NewClassifiedError(domain.KindValidation, false, "id missing"), nil)
			return
		}
		st, err := s.Status.Status(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// StatsHandler returns the in-memory operation snapshot plus live queue
// figures.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{}
		if s.Stats != nil {
			out["operations"] = s.Stats.Snapshot()
		}
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if s.QueueDepth != nil {
			if depth, err := s.QueueDepth(ctx); err == nil {
				out["queue_depth"] = depth
			}
		}
		if s.DLQSize != nil {
			if size, err := s.DLQSize(ctx); err == nil {
				out["dlq_size"] = size
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ReadyzHandler probes Redis, Postgres, and the queue depth. Depth at or
// above the warning threshold reports degraded; at the system limit, or on
// any failed probe, unhealthy. Anything other than healthy answers 503 so
// load balancers stop routing new submissions here.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "postgres", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "postgres", OK: true})
			}
		}
		state := "healthy"
		if s.QueueDepth != nil {
			depth, err := s.QueueDepth(ctx)
			switch {
			case err != nil:
				checks = append(checks, check{Name: "queue", OK: false, Details: err.Error()})
			case depth >= int64(s.Cfg.SystemQueueLimit):
				state = "unhealthy"
				checks = append(checks, check{Name: "queue", OK: false, Details: fmt.Sprintf("depth %d at limit %d", depth, s.Cfg.SystemQueueLimit)})
			case depth >= int64(s.Cfg.WarningThreshold):
				state = "degraded"
				checks = append(checks, check{Name: "queue", OK: true, Details: fmt.Sprintf("depth %d above warning threshold %d", depth, s.Cfg.WarningThreshold)})
			default:
				checks = append(checks, check{Name: "queue", OK: true})
			}
		}
		for _, c := range checks {
			if !c.OK {
				state = "unhealthy"
			}
		}
		st := http.StatusOK
		if state != "healthy" {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"status": state, "checks": checks})
	}
}

// DLQListHandler lists dead-letter entries, newest first.
func (s *Server) DLQListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if q := r.URL.Query().Get("limit"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 0 {
				writeError(w, r, domain.NewClassifiedError(domain.KindValidation, false, "limit must be a non-negative integer"), nil)
				return
			}
			limit = n
		}
		entries, err := s.DLQAdmin.List(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		size, _ := s.DLQAdmin.Size(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": size})
	}
}

// DLQGetHandler returns one dead-letter entry.
func (s *Server) DLQGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.DLQAdmin.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

// DLQRetryHandler replays a dead-lettered job under a new id.
func (s *Server) DLQRetryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := s.DLQAdmin.Retry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": j.ID, "state": j.State})
	}
}

// DLQDeleteHandler removes a dead-letter entry.
func (s *Server) DLQDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.DLQAdmin.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) endStats(operation, endpoint string, status int, start time.Time, ok bool) {
	if s.Stats == nil {
		return
	}
	s.Stats.End(operation, endpoint, status, time.Since(start), ok)
}
