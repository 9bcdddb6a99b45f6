// Package server is the thin HTTP adapter named in spec §1 ("the
// HTTP/REST and WebSocket surfaces... treated as thin adapters") and §6
// (Task/Evidence/Context APIs). It does no business logic itself: every
// handler parses a request, calls into the core packages, and shapes the
// response. Grounded on the teacher's pkg/contextapi/server (chi router,
// CORS, and the path-normalization middleware this file implements) and
// its go-chi/chi + go-chi/cors stack.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/evidence"
	"github.com/Samueladewole/velocityai-sub003/pkg/metrics"
	"github.com/Samueladewole/velocityai-sub003/pkg/scheduler"
	"github.com/Samueladewole/velocityai-sub003/pkg/scoring"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/sqlstore"
)

// ControlRepository is the subset of sqlstore.ControlRepository the
// compliance-scoring endpoint needs: looking a control up by id before
// scoring it against the Evidence Store.
type ControlRepository interface {
	Get(ctx context.Context, framework, controlID string) (domain.FrameworkControl, error)
}

var _ ControlRepository = (*sqlstore.ControlRepository)(nil)

var validate = validator.New()

var errMissingOrgID = errors.New("organization_id is required")

// submitTaskRequest mirrors spec §6's submit_task signature.
// go-playground/validator enforces the required fields at the adapter
// boundary so malformed submissions never reach the Scheduler.
type submitTaskRequest struct {
	OrganizationID string                 `json:"organization_id" validate:"required"`
	AgentTarget    string                 `json:"agent_target" validate:"required"`
	TaskType       string                 `json:"task_type" validate:"required"`
	Payload        map[string]interface{} `json:"payload"`
	Priority       int                    `json:"priority" validate:"omitempty,min=1,max=10"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
	DeadlineUnix   int64                  `json:"deadline_unix"`
}

// Server wires the §6 external interfaces over chi. It holds no state
// of its own; every field is a collaborator owned elsewhere.
type Server struct {
	router    chi.Router
	scheduler *scheduler.Scheduler
	evidence  *evidence.Store
	scoring   *scoring.Engine
	controls  ControlRepository
	logger    *zap.Logger
}

// New wires the §6 external interfaces over chi. scoringEngine/controls
// are optional (nil disables the /compliance route) so callers that
// only need the task/evidence surface don't have to stand up a
// framework-control database.
func New(sched *scheduler.Scheduler, evStore *evidence.Store, scoringEngine *scoring.Engine, controls ControlRepository, logger *zap.Logger) *Server {
	s := &Server{scheduler: sched, evidence: evStore, scoring: scoringEngine, controls: controls, logger: logger}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/api/v1/tasks", s.handleSubmitTask)
	r.Get("/api/v1/tasks/{taskID}", s.handleGetTask)
	r.Delete("/api/v1/tasks/{taskID}", s.handleCancelTask)
	r.Post("/api/v1/evidence", s.handlePutEvidence)
	r.Get("/api/v1/evidence/{evidenceID}", s.handleGetEvidence)
	if s.scoring != nil && s.controls != nil {
		r.Get("/api/v1/compliance/{framework}/{controlID}", s.handleScoreControl)
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task := &domain.Task{
		OrganizationID: req.OrganizationID,
		AgentTarget:    req.AgentTarget,
		TaskType:       req.TaskType,
		Payload:        req.Payload,
		Priority:       req.Priority,
	}
	if req.TimeoutSeconds > 0 {
		task.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if req.DeadlineUnix > 0 {
		task.Deadline = time.Unix(req.DeadlineUnix, 0)
	}

	id, err := s.scheduler.Submit(task)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	metrics.TasksSubmittedTotal.WithLabelValues(req.OrganizationID, req.TaskType).Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.scheduler.GetTask(taskID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	ok, err := s.scheduler.CancelTask(taskID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *Server) handlePutEvidence(w http.ResponseWriter, r *http.Request) {
	var item domain.EvidenceItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.evidence.Store(r.Context(), &item)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	metrics.EvidenceStoredTotal.WithLabelValues(item.Framework, string(item.EvidenceType)).Inc()
	writeJSON(w, http.StatusCreated, map[string]string{"evidence_id": id})
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	evidenceID := chi.URLParam(r, "evidenceID")
	org := r.URL.Query().Get("organization_id")
	item, err := s.evidence.Get(r.Context(), org, evidenceID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleScoreControl scores a single framework control on demand
// against whatever evidence currently sits in the Evidence Store
// (§4.9: metrics are always derived, never read back from a cache).
func (s *Server) handleScoreControl(w http.ResponseWriter, r *http.Request) {
	framework := chi.URLParam(r, "framework")
	controlID := chi.URLParam(r, "controlID")
	org := r.URL.Query().Get("organization_id")
	if org == "" {
		writeError(w, http.StatusBadRequest, errs.New(domain.KindValidationFailed, "score_control", errMissingOrgID))
		return
	}

	control, err := s.controls.Get(r.Context(), framework, controlID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	metric, err := s.scoring.ScoreControl(r.Context(), control, org)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	metrics.ComplianceScoreGauge.WithLabelValues(org, framework).Set(metric.CompliancePct)
	writeJSON(w, http.StatusOK, metric)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAccessDenied:
		return http.StatusForbidden
	case domain.KindBackpressure:
		return http.StatusTooManyRequests
	case domain.KindValidationFailed:
		return http.StatusBadRequest
	case domain.KindAlreadyRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// metricsMiddleware records HTTP request duration under a normalized
// path label so dynamic path segments (task/evidence IDs) don't blow up
// Prometheus's metric cardinality (BR-CONTEXT-006 in the teacher's own
// server_test.go).
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, normalizePath(r.URL.Path)).Observe(time.Since(start).Seconds())
	})
}

// normalizePath replaces numeric and UUID-or-opaque-ID path segments
// with a ":id" placeholder so per-request metrics don't create one time
// series per distinct entity id.
func normalizePath(path string) string {
	trailingSlash := len(path) > 1 && path[len(path)-1] == '/'
	segments := splitPath(path)

	for i, seg := range segments {
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}

	out := "/" + joinPath(segments)
	if trailingSlash {
		out += "/"
	}
	if path == "/" {
		return "/"
	}
	return out
}

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

func looksLikeID(seg string) bool {
	if seg == "" || versionSegment.MatchString(seg) {
		return false
	}
	if _, err := strconv.Atoi(seg); err == nil {
		return true
	}
	hasDigit, hasHyphen := false, false
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '-':
			hasHyphen = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			// letters alone don't make it an ID
		default:
			return false
		}
	}
	return hasHyphen || hasDigit
}

func splitPath(path string) []string {
	var segments []string
	var current string
	for _, ch := range path {
		if ch == '/' {
			if current != "" {
				segments = append(segments, current)
				current = ""
			}
		} else {
			current += string(ch)
		}
	}
	if current != "" {
		segments = append(segments, current)
	}
	return segments
}

func joinPath(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
