package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackinspect/inspectd/internal/config"
	"github.com/stackinspect/inspectd/internal/dockerfile"
	"github.com/stackinspect/inspectd/internal/document"
	"github.com/stackinspect/inspectd/internal/inspection"
	"github.com/stackinspect/inspectd/internal/telemetry"
)

// @created carries the submission timestamp inside the stored specification.
const createdKey = "@created"

const createdTimeFormat = "2006-01-02T15:04:05.000000"

// Server wires HTTP handlers to the orchestrator client and collaborators.
type Server struct {
	router    chi.Router
	orch      inspection.Orchestrator
	events    inspection.EventStore
	publisher inspection.Publisher
	generator *dockerfile.Generator
	idGen     inspection.IDGenerator
	clock     inspection.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orch inspection.Orchestrator,
	events inspection.EventStore,
	publisher inspection.Publisher,
	generator *dockerfile.Generator,
	idGen inspection.IDGenerator,
	clock inspection.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		orch:      orch,
		events:    events,
		publisher: publisher,
		generator: generator,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}
	telemetry.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))
	r.Use(telemetry.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey, s.logger))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate-dockerfile", s.postGenerateDockerfile)
		r.Post("/inspect", s.postInspection)
		r.Route("/inspect/{inspection_id}", func(r chi.Router) {
			r.Get("/status", s.getInspectionStatus)
			r.Get("/specification", s.getInspectionSpecification)
			r.Get("/build/log", s.getInspectionBuildLog)
			r.Get("/job/log", s.getInspectionJobLog)
			r.Get("/job/logs", s.getInspectionJobLogs)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) postGenerateDockerfile(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeSpecification(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	parameters := map[string]any{"specification": spec}

	content, _, err := s.generator.Generate(r.Context(), spec)
	if err != nil {
		telemetry.ObserveDockerfile("error")
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"parameters": parameters,
			"error":      err.Error(),
		})
		return
	}

	telemetry.ObserveDockerfile("ok")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"parameters": parameters,
		"dockerfile": content,
	})
}

func (s *Server) postInspection(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeSpecification(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Generate the Dockerfile first so a bad specification never reaches
	// the cluster.
	content, runJob, err := s.generator.Generate(r.Context(), spec)
	if err != nil {
		telemetry.ObserveDockerfile("error")
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"parameters": spec,
			"error":      err.Error(),
		})
		return
	}
	telemetry.ObserveDockerfile("ok")

	parsed := inspection.ParseSpecification(spec)

	defaults := inspection.ResourceRequests{
		CPU:    s.cfg.Inspection.DefaultCPURequest,
		Memory: s.cfg.Inspection.DefaultMemoryRequest,
	}
	if run, ok := parsed["run"].(document.Mapping); ok {
		inspection.AdjustDefaultRequests(run, defaults)
	}
	build, _ := parsed["build"].(document.Mapping)
	if build != nil {
		inspection.AdjustDefaultRequests(build, defaults)
	}

	hwParams, useHWTemplate := inspection.ConstructHardwareParameters(build)

	now := s.clock.Now()
	parsed[createdKey] = document.String(now.UTC().Format(createdTimeFormat))

	target := s.cfg.Inspection.BuildTarget
	if runJob {
		target = s.cfg.Inspection.RunTarget
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to generate inspection id")
		return
	}

	scheduleStart := time.Now()
	workflowID, err := s.orch.ScheduleInspection(r.Context(), inspection.ScheduleRequest{
		InspectionID:        "inspection-" + id,
		Dockerfile:          strings.ReplaceAll(content, "'", "''"),
		Specification:       parsed,
		Target:              target,
		Parameters:          hwParams,
		UseHardwareTemplate: useHWTemplate,
	})
	if err != nil {
		telemetry.ObserveInspection(target, "failed")
		s.logger.Error("schedule inspection failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to schedule inspection")
		return
	}
	telemetry.ObserveScheduleDuration(time.Since(scheduleStart))
	telemetry.ObserveInspection(target, "accepted")

	event := inspection.Event{
		InspectionID: workflowID,
		WorkflowID:   workflowID,
		Target:       target,
		CreatedAt:    now.UTC(),
	}
	if err := s.events.RecordSubmission(r.Context(), event); err != nil {
		s.logger.Warn("record inspection event failed", zap.Error(err))
	}
	if _, err := s.publisher.Publish(r.Context(), s.cfg.Publisher.TopicName, event); err != nil {
		s.logger.Warn("publish inspection event failed", zap.Error(err))
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"inspection_id":   workflowID,
		"parameters":      parsed,
		"workflow_id":     workflowID,
		"workflow_target": target,
	})
}

func (s *Server) getInspectionStatus(w http.ResponseWriter, r *http.Request) {
	inspectionID := chi.URLParam(r, "inspection_id")
	parameters := map[string]string{"inspection_id": inspectionID}

	status, errResp := s.inspectionStatus(r.Context(), inspectionID)
	if errResp != nil {
		s.writeJSON(w, errResp.code, map[string]any{
			"error":      errResp.message,
			"parameters": parameters,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"parameters": parameters,
	})
}

func (s *Server) getInspectionSpecification(w http.ResponseWriter, r *http.Request) {
	inspectionID := chi.URLParam(r, "inspection_id")
	parameters := map[string]string{"inspection_id": inspectionID}

	wf, err := s.orch.GetWorkflow(r.Context(), inspectionID)
	if errors.Is(err, inspection.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "A workflow for the given inspection id was not found",
			"parameters": parameters,
		})
		return
	}
	if err != nil {
		s.logger.Error("get workflow failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch workflow")
		return
	}

	var stored string
	for _, p := range wf.Parameters {
		if p.Name == "specification" {
			stored = p.Value
			break
		}
	}
	if stored == "" {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "The workflow carries no specification parameter",
			"parameters": parameters,
		})
		return
	}

	parsed, err := document.Decode([]byte(stored))
	if err != nil {
		s.logger.Error("decode stored specification failed",
			zap.String("inspection_id", inspectionID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "stored specification is not valid JSON")
		return
	}

	spec, err := inspection.UnparseSpecification(parsed)
	if err != nil {
		s.logger.Error("unparse specification failed",
			zap.String("inspection_id", inspectionID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "stored specification is malformed")
		return
	}

	// The timestamp was stamped at submission; pop it so the original
	// request document is returned untainted.
	created := spec[createdKey]
	delete(spec, createdKey)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"parameters":    wf.Parameters,
		"specification": spec,
		"created":       created,
	})
}

func (s *Server) getInspectionBuildLog(w http.ResponseWriter, r *http.Request) {
	inspectionID := chi.URLParam(r, "inspection_id")
	parameters := map[string]string{"inspection_id": inspectionID}

	log, err := s.orch.GetPodLog(r.Context(), buildPodName(inspectionID))
	if errors.Is(err, inspection.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "Build log for the given inspection id was not found",
			"parameters": parameters,
		})
		return
	}
	if err != nil {
		s.logger.Error("get build log failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch build log")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"log":        log,
		"parameters": parameters,
	})
}

// getInspectionJobLog serves the single-job log shape kept from the
// batch_size = 1 era. New clients should use /job/logs.
func (s *Server) getInspectionJobLog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Deprecation", "true")

	inspectionID := chi.URLParam(r, "inspection_id")
	parameters := map[string]string{"inspection_id": inspectionID}

	podIDs, err := s.orch.GetJobPodIDs(r.Context(), inspectionID)
	if errors.Is(err, inspection.ErrNotFound) {
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"error":      "No logs available yet for the given inspection id",
			"parameters": parameters,
		})
		return
	}
	if err != nil {
		s.logger.Error("get job pods failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job pods")
		return
	}

	log, err := s.orch.GetPodLog(r.Context(), podIDs[0])
	if errors.Is(err, inspection.ErrNotFound) || (err == nil && log == "") {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "Inspection run did not produce any log or it was deleted by the cluster",
			"parameters": parameters,
		})
		return
	}
	if err != nil {
		s.logger.Error("get job log failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job log")
		return
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(log), &decoded); err != nil {
		s.logger.Error("inspection job log is not valid JSON",
			zap.String("inspection_id", inspectionID), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":      "Job failed, please contact administrator for more details",
			"parameters": parameters,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"log":        decoded,
		"parameters": parameters,
	})
}

func (s *Server) getInspectionJobLogs(w http.ResponseWriter, r *http.Request) {
	inspectionID := chi.URLParam(r, "inspection_id")
	parameters := map[string]string{"inspection_id": inspectionID}

	status, errResp := s.inspectionStatus(r.Context(), inspectionID)
	if errResp != nil {
		s.writeJSON(w, errResp.code, map[string]any{
			"error":      errResp.message,
			"parameters": parameters,
		})
		return
	}

	build, _ := status["build"].(inspection.StatusReport)
	if build["state"] != "terminated" {
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"error":      "No logs available yet for the given inspection id",
			"status":     status,
			"parameters": parameters,
		})
		return
	}

	podIDs, err := s.orch.GetJobPodIDs(r.Context(), inspectionID)
	if errors.Is(err, inspection.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "No pods for the given inspection id were found",
			"status":     status,
			"parameters": parameters,
		})
		return
	}
	if err != nil {
		s.logger.Error("get job pods failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job pods")
		return
	}

	logs := make([]map[string]any, 0, len(podIDs))
	for _, podID := range podIDs {
		log, err := s.orch.GetPodLog(r.Context(), podID)
		if errors.Is(err, inspection.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]any{
				"error":      "No pods for the given inspection id were found",
				"status":     status,
				"parameters": parameters,
			})
			return
		}
		if err != nil {
			s.logger.Error("get pod log failed", zap.String("pod", podID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to fetch pod logs")
			return
		}

		var decoded map[string]any
		if err := json.Unmarshal([]byte(log), &decoded); err != nil {
			s.logger.Warn("skipping pod log that is not valid JSON",
				zap.String("pod", podID), zap.Error(err))
			continue
		}
		logs = append(logs, decoded)
	}

	if len(logs) == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "Inspection run did not produce any logs or it was deleted by the cluster",
			"status":     status,
			"parameters": parameters,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"logs":       logs,
		"parameters": parameters,
	})
}

type statusError struct {
	code    int
	message string
}

// inspectionStatus aggregates workflow, build pod and job state. The job
// report stays nil when no run job was scheduled.
func (s *Server) inspectionStatus(ctx context.Context, inspectionID string) (map[string]any, *statusError) {
	wf, err := s.orch.GetWorkflow(ctx, inspectionID)
	if errors.Is(err, inspection.ErrNotFound) {
		return nil, &statusError{http.StatusNotFound, "A workflow for the given inspection id was not found"}
	}
	if err != nil {
		s.logger.Error("get workflow failed", zap.Error(err))
		return nil, &statusError{http.StatusInternalServerError, "failed to fetch workflow"}
	}

	// One build pod exists per inspection, named after the inspection id.
	build, err := s.orch.GetPodStatusReport(ctx, buildPodName(inspectionID))
	if errors.Is(err, inspection.ErrNotFound) {
		return nil, &statusError{http.StatusNotFound, "The given inspection id was not found"}
	}
	if err != nil {
		s.logger.Error("get build pod status failed", zap.Error(err))
		return nil, &statusError{http.StatusInternalServerError, "failed to fetch build status"}
	}

	var job any
	jobStatus, err := s.orch.GetJobStatusReport(ctx, inspectionID)
	switch {
	case errors.Is(err, inspection.ErrNotFound):
		// No run job was scheduled; report null.
	case err != nil:
		s.logger.Error("get job status failed", zap.Error(err))
		return nil, &statusError{http.StatusInternalServerError, "failed to fetch job status"}
	default:
		job = jobStatus
	}

	return map[string]any{
		"build":    build,
		"job":      job,
		"workflow": wf.Status,
	}, nil
}

func buildPodName(inspectionID string) string {
	return inspectionID + "-1-build"
}

func decodeSpecification(body io.Reader) (document.Mapping, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return document.Decode(data)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				logger.Warn("rejected request with bad api key", zap.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
