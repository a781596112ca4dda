// Package api exposes the HTTP interface for the pipeline service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/config"
	"github.com/vrtlabs/feedback-pipeline/internal/dispatcher"
	"github.com/vrtlabs/feedback-pipeline/internal/ledger"
	"github.com/vrtlabs/feedback-pipeline/internal/metrics"
	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	ledger     *ledger.Ledger
	comments   pipeline.CommentStore
	dispatcher *dispatcher.Dispatcher
	clock      pipeline.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	ldg *ledger.Ledger,
	comments pipeline.CommentStore,
	disp *dispatcher.Dispatcher,
	clock pipeline.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger:     ldg,
		comments:   comments,
		dispatcher: disp,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/process", s.submitProcessJob)
			r.Post("/crawl", s.submitCrawlJob)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/comments", func(r chi.Router) {
			r.Post("/sweep", s.sweepComments)
			r.Post("/requeue", s.requeueComments)
			r.Get("/stats", s.commentStats)
			r.Get("/{comment_id}", s.getComment)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.comments.CountByStatus(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type processJobRequest struct {
	BatchSize int `json:"batch_size"`
}

func (s *Server) submitProcessJob(w http.ResponseWriter, r *http.Request) {
	var req processJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "batch_size must be positive")
		return
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.cfg.Pipeline.BatchSize
	}

	params := pipeline.JobParameters{"batch_size": batchSize}
	job, err := s.ledger.Open(r.Context(), pipeline.JobTypeCommentProcessing, params, "api")
	if err != nil {
		s.logger.Error("open processing job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	task := pipeline.Task{
		Kind:      pipeline.TaskProcess,
		JobID:     job.ID,
		BatchSize: batchSize,
	}
	if err := s.enqueue(r.Context(), task); err != nil {
		s.logger.Error("enqueue processing task failed",
			zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

type crawlJobRequest struct {
	BindingLimit int  `json:"binding_limit"`
	MaxPages     int  `json:"max_pages"`
	Force        bool `json:"force"`
}

func (s *Server) submitCrawlJob(w http.ResponseWriter, r *http.Request) {
	var req crawlJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.BindingLimit < 0 || req.MaxPages < 0 {
		writeError(w, http.StatusBadRequest, "limits must be positive")
		return
	}
	bindingLimit := req.BindingLimit
	if bindingLimit == 0 {
		bindingLimit = s.cfg.Crawl.BindingLimit
	}
	maxPages := req.MaxPages
	if maxPages == 0 {
		maxPages = s.cfg.Crawl.MaxPages
	}

	params := pipeline.JobParameters{
		"binding_limit": bindingLimit,
		"max_pages":     maxPages,
		"force":         req.Force,
	}
	job, err := s.ledger.Open(r.Context(), pipeline.JobTypeCommentCrawl, params, "api")
	if err != nil {
		s.logger.Error("open crawl job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	task := pipeline.Task{
		Kind:         pipeline.TaskCrawl,
		JobID:        job.ID,
		BindingLimit: bindingLimit,
		MaxPages:     maxPages,
		Force:        req.Force,
	}
	if err := s.enqueue(r.Context(), task); err != nil {
		s.logger.Error("enqueue crawl task failed",
			zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.ledger.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type sweepRequest struct {
	StaleAfterMinutes int `json:"stale_after_minutes"`
}

func (s *Server) sweepComments(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StaleAfterMinutes < 0 {
		writeError(w, http.StatusBadRequest, "stale_after_minutes must be positive")
		return
	}
	staleAfter := s.cfg.StaleAfter()
	if req.StaleAfterMinutes > 0 {
		staleAfter = time.Duration(req.StaleAfterMinutes) * time.Minute
	}

	reclaimed, err := s.comments.SweepStale(r.Context(), staleAfter, s.clock.Now())
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	metrics.ObserveSweep(reclaimed)
	writeJSON(w, http.StatusOK, map[string]int64{"reclaimed": reclaimed})
}

type requeueRequest struct {
	Limit int `json:"limit"`
}

// requeueComments returns failed comments to the queue so the next batch
// retries them. A zero limit requeues every failed comment.
func (s *Server) requeueComments(w http.ResponseWriter, r *http.Request) {
	var req requeueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	requeued, err := s.comments.RequeueFailed(r.Context(), req.Limit, s.clock.Now())
	if err != nil {
		s.logger.Error("requeue failed comments failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "requeue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"requeued": requeued})
}

func (s *Server) commentStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.comments.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error("count by status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) getComment(w http.ResponseWriter, r *http.Request) {
	commentID, err := strconv.ParseInt(chi.URLParam(r, "comment_id"), 10, 64)
	if err != nil || commentID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid comment_id")
		return
	}
	comment, err := s.comments.GetComment(r.Context(), commentID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "comment not found")
			return
		}
		s.logger.Error("get comment failed",
			zap.Int64("comment_id", commentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load comment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": comment})
}

func (s *Server) enqueue(ctx context.Context, task pipeline.Task) error {
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Enqueue(queueCtx, task); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// decodeBody decodes a JSON request body. An empty body leaves dst untouched
// so callers fall through to configured defaults.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode body: %w", err)
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
