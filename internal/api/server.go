package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/publish"
)

// Crawler is the orchestrator surface used by the handlers.
type Crawler interface {
	StartAsync(ctx context.Context, force bool) crawler.Result
	Data() []catalog.Product
	Status(ctx context.Context) crawler.Status
}

// Publisher is the publication surface used by the handlers.
type Publisher interface {
	Export(ctx context.Context) (publish.ExportResult, error)
	UploadAll(ctx context.Context) (publish.UploadResult, error)
	UploadOne(ctx context.Context, index int) (publish.UploadOutcome, error)
	Stats() catalog.UploadStats
	ResetStats()
}

// Config tunes the server.
type Config struct {
	// RequestTimeout bounds synchronous handlers, including full export and
	// upload runs.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and the publication pipeline.
type Server struct {
	router    chi.Router
	crawler   Crawler
	publisher Publisher
	// baseCtx outlives requests and parents background crawls.
	baseCtx context.Context
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Background crawls
// started over HTTP run under baseCtx.
func NewServer(
	baseCtx context.Context,
	cfg Config,
	crawler Crawler,
	publisher Publisher,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Minute
	}
	s := &Server{
		crawler:   crawler,
		publisher: publisher,
		baseCtx:   baseCtx,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/data", s.getData)
		r.Get("/status", s.getStatus)
		r.Post("/crawl", s.startCrawl)
		r.Get("/force-crawl", s.forceCrawl)
		r.Post("/force-crawl", s.forceCrawl)
		r.Post("/export-products", s.exportProducts)
		r.Post("/upload-all", s.uploadAll)
		r.Post("/upload-product/{index}", s.uploadProduct)
		r.Get("/upload-stats", s.uploadStats)
		r.Post("/upload-stats/reset", s.resetUploadStats)
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

func (s *Server) getData(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.crawler.Data())
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.crawler.Status(r.Context()))
}

type crawlResponse struct {
	Status     crawler.Outcome `json:"status"`
	Message    string          `json:"message"`
	IsCrawling bool            `json:"isCrawling"`
	Items      int             `json:"dataCount"`
}

func (s *Server) startCrawl(w http.ResponseWriter, _ *http.Request) {
	res := s.crawler.StartAsync(s.backgroundContext(), false)
	switch res.Outcome {
	case crawler.OutcomeBusy:
		s.writeJSON(w, http.StatusConflict, crawlResponse{Status: res.Outcome, Message: "crawl already running", IsCrawling: true, Items: res.Items})
	case crawler.OutcomeCompleted:
		s.writeJSON(w, http.StatusOK, crawlResponse{Status: res.Outcome, Message: "crawl already completed", Items: res.Items})
	default:
		s.writeJSON(w, http.StatusAccepted, crawlResponse{Status: res.Outcome, Message: "crawl started", IsCrawling: true})
	}
}

func (s *Server) forceCrawl(w http.ResponseWriter, _ *http.Request) {
	res := s.crawler.StartAsync(s.backgroundContext(), true)
	if res.Outcome == crawler.OutcomeBusy {
		s.writeJSON(w, http.StatusConflict, crawlResponse{Status: res.Outcome, Message: "crawl already running", IsCrawling: true, Items: res.Items})
		return
	}
	s.writeJSON(w, http.StatusAccepted, crawlResponse{Status: res.Outcome, Message: "forced re-crawl started", IsCrawling: true})
}

func (s *Server) exportProducts(w http.ResponseWriter, r *http.Request) {
	res, err := s.publisher.Export(r.Context())
	if err != nil {
		s.writePublishError(w, "export", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) uploadAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.publisher.UploadAll(r.Context())
	if err != nil {
		s.writePublishError(w, "upload", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) uploadProduct(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	out, err := s.publisher.UploadOne(r.Context(), index)
	if err != nil {
		if errors.Is(err, publish.ErrNoData) || errors.Is(err, publish.ErrInvalidIndex) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("upload product failed", zap.Int("index", index), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"result": out,
			"stats":  s.publisher.Stats(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"result": out,
		"stats":  s.publisher.Stats(),
	})
}

func (s *Server) uploadStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.publisher.Stats())
}

func (s *Server) resetUploadStats(w http.ResponseWriter, _ *http.Request) {
	s.publisher.ResetStats()
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "upload stats reset"})
}

func (s *Server) writePublishError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, publish.ErrNoData) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

// backgroundContext detaches crawls from the request; only baseCtx cancels them.
func (s *Server) backgroundContext() context.Context {
	return s.baseCtx
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	respondJSON(s.logger, w, status, payload)
}

func respondJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
