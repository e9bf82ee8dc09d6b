package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/adverant/nexus/keyword-underliner/internal/errors"
	"github.com/adverant/nexus/keyword-underliner/internal/logging"
	"github.com/adverant/nexus/keyword-underliner/internal/metrics"
	"github.com/adverant/nexus/keyword-underliner/internal/processor"
)

const (
	formImages   = "images"
	formKeywords = "keywords"
	formDebug    = "debug"

	multipartMemory = 32 << 20
	maxTextBytes    = 1 << 20

	defaultProcessingTimeout = 120 * time.Second
	queueStatsTimeout        = 2 * time.Second
)

// QueueStatsFunc reports counters of the running queue consumer.
type QueueStatsFunc func(ctx context.Context) (map[string]int64, error)

// Options tune request limits.
type Options struct {
	MaxImages         int
	MaxFileSize       int64
	ProcessingTimeout time.Duration // deadline for one request's pipeline work
	QueueStats        QueueStatsFunc // optional, reported by /health
}

// Server exposes the underline pipelines over HTTP.
type Server struct {
	processor processor.UnderlineProcessor
	logger    *zap.Logger
	opts      Options
}

// NewServer creates an HTTP API server.
func NewServer(proc processor.UnderlineProcessor, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = processor.DefaultMaxImages
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 20 << 20
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = defaultProcessingTimeout
	}
	return &Server{processor: proc, logger: logger, opts: opts}
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/health", s.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Post("/images", s.UnderlineImages)
		r.Post("/text", s.UnderlineText)
	})
	return r
}

// Health handles GET /health. Queue counters are included when a consumer
// is running; a failing stats lookup does not fail the probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"engine": s.processor.EngineName(),
	}
	if s.opts.QueueStats != nil {
		ctx, cancel := context.WithTimeout(r.Context(), queueStatsTimeout)
		defer cancel()
		stats, err := s.opts.QueueStats(ctx)
		if err != nil {
			logging.FromContext(r.Context()).Warn("queue stats unavailable", zap.Error(err))
			resp["queue_error"] = err.Error()
		} else {
			resp["queue"] = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// imageResponse is one image of an /api/images response.
type imageResponse struct {
	processor.ImageResult
	Image string `json:"image,omitempty"`
}

type imagesResponse struct {
	JobID            string          `json:"job_id"`
	Keywords         []string        `json:"keywords"`
	Skipped          bool            `json:"skipped"`
	Truncated        int             `json:"truncated,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Results          []imageResponse `json:"results"`
}

// UnderlineImages handles POST /api/images.
func (s *Server) UnderlineImages(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	jobID := uuid.New().String()

	// Every allowed upload may be full size; extra files are dropped later.
	limit := int64(s.opts.MaxImages+1)*s.opts.MaxFileSize + multipartMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeRequestError(w, jobID, "invalid multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	debug := false
	if v := r.FormValue(formDebug); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeRequestError(w, jobID, fmt.Sprintf("invalid debug flag %q", v))
			return
		}
		debug = parsed
	}

	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File[formImages]
	}
	images, err := readUploads(files, s.opts.MaxImages)
	if err != nil {
		logger.Error("failed to read uploads", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusBadRequest, string(apperrors.ErrorInvalidRequest), err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ProcessingTimeout)
	defer cancel()

	batch, err := s.processor.ProcessImages(ctx, &processor.ImageRequest{
		JobID:    jobID,
		Images:   images,
		Keywords: r.FormValue(formKeywords),
		Debug:    debug,
	})
	if err != nil {
		s.handleProcessingError(w, err)
		return
	}
	if !batch.Skipped {
		batch.Truncated += len(files) - len(images)
	}

	resp := imagesResponse{
		JobID:            batch.JobID,
		Keywords:         batch.Keywords,
		Skipped:          batch.Skipped,
		Truncated:        batch.Truncated,
		ProcessingTimeMs: batch.ProcessingTimeMs,
		Results:          make([]imageResponse, len(batch.Results)),
	}
	for i, res := range batch.Results {
		item := imageResponse{ImageResult: res}
		if len(res.Image) > 0 {
			item.Image = "data:image/png;base64," + base64.StdEncoding.EncodeToString(res.Image)
		}
		item.ImageResult.Image = nil
		resp.Results[i] = item
	}

	writeJSON(w, http.StatusOK, resp)
}

// readUploads reads at most limit files in upload order.
func readUploads(files []*multipart.FileHeader, limit int) ([]processor.ImageInput, error) {
	if len(files) > limit {
		files = files[:limit]
	}
	images := make([]processor.ImageInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		images = append(images, processor.ImageInput{Name: fh.Filename, Data: data})
	}
	return images, nil
}

type textRequest struct {
	Text     string `json:"text"`
	Keywords string `json:"keywords"`
}

// UnderlineText handles POST /api/text.
func (s *Server) UnderlineText(w http.ResponseWriter, r *http.Request) {
	jobID := uuid.New().String()

	var req textRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBytes)).Decode(&req); err != nil {
		s.writeRequestError(w, jobID, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ProcessingTimeout)
	defer cancel()

	res, err := s.processor.ProcessText(ctx, &processor.TextRequest{
		JobID:    jobID,
		Text:     req.Text,
		Keywords: req.Keywords,
	})
	if err != nil {
		s.handleProcessingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeRequestError(w http.ResponseWriter, jobID, reason string) {
	perr := apperrors.NewInvalidRequestError(jobID, reason)
	writeError(w, http.StatusBadRequest, string(perr.Code), perr.Message)
}

// handleProcessingError maps pipeline errors to HTTP statuses.
func (s *Server) handleProcessingError(w http.ResponseWriter, err error) {
	var perr *apperrors.ProcessingError
	if errors.As(err, &perr) {
		switch perr.Code {
		case apperrors.ErrorInvalidRequest:
			writeError(w, http.StatusBadRequest, string(perr.Code), perr.Message)
		case apperrors.ErrorProcessingTimeout:
			writeError(w, http.StatusGatewayTimeout, string(perr.Code), perr.Message)
		default:
			writeError(w, http.StatusInternalServerError, string(perr.Code), perr.Message)
		}
		return
	}
	s.logger.Error("unexpected processing error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Error: message})
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logging.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
