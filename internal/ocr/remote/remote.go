/**
 * Remote OCR engine - word-level recognition over HTTP
 *
 * Delegates recognition to a vision OCR service. The service receives the
 * preprocessed image as base64 PNG and answers with word boxes in pixel
 * coordinates of that image.
 */

package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
	"github.com/adverant/nexus/keyword-underliner/internal/logging"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr"
)

const (
	wordsPath  = "/api/internal/vision/words"
	healthPath = "/api/health"
	sourceName = "keyword-underliner"
)

// Config holds remote engine configuration
type Config struct {
	BaseURL  string
	Token    string // sent as X-Internal-Token when set
	Language string
	Timeout  time.Duration
	Logger   *logging.Logger
}

// Engine implements ocr.Engine against a vision OCR service
type Engine struct {
	baseURL    string
	token      string
	language   string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ ocr.Engine = (*Engine)(nil)

// WordsRequest represents a request to recognize words in an image
type WordsRequest struct {
	Image       string `json:"image"`       // Base64 encoded PNG
	Format      string `json:"format"`      // always "base64"
	Granularity string `json:"granularity"` // always "word"
	Language    string `json:"language,omitempty"`
}

// WordsResponse represents the response from the words endpoint
type WordsResponse struct {
	Success bool      `json:"success"`
	Data    WordsData `json:"data"`
	Message string    `json:"message"`
}

// WordsData contains the recognized words and metadata
type WordsData struct {
	Words          []Word `json:"words"`
	ModelUsed      string `json:"modelUsed"`
	ProcessingTime int64  `json:"processingTime"` // milliseconds
}

// Word is one recognized word
type Word struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"` // 0-1
	BoundingBox BoundingBox `json:"boundingBox"`
}

// BoundingBox represents the position of a word (client-specific type)
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewEngine creates a new remote OCR engine
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote OCR base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("RemoteOCR")
	}
	return &Engine{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		language: cfg.Language,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

func (e *Engine) Name() string { return "remote" }

// Recognize sends img to the service and maps its words to tokens
func (e *Engine) Recognize(ctx context.Context, img *imaging.Raster) ([]ocr.Token, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for remote OCR: %w", err)
	}

	reqBody, err := json.Marshal(&WordsRequest{
		Image:       base64.StdEncoding.EncodeToString(data),
		Format:      "base64",
		Granularity: "word",
		Language:    e.language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+wordsPath, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	e.setHeaders(httpReq)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to OCR service failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("OCR service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var wordsResp WordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&wordsResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !wordsResp.Success {
		return nil, fmt.Errorf("OCR service operation failed: %s", wordsResp.Message)
	}

	e.logger.Debug("Remote OCR complete",
		"modelUsed", wordsResp.Data.ModelUsed,
		"words", len(wordsResp.Data.Words),
		"processingTime", wordsResp.Data.ProcessingTime)

	tokens := make([]ocr.Token, 0, len(wordsResp.Data.Words))
	for _, w := range wordsResp.Data.Words {
		tokens = append(tokens, ocr.Token{
			Text:       w.Text,
			Confidence: w.Confidence,
			BoundingBox: ocr.BoundingBox{
				X:      w.BoundingBox.X,
				Y:      w.BoundingBox.Y,
				Width:  w.BoundingBox.Width,
				Height: w.BoundingBox.Height,
			},
		})
	}
	return tokens, nil
}

// HealthCheck verifies the OCR service is available
func (e *Engine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (e *Engine) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", sourceName)
	req.Header.Set("X-Request-ID", "ocr-"+uuid.New().String())
	if e.token != "" {
		req.Header.Set("X-Internal-Token", e.token)
	}
}
