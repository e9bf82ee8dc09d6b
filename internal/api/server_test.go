package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr"
	"github.com/adverant/nexus/keyword-underliner/internal/processor"
)

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) Recognize(ctx context.Context, img *imaging.Raster) ([]ocr.Token, error) {
	return []ocr.Token{
		{Text: "Invoice", BoundingBox: ocr.BoundingBox{X: 1, Y: 1, Width: 8, Height: 4}},
		{Text: "2026", BoundingBox: ocr.BoundingBox{X: 10, Y: 1, Width: 6, Height: 4}},
	}, nil
}

type panicProcessor struct{ processor.UnderlineProcessor }

func (panicProcessor) ProcessText(context.Context, *processor.TextRequest) (*processor.TextResult, error) {
	panic("boom")
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	proc, err := processor.NewProcessor(&processor.ProcessorConfig{Engine: stubEngine{}})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	return NewServer(proc, nil, Options{}).Router()
}

func fixturePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, files [][]byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, data := range files {
		fw, err := mw.CreateFormFile(formImages, "scan"+string(rune('a'+i))+".png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write(data)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"engine":"stub"`) || strings.Contains(rr.Body.String(), "queue") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "underliner_") {
		t.Fatalf("expected underliner metrics, got %d", rr.Code)
	}
}

func TestUnderlineImages(t *testing.T) {
	fixture := fixturePNG(t)
	req := multipartRequest(t, [][]byte{fixture, []byte("not an image")}, map[string]string{
		formKeywords: "invoice",
		formDebug:    "true",
	})
	rr := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp imagesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || len(resp.Results) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	first := resp.Results[0]
	if !first.Matched || first.Status != processor.StatusUnderlined || first.Name != "scana.png" {
		t.Fatalf("unexpected first result %+v", first.ImageResult)
	}
	if !strings.HasPrefix(first.Image, "data:image/png;base64,") {
		t.Fatalf("expected data URI, got %.40q", first.Image)
	}
	if len(first.Tokens) != 2 {
		t.Fatalf("expected debug tokens, got %v", first.Tokens)
	}
	second := resp.Results[1]
	if second.Status != processor.StatusError || second.ErrorCode != "UNSUPPORTED_FORMAT" || second.Image != "" {
		t.Fatalf("unexpected second result %+v", second.ImageResult)
	}
}

func TestUnderlineImagesTruncatesUploads(t *testing.T) {
	fixture := fixturePNG(t)
	files := [][]byte{fixture, fixture, fixture, fixture, fixture, fixture, fixture}
	rr := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(rr, multipartRequest(t, files, map[string]string{formKeywords: "2026"}))

	var resp imagesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 5 || resp.Truncated != 2 {
		t.Fatalf("expected 5 results and 2 truncated, got %d and %d", len(resp.Results), resp.Truncated)
	}
}

func TestUnderlineImagesSkippedWithoutKeywords(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(rr, multipartRequest(t, [][]byte{fixturePNG(t)}, nil))

	var resp imagesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Skipped || len(resp.Results) != 0 {
		t.Fatalf("expected skipped response, got %+v", resp)
	}
}

func TestUnderlineImagesSkippedDoesNotReportTruncation(t *testing.T) {
	fixture := fixturePNG(t)
	files := [][]byte{fixture, fixture, fixture, fixture, fixture, fixture, fixture}
	rr := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(rr, multipartRequest(t, files, map[string]string{formKeywords: " , "}))

	var resp imagesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Skipped || resp.Truncated != 0 {
		t.Fatalf("expected skipped response without truncation, got skipped=%v truncated=%d", resp.Skipped, resp.Truncated)
	}
}

// deadlineProcessor records the deadline handlers give the pipelines.
type deadlineProcessor struct {
	processor.UnderlineProcessor
	deadlines chan time.Time
}

func (d deadlineProcessor) ProcessImages(ctx context.Context, req *processor.ImageRequest) (*processor.ImageBatchResult, error) {
	dl, _ := ctx.Deadline()
	d.deadlines <- dl
	return &processor.ImageBatchResult{JobID: req.JobID, Skipped: true}, nil
}

func (d deadlineProcessor) ProcessText(ctx context.Context, req *processor.TextRequest) (*processor.TextResult, error) {
	dl, _ := ctx.Deadline()
	d.deadlines <- dl
	return &processor.TextResult{JobID: req.JobID, Skipped: true}, nil
}

func TestHandlersApplyProcessingTimeout(t *testing.T) {
	proc := deadlineProcessor{deadlines: make(chan time.Time, 2)}
	srv := NewServer(proc, nil, Options{ProcessingTimeout: 3 * time.Second}).Router()

	start := time.Now()
	srv.ServeHTTP(httptest.NewRecorder(), multipartRequest(t, [][]byte{fixturePNG(t)}, map[string]string{formKeywords: "x"}))
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/text", strings.NewReader(`{"text":"a","keywords":"a"}`)))

	for _, handler := range []string{"images", "text"} {
		select {
		case dl := <-proc.deadlines:
			if dl.IsZero() || dl.Before(start) || dl.After(start.Add(4*time.Second)) {
				t.Fatalf("%s: unexpected deadline %v", handler, dl)
			}
		default:
			t.Fatalf("%s: processor not called", handler)
		}
	}
}

func TestHealthReportsQueueStats(t *testing.T) {
	proc, err := processor.NewProcessor(&processor.ProcessorConfig{Engine: stubEngine{}})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	testCases := []struct {
		name  string
		stats QueueStatsFunc
		want  string
	}{
		{
			name: "stats",
			stats: func(context.Context) (map[string]int64, error) {
				return map[string]int64{"waiting": 3, "processing": 1}, nil
			},
			want: `"queue":{"processing":1,"waiting":3}`,
		},
		{
			name: "stats error",
			stats: func(context.Context) (map[string]int64, error) {
				return nil, errors.New("redis down")
			},
			want: `"queue_error":"redis down"`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(proc, nil, Options{QueueStats: tc.stats}).Router()
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

			if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), tc.want) {
				t.Fatalf("expected 200 with %s, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestUnderlineImagesBadRequests(t *testing.T) {
	srv := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/images", strings.NewReader("plain")))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "INVALID_REQUEST") {
		t.Fatalf("expected 400 for non-multipart body, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, multipartRequest(t, nil, map[string]string{formDebug: "maybe", formKeywords: "x"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad debug flag, got %d", rr.Code)
	}
}

func TestUnderlineText(t *testing.T) {
	srv := newTestServer(t)

	body := strings.NewReader(`{"text": "The Cat sat", "keywords": "cat"}`)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/text", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var res processor.TextResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Markup != "The <u style='color:#FF4B4B'>Cat</u> sat" || res.Message != processor.MessageTextUnderlined {
		t.Fatalf("unexpected result %+v", res)
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/text", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rr.Code)
	}
}

func TestRecoverer(t *testing.T) {
	srv := NewServer(panicProcessor{}, nil, Options{}).Router()
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/text", strings.NewReader(`{"text":"a","keywords":"a"}`)))

	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), "internal error") {
		t.Fatalf("expected JSON 500, got %d: %s", rr.Code, rr.Body.String())
	}
}
