/**
 * Underline Processor for the Keyword Underliner worker
 *
 * Orchestrates the two pipelines:
 * - Images: decode → detection-order buffer → preprocess → OCR → underline → PNG
 * - Text: case-insensitive keyword markup
 *
 * Every failure is reported per image; one bad upload never affects the
 * rest of the batch or the text pipeline.
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/keyword-underliner/internal/annotate"
	apperrors "github.com/adverant/nexus/keyword-underliner/internal/errors"
	"github.com/adverant/nexus/keyword-underliner/internal/imaging"
	"github.com/adverant/nexus/keyword-underliner/internal/keywords"
	"github.com/adverant/nexus/keyword-underliner/internal/logging"
	"github.com/adverant/nexus/keyword-underliner/internal/metrics"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr"
)

// DefaultMaxImages is the largest batch processed per request.
const DefaultMaxImages = 5

// User-visible status messages
const (
	MessageUnderlined     = "Underlined version shown"
	MessageNotFound       = "Keyword(s) not found in image."
	MessageTextUnderlined = "Underlined keyword(s) in text!"
)

// ImageStatus is the outcome of one image
type ImageStatus string

const (
	StatusUnderlined ImageStatus = metrics.StatusUnderlined
	StatusNotFound   ImageStatus = metrics.StatusNotFound
	StatusError      ImageStatus = metrics.StatusError
)

// UnderlineProcessor is implemented by Processor; transports depend on it.
type UnderlineProcessor interface {
	ProcessImages(ctx context.Context, req *ImageRequest) (*ImageBatchResult, error)
	ProcessText(ctx context.Context, req *TextRequest) (*TextResult, error)
	EngineName() string
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine       ocr.Engine
	MaxImages    int   // defaults to DefaultMaxImages
	MaxFileSize  int64 // 0 disables the check
	MaxPixels    int   // width*height limit read from the header; 0 disables the check
	ImageWorkers int   // <= 1 processes images sequentially
	Logger       *logging.Logger
}

// ImageInput is one uploaded image
type ImageInput struct {
	Name string
	Data []byte
}

// ImageRequest represents an image underline request
type ImageRequest struct {
	JobID    string
	Images   []ImageInput
	Keywords string // raw comma-separated keyword field
	Debug    bool   // include raw OCR token texts in results
}

// ImageResult is the outcome for the image at Index of the upload
type ImageResult struct {
	Index     int                  `json:"index"`
	Name      string               `json:"name,omitempty"`
	Status    ImageStatus          `json:"status"`
	Message   string               `json:"message"`
	Matched   bool                 `json:"matched"`
	Marks     []annotate.MatchMark `json:"marks,omitempty"`
	Width     int                  `json:"width,omitempty"`
	Height    int                  `json:"height,omitempty"`
	Format    string               `json:"format,omitempty"`
	Image     []byte               `json:"image,omitempty"` // annotated PNG
	Tokens    []string             `json:"tokens,omitempty"`
	ErrorCode string               `json:"error_code,omitempty"`

	Err *apperrors.ProcessingError `json:"-"`
}

// ImageBatchResult represents the processing result of one upload batch
type ImageBatchResult struct {
	JobID            string        `json:"job_id"`
	Keywords         []string      `json:"keywords"`
	Results          []ImageResult `json:"results"`
	Skipped          bool          `json:"skipped"`
	Truncated        int           `json:"truncated,omitempty"` // uploads dropped past MaxImages
	ProcessingTimeMs int64         `json:"processing_time_ms"`
}

// MatchedCount returns how many images had at least one underline
func (b *ImageBatchResult) MatchedCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Matched {
			n++
		}
	}
	return n
}

// TextRequest represents a text markup request
type TextRequest struct {
	JobID    string
	Text     string
	Keywords string
}

// TextResult represents the markup of one text
type TextResult struct {
	JobID    string              `json:"job_id"`
	Keywords []string            `json:"keywords"`
	Skipped  bool                `json:"skipped"`
	Markup   string              `json:"markup,omitempty"`
	Message  string              `json:"message,omitempty"`
	Spans    []annotate.TextSpan `json:"spans,omitempty"`
}

// Processor runs the underline pipelines
type Processor struct {
	engine       ocr.Engine
	preprocessor *imaging.Preprocessor
	maxImages    int
	maxFileSize  int64
	maxPixels    int
	imageWorkers int
	logger       *logging.Logger
}

var _ UnderlineProcessor = (*Processor)(nil)

// NewProcessor creates a new processor
func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}

	maxImages := cfg.MaxImages
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	workers := cfg.ImageWorkers
	if workers < 1 {
		workers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("processor")
	}

	return &Processor{
		engine:       cfg.Engine,
		preprocessor: imaging.NewPreprocessor(),
		maxImages:    maxImages,
		maxFileSize:  cfg.MaxFileSize,
		maxPixels:    cfg.MaxPixels,
		imageWorkers: workers,
		logger:       logger,
	}, nil
}

// EngineName returns the configured OCR engine name
func (p *Processor) EngineName() string {
	return p.engine.Name()
}

// ProcessImages underlines keyword matches in every image of the request.
// Results are returned in upload order.
func (p *Processor) ProcessImages(ctx context.Context, req *ImageRequest) (*ImageBatchResult, error) {
	if req == nil {
		return nil, apperrors.NewInvalidRequestError("", "image request is required")
	}

	start := time.Now()
	kw := keywords.Parse(req.Keywords)
	batch := &ImageBatchResult{
		JobID:    req.JobID,
		Keywords: kw.Strings(),
	}

	if len(req.Images) == 0 || kw.Empty() {
		batch.Skipped = true
		p.logger.Debug("Image pipeline skipped", "job_id", req.JobID,
			"images", len(req.Images), "keywords", kw.Len())
		return batch, nil
	}

	images := req.Images
	if len(images) > p.maxImages {
		batch.Truncated = len(images) - p.maxImages
		images = images[:p.maxImages]
		p.logger.Warn("Upload truncated", "job_id", req.JobID,
			"received", len(req.Images), "kept", p.maxImages)
	}

	p.logger.Info("Processing images", "job_id", req.JobID,
		"images", len(images), "keywords", kw.Strings(), "workers", p.imageWorkers)

	batch.Results = make([]ImageResult, len(images))
	if p.imageWorkers > 1 && len(images) > 1 {
		p.processParallel(ctx, req, images, kw, batch.Results)
	} else {
		for i, in := range images {
			batch.Results[i] = p.processOne(ctx, req, i, in, kw)
		}
	}

	batch.ProcessingTimeMs = time.Since(start).Milliseconds()
	p.logger.Info("Images processed", "job_id", req.JobID,
		"matched", batch.MatchedCount(), "images", len(images), "duration_ms", batch.ProcessingTimeMs)

	return batch, nil
}

// processParallel fans the batch out over imageWorkers goroutines. Each
// goroutine writes only its own slot of results.
func (p *Processor) processParallel(ctx context.Context, req *ImageRequest, images []ImageInput, kw keywords.Set, results []ImageResult) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := p.imageWorkers
	if workers > len(images) {
		workers = len(images)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.processOne(ctx, req, i, images[i], kw)
			}
		}()
	}

	for i := range images {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// processOne runs the full pipeline for a single image
func (p *Processor) processOne(ctx context.Context, req *ImageRequest, index int, in ImageInput, kw keywords.Set) ImageResult {
	res := ImageResult{Index: index, Name: in.Name}

	if err := ctx.Err(); err != nil {
		return p.fail(res, apperrors.NewImageTimeoutError(req.JobID, index, err))
	}

	if p.maxFileSize > 0 && int64(len(in.Data)) > p.maxFileSize {
		return p.fail(res, apperrors.NewFileTooLargeError(req.JobID, index, in.Name, int64(len(in.Data)), p.maxFileSize))
	}

	// Step 1: Decode and move into detection channel order. This buffer is
	// the one token boxes are valid for and the one marks are drawn on.
	decoded, format, err := imaging.Decode(in.Data, p.maxPixels)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedFormat) {
			return p.fail(res, apperrors.NewUnsupportedFormatError(req.JobID, index, in.Name))
		}
		var tooMany *imaging.TooManyPixelsError
		if errors.As(err, &tooMany) {
			res.Format = format
			return p.fail(res, apperrors.NewImageDimensionsError(req.JobID, index, in.Name,
				tooMany.Width, tooMany.Height, tooMany.MaxPixels))
		}
		return p.fail(res, apperrors.NewDecodeFailedError(req.JobID, index, in.Name, err))
	}
	original := decoded.Reorder(imaging.OCROrder)
	res.Format = format
	res.Width, res.Height = original.Width, original.Height

	// Step 2: Enhance for OCR
	enhanced, err := p.preprocessor.Process(ctx, original)
	if err != nil {
		return p.fail(res, apperrors.NewImageTimeoutError(req.JobID, index, err))
	}

	// Step 3: OCR on the enhanced buffer
	ocrResult, err := ocr.Recognize(ctx, p.engine, enhanced)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return p.fail(res, apperrors.NewImageTimeoutError(req.JobID, index, ctxErr))
		}
		return p.fail(res, apperrors.NewOCRFailedError(req.JobID, index, p.engine.Name(), err))
	}
	metrics.ObserveOCR(ocrResult.Engine, ocrResult.Duration)
	if req.Debug {
		res.Tokens = ocrResult.Texts()
	}

	// Step 4: Underline matches on the unenhanced buffer
	ann := annotate.Image(original, ocrResult.Tokens, kw)

	// Step 5: Encode for display
	encoded, err := imaging.EncodePNG(ann.Image)
	if err != nil {
		return p.fail(res, apperrors.NewEncodeFailedError(req.JobID, index, err))
	}

	res.Image = encoded
	res.Marks = ann.Marks
	res.Matched = ann.Matched
	if ann.Matched {
		res.Status = StatusUnderlined
		res.Message = MessageUnderlined
	} else {
		res.Status = StatusNotFound
		res.Message = MessageNotFound
	}

	metrics.ObserveImage(string(res.Status), len(ann.Marks))
	p.logger.Debug("Image processed", "job_id", req.JobID, "index", index,
		"tokens", len(ocrResult.Tokens), "marks", len(ann.Marks), "ocr_ms", ocrResult.Duration.Milliseconds())

	return res
}

func (p *Processor) fail(res ImageResult, perr *apperrors.ProcessingError) ImageResult {
	res.Status = StatusError
	res.Message = perr.Message
	res.ErrorCode = string(perr.Code)
	res.Err = perr
	metrics.ObserveImage(metrics.StatusError, 0)
	p.logger.Warn("Image failed", "job_id", perr.JobID, "index", res.Index, "error", perr.Error())
	return res
}

// ProcessText underlines keyword occurrences in text
func (p *Processor) ProcessText(ctx context.Context, req *TextRequest) (*TextResult, error) {
	if req == nil {
		return nil, apperrors.NewInvalidRequestError("", "text request is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTextTimeoutError(req.JobID, err)
	}

	kw := keywords.Parse(req.Keywords)
	result := &TextResult{
		JobID:    req.JobID,
		Keywords: kw.Strings(),
	}

	if req.Text == "" || kw.Empty() {
		result.Skipped = true
		metrics.ObserveText(metrics.StatusSkipped)
		return result, nil
	}

	result.Markup = annotate.Text(req.Text, kw)
	result.Spans = annotate.TextSpans(req.Text, kw)
	result.Message = MessageTextUnderlined
	metrics.ObserveText(metrics.StatusUnderlined)

	p.logger.Debug("Text processed", "job_id", req.JobID, "matches", len(result.Spans))
	return result, nil
}
