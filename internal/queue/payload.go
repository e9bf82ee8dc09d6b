package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/keyword-underliner/internal/errors"
	"github.com/adverant/nexus/keyword-underliner/internal/processor"
)

// Job types, shared by the Redis list worker and asynq task names
const (
	TypeUnderlineImages = "underline:images"
	TypeUnderlineText   = "underline:text"
)

// Job outcomes, used for events and metrics
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const defaultProcessingTimeout = 120 * time.Second

// JobPayload contains the actual job data
type JobPayload struct {
	JobID    string         `json:"jobId"`
	Keywords string         `json:"keywords"`
	Images   []ImagePayload `json:"images,omitempty"`
	Text     string         `json:"text,omitempty"`
	Debug    bool           `json:"debug,omitempty"`
}

// ImagePayload is one uploaded image inside a job
type ImagePayload struct {
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data"` // set by custom UnmarshalJSON
}

// UnmarshalJSON implements custom JSON unmarshaling for ImagePayload to handle Buffer serialization
// Supports both base64 string format and Node.js Buffer object format
func (p *ImagePayload) UnmarshalJSON(data []byte) error {
	// Create alias type to avoid recursion
	type Alias ImagePayload
	aux := &struct {
		Data interface{} `json:"data,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal ImagePayload: %w", err)
	}

	decoded, err := decodeBuffer(aux.Data)
	if err != nil {
		return err
	}
	p.Data = decoded
	return nil
}

// decodeBuffer handles the data field with multiple format support
func decodeBuffer(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil

	case string:
		decoded, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 image data: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		// Node.js Buffer object: {"type":"Buffer","data":[...]}
		bufferType, ok := b["type"].(string)
		if !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := b["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("buffer object missing 'data' array")
		}
		out := make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			out[i] = byte(byteVal)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("image data must be either base64 string or Buffer object, got %T", v)
	}
}

// imageRequest converts the payload to the processor format
func (p *JobPayload) imageRequest() *processor.ImageRequest {
	images := make([]processor.ImageInput, len(p.Images))
	for i, img := range p.Images {
		images[i] = processor.ImageInput{Name: img.Filename, Data: img.Data}
	}
	return &processor.ImageRequest{
		JobID:    p.JobID,
		Images:   images,
		Keywords: p.Keywords,
		Debug:    p.Debug,
	}
}

func (p *JobPayload) textRequest() *processor.TextRequest {
	return &processor.TextRequest{
		JobID:    p.JobID,
		Text:     p.Text,
		Keywords: p.Keywords,
	}
}

// runJob dispatches a job to the matching pipeline under a processing
// timeout. A deadline hit is reported as a PROCESSING_TIMEOUT error.
func runJob(ctx context.Context, proc processor.UnderlineProcessor, jobType string, payload *JobPayload, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		result interface{}
		err    error
	)
	switch jobType {
	case TypeUnderlineImages:
		result, err = proc.ProcessImages(processCtx, payload.imageRequest())
	case TypeUnderlineText:
		result, err = proc.ProcessText(processCtx, payload.textRequest())
	default:
		return nil, apperrors.NewInvalidRequestError(payload.JobID, fmt.Sprintf("unknown job type %q", jobType))
	}

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewProcessingTimeoutError(payload.JobID, timeout, err)
		}
		return nil, err
	}
	return result, nil
}

// errorResult builds the stored result of a failed job
func errorResult(jobID string, err error) map[string]interface{} {
	var perr *apperrors.ProcessingError
	if errors.As(err, &perr) {
		m := perr.ToMap()
		m["job_id"] = jobID
		return m
	}
	return map[string]interface{}{
		"job_id":     jobID,
		"error_code": "INTERNAL",
		"message":    err.Error(),
	}
}
