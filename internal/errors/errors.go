package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the Keyword Underliner worker
 *
 * Every failure is local to one image or one text request and is
 * reported back to the caller as a structured error, never raised
 * past the pipeline.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Image errors
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorEncodeFailed      ErrorCode = "ENCODE_FAILED"

	// Request errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorInvalidRequest    ErrorCode = "INVALID_REQUEST"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewDecodeFailedError(jobID string, index int, filename string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDecodeFailed,
		Message:   fmt.Sprintf("Could not read image %d", index+1),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index": index,
			"filename":    filename,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, index int, filename string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported image format for %s", displayName(filename, index)),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index": index,
			"filename":    filename,
		},
	}
}

func NewFileTooLargeError(jobID string, index int, filename string, size, limit int64) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFileTooLarge,
		Message:   fmt.Sprintf("Image %s is %d bytes, limit is %d", displayName(filename, index), size, limit),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index": index,
			"filename":    filename,
			"size":        size,
			"limit":       limit,
		},
	}
}

// NewImageDimensionsError rejects an image whose header declares more pixels
// than allowed. It shares FILE_TOO_LARGE with the byte-size check.
func NewImageDimensionsError(jobID string, index int, filename string, width, height, maxPixels int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFileTooLarge,
		Message:   fmt.Sprintf("Image %s is %dx%d pixels, limit is %d pixels", displayName(filename, index), width, height, maxPixels),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index": index,
			"filename":    filename,
			"width":       width,
			"height":      height,
			"max_pixels":  maxPixels,
		},
	}
}

func NewOCRFailedError(jobID string, index int, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed for image %d", index+1),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index": index,
			"ocr_engine":  engine,
		},
		Cause: cause,
	}
}

func NewEncodeFailedError(jobID string, index int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEncodeFailed,
		Message:   fmt.Sprintf("Failed to encode annotated image %d", index+1),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index": index,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

// NewImageTimeoutError reports an image that was not finished because its
// context expired or was canceled.
func NewImageTimeoutError(jobID string, index int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing of image %d %s", index+1, stopReason(cause)),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index": index,
		},
		Cause: cause,
	}
}

// NewTextTimeoutError reports a text request whose context was already done.
func NewTextTimeoutError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   "Processing of the text " + stopReason(cause),
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func stopReason(cause error) string {
	if stderrors.Is(cause, context.DeadlineExceeded) {
		return "timed out"
	}
	return "was canceled"
}

func NewInvalidRequestError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidRequest,
		Message:   reason,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

// ToMap converts error to map for status reporting
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

func displayName(filename string, index int) string {
	if filename != "" {
		return filename
	}
	return fmt.Sprintf("image %d", index+1)
}
