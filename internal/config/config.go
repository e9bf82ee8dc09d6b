/**
 * Configuration for the Keyword Underliner worker
 *
 * Loads configuration from environment variables. An optional YAML file
 * (CONFIG_FILE) supplies base values; environment variables win.
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// OCR engines
const (
	OCREngineTesseract = "tesseract"
	OCREngineRemote    = "remote"
)

// Queue backends
const (
	QueueBackendNone  = "none"
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Runtime environment: local, dev, docker, prod
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	// HTTP API
	HTTPPort        int `yaml:"http_port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`

	// Queue configuration
	QueueBackend      string `yaml:"queue_backend"`
	RedisURL          string `yaml:"redis_url"`
	QueueName         string `yaml:"queue_name"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`
	ProcessingTimeout int    `yaml:"processing_timeout_ms"`
	ResultTTLSec      int    `yaml:"result_ttl_sec"`

	// Image pipeline
	MaxImages      int   `yaml:"max_images"`
	MaxFileSize    int64 `yaml:"max_file_size"`
	MaxImagePixels int   `yaml:"max_image_pixels"`
	ImageWorkers   int   `yaml:"image_workers"`

	// OCR engine: tesseract (local) or remote (vision OCR service)
	OCREngine          string   `yaml:"ocr_engine"`
	TesseractLanguages []string `yaml:"tesseract_languages"`
	TesseractPSM       string   `yaml:"tesseract_psm"` // page segmentation mode, empty keeps the engine default
	OCRRemoteURL       string   `yaml:"ocr_remote_url"`
	OCRRemoteToken     string   `yaml:"ocr_remote_token"`
	OCRRemoteTimeout   int      `yaml:"ocr_remote_timeout_sec"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPPort = getEnvAsIntOrDefault("HTTP_PORT", cfg.HTTPPort)
	cfg.ReadTimeoutSec = getEnvAsIntOrDefault("HTTP_READ_TIMEOUT_SEC", cfg.ReadTimeoutSec)
	cfg.WriteTimeoutSec = getEnvAsIntOrDefault("HTTP_WRITE_TIMEOUT_SEC", cfg.WriteTimeoutSec)
	cfg.ShutdownSec = getEnvAsIntOrDefault("SHUTDOWN_TIMEOUT_SEC", cfg.ShutdownSec)
	cfg.QueueBackend = strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", cfg.QueueBackend))
	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.QueueName = getEnvOrDefault("QUEUE_NAME", cfg.QueueName)
	cfg.WorkerConcurrency = getEnvAsIntOrDefault("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.ProcessingTimeout = getEnvAsIntOrDefault("PROCESSING_TIMEOUT", cfg.ProcessingTimeout)
	cfg.ResultTTLSec = getEnvAsIntOrDefault("RESULT_TTL_SEC", cfg.ResultTTLSec)
	cfg.MaxImages = getEnvAsIntOrDefault("MAX_IMAGES", cfg.MaxImages)
	cfg.MaxFileSize = getEnvAsInt64OrDefault("MAX_FILE_SIZE", cfg.MaxFileSize)
	cfg.MaxImagePixels = getEnvAsIntOrDefault("MAX_IMAGE_PIXELS", cfg.MaxImagePixels)
	cfg.TesseractPSM = getEnvOrDefault("TESSERACT_PSM", cfg.TesseractPSM)
	cfg.ImageWorkers = getEnvAsIntOrDefault("IMAGE_WORKERS", cfg.ImageWorkers)
	cfg.OCREngine = strings.ToLower(getEnvOrDefault("OCR_ENGINE", cfg.OCREngine))
	cfg.OCRRemoteURL = getEnvOrDefault("OCR_REMOTE_URL", cfg.OCRRemoteURL)
	cfg.OCRRemoteToken = getEnvOrDefault("OCR_REMOTE_TOKEN", cfg.OCRRemoteToken)
	cfg.OCRRemoteTimeout = getEnvAsIntOrDefault("OCR_REMOTE_TIMEOUT_SEC", cfg.OCRRemoteTimeout)
	if langs := os.Getenv("TESSERACT_LANGUAGES"); langs != "" {
		cfg.TesseractLanguages = splitList(langs)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Env:                "local",
		HTTPPort:           8080,
		ReadTimeoutSec:     30,
		WriteTimeoutSec:    130,
		ShutdownSec:        10,
		QueueBackend:       QueueBackendNone,
		RedisURL:           "redis://localhost:6379",
		QueueName:          "underliner:jobs",
		WorkerConcurrency:  2,
		ProcessingTimeout:  120000, // 2 minutes
		ResultTTLSec:       900,    // 15 minutes
		MaxImages:          5,
		MaxFileSize:        20971520, // 20MB
		MaxImagePixels:     25000000, // 25 megapixels
		ImageWorkers:       1,
		OCREngine:          OCREngineTesseract,
		TesseractLanguages: []string{"eng"},
		OCRRemoteTimeout:   60,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.Env {
	case "local", "dev", "docker", "prod":
	default:
		return fmt.Errorf("ENV must be one of local, dev, docker, prod, got %q", c.Env)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort)
	}

	switch c.QueueBackend {
	case QueueBackendNone, "":
		c.QueueBackend = QueueBackendNone
	case QueueBackendRedis, QueueBackendAsynq:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for queue backend %s", c.QueueBackend)
		}
		if c.QueueName == "" {
			return fmt.Errorf("QUEUE_NAME is required for queue backend %s", c.QueueBackend)
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be one of none, redis, asynq, got %q", c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxImages < 1 || c.MaxImages > 5 {
		return fmt.Errorf("MAX_IMAGES must be between 1 and 5, got %d", c.MaxImages)
	}

	if c.ImageWorkers < 1 || c.ImageWorkers > c.MaxImages {
		return fmt.Errorf("IMAGE_WORKERS must be between 1 and MAX_IMAGES (%d), got %d", c.MaxImages, c.ImageWorkers)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 100MB, got %d", c.MaxFileSize)
	}

	if c.MaxImagePixels < 1 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if int64(c.WriteTimeoutSec)*1000 <= int64(c.ProcessingTimeout) {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT_SEC (%ds) must exceed PROCESSING_TIMEOUT (%dms)", c.WriteTimeoutSec, c.ProcessingTimeout)
	}

	if c.ResultTTLSec < 1 {
		return fmt.Errorf("RESULT_TTL_SEC must be positive, got %d", c.ResultTTLSec)
	}

	switch c.OCREngine {
	case OCREngineTesseract:
		if len(c.TesseractLanguages) == 0 {
			return fmt.Errorf("TESSERACT_LANGUAGES must name at least one language")
		}
		if c.TesseractPSM != "" {
			psm, err := strconv.Atoi(c.TesseractPSM)
			if err != nil || psm < 0 || psm > 13 {
				return fmt.Errorf("TESSERACT_PSM must be a page segmentation mode between 0 and 13, got %q", c.TesseractPSM)
			}
		}
	case OCREngineRemote:
		if c.OCRRemoteURL == "" {
			return fmt.Errorf("OCR_REMOTE_URL is required for the remote OCR engine")
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be tesseract or remote, got %q", c.OCREngine)
	}

	return nil
}

// TesseractVariables returns the Tesseract variables implied by the
// configuration, or nil when none are set.
func (c *Config) TesseractVariables() map[string]string {
	if c.TesseractPSM == "" {
		return nil
	}
	return map[string]string{"tessedit_pageseg_mode": c.TesseractPSM}
}

// loadFile merges a YAML file into c. ${VAR} references are expanded from
// the environment before parsing.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = expandEnvVars(data)

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
