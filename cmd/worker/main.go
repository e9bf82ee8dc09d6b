/**
 * Keyword Underliner Worker - Main Entry Point
 *
 * Highlights user keywords in uploaded images and pasted text.
 *
 * Architecture:
 * - HTTP API (chi) for image and text underline requests
 * - Optional Redis LIST or asynq consumer for queued jobs
 * - Image pipeline: decode → preprocess → Tesseract OCR → underline → PNG
 * - Prometheus metrics and structured zap logging
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/adverant/nexus/keyword-underliner/internal/api"
	"github.com/adverant/nexus/keyword-underliner/internal/config"
	"github.com/adverant/nexus/keyword-underliner/internal/logging"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr/remote"
	"github.com/adverant/nexus/keyword-underliner/internal/ocr/tesseract"
	"github.com/adverant/nexus/keyword-underliner/internal/processor"
	"github.com/adverant/nexus/keyword-underliner/internal/queue"
)

// runningConsumer is a started queue consumer
type runningConsumer interface {
	Stop(ctx context.Context) error
	GetStats(ctx context.Context) (map[string]int64, error)
}

type redisRunning struct{ *queue.RedisConsumer }

func (r redisRunning) Stop(context.Context) error { return r.RedisConsumer.Stop() }

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logging.NewZap(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	logger := logging.FromZap(zl, "worker")
	logger.Info("Keyword Underliner worker starting",
		"env", cfg.Env, "queue_backend", cfg.QueueBackend,
		"ocr_engine", cfg.OCREngine, "image_workers", cfg.ImageWorkers)

	engine, err := buildEngine(cfg, zl)
	if err != nil {
		logger.Error("Failed to initialize OCR engine", "error", err)
		os.Exit(1)
	}

	// Initialize processor
	proc, err := processor.NewProcessor(&processor.ProcessorConfig{
		Engine:       engine,
		MaxImages:    cfg.MaxImages,
		MaxFileSize:  cfg.MaxFileSize,
		MaxPixels:    cfg.MaxImagePixels,
		ImageWorkers: cfg.ImageWorkers,
		Logger:       logging.FromZap(zl, "processor"),
	})
	if err != nil {
		logger.Error("Failed to initialize processor", "error", err)
		os.Exit(1)
	}

	// Initialize queue consumer
	consumer, err := startConsumer(cfg, proc, zl)
	if err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	// HTTP API
	apiOpts := api.Options{
		MaxImages:         cfg.MaxImages,
		MaxFileSize:       cfg.MaxFileSize,
		ProcessingTimeout: time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
	}
	if consumer != nil {
		apiOpts.QueueStats = consumer.GetStats
	}
	server := api.NewServer(proc, zl.With(zap.String("component", "api")), apiOpts)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP shutdown", "error", err)
	}

	if consumer != nil {
		if err := consumer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping queue consumer", "error", err)
		}
	}

	logger.Info("Shutdown complete")
}

// buildEngine creates the configured OCR engine
func buildEngine(cfg *config.Config, zl *zap.Logger) (ocr.Engine, error) {
	if cfg.OCREngine != config.OCREngineRemote {
		return tesseract.NewEngine(&tesseract.Config{
			Languages: cfg.TesseractLanguages,
			Variables: cfg.TesseractVariables(),
		}), nil
	}

	engine, err := remote.NewEngine(&remote.Config{
		BaseURL:  cfg.OCRRemoteURL,
		Token:    cfg.OCRRemoteToken,
		Language: strings.Join(cfg.TesseractLanguages, "+"),
		Timeout:  time.Duration(cfg.OCRRemoteTimeout) * time.Second,
		Logger:   logging.FromZap(zl, "remote-ocr"),
	})
	if err != nil {
		return nil, err
	}

	// Non-fatal: the service may come up after the worker
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.HealthCheck(ctx); err != nil {
		zl.Warn("Remote OCR health check failed", zap.String("url", cfg.OCRRemoteURL), zap.Error(err))
	}
	return engine, nil
}

// startConsumer starts the configured queue backend, if any
func startConsumer(cfg *config.Config, proc processor.UnderlineProcessor, zl *zap.Logger) (runningConsumer, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
			ResultTTL:         time.Duration(cfg.ResultTTLSec) * time.Second,
			Logger:            logging.FromZap(zl, "redis-consumer"),
		})
		if err != nil {
			return nil, err
		}
		if err := c.Start(); err != nil {
			return nil, err
		}
		return redisRunning{c}, nil

	case config.QueueBackendAsynq:
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
			Logger:            logging.FromZap(zl, "asynq-consumer"),
		})
		if err != nil {
			return nil, err
		}
		if err := c.Start(context.Background()); err != nil {
			return nil, err
		}
		return c, nil

	default:
		return nil, nil
	}
}
