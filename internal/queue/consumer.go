/**
 * Asynq Queue Consumer for the Keyword Underliner worker
 *
 * Serves "underline:images" and "underline:text" tasks. Results are
 * written through the task ResultWriter and kept by asynq only for the
 * task retention period. Tasks never retry.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/keyword-underliner/internal/logging"
	"github.com/adverant/nexus/keyword-underliner/internal/metrics"
	"github.com/adverant/nexus/keyword-underliner/internal/processor"
)

// Consumer handles task consumption from the asynq queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	processor processor.UnderlineProcessor
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.UnderlineProcessor
	ProcessingTimeout int64 // milliseconds
	Logger            *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("asynq-consumer")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	consumer := &Consumer{
		inspector: asynq.NewInspector(redisOpt),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}

	consumer.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			// SugaredLogger satisfies asynq.Logger
			Logger: logger.Zap().Sugar(),
		},
	)

	consumer.mux = asynq.NewServeMux()
	consumer.mux.HandleFunc(TypeUnderlineImages, consumer.handleTask)
	consumer.mux.HandleFunc(TypeUnderlineText, consumer.handleTask)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping asynq consumer")
	c.server.Shutdown()
	return c.inspector.Close()
}

// handleTask processes one underline task
func (c *Consumer) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		metrics.ObserveJob("asynq", StatusFailed)
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	c.logger.Info("Processing task", "job_id", payload.JobID, "type", task.Type(),
		"images", len(payload.Images))

	start := time.Now()
	result, err := runJob(ctx, c.processor, task.Type(), &payload,
		time.Duration(c.config.ProcessingTimeout)*time.Millisecond)
	if err != nil {
		metrics.ObserveJob("asynq", StatusFailed)
		c.writeResult(task, payload.JobID, StatusFailed, errorResult(payload.JobID, err))
		return fmt.Errorf("underline job %s failed: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}

	metrics.ObserveJob("asynq", StatusCompleted)
	c.writeResult(task, payload.JobID, StatusCompleted, result)
	c.logger.Info("Task completed", "job_id", payload.JobID, "duration", time.Since(start))
	return nil
}

func (c *Consumer) writeResult(task *asynq.Task, jobID, status string, result interface{}) {
	w := task.ResultWriter()
	if w == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"jobId":  jobID,
		"status": status,
		"result": result,
	})
	if err != nil {
		c.logger.Error("Failed to marshal task result", "job_id", jobID, "error", err)
		return
	}
	if _, err := w.Write(data); err != nil {
		c.logger.Error("Failed to write task result", "job_id", jobID, "error", err)
	}
}

// GetStats returns queue statistics in the same shape as
// RedisConsumer.GetStats, plus the asynq task states.
func (c *Consumer) GetStats(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queues, err := c.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	// asynq creates the queue on first enqueue
	if !slices.Contains(queues, c.config.QueueName) {
		return queueInfoStats(nil), nil
	}
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue %s: %w", c.config.QueueName, err)
	}
	return queueInfoStats(info), nil
}

func queueInfoStats(info *asynq.QueueInfo) map[string]int64 {
	if info == nil {
		info = &asynq.QueueInfo{}
	}
	return map[string]int64{
		"waiting":    int64(info.Pending),
		"processing": int64(info.Active),
		"completed":  int64(info.Completed),
		"failed":     int64(info.Failed),
		"archived":   int64(info.Archived),
	}
}

// Enqueuer submits underline tasks to asynq
type Enqueuer struct {
	client    *asynq.Client
	queue     string
	retention time.Duration
}

// NewEnqueuer creates an asynq client for queue
func NewEnqueuer(redisURL, queue string, retention time.Duration) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queue:     queue,
		retention: retention,
	}, nil
}

// EnqueueImages submits an image job and returns its job id
func (e *Enqueuer) EnqueueImages(ctx context.Context, images []ImagePayload, keywords string, debug bool) (string, error) {
	task, err := NewImagesTask(&JobPayload{Images: images, Keywords: keywords, Debug: debug}, e.retention)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

// EnqueueText submits a text job and returns its job id
func (e *Enqueuer) EnqueueText(ctx context.Context, text, keywords string) (string, error) {
	task, err := NewTextTask(&JobPayload{Text: text, Keywords: keywords}, e.retention)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := e.client.EnqueueContext(ctx, task, asynq.Queue(e.queue))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}

// Close closes the underlying client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// NewImagesTask builds an image underline task. The job id doubles as the
// asynq task id.
func NewImagesTask(payload *JobPayload, retention time.Duration) (*asynq.Task, error) {
	return newTask(TypeUnderlineImages, payload, retention)
}

// NewTextTask builds a text underline task.
func NewTextTask(payload *JobPayload, retention time.Duration) (*asynq.Task, error) {
	return newTask(TypeUnderlineText, payload, retention)
}

func newTask(taskType string, payload *JobPayload, retention time.Duration) (*asynq.Task, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if retention <= 0 {
		retention = defaultResultTTL
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data,
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(0),
		asynq.Retention(retention),
	), nil
}
