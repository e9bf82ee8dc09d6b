/**
 * Direct Redis Queue Consumer for the Keyword Underliner worker
 *
 * Compatible with a producer that LPUSHes job ids onto a Redis LIST and
 * stores the job JSON in the "<queue>:data" hash. Results live under
 * "<queue>:result:<jobId>" until their TTL expires; nothing is kept
 * beyond that.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/keyword-underliner/internal/logging"
	"github.com/adverant/nexus/keyword-underliner/internal/metrics"
	"github.com/adverant/nexus/keyword-underliner/internal/processor"
)

const defaultResultTTL = 15 * time.Minute

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Payload   JobPayload `json:"payload"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.UnderlineProcessor
	config    *RedisConsumerConfig
	keys      queueKeys
	logger    *logging.Logger
	active    atomic.Int64
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.UnderlineProcessor
	ProcessingTimeout int64 // milliseconds
	ResultTTL         time.Duration
	Logger            *logging.Logger
}

// queueKeys derives every Redis key from the queue name
type queueKeys struct {
	queue string
}

func (k queueKeys) list() string   { return k.queue }
func (k queueKeys) data() string   { return k.queue + ":data" }
func (k queueKeys) events() string { return k.queue + ":events" }
func (k queueKeys) result(jobID string) string {
	return fmt.Sprintf("%s:result:%s", k.queue, jobID)
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "underliner:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("redis-consumer")
	}

	// Parse Redis URL
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		keys:      queueKeys{queue: cfg.QueueName},
		logger:    logger,
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
					continue
				}
				c.logger.Error("Worker error", "worker", id, "error", err)
				// Small delay before trying again
				select {
				case <-c.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.list()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]

	jobData, err := c.client.HGet(c.ctx, c.keys.data(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}
	// The job is consumed exactly once; its input is not kept.
	c.client.HDel(c.ctx, c.keys.data(), id)

	job, err := parseRedisJob([]byte(jobData))
	if err != nil {
		c.finish(id, StatusFailed, errorResult(id, err))
		return err
	}

	c.active.Add(1)
	defer c.active.Add(-1)

	c.publish(c.ctx, job.Payload.JobID, StatusProcessing)
	c.logger.Info("Processing job", "job_id", job.Payload.JobID, "type", job.Type,
		"images", len(job.Payload.Images))

	start := time.Now()
	out, err := runJob(c.ctx, c.processor, job.Type, &job.Payload,
		time.Duration(c.config.ProcessingTimeout)*time.Millisecond)
	if err != nil {
		// No retries: a failed job is reported once.
		c.logger.Warn("Job failed", "job_id", job.Payload.JobID, "error", err)
		c.finish(job.Payload.JobID, StatusFailed, errorResult(job.Payload.JobID, err))
		return nil
	}

	c.finish(job.Payload.JobID, StatusCompleted, out)
	c.logger.Info("Job completed", "job_id", job.Payload.JobID, "duration", time.Since(start))
	return nil
}

// parseRedisJob decodes a job record and fills in the job id
func parseRedisJob(data []byte) (*RedisJobData, error) {
	var job RedisJobData
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	if job.Type == "" {
		job.Type = TypeUnderlineImages
		if len(job.Payload.Images) == 0 && job.Payload.Text != "" {
			job.Type = TypeUnderlineText
		}
	}
	return &job, nil
}

// finish stores the job result with a TTL and publishes the final event
func (c *RedisConsumer) finish(jobID, status string, result interface{}) {
	metrics.ObserveJob("redis", status)

	record := map[string]interface{}{
		"jobId":  jobID,
		"status": status,
		"result": result,
	}
	// Results are written even while the consumer is stopping.
	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(record)
	if err != nil {
		c.logger.Error("Failed to marshal job result", "job_id", jobID, "error", err)
	} else if err := c.client.Set(storeCtx, c.keys.result(jobID), data, c.config.ResultTTL).Err(); err != nil {
		c.logger.Error("Failed to store job result", "job_id", jobID, "error", err)
	}

	c.publish(storeCtx, jobID, status)
}

// publish emits a job event for streaming subscribers
func (c *RedisConsumer) publish(ctx context.Context, jobID, status string) {
	eventData, _ := json.Marshal(jobEvent(jobID, status, time.Now()))
	if err := c.client.Publish(ctx, c.keys.events(), eventData).Err(); err != nil {
		c.logger.Warn("Failed to publish job event", "job_id", jobID, "status", status, "error", err)
	}
}

func jobEvent(jobID, status string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": at.Format(time.RFC3339),
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.keys.list()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting,
		"processing": c.active.Load(),
	}, nil
}
