package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PushRedisJob stores a job in the "<queue>:data" hash and pushes its id
// onto the queue list, the format RedisConsumer reads. It returns the job id.
func PushRedisJob(ctx context.Context, client *redis.Client, queueName, jobType string, payload *JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	job := RedisJobData{
		ID:        payload.JobID,
		Type:      jobType,
		Payload:   *payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	keys := queueKeys{queue: queueName}
	if _, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keys.data(), job.ID, data)
		pipe.LPush(ctx, keys.list(), job.ID)
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to push job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// FetchRedisResult returns the stored result record of a finished job, or
// redis.Nil once it has expired or before the job finishes.
func FetchRedisResult(ctx context.Context, client *redis.Client, queueName, jobID string) ([]byte, error) {
	data, err := client.Get(ctx, queueKeys{queue: queueName}.result(jobID)).Bytes()
	if err != nil {
		return nil, err
	}
	return data, nil
}
