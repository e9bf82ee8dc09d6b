// Command enqueue submits an underline job to the worker's queue.
//
//	enqueue -keywords invoice,total scan1.png scan2.jpg
//	enqueue -text "The Cat sat" -keywords cat
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/keyword-underliner/internal/config"
	"github.com/adverant/nexus/keyword-underliner/internal/queue"
)

func main() {
	var (
		keywords string
		text     string
		debug    bool
		wait     time.Duration
	)
	flag.StringVar(&keywords, "keywords", "", "comma-separated keywords")
	flag.StringVar(&text, "text", "", "text to underline instead of images")
	flag.BoolVar(&debug, "debug", false, "include raw OCR tokens in results")
	flag.DurationVar(&wait, "wait", 0, "poll for the result this long (redis backend only)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	payload := &queue.JobPayload{Keywords: keywords, Text: text, Debug: debug}
	jobType := queue.TypeUnderlineText
	if text == "" {
		jobType = queue.TypeUnderlineImages
		for _, path := range flag.Args() {
			data, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				log.Fatalf("Failed to read %s: %v", path, err)
			}
			payload.Images = append(payload.Images, queue.ImagePayload{Filename: filepath.Base(path), Data: data})
		}
	}

	ctx := context.Background()
	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		enq, err := queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName, time.Duration(cfg.ResultTTLSec)*time.Second)
		if err != nil {
			log.Fatalf("Failed to create enqueuer: %v", err)
		}
		defer func() { _ = enq.Close() }()

		var id string
		if jobType == queue.TypeUnderlineText {
			id, err = enq.EnqueueText(ctx, payload.Text, payload.Keywords)
		} else {
			id, err = enq.EnqueueImages(ctx, payload.Images, payload.Keywords, payload.Debug)
		}
		if err != nil {
			log.Fatalf("Failed to enqueue: %v", err)
		}
		fmt.Println(id)

	case config.QueueBackendRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		client := redis.NewClient(opt)
		defer func() { _ = client.Close() }()

		id, err := queue.PushRedisJob(ctx, client, cfg.QueueName, jobType, payload)
		if err != nil {
			log.Fatalf("Failed to push job: %v", err)
		}
		fmt.Println(id)

		if wait > 0 {
			printResult(ctx, client, cfg.QueueName, id, wait)
		}

	default:
		log.Fatalf("QUEUE_BACKEND must be redis or asynq, got %q", cfg.QueueBackend)
	}
}

func printResult(ctx context.Context, client *redis.Client, queueName, id string, wait time.Duration) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		data, err := queue.FetchRedisResult(ctx, client, queueName, id)
		if err == nil {
			var pretty map[string]interface{}
			if json.Unmarshal(data, &pretty) == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
				return
			}
			fmt.Println(string(data))
			return
		}
		if !errors.Is(err, redis.Nil) {
			log.Fatalf("Failed to fetch result: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatalf("No result for %s after %v", id, wait)
}
