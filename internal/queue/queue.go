// Package queue provides the job queue the orchestrator's workers consume.
// Two backends exist: an in-process channel queue for single-node
// deployments and tests, and a Redis list for multi-node deployments.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"pptx-processor/internal/types"
)

// Queue hands job IDs from enqueuers to workers in FIFO order.
type Queue interface {
	// Enqueue appends a job ID to the queue.
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a job ID is available or the context ends.
	Dequeue(ctx context.Context) (string, error)
	// Close releases backend resources.
	Close() error
}

// MemoryQueue is a buffered-channel queue for single-process deployments.
type MemoryQueue struct {
	ch chan string
}

// NewMemoryQueue creates a MemoryQueue with the given capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{ch: make(chan string, capacity)}
}

// Enqueue appends a job ID, failing fast when the queue is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return types.NewAppError(types.ErrTransientIO, "job queue full", nil)
	}
}

// Dequeue blocks until a job ID arrives or the context ends.
func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case jobID := <-q.ch:
		return jobID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close is a no-op for the memory backend.
func (q *MemoryQueue) Close() error { return nil }

// RedisQueue is a Redis list shared by multiple service instances.
type RedisQueue struct {
	client    *redis.Client
	queueName string
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, addr, password string, db int, queueName string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, types.NewAppError(types.ErrConfig, "failed to connect to redis", err)
	}
	return &RedisQueue{client: client, queueName: queueName}, nil
}

// Enqueue pushes the job ID onto the tail of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, q.queueName, jobID).Err(); err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to enqueue job", err)
	}
	return nil
}

// Dequeue blocks on the head of the list. The poll timeout keeps the
// worker responsive to context cancellation.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		result, err := q.client.BLPop(ctx, 5*time.Second, q.queueName).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", types.NewAppError(types.ErrTransientIO, "failed to dequeue job", err)
		}
		// BLPop returns [key, value].
		return result[1], nil
	}
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
