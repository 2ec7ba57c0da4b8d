// Package queue hands validate and process runs to background workers
// through a Redis list.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection and queue names.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Queue     string
	DLQSuffix string
}

// DeadLetter is the list that receives messages whose handler failed.
func (o Options) DeadLetter() string {
	suffix := o.DLQSuffix
	if suffix == "" {
		suffix = ":dlq"
	}
	return o.Queue + suffix
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
