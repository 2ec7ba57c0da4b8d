package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// PollTimeout is how long one blocking pop waits before looping.
var PollTimeout = 5 * time.Second

// Handler processes one raw message.
type Handler func(ctx context.Context, data []byte) error

// Consumer pops messages and passes them to a Handler. Failed messages
// are moved to the dead-letter list.
type Consumer struct {
	client redis.Cmdable
	opts   Options
	logger *slog.Logger
}

func NewConsumer(client redis.Cmdable, opts Options, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, opts: opts, logger: logger}
}

// Consume blocks until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	c.logger.Info("queue consumer started", "queue", c.opts.Queue)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("queue consumer stopped", "queue", c.opts.Queue)
			return ctx.Err()
		default:
		}

		result, err := c.client.BRPop(ctx, PollTimeout, c.opts.Queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("pop message", "queue", c.opts.Queue, "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		c.handle(ctx, result[1], handler)
	}
}

func (c *Consumer) handle(ctx context.Context, message string, handler Handler) {
	if err := handler(ctx, []byte(message)); err != nil {
		dlq := c.opts.DeadLetter()
		c.logger.Error("handle message", "queue", c.opts.Queue, "dlq", dlq, "error", err)
		if err := c.client.LPush(context.WithoutCancel(ctx), dlq, message).Err(); err != nil {
			c.logger.Error("move message to dead letter", "dlq", dlq, "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
