package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Producer pushes messages onto the queue.
type Producer struct {
	client redis.Cmdable
	queue  string
}

func NewProducer(client redis.Cmdable, opts Options) *Producer {
	return &Producer{client: client, queue: opts.Queue}
}

// Enqueue pushes m onto the head of the list. Consumers pop from the tail.
func (p *Producer) Enqueue(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := p.client.LPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s for job %s: %w", m.Phase, m.JobID, err)
	}
	return nil
}

// Depth reports how many messages are waiting.
func (p *Producer) Depth(ctx context.Context) (int64, error) {
	return p.client.LLen(ctx, p.queue).Result()
}
