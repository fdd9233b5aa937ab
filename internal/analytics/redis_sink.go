package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink appends events to a capped Redis stream for downstream
// consumers.
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Log(ctx context.Context, event Event, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"event":   string(event),
			"payload": string(data),
			"ts":      time.Now().UnixMilli(),
		},
	}).Err()
}
