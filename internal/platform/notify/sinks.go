package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// LogSink writes every message to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Notify(_ context.Context, msg Message) error {
	ev := s.Logger.Info().
		Str("kind", string(msg.Kind)).
		Str("subject", msg.Subject).
		Bool("everyone", msg.Audience.Everyone).
		Strs("roles", msg.Audience.Roles).
		Strs("users", msg.Audience.Users).
		Strs("departments", msg.Audience.Departments)
	for _, key := range []string{"booking_id", "room_id", "emergency_id"} {
		if v, ok := msg.Data[key]; ok {
			ev = ev.Str(key, v)
		}
	}
	ev.Msg(msg.Body)
	return nil
}

// RedisStreamSink appends messages to a Redis stream for downstream
// consumers (mailers, chat bridges).
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamSink(client redis.Cmdable, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: 10000}
}

func (s *RedisStreamSink) Notify(ctx context.Context, msg Message) error {
	values, err := streamValues(msg)
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func streamValues(msg Message) (map[string]interface{}, error) {
	audience, err := json.Marshal(msg.Audience)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"kind":      string(msg.Kind),
		"subject":   msg.Subject,
		"body":      msg.Body,
		"audience":  string(audience),
		"data":      string(data),
		"timestamp": msg.At.UTC().Format(time.RFC3339),
	}, nil
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// OfKind returns the recorded messages with the given kind.
func (r *Recorder) OfKind(kind Kind) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// String lists the recorded kinds, handy in test failure output.
func (r *Recorder) String() string {
	var kinds []string
	for _, m := range r.Messages() {
		kinds = append(kinds, string(m.Kind))
	}
	return strings.Join(kinds, ",")
}
