// Package sink forwards dispatch events to external systems.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aixgo-dev/cortex/agent"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// DefaultPublishTimeout bounds a single Publish when none is configured.
const DefaultPublishTimeout = 250 * time.Millisecond

// Record is the JSON form of a dispatch event.
type Record struct {
	Agent    string          `json:"agent"`
	Intent   string          `json:"intent"`
	ID       string          `json:"id"`
	ParentID string          `json:"parent_id,omitempty"`
	RootID   string          `json:"root_id"`
	Depth    int             `json:"depth"`
	Value    float64         `json:"value"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Time     time.Time       `json:"time"`
}

// NewRecord flattens ev for publishing.
func NewRecord(ev agent.Event) Record {
	r := Record{Agent: ev.Agent, Intent: ev.Intent, Time: ev.Time}
	if m := ev.Message; m != nil {
		r.ID = m.ID()
		r.RootID = m.Root().ID()
		r.Depth = m.Depth()
		r.Value = m.Value()
		if p := m.Parent(); p != nil {
			r.ParentID = p.ID()
		}
		if payload := m.Payload(); payload != "" && json.Valid([]byte(payload)) {
			r.Payload = json.RawMessage(payload)
		}
	}
	return r
}

// RedisConfig holds publisher configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Channel is the pub/sub channel (default: "cortex:events").
	Channel string
	// History, when positive, also keeps the latest History records in a
	// list named Channel + ":history".
	History int64
	// PublishTimeout bounds each publish (default: DefaultPublishTimeout).
	PublishTimeout time.Duration
}

// Publisher publishes dispatch events on a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
	history int64
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewPublisherFromClient(client, cfg.Channel, cfg.History, WithPublishTimeout(cfg.PublishTimeout)), nil
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublishTimeout bounds each publish; d <= 0 keeps the default.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPublisherFromClient wraps an existing client. The client should have
// ContextTimeoutEnabled set so the publish timeout also bounds socket reads
// and writes.
func NewPublisherFromClient(client *redis.Client, channel string, history int64, opts ...PublisherOption) *Publisher {
	if channel == "" {
		channel = "cortex:events"
	}
	p := &Publisher{client: client, channel: channel, history: history, timeout: DefaultPublishTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Channel returns the pub/sub channel name.
func (p *Publisher) Channel() string { return p.channel }

// HistoryKey returns the list holding recent records.
func (p *Publisher) HistoryKey() string { return p.channel + ":history" }

// Publish sends ev to the channel and, if enabled, the history list. It
// runs inside every dispatch, so it gives up after the publish timeout.
func (p *Publisher) Publish(ctx context.Context, ev agent.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(NewRecord(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	if p.history > 0 {
		pipe.LPush(ctx, p.HistoryKey(), data)
		pipe.LTrim(ctx, p.HistoryKey(), 0, p.history-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent records, newest first.
func (p *Publisher) Recent(ctx context.Context, n int64) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := p.client.LRange(ctx, p.HistoryKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		var r Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return out, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Listener adapts Publish to an event bus listener.
func (p *Publisher) Listener() agent.Listener {
	return p.Publish
}

// Ping checks the connection; suitable as a health check.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the client. Later publishes fail with ErrPublisherClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.client.Close()
}
