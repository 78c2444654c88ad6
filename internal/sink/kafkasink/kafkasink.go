// Package kafkasink publishes canonical candles to a Kafka topic, one
// message per candle keyed by symbol for partition-ordering. The producer
// here is intentionally mocked (no real Kafka client import), matching how
// the example codebase this was adapted from stages its own Kafka producer
// ahead of wiring a concrete client library; see DESIGN.md.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptoedge/candlestream/internal/candle"
)

// Config mirrors the options a real Kafka producer would need.
type Config struct {
	Brokers       []string
	Topic         string
	BatchTimeout  time.Duration
	RetryAttempts int
	Compression   string // "none", "gzip", "lz4", "snappy", "zstd"
	Acks          string // "none", "leader", "all"
}

func DefaultConfig() Config {
	return Config{
		Brokers:       []string{"localhost:9092"},
		Topic:         "candles",
		BatchTimeout:  5 * time.Second,
		RetryAttempts: 3,
		Compression:   "lz4",
		Acks:          "all",
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafkasink: no brokers configured")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafkasink: topic cannot be empty")
	}
	return nil
}

// Sink publishes candles to Kafka. connected/sent track producer state for
// Stats(); Emit is a no-op send simulating network latency until a real
// client is wired in.
type Sink struct {
	Config Config

	connected bool
	sent      int64
}

func New(cfg Config) *Sink {
	return &Sink{Config: cfg}
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) Connect(ctx context.Context) error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	s.connected = true
	return nil
}

// Emit sends one record keyed by symbol so that all candles for a given
// symbol land on the same partition and preserve per-symbol ordering.
func (s *Sink) Emit(ctx context.Context, c candle.Candle) error {
	if !s.connected {
		return fmt.Errorf("kafkasink: not connected")
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("kafkasink: marshal: %w", err)
	}
	return s.send(ctx, c.Symbol, payload)
}

func (s *Sink) EmitBulk(ctx context.Context, cs []candle.Candle) error {
	for _, c := range cs {
		if err := s.Emit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) send(ctx context.Context, key string, payload []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
	}
	s.sent++
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	s.connected = false
	return nil
}

// Stats reports producer counters, mirroring what a real client exposes.
func (s *Sink) Stats() map[string]any {
	return map[string]any{
		"connected":    s.connected,
		"messages_sent": s.sent,
		"topic":        s.Config.Topic,
	}
}
