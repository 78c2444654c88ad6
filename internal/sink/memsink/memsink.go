// Package memsink provides a trivial in-memory Sink for tests and for the
// runner's Stream mode when a caller wants direct delivery without wiring
// a durable sink.
package memsink

import (
	"context"
	"sync"

	"github.com/cryptoedge/candlestream/internal/candle"
)

type Sink struct {
	mu      sync.Mutex
	candles []candle.Candle
}

func New() *Sink { return &Sink{} }

func (s *Sink) Name() string { return "memory" }

func (s *Sink) Connect(ctx context.Context) error { return nil }

func (s *Sink) Emit(ctx context.Context, c candle.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, c)
	return nil
}

func (s *Sink) EmitBulk(ctx context.Context, cs []candle.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, cs...)
	return nil
}

func (s *Sink) Close(ctx context.Context) error { return nil }

// Candles returns a copy of everything emitted so far.
func (s *Sink) Candles() []candle.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]candle.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}
