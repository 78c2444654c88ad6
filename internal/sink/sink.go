// Package sink defines the delivery contract every candle destination
// implements, and the fanout that dispatches to all of them.
package sink

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/metrics"
)

// Sink is the minimal contract a candle destination implements.
type Sink interface {
	Connect(ctx context.Context) error
	Emit(ctx context.Context, c candle.Candle) error
	// EmitBulk delivers a batch; sinks without a native batch API can
	// delegate to DefaultBulk.EmitBulkVia to loop Emit.
	EmitBulk(ctx context.Context, cs []candle.Candle) error
	Close(ctx context.Context) error
	Name() string
}

// Transformer optionally lets a sink apply a pure pre-delivery mapping
// (e.g. flattening a Candle to the column map an SQL sink writes).
type Transformer interface {
	SetTransformer(fn func(candle.Candle) map[string]any)
}

// DefaultBulk provides EmitBulkVia, which loops a sink's Emit over a batch.
// It does not itself satisfy Sink.EmitBulk; a sink's EmitBulk calls it.
type DefaultBulk struct{}

func (DefaultBulk) EmitBulkVia(ctx context.Context, cs []candle.Candle, emit func(context.Context, candle.Candle) error) error {
	for _, c := range cs {
		if err := emit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Fanout holds an ordered list of sinks and dispatches every emission to
// all of them. A failing sink logs and does not block delivery to the
// others; there is no per-sink retry here, matching SPEC_FULL §4.5 (sinks
// own their own durability).
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Register(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Connect opens every registered sink, returning the first connect error
// (callers typically treat sink connect failures as fatal at startup,
// unlike emit failures which are tolerated per-sink).
func (f *Fanout) Connect(ctx context.Context) error {
	for _, s := range f.sinks {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Emit dispatches c to every sink in registration order. For a given
// (source, symbol, timeframe), the caller (processor) guarantees total
// ordering; Fanout delivers in that same order to each sink.
func (f *Fanout) Emit(ctx context.Context, c candle.Candle) {
	for _, s := range f.sinks {
		if err := s.Emit(ctx, c); err != nil {
			metrics.SinkEmitFailures.WithLabelValues(s.Name()).Inc()
			log.Error().Str("sink", s.Name()).Str("symbol", c.Symbol).Err(err).Msg("sink emit failed")
		}
	}
}

// EmitBulk passes a batch through to every sink's EmitBulk.
func (f *Fanout) EmitBulk(ctx context.Context, cs []candle.Candle) {
	for _, s := range f.sinks {
		if err := s.EmitBulk(ctx, cs); err != nil {
			metrics.SinkEmitFailures.WithLabelValues(s.Name()).Inc()
			log.Error().Str("sink", s.Name()).Int("count", len(cs)).Err(err).Msg("sink emit_bulk failed")
		}
	}
}

// ApplyTransformer installs fn on every registered sink that implements
// Transformer (sqlsink, which maps candles to named column values); sinks
// with a fixed encoding (csv, redis, kafka) are left untouched.
func (f *Fanout) ApplyTransformer(fn func(candle.Candle) map[string]any) {
	for _, s := range f.sinks {
		if t, ok := s.(Transformer); ok {
			t.SetTransformer(fn)
		}
	}
}

// Close closes every sink, logging (not aborting on) individual failures.
func (f *Fanout) Close(ctx context.Context) {
	for _, s := range f.sinks {
		if err := s.Close(ctx); err != nil {
			log.Error().Str("sink", s.Name()).Err(err).Msg("sink close failed")
		}
	}
}
