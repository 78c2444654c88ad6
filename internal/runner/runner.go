// Package runner composes one WS connector, one candle processor, and a
// sink fanout into the pipeline an operator launches per (exchange, symbol,
// base timeframe). Merge fans multiple runners' streams into one channel.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/processor"
	"github.com/cryptoedge/candlestream/internal/sink"
	"github.com/cryptoedge/candlestream/internal/warmup"
	"github.com/cryptoedge/candlestream/internal/ws"
)

// connDrainGrace bounds how long Run waits for in-flight emissions to
// reach sinks after the connector goroutine exits, before closing sinks.
const connDrainGrace = 2 * time.Second

// Config parameterizes one Runner.
type Config struct {
	Name         string // label for logs, e.g. "binance.BTCUSDT.1m"
	Symbol       string // exchange-native symbol; required when ActiveWarmup is set
	ConnectorCfg ws.Config
	ProcessorCfg processor.Config
	Fanout       *sink.Fanout

	// ActiveWarmup, when true, seeds the processor's buffers from
	// RestFetcher before the connector opens, per SPEC_FULL §4.4. Mandatory
	// whenever ProcessorCfg.Targets is non-empty (enforced by New).
	ActiveWarmup bool
	RestFetcher  warmup.Fetcher

	// Cache, if set, is consulted by warmupBuffers before RestFetcher and
	// written back to afterward, letting repeated warmups within the TTL
	// window skip the REST round-trip (see internal/sink/redissink).
	Cache warmup.Cache
}

// Runner drives a single connector through a processor into a fanout (or a
// caller-owned channel via Stream). The processor instance is created once
// at construction so a pre-streaming Warmup call seeds the exact buffer the
// live connector will append to, rather than a throwaway instance.
type Runner struct {
	cfg  Config
	conn *ws.Connector
	proc *processor.Processor

	rawCh chan *candle.Candle
}

// New validates cfg and wires the connector/processor pair. ProcessorCfg
// must satisfy Validate, and aggregation targets require ActiveWarmup — New returns
// an error rather than silently ignoring a misconfigured runner, per
// SPEC_FULL §4.4's "rejected before any connection is opened" rule.
func New(cfg Config) (*Runner, error) {
	if err := cfg.ProcessorCfg.Validate(); err != nil {
		return nil, fmt.Errorf("runner %s: %w", cfg.Name, err)
	}
	if len(cfg.ProcessorCfg.Targets) > 0 && !cfg.ActiveWarmup {
		return nil, fmt.Errorf("runner %s: aggregation targets configured but ActiveWarmup is false", cfg.Name)
	}
	if cfg.ActiveWarmup && cfg.RestFetcher == nil {
		return nil, fmt.Errorf("runner %s: ActiveWarmup is set but no RestFetcher was provided", cfg.Name)
	}

	r := &Runner{cfg: cfg, rawCh: make(chan *candle.Candle, 256)}
	r.conn = ws.New(cfg.ConnectorCfg, r.rawCh)
	r.proc = processor.New(cfg.ProcessorCfg, func(candle.Candle) {})
	return r, nil
}

// warmupBuffers seeds r.proc's buffers from cfg.RestFetcher before any live frame
// is processed, so the first base candle that closes an aggregation bucket
// already has its predecessors buffered.
func (r *Runner) warmupBuffers(ctx context.Context) error {
	if !r.cfg.ActiveWarmup {
		return nil
	}
	wcfg := warmup.Config{Symbol: r.cfg.Symbol, Base: r.cfg.ProcessorCfg.Base, Targets: r.cfg.ProcessorCfg.Targets}
	return warmup.Load(ctx, r.cfg.RestFetcher, wcfg, r.proc, r.cfg.Cache)
}

// State reports the underlying connector's lifecycle state, satisfying
// http.ConnectorStater for health-check reporting.
func (r *Runner) State() ws.State { return r.conn.State() }

// Run drives the pipeline until ctx is cancelled, delivering every emitted
// candle to the registered fanout.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Fanout == nil {
		return fmt.Errorf("runner %s: no fanout registered", r.cfg.Name)
	}
	if err := r.cfg.Fanout.Connect(ctx); err != nil {
		return fmt.Errorf("runner %s: sink connect: %w", r.cfg.Name, err)
	}

	r.proc.Emit = func(c candle.Candle) {
		r.cfg.Fanout.Emit(ctx, c)
	}
	if err := r.warmupBuffers(ctx); err != nil {
		return fmt.Errorf("runner %s: warmup: %w", r.cfg.Name, err)
	}

	connErrCh := make(chan error, 1)
	go func() { connErrCh <- r.conn.Run(ctx) }()

	pumpDone := r.pump(ctx)
	<-pumpDone
	err := <-connErrCh

	closeCtx, cancel := context.WithTimeout(context.Background(), connDrainGrace)
	defer cancel()
	r.cfg.Fanout.Close(closeCtx)

	return err
}

// pump consumes rawCh into the processor until ctx is cancelled or rawCh
// closes, returning a channel closed when the pump loop exits.
func (r *Runner) pump(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-r.rawCh:
				if !ok {
					return
				}
				if err := r.proc.Ingest(*c); err != nil {
					log.Warn().Str("runner", r.cfg.Name).Err(err).Msg("dropping candle that failed ingestion")
				}
			}
		}
	}()
	return done
}

// Stream runs the same pipeline but yields emitted candles on the returned
// channel instead of (or in addition to) a fanout. The channel closes when
// ctx is cancelled or the connector's rawCh closes.
func (r *Runner) Stream(ctx context.Context) <-chan candle.Candle {
	out := make(chan candle.Candle, 256)

	r.proc.Emit = func(c candle.Candle) {
		select {
		case out <- c:
		case <-ctx.Done():
		}
		if r.cfg.Fanout != nil {
			r.cfg.Fanout.Emit(ctx, c)
		}
	}

	go func() {
		defer close(out)
		if r.cfg.Fanout != nil {
			if err := r.cfg.Fanout.Connect(ctx); err != nil {
				log.Error().Str("runner", r.cfg.Name).Err(err).Msg("sink connect failed, streaming without fanout")
				r.cfg.Fanout = nil
			}
		}
		if err := r.warmupBuffers(ctx); err != nil {
			log.Error().Str("runner", r.cfg.Name).Err(err).Msg("warmup failed")
			return
		}
		connErrCh := make(chan error, 1)
		go func() { connErrCh <- r.conn.Run(ctx) }()
		<-r.pump(ctx)
		<-connErrCh
		if r.cfg.Fanout != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), connDrainGrace)
			defer cancel()
			r.cfg.Fanout.Close(closeCtx)
		}
	}()

	return out
}

// Merge starts every runner's Stream concurrently and fans their channels
// into one, closing the output once all inputs have closed or ctx is
// cancelled. No ordering across runners is imposed beyond arrival order.
func Merge(ctx context.Context, runners ...*Runner) <-chan candle.Candle {
	out := make(chan candle.Candle, 256)
	if len(runners) == 0 {
		close(out)
		return out
	}

	done := make(chan struct{}, len(runners))
	for _, r := range runners {
		r := r
		go func() {
			defer func() { done <- struct{}{} }()
			in := r.Stream(ctx)
			for {
				select {
				case c, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		for range runners {
			<-done
		}
		close(out)
	}()

	return out
}
