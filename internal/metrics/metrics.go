// Package metrics exposes the candle pipeline's Prometheus instrumentation:
// connector state, emitted candle counts, sink failures, and REST retry
// behavior, served over the same /metrics handler the HTTP server already
// wires for health checks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CandlesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlestream_candles_emitted_total",
		Help: "Candles emitted by the processor, by source, symbol, and timeframe.",
	}, []string{"source", "symbol", "timeframe"})

	AggregatesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlestream_aggregates_emitted_total",
		Help: "Aggregated candles emitted, by symbol and target timeframe.",
	}, []string{"symbol", "timeframe"})

	AggregatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlestream_aggregates_skipped_total",
		Help: "Aggregation buckets skipped due to a missing base candle.",
	}, []string{"symbol", "timeframe"})

	ConnectorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "candlestream_connector_state",
		Help: "Current WS connector state (0=disconnected,1=connecting,2=subscribing,3=streaming,4=errored,5=closed).",
	}, []string{"connector"})

	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlestream_reconnects_total",
		Help: "WS connector reconnect attempts, by connector name.",
	}, []string{"connector"})

	SinkEmitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlestream_sink_emit_failures_total",
		Help: "Sink Emit/EmitBulk failures, by sink name.",
	}, []string{"sink"})

	RESTRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlestream_rest_retries_total",
		Help: "REST client retries after HTTP 429, by venue and endpoint.",
	}, []string{"venue", "endpoint"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlestream_circuit_breaker_trips_total",
		Help: "Circuit breaker trips, by venue and endpoint.",
	}, []string{"venue", "endpoint"})
)
