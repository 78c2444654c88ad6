package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

func mkCandle(openTS int64, tf timeframe.Timeframe, o, h, l, c, v float64, closed bool) candle.Candle {
	return candle.Candle{
		Source: candle.Binance, Symbol: "BTCUSDT", TF: tf,
		OpenTS: openTS, EndTS: timeframe.EndOf(tf, openTS),
		Open: o, High: h, Low: l, Close: c, Volume: v, IsClosed: closed,
	}
}

func TestConfigValidateRejectsBadTarget(t *testing.T) {
	cfg := Config{Base: timeframe.H1, Targets: []timeframe.Timeframe{timeframe.M15}, EmitWarmup: true}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRequiresWarmupForAggregation(t *testing.T) {
	cfg := Config{Base: timeframe.M1, Targets: []timeframe.Timeframe{timeframe.M5}, EmitWarmup: false}
	assert.Error(t, cfg.Validate())
}

func TestIngestEmitsEveryUpdateWhenNotClosedOnly(t *testing.T) {
	var emitted []candle.Candle
	cfg := Config{Base: timeframe.M1}
	require.NoError(t, cfg.Validate())
	p := New(cfg, func(c candle.Candle) { emitted = append(emitted, c) })

	open := timeframe.AlignOpen(timeframe.M1, 1704067260)
	require.NoError(t, p.Ingest(mkCandle(open, timeframe.M1, 100, 101, 99, 100.5, 1, false)))
	require.NoError(t, p.Ingest(mkCandle(open, timeframe.M1, 100, 102, 99, 101, 2, true)))

	require.Len(t, emitted, 2)
	assert.Equal(t, 102.0, emitted[1].High)
}

func TestIngestEmitsOnlyClosedWhenConfigured(t *testing.T) {
	var emitted []candle.Candle
	cfg := Config{Base: timeframe.M1, EmitOnlyClosedCandles: true}
	require.NoError(t, cfg.Validate())
	p := New(cfg, func(c candle.Candle) { emitted = append(emitted, c) })

	open := timeframe.AlignOpen(timeframe.M1, 1704067260)
	require.NoError(t, p.Ingest(mkCandle(open, timeframe.M1, 100, 101, 99, 100.5, 1, false)))
	assert.Len(t, emitted, 0)
	require.NoError(t, p.Ingest(mkCandle(open, timeframe.M1, 100, 102, 99, 101, 2, true)))
	assert.Len(t, emitted, 1)
}

func TestAggregationBuildsFiveMinuteCandle(t *testing.T) {
	var emitted []candle.Candle
	cfg := Config{Base: timeframe.M1, Targets: []timeframe.Timeframe{timeframe.M5}, EmitWarmup: true}
	require.NoError(t, cfg.Validate())
	p := New(cfg, func(c candle.Candle) { emitted = append(emitted, c) })

	base := timeframe.AlignOpen(timeframe.M5, 1704067260)
	for i := int64(0); i < 5; i++ {
		ts := base + i*60
		o := 100.0 + float64(i)
		h := o + 1
		l := o - 1
		c := o + 0.5
		require.NoError(t, p.Ingest(mkCandle(ts, timeframe.M1, o, h, l, c, 1, true)))
	}

	var aggs []candle.Candle
	for _, c := range emitted {
		if c.TF == timeframe.M5 {
			aggs = append(aggs, c)
		}
	}
	require.Len(t, aggs, 1)
	agg := aggs[0]
	assert.Equal(t, candle.Binance, agg.Source)
	assert.Equal(t, 100.0, agg.Open)
	assert.Equal(t, 104.5, agg.Close)
	assert.Equal(t, 105.0, agg.High)
	assert.Equal(t, 99.0, agg.Low)
	assert.Equal(t, 5.0, agg.Volume)
	assert.Equal(t, int64(5), agg.Count)
	assert.NoError(t, agg.Validate())
}

func TestAggregationSkippedOnMissingBucket(t *testing.T) {
	var emitted []candle.Candle
	cfg := Config{Base: timeframe.M1, Targets: []timeframe.Timeframe{timeframe.M5}, EmitWarmup: true}
	require.NoError(t, cfg.Validate())
	p := New(cfg, func(c candle.Candle) { emitted = append(emitted, c) })

	base := timeframe.AlignOpen(timeframe.M5, 1704067260)
	// skip minute index 2 entirely, then ingest the bucket-closing 5th minute
	for _, i := range []int64{0, 1, 3, 4} {
		ts := base + i*60
		require.NoError(t, p.Ingest(mkCandle(ts, timeframe.M1, 100, 101, 99, 100.5, 1, true)))
	}

	for _, c := range emitted {
		assert.NotEqual(t, timeframe.M5, c.TF, "aggregate must not be emitted when a bucket member is missing")
	}
}

func TestWarmupSeedsBufferAndRespectsEmitFlag(t *testing.T) {
	var emitted []candle.Candle
	cfg := Config{Base: timeframe.M1, EmitWarmup: false}
	require.NoError(t, cfg.Validate())
	p := New(cfg, func(c candle.Candle) { emitted = append(emitted, c) })

	open := timeframe.AlignOpen(timeframe.M1, 1704067260)
	p.Warmup([]candle.Candle{mkCandle(open, timeframe.M1, 100, 101, 99, 100.5, 1, true)})
	assert.Len(t, emitted, 0)

	b := p.bufferFor(mkCandle(open, timeframe.M1, 0, 0, 0, 0, 0, false))
	_, ok := b.find(open)
	assert.True(t, ok)
}
