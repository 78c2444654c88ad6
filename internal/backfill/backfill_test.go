package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/rest"
	"github.com/cryptoedge/candlestream/internal/sink"
	"github.com/cryptoedge/candlestream/internal/sink/memsink"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

type fakeRangeFetcher struct {
	pages []rest.Page
}

func (f *fakeRangeFetcher) FetchRange(ctx context.Context, symbol string, tf timeframe.Timeframe, from, to time.Time) (<-chan rest.Page, error) {
	out := make(chan rest.Page, len(f.pages))
	for _, p := range f.pages {
		out <- p
	}
	close(out)
	return out, nil
}

func mkCandle(openTS int64) candle.Candle {
	return candle.Candle{
		Source: candle.Binance, Symbol: "BTCUSDT", TF: timeframe.M1,
		OpenTS: openTS, EndTS: timeframe.EndOf(timeframe.M1, openTS),
		Open: 1, High: 1, Low: 1, Close: 1, IsClosed: true,
	}
}

func TestRunDeliversAllPagesToSink(t *testing.T) {
	fetcher := &fakeRangeFetcher{pages: []rest.Page{
		{Candles: []candle.Candle{mkCandle(0), mkCandle(60)}},
		{Candles: []candle.Candle{mkCandle(120)}},
	}}
	mem := memsink.New()
	code, err := Run(context.Background(), fetcher, sink.NewFanout(mem), Config{
		Exchange: "binance", Symbol: "BTCUSDT", Timeframe: timeframe.M1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Len(t, mem.Candles(), 3)
}

func TestRunReturnsNonZeroOnBanError(t *testing.T) {
	fetcher := &fakeRangeFetcher{pages: []rest.Page{
		{Err: &rest.BanError{Venue: "binance", StatusCode: 418}},
	}}
	mem := memsink.New()
	code, err := Run(context.Background(), fetcher, sink.NewFanout(mem), Config{
		Exchange: "binance", Symbol: "BTCUSDT", Timeframe: timeframe.M1,
	})
	require.Error(t, err)
	assert.Equal(t, 1, code)
}

// fakeTransformSink records the fn installed via SetTransformer so Run's
// wiring of cfg.Transformer can be asserted without a real sqlsink.
type fakeTransformSink struct {
	*memsink.Sink
	transform func(candle.Candle) map[string]any
}

func (f *fakeTransformSink) SetTransformer(fn func(candle.Candle) map[string]any) {
	f.transform = fn
}

func TestRunAppliesConfiguredTransformer(t *testing.T) {
	fetcher := &fakeRangeFetcher{pages: []rest.Page{{Candles: []candle.Candle{mkCandle(0)}}}}
	target := &fakeTransformSink{Sink: memsink.New()}
	transform := func(c candle.Candle) map[string]any { return map[string]any{"symbol": c.Symbol} }

	_, err := Run(context.Background(), fetcher, sink.NewFanout(target), Config{
		Exchange: "binance", Symbol: "BTCUSDT", Timeframe: timeframe.M1,
		Transformer: transform,
	})
	require.NoError(t, err)
	require.NotNil(t, target.transform)
	assert.Equal(t, "BTCUSDT", target.transform(mkCandle(0))["symbol"])
}

func TestParseDateHandlesNowKeyword(t *testing.T) {
	fixed := time.Date(2024, 10, 2, 15, 30, 0, 0, time.UTC)
	got, err := ParseDate("now", fixed)
	require.NoError(t, err)
	assert.Equal(t, fixed, got)
}

func TestParseDateParsesUTCMidnight(t *testing.T) {
	got, err := ParseDate("2024-10-01", time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseDateRejectsInvalidLiteral(t *testing.T) {
	_, err := ParseDate("not-a-date", time.Now())
	require.Error(t, err)
}
