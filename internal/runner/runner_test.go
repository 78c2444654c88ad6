package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/normalize"
	"github.com/cryptoedge/candlestream/internal/processor"
	"github.com/cryptoedge/candlestream/internal/sink"
	"github.com/cryptoedge/candlestream/internal/sink/memsink"
	"github.com/cryptoedge/candlestream/internal/timeframe"
	"github.com/cryptoedge/candlestream/internal/ws"
)

// fakeFetcher feeds a fixed set of candles to warmup, independent of the
// REST package, so the runner's warmup wiring can be tested in isolation.
type fakeFetcher struct {
	candles []candle.Candle
}

func (f *fakeFetcher) FetchRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error) {
	return f.candles, nil
}

func newEchoKlineServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	frame := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{
		"t":1704067260000,"T":1704067319999,"s":"BTCUSDT","i":"1m",
		"o":"100.5","h":"101.0","l":"100.0","c":"100.8","v":"12.3","q":"1234.5","n":42,"x":true}}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		<-r.Context().Done()
	}))
	return srv
}

func TestRunnerDeliversCandlesToFanout(t *testing.T) {
	srv := newEchoKlineServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	mem := memsink.New()
	r, err := New(Config{
		Name:         "test",
		ConnectorCfg: ws.Config{Name: "test", URL: wsURL, Normalizer: normalize.Binance{}},
		ProcessorCfg: processor.Config{Base: timeframe.M1, EmitOnlyClosedCandles: true},
		Fanout:       sink.NewFanout(mem),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	assert.NotEmpty(t, mem.Candles())
	assert.Equal(t, "BTCUSDT", mem.Candles()[0].Symbol)
}

func TestNewRejectsAggregationWithoutWarmup(t *testing.T) {
	_, err := New(Config{
		Name:         "bad",
		ProcessorCfg: processor.Config{Base: timeframe.M1, Targets: []timeframe.Timeframe{timeframe.M5}, EmitWarmup: false},
		Fanout:       sink.NewFanout(),
	})
	require.Error(t, err)
}

// newSingleFrameKlineServer serves exactly one Binance kline frame closing
// at openTS, then blocks until the request context is cancelled.
func newSingleFrameKlineServer(t *testing.T, openTS int64) *httptest.Server {
	t.Helper()
	closeTS := timeframe.EndOf(timeframe.M1, openTS)
	frame := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{
		"t":` + itoa(openTS*1000) + `,"T":` + itoa(closeTS*1000+999) + `,"s":"BTCUSDT","i":"1m",
		"o":"105","h":"106","l":"104","c":"105.5","v":"5","q":"500","n":1,"x":true}}}`)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, frame)
		<-r.Context().Done()
	}))
	return srv
}

func itoa(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestRunWarmsUpTheStreamingProcessor proves that ActiveWarmup seeds the
// exact processor instance the live connector appends to: four warmed-up 1m
// candles plus one live 1m candle closing the same 5m bucket must produce a
// 5m aggregate, which only happens if warmup and streaming share one buffer.
func TestRunWarmsUpTheStreamingProcessor(t *testing.T) {
	bucketStart := timeframe.AlignOpen(timeframe.M5, 1700000000)
	liveOpen := bucketStart + 240

	warm := []candle.Candle{}
	for i := int64(0); i < 4; i++ {
		ts := bucketStart + i*60
		warm = append(warm, candle.Candle{
			Source: candle.Binance, Symbol: "BTCUSDT", TF: timeframe.M1,
			OpenTS: ts, EndTS: timeframe.EndOf(timeframe.M1, ts),
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1, IsClosed: true,
		})
	}

	srv := newSingleFrameKlineServer(t, liveOpen)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	mem := memsink.New()
	r, err := New(Config{
		Name:         "warmup-test",
		Symbol:       "BTCUSDT",
		ConnectorCfg: ws.Config{Name: "test", URL: wsURL, Normalizer: normalize.Binance{}, ReadDeadline: 200 * time.Millisecond},
		ProcessorCfg: processor.Config{Base: timeframe.M1, Targets: []timeframe.Timeframe{timeframe.M5}, EmitWarmup: true},
		Fanout:       sink.NewFanout(mem),
		ActiveWarmup: true,
		RestFetcher:  &fakeFetcher{candles: warm},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	var aggs []candle.Candle
	for _, c := range mem.Candles() {
		if c.TF == timeframe.M5 {
			aggs = append(aggs, c)
		}
	}
	require.Len(t, aggs, 1)
	assert.Equal(t, int64(5), aggs[0].Count)
}

func TestStreamYieldsCandlesOnChannel(t *testing.T) {
	srv := newEchoKlineServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	r, err := New(Config{
		Name:         "test-stream",
		ConnectorCfg: ws.Config{Name: "test", URL: wsURL, Normalizer: normalize.Binance{}},
		ProcessorCfg: processor.Config{Base: timeframe.M1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out := r.Stream(ctx)
	select {
	case c := <-out:
		assert.Equal(t, "BTCUSDT", c.Symbol)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for streamed candle")
	}
	cancel()
	for range out {
	}
}
