package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/candlestream/internal/circuit"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

func newManager() *ratelimit.Manager {
	m := ratelimit.NewManager()
	m.RegisterVenue("binance", 100, 100)
	m.RegisterVenue("okx", 100, 100)
	m.RegisterVenue("kraken", 100, 100)
	m.RegisterSharedVenue("bybit", 100, 100)
	return m
}

func TestBinanceFetchRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1704067260000,"100.5","101.0","100.0","100.8","12.3",1704067319999,"1234.5",42,"1","2","0"]]`))
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, "spot", newManager(), circuit.NewRegistry())
	candles, err := c.FetchRecent(context.Background(), "BTCUSDT", timeframe.M1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "BTCUSDT", candles[0].Symbol)
	assert.NoError(t, candles[0].Validate())
}

func TestBinanceFuturesUsdmUsesFapiPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[[1704067260000,"100.5","101.0","100.0","100.8","12.3",1704067319999,"1234.5",42,"1","2","0"]]`))
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, "futures_usdm", newManager(), circuit.NewRegistry())
	_, err := c.FetchRecent(context.Background(), "BTCUSDT", timeframe.M1)
	require.NoError(t, err)
	assert.Equal(t, "/fapi/v1/klines", gotPath)
	assert.Equal(t, "futures_usdm", c.MarketType)
}

func TestBinanceBanErrorNonRetryable(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, "spot", newManager(), circuit.NewRegistry())
	_, err := c.FetchRecent(context.Background(), "BTCUSDT", timeframe.M1)
	require.Error(t, err)
	var ban *BanError
	require.ErrorAs(t, err, &ban)
	assert.Equal(t, 1, calls) // no retry on ban
}

func TestBybitFetchRecentReversesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1704067380000","100.8","101.2","100.6","101.0","5.0","500"],
			["1704067260000","100.5","101.0","100.0","100.8","12.3","1234.5"]
		]}}`))
	}))
	defer srv.Close()

	c := NewBybitClient(srv.URL, "spot", newManager(), circuit.NewRegistry())
	candles, err := c.FetchRecent(context.Background(), "BTCUSDT", timeframe.M1)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].OpenTS < candles[1].OpenTS, "rows must be chronological after reversal")
}

func TestOKXFetchRecentConfirmFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[
			["1704067260000","100.5","101.0","100.0","100.8","12.3","1230","1234.5","1"]]}`))
	}))
	defer srv.Close()

	c := NewOKXClient(srv.URL, newManager(), circuit.NewRegistry())
	candles, err := c.FetchRecent(context.Background(), "BTC-USDT", timeframe.M1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].IsClosed)
}

func TestKrakenFetchRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":[
			[1704067260,"100.5","101.0","100.0","100.8","100.6","12.3",15]
		],"last":1704067260}}`))
	}))
	defer srv.Close()

	c := NewKrakenClient(srv.URL, newManager(), circuit.NewRegistry())
	candles, err := c.FetchRecent(context.Background(), "XBTUSD", timeframe.M1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(1704067260), candles[0].OpenTS)
}

func TestPaginateWindows(t *testing.T) {
	from := time.Unix(0, 0).UTC()
	to := from.Add(3000 * time.Minute)
	ws := paginateWindows(from, to, timeframe.M1, 1000)
	require.Len(t, ws, 3)
	assert.True(t, ws[0].From.Equal(from))
	assert.True(t, ws[len(ws)-1].To.Equal(to))
}
