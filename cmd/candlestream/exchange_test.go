package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/candlestream/internal/config"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/rest"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

func TestBuildWSConfigBinanceMarketType(t *testing.T) {
	cfg, err := buildWSConfig("binance", config.ExchangeConfig{}, "BTCUSDT", timeframe.M1, "futures_usdm", "test")
	require.NoError(t, err)
	assert.Contains(t, cfg.URL, "wss://fstream.binance.com")

	cfg, err = buildWSConfig("binance", config.ExchangeConfig{}, "BTCUSDT", timeframe.M1, "", "test")
	require.NoError(t, err)
	assert.Contains(t, cfg.URL, "wss://stream.binance.com:9443")
}

func TestRestClientForBinancePassesMarketType(t *testing.T) {
	limiter := ratelimit.NewManager()
	limiter.RegisterVenue("binance", 10, 10)
	_, rangeFetcher, err := restClientFor("binance", config.ExchangeConfig{}, "futures_coinm", limiter, nil)
	require.NoError(t, err)
	bc, ok := rangeFetcher.(*rest.BinanceClient)
	require.True(t, ok)
	assert.Equal(t, "futures_coinm", bc.MarketType)
	assert.Equal(t, "https://dapi.binance.com", bc.BaseURL)
}
