package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceURL(t *testing.T) {
	u := BinanceURL("wss://stream.binance.com:9443", []string{"BTCUSDT", "ETHUSDT"}, "1m")
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m", u)
}

func TestBybitSubscribeFrame(t *testing.T) {
	raw, err := BybitSubscribeFrame("1", []string{"btcusdt"})
	require.NoError(t, err)
	var frame bybitSubscribeFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "subscribe", frame.Op)
	assert.Equal(t, []string{"kline.1.BTCUSDT"}, frame.Args)
}

func TestOKXSubscribeFrame(t *testing.T) {
	raw, err := OKXSubscribeFrame("1m", []string{"BTC-USDT"})
	require.NoError(t, err)
	var frame okxSubscribeFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "subscribe", frame.Op)
	require.Len(t, frame.Args, 1)
	assert.Equal(t, "candle1m", frame.Args[0].Channel)
	assert.Equal(t, "BTC-USDT", frame.Args[0].InstID)
}

func TestKrakenSubscribeFrame(t *testing.T) {
	raw, err := KrakenSubscribeFrame(1, []string{"XBT/USD"})
	require.NoError(t, err)
	var frame krakenSubscribeFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "subscribe", frame.Event)
	assert.Equal(t, "ohlc", frame.Subscription.Name)
	assert.Equal(t, 1, frame.Subscription.Interval)
}
