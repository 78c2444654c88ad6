package ws

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BinanceURL builds the combined-stream URL for a set of (symbol,
// timeframe) subscriptions; Binance needs no post-connect subscribe frame.
func BinanceURL(base string, symbols []string, tf string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(s), tf)
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

type bybitSubscribeFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// BybitSubscribeFrame builds {"op":"subscribe","args":["kline.<iv>.<SYM>",...]}.
func BybitSubscribeFrame(interval string, symbols []string) ([]byte, error) {
	args := make([]string, len(symbols))
	for i, s := range symbols {
		args[i] = fmt.Sprintf("kline.%s.%s", interval, strings.ToUpper(s))
	}
	return json.Marshal(bybitSubscribeFrame{Op: "subscribe", Args: args})
}

// BybitPingFrame is the application-level keepalive payload Bybit requires
// every 20-30s.
func BybitPingFrame() []byte {
	return []byte(`{"op":"ping"}`)
}

type okxChannelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubscribeFrame struct {
	Op   string          `json:"op"`
	Args []okxChannelArg `json:"args"`
}

// OKXSubscribeFrame builds {"op":"subscribe","args":[{"channel":"candle<tf>","instId":"<SYM>"},...]}.
func OKXSubscribeFrame(channelTF string, symbols []string) ([]byte, error) {
	args := make([]okxChannelArg, len(symbols))
	for i, s := range symbols {
		args[i] = okxChannelArg{Channel: "candle" + channelTF, InstID: s}
	}
	return json.Marshal(okxSubscribeFrame{Op: "subscribe", Args: args})
}

type krakenSubscription struct {
	Name     string `json:"name"`
	Interval int    `json:"interval"`
}

type krakenSubscribeFrame struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

// KrakenSubscribeFrame builds
// {"event":"subscribe","pair":[...],"subscription":{"name":"ohlc","interval":<min>}}.
func KrakenSubscribeFrame(intervalMinutes int, pairs []string) ([]byte, error) {
	return json.Marshal(krakenSubscribeFrame{
		Event:        "subscribe",
		Pair:         pairs,
		Subscription: krakenSubscription{Name: "ohlc", Interval: intervalMinutes},
	})
}
