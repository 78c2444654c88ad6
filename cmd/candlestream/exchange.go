package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cryptoedge/candlestream/internal/backfill"
	"github.com/cryptoedge/candlestream/internal/circuit"
	"github.com/cryptoedge/candlestream/internal/config"
	"github.com/cryptoedge/candlestream/internal/normalize"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/rest"
	"github.com/cryptoedge/candlestream/internal/timeframe"
	"github.com/cryptoedge/candlestream/internal/warmup"
	"github.com/cryptoedge/candlestream/internal/ws"
)

// bybitWSIntervals maps a base timeframe to the interval token Bybit's
// kline.<interval>.<symbol> WS topic expects (minutes, or "D"/"W"/"M").
var bybitWSIntervals = map[timeframe.Timeframe]string{
	timeframe.M1: "1", timeframe.M3: "3", timeframe.M5: "5",
	timeframe.M15: "15", timeframe.M30: "30",
	timeframe.H1: "60", timeframe.H2: "120", timeframe.H4: "240",
	timeframe.D1: "D", timeframe.W1: "W", timeframe.MN1: "M",
}

// okxWSChannels maps a base timeframe to the suffix appended to OKX's
// "candle<suffix>" channel name.
var okxWSChannels = map[timeframe.Timeframe]string{
	timeframe.M1: "1m", timeframe.M3: "3m", timeframe.M5: "5m",
	timeframe.M15: "15m", timeframe.M30: "30m",
	timeframe.H1: "1H", timeframe.H2: "2H", timeframe.H4: "4H",
	timeframe.D1: "1D", timeframe.W1: "1W", timeframe.MN1: "1M",
}

// krakenWSIntervals maps a base timeframe to the OHLC subscription interval
// Kraken's WS API expects, in minutes.
var krakenWSIntervals = map[timeframe.Timeframe]int{
	timeframe.M1: 1, timeframe.M3: 3, timeframe.M5: 5,
	timeframe.M15: 15, timeframe.M30: 30,
	timeframe.H1: 60, timeframe.H2: 120, timeframe.H4: 240,
	timeframe.D1: 1440, timeframe.W1: 10080,
}

// binanceWSBaseURL picks the default combined-stream host for marketType;
// Binance serves spot, USD-M futures, and COIN-M futures streams from
// three distinct hosts.
func binanceWSBaseURL(marketType string) string {
	switch strings.ToLower(marketType) {
	case "futures_usdm":
		return "wss://fstream.binance.com"
	case "futures_coinm":
		return "wss://dstream.binance.com"
	default:
		return "wss://stream.binance.com:9443"
	}
}

// buildWSConfig constructs the shared connector Config for one (exchange,
// symbol, base timeframe) pipeline, selecting the exchange-specific dial
// URL and subscribe/keepalive framing. marketType only affects Binance
// (its WS host varies by market type) and Bybit (its WS path is
// /v5/public/<market type>, spot when empty); other exchanges ignore it.
func buildWSConfig(exchange string, ex config.ExchangeConfig, symbol string, base timeframe.Timeframe, marketType, name string) (ws.Config, error) {
	cfg := ws.Config{Name: name}
	switch exchange {
	case "binance":
		cfg.URL = ws.BinanceURL(firstNonEmpty(ex.WSBaseURL, binanceWSBaseURL(marketType)), []string{symbol}, string(base))
		cfg.Normalizer = normalize.Binance{}
	case "bybit":
		interval, ok := bybitWSIntervals[base]
		if !ok {
			return ws.Config{}, fmt.Errorf("bybit: no ws interval mapping for timeframe %s", base)
		}
		frame, err := ws.BybitSubscribeFrame(interval, []string{symbol})
		if err != nil {
			return ws.Config{}, fmt.Errorf("bybit: build subscribe frame: %w", err)
		}
		category := strings.ToLower(marketType)
		if category == "" {
			category = "spot"
		}
		cfg.URL = firstNonEmpty(ex.WSBaseURL, "wss://stream.bybit.com/v5/public/"+category)
		cfg.SubscribeFrame = frame
		cfg.KeepaliveInterval = 20 * time.Second // matches Bybit's app-level ping requirement
		cfg.KeepalivePayload = ws.BybitPingFrame()
		cfg.Normalizer = normalize.Bybit{}
	case "okx":
		channelTF, ok := okxWSChannels[base]
		if !ok {
			return ws.Config{}, fmt.Errorf("okx: no ws channel mapping for timeframe %s", base)
		}
		frame, err := ws.OKXSubscribeFrame(channelTF, []string{symbol})
		if err != nil {
			return ws.Config{}, fmt.Errorf("okx: build subscribe frame: %w", err)
		}
		cfg.URL = firstNonEmpty(ex.WSBaseURL, "wss://ws.okx.com:8443/ws/v5/business")
		cfg.SubscribeFrame = frame
		cfg.Normalizer = normalize.OKX{}
	case "kraken":
		minutes, ok := krakenWSIntervals[base]
		if !ok {
			return ws.Config{}, fmt.Errorf("kraken: no ws interval mapping for timeframe %s", base)
		}
		frame, err := ws.KrakenSubscribeFrame(minutes, []string{symbol})
		if err != nil {
			return ws.Config{}, fmt.Errorf("kraken: build subscribe frame: %w", err)
		}
		cfg.URL = firstNonEmpty(ex.WSBaseURL, "wss://ws.kraken.com")
		cfg.SubscribeFrame = frame
		cfg.Normalizer = normalize.Kraken{}
	default:
		return ws.Config{}, fmt.Errorf("unknown exchange %q", exchange)
	}
	if ex.Backoff.MinMS > 0 {
		cfg.MinBackoff = ex.Backoff.Min()
		cfg.MaxBackoff = ex.Backoff.Max()
	}
	return cfg, nil
}

// restClientFor builds the REST client for exchange, sharing limiter and
// breaker across every runner on that exchange.
func restClientFor(exchange string, ex config.ExchangeConfig, marketType string, limiter *ratelimit.Manager, breaker *circuit.Registry) (warmup.Fetcher, backfill.RangeFetcher, error) {
	switch exchange {
	case "binance":
		c := rest.NewBinanceClient(ex.RESTBaseURL, marketType, limiter, breaker)
		return c, c, nil
	case "bybit":
		c := rest.NewBybitClient(ex.RESTBaseURL, marketType, limiter, breaker)
		return c, c, nil
	case "okx":
		c := rest.NewOKXClient(ex.RESTBaseURL, limiter, breaker)
		return c, c, nil
	case "kraken":
		c := rest.NewKrakenClient(ex.RESTBaseURL, limiter, breaker)
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown exchange %q", exchange)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTimeframeList(csv string) ([]timeframe.Timeframe, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]timeframe.Timeframe, 0, len(parts))
	for _, p := range parts {
		tf := timeframe.Timeframe(strings.TrimSpace(p))
		if !timeframe.Valid(tf) {
			return nil, fmt.Errorf("invalid timeframe %q", p)
		}
		out = append(out, tf)
	}
	return out, nil
}
