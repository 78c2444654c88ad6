package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// Bybit decodes Bybit linear/spot kline topic frames and REST kline rows.
// Bybit REST rows arrive newest-first; reversing to chronological order is
// the REST client's job once it has the full page, not this per-row decoder.
type Bybit struct{}

type bybitKlineFrame struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  []struct {
		Start    int64  `json:"start"`
		End      int64  `json:"end"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Turnover string `json:"turnover"`
		Confirm  bool   `json:"confirm"`
	} `json:"data"`
}

type bybitAck struct {
	Success *bool  `json:"success"`
	Op      string `json:"op"`
}

// FromWS decodes one Bybit kline topic push. Subscription acks
// ({"success":true,"op":"subscribe"}) and pongs yield (nil, nil).
func (Bybit) FromWS(raw []byte) (*candle.Candle, error) {
	var ack bybitAck
	if err := json.Unmarshal(raw, &ack); err == nil && ack.Success != nil {
		return nil, nil
	}
	var f bybitKlineFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("normalize/bybit: decode ws frame: %w", err)
	}
	if !strings.HasPrefix(f.Topic, "kline.") || len(f.Data) == 0 {
		return nil, nil
	}
	symbol, tf, err := parseBybitTopic(f.Topic)
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: %w", err)
	}
	d := f.Data[0]
	openTS, err := secondsFromRaw(d.Start)
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: %w", err)
	}
	endTS, err := secondsFromRaw(d.End)
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: %w", err)
	}
	o, h, l, c, err := decodeOHLC(d.Open, d.High, d.Low, d.Close)
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: %w", err)
	}
	vol, err := parseDecimal(d.Volume)
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: volume: %w", err)
	}
	turnover, _ := parseDecimal(d.Turnover)
	return &candle.Candle{
		Source: candle.Bybit, Symbol: symbol, TF: tf,
		OpenTS: openTS, EndTS: endTS,
		Open: o, High: h, Low: l, Close: c,
		Volume: vol, QuoteVol: turnover, IsClosed: d.Confirm, Count: 1,
	}, nil
}

// FromREST decodes a 7-element Bybit kline REST row:
// [start(ms), open, high, low, close, volume, turnover]. End time is not
// provided and is computed as start + duration(tf) - 1.
func (Bybit) FromREST(row any, symbol string, tf timeframe.Timeframe) (*candle.Candle, error) {
	arr, ok := row.([]any)
	if !ok || len(arr) < 7 {
		return nil, fmt.Errorf("normalize/bybit: rest row is not a >=7 element array")
	}
	startMS, err := toInt64(arr[0])
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: start: %w", err)
	}
	openTS, err := secondsFromRaw(startMS)
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: %w", err)
	}
	endTS := timeframe.EndOf(tf, openTS)
	o, h, l, c, err := decodeOHLC(arr[1], arr[2], arr[3], arr[4])
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: %w", err)
	}
	vol, err := parseDecimalAny(arr[5])
	if err != nil {
		return nil, fmt.Errorf("normalize/bybit: volume: %w", err)
	}
	var turnover float64
	if len(arr) > 6 {
		turnover, _ = parseDecimalAny(arr[6])
	}
	return &candle.Candle{
		Source: candle.Bybit, Symbol: symbol, TF: tf,
		OpenTS: openTS, EndTS: endTS,
		Open: o, High: h, Low: l, Close: c,
		Volume: vol, QuoteVol: turnover, IsClosed: true, Count: 1,
	}, nil
}

// parseBybitTopic splits "kline.<interval>.<symbol>" into its symbol and
// canonical timeframe.
func parseBybitTopic(topic string) (symbol string, tf timeframe.Timeframe, err error) {
	parts := strings.SplitN(topic, ".", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed kline topic %q", topic)
	}
	tf, err = bybitIntervalToTimeframe(parts[1])
	if err != nil {
		return "", "", err
	}
	return parts[2], tf, nil
}

var bybitIntervals = map[string]timeframe.Timeframe{
	"1": timeframe.M1, "3": timeframe.M3, "5": timeframe.M5,
	"15": timeframe.M15, "30": timeframe.M30,
	"60": timeframe.H1, "120": timeframe.H2, "240": timeframe.H4,
	"D": timeframe.D1, "W": timeframe.W1, "M": timeframe.MN1,
}

func bybitIntervalToTimeframe(iv string) (timeframe.Timeframe, error) {
	tf, ok := bybitIntervals[iv]
	if !ok {
		return "", fmt.Errorf("unknown bybit interval %q", iv)
	}
	return tf, nil
}
