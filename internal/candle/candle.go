// Package candle defines the canonical OHLCV record shared by every
// exchange normalizer, sink, and the processor pipeline.
package candle

import (
	"fmt"

	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// Source identifies the venue a candle was observed on.
type Source string

const (
	Binance Source = "binance"
	Bybit   Source = "bybit"
	OKX     Source = "okx"
	Kraken  Source = "kraken"
)

// Candle is the canonical record produced by normalizers, consumed by the
// processor and every sink. Its primary key is (Source, Symbol, Timeframe,
// OpenTS).
type Candle struct {
	Source   Source
	Symbol   string
	TF       timeframe.Timeframe
	OpenTS   int64 // unix seconds, UTC, inclusive
	EndTS    int64 // unix seconds, UTC, inclusive
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	QuoteVol float64 // 0 when the venue doesn't report it
	IsClosed bool
	Count    int64 // number of base candles aggregated; 1 for a leaf candle
}

// Key is the primary-key tuple used for dedup, upsert conflict targets, and
// processor buffer indexing.
type Key struct {
	Source Source
	Symbol string
	TF     timeframe.Timeframe
	OpenTS int64
}

func (c Candle) Key() Key {
	return Key{Source: c.Source, Symbol: c.Symbol, TF: c.TF, OpenTS: c.OpenTS}
}

// Validate checks the invariants every canonical candle must satisfy before
// it is allowed to reach a sink:
//
//   - low <= min(open, close) <= max(open, close) <= high
//   - end_ts - open_ts + 1 == duration(tf), for fixed-duration timeframes
//   - open_ts falls exactly on a timeframe boundary
//   - volume is non-negative
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle: empty symbol")
	}
	if !timeframe.Valid(c.TF) {
		return fmt.Errorf("candle: invalid timeframe %q", c.TF)
	}
	lo, hi := c.Open, c.Close
	if hi < lo {
		lo, hi = hi, lo
	}
	if c.Low > lo {
		return fmt.Errorf("candle: low %v exceeds min(open,close) %v", c.Low, lo)
	}
	if c.High < hi {
		return fmt.Errorf("candle: high %v is below max(open,close) %v", c.High, hi)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle: negative volume %v", c.Volume)
	}
	if aligned := timeframe.AlignOpen(c.TF, c.OpenTS); aligned != c.OpenTS {
		return fmt.Errorf("candle: open_ts %d is not aligned to %s boundary (expected %d)", c.OpenTS, c.TF, aligned)
	}
	if wantEnd := timeframe.EndOf(c.TF, c.OpenTS); wantEnd != c.EndTS {
		return fmt.Errorf("candle: end_ts %d does not match expected %d for open_ts %d tf %s", c.EndTS, wantEnd, c.OpenTS, c.TF)
	}
	return nil
}

// DetectUnit inspects the digit count of a raw venue timestamp and reports
// the divisor needed to convert it to unix seconds: 1 for seconds-native
// timestamps (10 digits), 1000 for milliseconds (13 digits), 1_000_000 for
// microseconds (16 digits).
func DetectUnit(raw int64) (divisor int64, err error) {
	n := raw
	if n < 0 {
		n = -n
	}
	digits := 0
	for n > 0 {
		digits++
		n /= 10
	}
	switch digits {
	case 10:
		return 1, nil
	case 13:
		return 1_000, nil
	case 16:
		return 1_000_000, nil
	default:
		return 0, fmt.Errorf("candle: cannot detect timestamp unit for %d (%d digits)", raw, digits)
	}
}

// ToSeconds converts a raw venue timestamp of unknown unit to unix seconds.
func ToSeconds(raw int64) (int64, error) {
	div, err := DetectUnit(raw)
	if err != nil {
		return 0, err
	}
	return raw / div, nil
}
