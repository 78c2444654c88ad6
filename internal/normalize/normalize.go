// Package normalize converts exchange-native WS frames and REST rows into
// canonical candle.Candle records. Each exchange gets its own file; all
// share the Normalizer contract defined here.
package normalize

import (
	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// Normalizer decodes one exchange's wire formats into canonical candles.
// FromWS returns (nil, nil) for non-data frames (acks, pongs, heartbeats) —
// callers must not treat that as an error.
type Normalizer interface {
	FromWS(raw []byte) (*candle.Candle, error)
	FromREST(row any, symbol string, tf timeframe.Timeframe) (*candle.Candle, error)
}

// secondsFromRaw reduces a raw venue timestamp of unknown unit to unix
// seconds using the digit-count heuristic shared by every normalizer.
func secondsFromRaw(raw int64) (int64, error) {
	return candle.ToSeconds(raw)
}
