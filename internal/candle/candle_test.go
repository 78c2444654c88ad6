package candle

import (
	"testing"

	"github.com/cryptoedge/candlestream/internal/timeframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandle() Candle {
	open := timeframe.AlignOpen(timeframe.M1, 1704067283)
	return Candle{
		Source: Binance, Symbol: "BTCUSDT", TF: timeframe.M1,
		OpenTS: open, EndTS: timeframe.EndOf(timeframe.M1, open),
		Open: 100, High: 110, Low: 95, Close: 105, Volume: 12.5, IsClosed: true,
	}
}

func TestValidateOK(t *testing.T) {
	require.NoError(t, validCandle().Validate())
}

func TestValidateRejectsBadHigh(t *testing.T) {
	c := validCandle()
	c.High = 100 // below max(open,close)=105
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadLow(t *testing.T) {
	c := validCandle()
	c.Low = 101 // above min(open,close)=100
	assert.Error(t, c.Validate())
}

func TestValidateRejectsMisalignedOpen(t *testing.T) {
	c := validCandle()
	c.OpenTS = c.OpenTS + 5
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNegativeVolume(t *testing.T) {
	c := validCandle()
	c.Volume = -1
	assert.Error(t, c.Validate())
}

func TestDetectUnit(t *testing.T) {
	cases := []struct {
		raw  int64
		want int64
	}{
		{1704067283, 1},
		{1704067283000, 1_000},
		{1704067283000000, 1_000_000},
	}
	for _, c := range cases {
		got, err := DetectUnit(c.raw)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestDetectUnitRejectsUnknown(t *testing.T) {
	_, err := DetectUnit(12345)
	assert.Error(t, err)
}

func TestKeyIdentity(t *testing.T) {
	c := validCandle()
	assert.Equal(t, c.Key(), c.Key())
}
