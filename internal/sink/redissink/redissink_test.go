package redissink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

func testCandle() candle.Candle {
	open := timeframe.AlignOpen(timeframe.M1, 1704067260)
	return candle.Candle{
		Source: candle.Binance, Symbol: "BTCUSDT", TF: timeframe.M1,
		OpenTS: open, EndTS: timeframe.EndOf(timeframe.M1, open),
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1.2, IsClosed: true,
	}
}

func TestEmitPublishesToSymbolChannel(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := &Sink{client: db}
	c := testCandle()

	payload, err := json.Marshal(c)
	require.NoError(t, err)
	mock.ExpectPublish(channel(c), payload).SetVal(1)
	require.NoError(t, s.Emit(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChannelNameFormat(t *testing.T) {
	c := testCandle()
	require.Equal(t, "candles.BTCUSDT.1m", channel(c))
}

func TestEmitBulkEmptyIsNoop(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := &Sink{client: db}
	require.NoError(t, s.EmitBulk(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRecentReturnsNilOnMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := &Sink{client: db}
	mock.ExpectGet(cacheKey("BTCUSDT", timeframe.M1)).RedisNil()

	cs, err := s.CacheRecent(context.Background(), "BTCUSDT", timeframe.M1)
	require.NoError(t, err)
	require.Nil(t, cs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRecentDecodesStoredPayload(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := &Sink{client: db}
	want := []candle.Candle{testCandle()}
	payload, err := json.Marshal(want)
	require.NoError(t, err)
	mock.ExpectGet(cacheKey("BTCUSDT", timeframe.M1)).SetVal(string(payload))

	got, err := s.CacheRecent(context.Background(), "BTCUSDT", timeframe.M1)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCacheRecentWritesEncodedPayload(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := &Sink{client: db}
	cs := []candle.Candle{testCandle()}
	payload, err := json.Marshal(cs)
	require.NoError(t, err)
	mock.ExpectSet(cacheKey("BTCUSDT", timeframe.M1), payload, time.Minute).SetVal("OK")

	require.NoError(t, s.SetCacheRecent(context.Background(), "BTCUSDT", timeframe.M1, cs, time.Minute))
	require.NoError(t, mock.ExpectationsWereMet())
}
