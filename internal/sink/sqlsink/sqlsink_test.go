package sqlsink

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
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

func newMockSink(t *testing.T) (*Sink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New("")
	s.db = sqlx.NewDb(db, "sqlmock")
	return s, mock
}

func TestEmitUpsertsOneRow(t *testing.T) {
	s, mock := newMockSink(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO candles")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Emit(context.Background(), testCandle()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitBulkEmptyIsNoop(t *testing.T) {
	s, mock := newMockSink(t)
	require.NoError(t, s.EmitBulk(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildUpsertIncludesConflictClause(t *testing.T) {
	s := New("")
	query, args := s.buildUpsert([]candle.Candle{testCandle(), testCandle()})
	assert.Contains(t, query, "ON CONFLICT (source, symbol, timeframe, open_ts)")
	assert.Contains(t, query, "DO UPDATE SET")
	assert.NotContains(t, query, "open_ts = EXCLUDED.open_ts") // key columns excluded from SET
	assert.Len(t, args, 2*len(s.Schema.Columns))
}

func TestBuildUpsertPlaceholdersAreSequential(t *testing.T) {
	s := New("")
	query, _ := s.buildUpsert([]candle.Candle{testCandle()})
	assert.Regexp(t, regexp.MustCompile(`VALUES \(\$1, \$2, \$3`), query)
}

func TestSetTransformerOverridesGeneratedColumnValues(t *testing.T) {
	s := New("")
	s.SetTransformer(func(c candle.Candle) map[string]any {
		return map[string]any{
			"source": "custom-source", "symbol": c.Symbol, "timeframe": string(c.TF),
			"open_ts": c.OpenTS, "end_ts": c.EndTS,
			"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close,
			"volume": c.Volume, "quote_volume": c.QuoteVol, "is_closed": c.IsClosed, "count": c.Count,
		}
	})
	_, args := s.buildUpsert([]candle.Candle{testCandle()})
	assert.Equal(t, "custom-source", args[0])
}

func TestEmitBulkUsesRawQueryWhenSet(t *testing.T) {
	s, mock := newMockSink(t)
	s.Schema.RawQuery = "UPDATE candles SET close = :close WHERE source = :source AND symbol = :symbol AND timeframe = :timeframe AND open_ts = :open_ts"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candles SET close = ? WHERE source = ? AND symbol = ? AND timeframe = ? AND open_ts = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.EmitBulk(context.Background(), []candle.Candle{testCandle()}))
	require.NoError(t, mock.ExpectationsWereMet())
}
