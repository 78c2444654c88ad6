package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/normalize"
)

func newEchoKlineServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	frame := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{
		"t":1704067260000,"T":1704067319999,"s":"BTCUSDT","i":"1m",
		"o":"100.5","h":"101.0","l":"100.0","c":"100.8","v":"12.3","q":"1234.5","n":42,"x":true}}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		<-r.Context().Done()
	}))
	return srv
}

func TestConnectorStreamsCandles(t *testing.T) {
	srv := newEchoKlineServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	connOut := make(chan *candle.Candle, 16)
	c := New(Config{Name: "test", URL: wsURL, Normalizer: normalize.Binance{}}, connOut)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case cd := <-connOut:
		assert.Equal(t, "BTCUSDT", cd.Symbol)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for candle")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Closed, c.State())
}
