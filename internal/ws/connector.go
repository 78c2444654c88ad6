// Package ws implements the shared WebSocket connector state machine used
// by every exchange: dial, send an optional subscription frame, stream
// frames through a Normalizer, and reconnect with backoff on failure.
package ws

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/metrics"
	"github.com/cryptoedge/candlestream/internal/normalize"
)

// State is a connector lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Streaming
	Errored
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Errored:
		return "errored"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Config parameterizes the connector for one exchange connection.
type Config struct {
	Name string // log/metric label, e.g. "binance.spot"
	URL  string

	// SubscribeFrame, if non-nil, is sent once right after dial (Bybit,
	// OKX, Kraken all subscribe this way). Binance's combined-stream URL
	// needs no post-connect frame, so this is left nil for Binance.
	SubscribeFrame []byte

	// KeepaliveInterval, if non-zero, starts a goroutine sending
	// KeepalivePayload on that interval (Bybit's application-level ping).
	// Exchanges that rely on transport-level ping/pong (gorilla/websocket
	// handles those automatically) leave this zero.
	KeepaliveInterval time.Duration
	KeepalivePayload  []byte

	HandshakeTimeout time.Duration // default 10s
	ReadDeadline     time.Duration // default 2× KeepaliveInterval when that is set, else 60s

	// MinBackoff/MaxBackoff bound the reconnect delay; default 1s/30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Normalizer normalize.Normalizer
}

// Connector drives one exchange connection through Disconnected ->
// Connecting -> Subscribing -> Streaming <-> Errored -> Disconnected,
// reconnecting with exponential backoff and jitter, until its context is
// cancelled (Closed is terminal).
type Connector struct {
	cfg Config
	out chan *candle.Candle

	mu    sync.RWMutex
	state State
}

// New creates a connector. out is the channel the owning runner reads
// canonical candles from; the connector never closes it (multiple
// connectors may share one runner-owned channel via a fan-in).
func New(cfg Config, out chan *candle.Candle) *Connector {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadDeadline == 0 {
		cfg.ReadDeadline = 60 * time.Second
		if cfg.KeepaliveInterval > 0 {
			cfg.ReadDeadline = 2 * cfg.KeepaliveInterval
		}
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = minBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = maxBackoff
	}
	return &Connector{cfg: cfg, out: out, state: Disconnected}
}

func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.ConnectorState.WithLabelValues(c.cfg.Name).Set(float64(s))
}

// Run drives the connector until ctx is cancelled. It never returns an
// error for ordinary disconnects — those are logged and retried with
// backoff — only for a cancelled context, in which case it returns nil
// after transitioning to Closed.
func (c *Connector) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			c.setState(Closed)
			return nil
		}
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.setState(Closed)
			return nil
		}
		if c.State() == Streaming {
			// the connection reached Streaming, so the next reconnect starts over
			backoff = c.cfg.MinBackoff
		}
		if err != nil {
			c.setState(Errored)
			metrics.ReconnectsTotal.WithLabelValues(c.cfg.Name).Inc()
			log.Error().Str("connector", c.cfg.Name).Err(err).Msg("ws connector error, reconnecting")
		}
		c.setState(Disconnected)
		wait := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		select {
		case <-ctx.Done():
			c.setState(Closed)
			return nil
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// runOnce performs one connect/subscribe/stream cycle, returning when the
// connection drops (with the causing error) or ctx is cancelled (nil).
func (c *Connector) runOnce(ctx context.Context) error {
	c.setState(Connecting)
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = c.cfg.HandshakeTimeout

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Name, err)
	}
	defer conn.Close()

	if c.cfg.SubscribeFrame != nil {
		c.setState(Subscribing)
		if err := conn.WriteMessage(websocket.TextMessage, c.cfg.SubscribeFrame); err != nil {
			return fmt.Errorf("subscribe %s: %w", c.cfg.Name, err)
		}
	}
	c.setState(Streaming)

	closeCh := make(chan struct{})
	defer close(closeCh)

	if c.cfg.KeepaliveInterval > 0 {
		go c.keepaliveLoop(ctx, conn, closeCh)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadDeadline))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", c.cfg.Name, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		cd, err := c.cfg.Normalizer.FromWS(data)
		if err != nil {
			log.Warn().Str("connector", c.cfg.Name).Err(err).Msg("dropping malformed ws frame")
			continue
		}
		if cd == nil {
			continue // ack, heartbeat, pong, or unsupported topic
		}
		select {
		case c.out <- cd:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connector) keepaliveLoop(ctx context.Context, conn *websocket.Conn, closeCh <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closeCh:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, c.cfg.KeepalivePayload); err != nil {
				log.Warn().Str("connector", c.cfg.Name).Err(err).Msg("keepalive write failed")
				return
			}
		}
	}
}
