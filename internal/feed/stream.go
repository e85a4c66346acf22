package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantafe/tokensentry/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TradeStream subscribes to the market-data trade WebSocket and keeps the
// price cache warm, so monitor ticks rarely need the REST fallback. The
// asset list is re-read on every (re)connect so subscriptions track the book.
type TradeStream struct {
	wsURL  string
	assets func() []string
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewTradeStream creates a TradeStream.
//
// wsURL is the trade stream endpoint, e.g. "wss://quotes.internal/v1/trades".
func NewTradeStream(wsURL string, assets func() []string, cache domain.PriceCache, logger *slog.Logger) *TradeStream {
	return &TradeStream{
		wsURL:  wsURL,
		assets: assets,
		cache:  cache,
		logger: logger.With(slog.String("component", "trade_stream")),
	}
}

// Run connects and consumes trades until the context is canceled, with
// exponential backoff on disconnect.
func (s *TradeStream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("trade stream disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// subscribeCommand is the wire form of a trade subscription.
type subscribeCommand struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets"`
}

// tradeMessage is one trade print from the stream.
type tradeMessage struct {
	AssetID   string  `json:"asset_id"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

func (s *TradeStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	assets := s.assets()
	if len(assets) > 0 {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Assets: assets}); err != nil {
			return fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	s.logger.Info("trade stream subscribed", slog.Int("assets", len(assets)))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when the context ends so ReadMessage unblocks,
	// and keep the peer alive with pings meanwhile.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}

		var msg tradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("malformed trade message", slog.Any("error", err))
			continue
		}
		if msg.AssetID == "" || msg.Price <= 0 {
			continue
		}

		ts := time.UnixMilli(msg.Timestamp)
		if msg.Timestamp == 0 {
			ts = time.Now()
		}
		if err := s.cache.SetPrice(ctx, msg.AssetID, msg.Price, ts); err != nil {
			s.logger.Warn("price cache write failed",
				slog.String("asset_id", msg.AssetID),
				slog.Any("error", err),
			)
		}
	}
}
