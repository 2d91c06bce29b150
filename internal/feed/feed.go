package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"crowdcast/internal/database"
	"crowdcast/internal/model"
)

// Client streams live market prices over a websocket and persists throttled
// price snapshots, which later serve as the historical close source when
// predictions resolve.
type Client struct {
	logger           *slog.Logger
	repo             database.Repository
	url              string
	universe         []string
	snapshotInterval time.Duration

	lastSnapshot map[string]time.Time
}

// NewClient creates a feed client for the given ticker universe.
func NewClient(logger *slog.Logger, repo database.Repository, url string, universe []string, snapshotInterval time.Duration) *Client {
	if snapshotInterval == 0 {
		snapshotInterval = time.Minute
	}
	return &Client{
		logger:           logger,
		repo:             repo,
		url:              url,
		universe:         universe,
		snapshotInterval: snapshotInterval,
		lastSnapshot:     make(map[string]time.Time),
	}
}

type tradeMessage struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string  `json:"s"`
		Price  float64 `json:"p"`
		UnixMS int64   `json:"t"`
	} `json:"data"`
}

// StartStream connects to the websocket feed and streams price ticks until
// the context is cancelled, reconnecting with doubling backoff on failure.
func (c *Client) StartStream(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("feed: context cancelled, shutting down")
			return nil
		default:
			c.logger.Info("feed: connecting to WebSocket", "url", c.url, "backoff", backoff)
			conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
			if err != nil {
				c.logger.Error("feed: WebSocket connection failed", "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
					backoff *= 2
					if backoff > 16*time.Second {
						backoff = 16 * time.Second
					}
				}
				continue
			}

			// Reset backoff on successful connection
			backoff = time.Second

			if err := c.subscribe(conn); err != nil {
				c.logger.Error("feed: failed to subscribe", "error", err)
				conn.Close()
				continue
			}
			c.logger.Info("feed: subscribed", "tickers", len(c.universe))

			c.readLoop(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	for _, ticker := range c.universe {
		msg := map[string]string{"type": "subscribe", "symbol": ticker}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// readLoop consumes messages until the connection breaks or ctx ends.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("feed: context cancelled, closing connection")
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				c.logger.Error("feed: failed to read message", "error", err)
				return
			}

			var msg tradeMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				c.logger.Warn("feed: failed to parse message", "error", err)
				continue
			}
			if msg.Type != "trade" {
				continue
			}

			for _, trade := range msg.Data {
				if trade.Price <= 0 {
					continue
				}
				tick := model.PriceTick{
					Ticker: trade.Symbol,
					Price:  trade.Price,
					At:     time.UnixMilli(trade.UnixMS).UTC(),
				}
				c.handleTick(ctx, tick)
			}
		}
	}
}

// handleTick persists at most one snapshot per ticker per interval.
func (c *Client) handleTick(ctx context.Context, tick model.PriceTick) {
	last, ok := c.lastSnapshot[tick.Ticker]
	if ok && tick.At.Sub(last) < c.snapshotInterval {
		return
	}

	snapshot := model.PriceSnapshot{
		Ticker:     tick.Ticker,
		Price:      tick.Price,
		RecordedAt: tick.At,
	}
	if err := c.repo.InsertPriceSnapshot(ctx, snapshot); err != nil {
		c.logger.Error("feed: failed to persist price snapshot", "ticker", tick.Ticker, "error", err)
		return
	}
	c.lastSnapshot[tick.Ticker] = tick.At
	c.logger.Debug("feed: price snapshot written", "ticker", tick.Ticker, "price", tick.Price)
}
