package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"tickfeed/pkg/market"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CoinexClient streams best-bid-offer updates over the CoinEx futures
// websocket. Frames arrive gzip-compressed; each bbo.update is
// decompressed, decoded, and ingested.
type CoinexClient struct {
	url    string
	index  *Index
	sink   Sink
	logger *zap.Logger

	// mu guards conn and stopped; the reconnect path swaps conn while
	// the shutdown goroutine may be closing it.
	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
}

func NewCoinexClient(url string, index *Index, sink Sink, logger *zap.Logger) *CoinexClient {
	return &CoinexClient{
		url:    url,
		index:  index,
		sink:   sink,
		logger: logger,
	}
}

// Connect establishes the websocket connection and subscribes to the
// bbo channel for every indexed symbol. It does not start the listener.
func (c *CoinexClient) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.logger.Error("failed to connect to websocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	c.logger.Info("websocket connected", zap.String("url", c.url))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return c.subscribe(conn)
}

func (c *CoinexClient) subscribe(conn *websocket.Conn) error {
	subMsg := map[string]interface{}{
		"method": "bbo.subscribe",
		"params": map[string]interface{}{
			"market_list": c.index.Names(),
		},
		"id": 1,
	}

	if err := conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("websocket subscribe failed: %w", err)
	}
	return nil
}

// current returns the live connection, or nil once stop has run.
func (c *CoinexClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	return c.conn
}

// stop marks the client stopped and closes the live connection so a
// blocked ReadMessage unblocks.
func (c *CoinexClient) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Listen reads frames until ctx is cancelled, reconnecting with a
// fresh subscription after read errors.
func (c *CoinexClient) Listen(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.stop()
	}()

	for {
		conn := c.current()
		if conn == nil {
			c.logger.Info("coinex listener stopped")
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("coinex listener stopped")
				return
			}
			c.logger.Error("websocket read error", zap.Error(err))

			for {
				time.Sleep(3 * time.Second)
				if ctx.Err() != nil {
					return
				}
				if err := c.reconnectAndResubscribe(); err != nil {
					c.logger.Warn("retrying reconnect...")
					continue
				}
				c.logger.Info("reconnected successfully")
				break
			}
			continue
		}

		c.handleFrame(ctx, msg)
	}
}

func (c *CoinexClient) reconnectAndResubscribe() error {
	newConn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = newConn.Close()
		return fmt.Errorf("client stopped")
	}
	old := c.conn
	c.conn = newConn
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	// Resubscribe against the current index; symbols may have changed
	// while we were disconnected.
	return c.subscribe(newConn)
}

type coinexBBOUpdate struct {
	Market       string `json:"market"`
	UpdatedAt    int64  `json:"updated_at"`
	BestBidPrice string `json:"best_bid_price"`
	BestBidSize  string `json:"best_bid_size"`
	BestAskPrice string `json:"best_ask_price"`
	BestAskSize  string `json:"best_ask_size"`
}

type coinexFrame struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

func (c *CoinexClient) handleFrame(ctx context.Context, msg []byte) {
	update, err := decodeCoinexFrame(msg)
	if err != nil {
		c.logger.Warn("failed to decode coinex frame", zap.Error(err))
		return
	}
	if update == nil {
		return // subscription ack or ping
	}

	id, ok := c.index.Lookup(update.Market)
	if !ok {
		return
	}

	fields, observedAt, err := coinexTickFields(*update)
	if err != nil {
		c.logger.Warn("failed to parse bbo update",
			zap.String("market", update.Market), zap.Error(err))
		return
	}

	if _, err := c.sink.Ingest(ctx, id, market.ExchangeCoinex, fields, observedAt); err != nil {
		c.logger.Warn("failed to ingest coinex tick",
			zap.String("market", update.Market), zap.Error(err))
	}
}

// decodeCoinexFrame decompresses a gzip frame and returns the bbo
// update inside it, or nil when the frame is not a bbo.update.
func decodeCoinexFrame(msg []byte) (*coinexBBOUpdate, error) {
	reader, err := gzip.NewReader(bytes.NewReader(msg))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}

	var frame coinexFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Method != "bbo.update" || len(frame.Data) == 0 {
		return nil, nil
	}

	var update coinexBBOUpdate
	if err := json.Unmarshal(frame.Data, &update); err != nil {
		return nil, fmt.Errorf("decode bbo update: %w", err)
	}
	return &update, nil
}

func coinexTickFields(update coinexBBOUpdate) (market.TickFields, time.Time, error) {
	var fields market.TickFields

	bid, err := strconv.ParseFloat(update.BestBidPrice, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse best_bid_price %q: %w", update.BestBidPrice, err)
	}
	ask, err := strconv.ParseFloat(update.BestAskPrice, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse best_ask_price %q: %w", update.BestAskPrice, err)
	}
	bidSize, err := strconv.ParseFloat(update.BestBidSize, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse best_bid_size %q: %w", update.BestBidSize, err)
	}
	askSize, err := strconv.ParseFloat(update.BestAskSize, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse best_ask_size %q: %w", update.BestAskSize, err)
	}

	fields.BestBid = ptr(bid)
	fields.BestAsk = ptr(ask)
	fields.BestBidQty = ptr(bidSize)
	fields.BestAskQty = ptr(askSize)

	observedAt := time.UnixMilli(update.UpdatedAt).UTC()
	return fields, observedAt, nil
}
