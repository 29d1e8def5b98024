package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tickfeed/config"
	"tickfeed/pkg/market"

	"go.uber.org/zap"
)

// BinancePoller polls the Binance futures REST API for the book ticker
// and mark price of every indexed symbol and ingests the combined
// quote as a single tick.
type BinancePoller struct {
	baseURL    string
	interval   time.Duration
	httpClient *http.Client
	index      *Index
	sink       Sink
	logger     *zap.Logger
}

func NewBinancePoller(cfg config.BinanceFeedConfig, index *Index, sink Sink, logger *zap.Logger) *BinancePoller {
	return &BinancePoller{
		baseURL:    cfg.BaseURL,
		interval:   cfg.PollInterval,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		index:      index,
		sink:       sink,
		logger:     logger,
	}
}

type binanceBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
	Time     int64  `json:"time"`
}

type binancePremiumIndex struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
	Time      int64  `json:"time"`
}

// Run polls until ctx is cancelled.
func (p *BinancePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("binance poller started",
		zap.String("base_url", p.baseURL),
		zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("binance poller stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *BinancePoller) pollOnce(ctx context.Context) {
	symbols := p.index.Names()
	if len(symbols) == 0 {
		return
	}

	sem := make(chan struct{}, 5)
	for _, symbol := range symbols {
		symbol := symbol
		sem <- struct{}{}

		go func() {
			defer func() { <-sem }()

			if err := p.collectSymbol(ctx, symbol); err != nil {
				p.logger.Warn("binance collect failed",
					zap.String("symbol", symbol), zap.Error(err))
			}
		}()
	}
}

func (p *BinancePoller) collectSymbol(ctx context.Context, symbol string) error {
	var book binanceBookTicker
	if err := p.getJSON(ctx, "/fapi/v1/ticker/bookTicker?symbol="+symbol, &book); err != nil {
		return fmt.Errorf("book ticker: %w", err)
	}

	var premium binancePremiumIndex
	if err := p.getJSON(ctx, "/fapi/v1/premiumIndex?symbol="+symbol, &premium); err != nil {
		return fmt.Errorf("premium index: %w", err)
	}

	fields, observedAt, err := combineBinanceQuote(book, premium)
	if err != nil {
		return err
	}

	id, ok := p.index.Lookup(symbol)
	if !ok {
		return fmt.Errorf("symbol %s no longer indexed", symbol)
	}

	_, err = p.sink.Ingest(ctx, id, market.ExchangeBinance, fields, observedAt)
	return err
}

func (p *BinancePoller) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("binance error: %s", body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// combineBinanceQuote merges a book ticker and a premium index reading
// into one set of tick fields. The book ticker's event time wins as the
// observation time; the mark price also backs last_price, matching how
// the upstream data was recorded.
func combineBinanceQuote(book binanceBookTicker, premium binancePremiumIndex) (market.TickFields, time.Time, error) {
	var fields market.TickFields

	bid, err := strconv.ParseFloat(book.BidPrice, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse bidPrice %q: %w", book.BidPrice, err)
	}
	ask, err := strconv.ParseFloat(book.AskPrice, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse askPrice %q: %w", book.AskPrice, err)
	}
	bidQty, err := strconv.ParseFloat(book.BidQty, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse bidQty %q: %w", book.BidQty, err)
	}
	askQty, err := strconv.ParseFloat(book.AskQty, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse askQty %q: %w", book.AskQty, err)
	}
	mark, err := strconv.ParseFloat(premium.MarkPrice, 64)
	if err != nil {
		return fields, time.Time{}, fmt.Errorf("parse markPrice %q: %w", premium.MarkPrice, err)
	}

	fields.BestBid = ptr(bid)
	fields.BestAsk = ptr(ask)
	fields.BestBidQty = ptr(bidQty)
	fields.BestAskQty = ptr(askQty)
	fields.MarkPrice = ptr(mark)
	fields.LastPrice = ptr(mark)

	observedAt := time.UnixMilli(book.Time).UTC()
	return fields, observedAt, nil
}
