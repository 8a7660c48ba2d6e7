package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"klinecast/internal/domain/models"
	drepo "klinecast/internal/domain/repository"
	phttp "klinecast/pkg/http"
	"klinecast/pkg/logger"
)

const klinesEndpoint = "/api/v3/klines"

// Client fetches minute klines from the Binance public REST API. No
// authentication is required for market data.
type Client struct {
	baseURL    string
	interval   string
	limit      int
	maxRetries int
	retryBase  time.Duration
	retryCap   time.Duration
	batchPause time.Duration
	timeout    time.Duration

	client *phttp.Client
	logger *logger.Logger
}

// Option configures Client.
type Option func(*Client)

// WithRetry sets retry attempts and the backoff base/cap.
func WithRetry(attempts int, base, cap time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = attempts
		c.retryBase = base
		c.retryCap = cap
	}
}

// WithRequestLimit caps candles per request (upstream max 1000).
func WithRequestLimit(limit int) Option {
	return func(c *Client) {
		if limit > 0 && limit <= 1000 {
			c.limit = limit
		}
	}
}

// WithBatchPause sets the pause between windowed requests.
func WithBatchPause(d time.Duration) Option {
	return func(c *Client) {
		c.batchPause = d
	}
}

// WithHTTPTimeout sets the per-request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a Binance kline source.
func New(baseURL, interval string, lgr *logger.Logger, opts ...Option) drepo.Source {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		interval:   interval,
		limit:      1000,
		maxRetries: 3,
		retryBase:  time.Second,
		retryCap:   30 * time.Second,
		batchPause: 100 * time.Millisecond,
		timeout:    30 * time.Second,
		logger:     lgr,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = phttp.NewClient(phttp.WithTimeout(c.timeout))
	return c
}

// Klines fetches all minute candles in [startMs, endMs], walking the
// range in windows of the per-request cap. The returned slice is
// ascending and contiguous as served by the exchange.
func (c *Client) Klines(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Candle, error) {
	var all []models.Candle
	current := startMs

	for current <= endMs {
		batch, err := c.fetchWindow(ctx, symbol, current, endMs)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)

		// Advance past the last candle of this window.
		current = batch[len(batch)-1].CloseTime + 1

		if len(batch) < c.limit {
			break // upstream has no more data in range
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.batchPause):
		}
	}

	return all, nil
}

// fetchWindow requests one window with bounded exponential backoff on
// transient failures.
func (c *Client) fetchWindow(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Candle, error) {
	var lastErr error
	delay := c.retryBase

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.retryCap {
				delay = c.retryCap
			}
		}

		batch, retryable, err := c.doRequest(ctx, symbol, startMs, endMs)
		if err == nil {
			return batch, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn("binance request failed, retrying",
			logger.String("symbol", symbol),
			logger.Int("attempt", attempt+1),
			logger.Error(err))
	}

	return nil, fmt.Errorf("binance klines %s after %d retries: %w", symbol, c.maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Candle, bool, error) {
	resp, err := c.client.Get(ctx, c.baseURL+klinesEndpoint, url.Values{
		"symbol":    {strings.ToUpper(symbol)},
		"interval":  {c.interval},
		"limit":     {strconv.Itoa(c.limit)},
		"startTime": {strconv.FormatInt(startMs, 10)},
		"endTime":   {strconv.FormatInt(endMs, 10)},
	})
	if err != nil {
		return nil, true, fmt.Errorf("binance request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("binance status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("binance status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows [][]interface{}
	if err := dec.Decode(&rows); err != nil {
		return nil, false, fmt.Errorf("decode klines: %w", models.ErrUpstreamProtocol)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return nil, false, err
		}
		candles = append(candles, candle)
	}
	return candles, false, nil
}

// parseKline converts one upstream array tuple:
// [openTime, open, high, low, close, volume, closeTime,
//  quoteAssetVolume, trades, takerBuyBase, takerBuyQuote, ignore]
func parseKline(row []interface{}) (models.Candle, error) {
	if len(row) < 11 {
		return models.Candle{}, fmt.Errorf("kline tuple has %d fields: %w", len(row), models.ErrUpstreamProtocol)
	}

	p := fieldParser{row: row}
	c := models.Candle{
		OpenTime:                 p.int64At(0),
		Open:                     p.floatAt(1),
		High:                     p.floatAt(2),
		Low:                      p.floatAt(3),
		Close:                    p.floatAt(4),
		Volume:                   p.floatAt(5),
		CloseTime:                p.int64At(6),
		QuoteAssetVolume:         p.floatAt(7),
		NumberOfTrades:           p.int64At(8),
		TakerBuyBaseAssetVolume:  p.floatAt(9),
		TakerBuyQuoteAssetVolume: p.floatAt(10),
	}
	if p.err != nil {
		return models.Candle{}, fmt.Errorf("parse kline: %v: %w", p.err, models.ErrUpstreamProtocol)
	}
	return c, nil
}

// fieldParser pulls typed fields out of the decoded tuple, keeping the
// first conversion error.
type fieldParser struct {
	row []interface{}
	err error
}

func (p *fieldParser) int64At(i int) int64 {
	if p.err != nil {
		return 0
	}
	n, ok := p.row[i].(json.Number)
	if !ok {
		p.err = fmt.Errorf("field %d: expected number, got %T", i, p.row[i])
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		p.err = fmt.Errorf("field %d: %v", i, err)
	}
	return v
}

func (p *fieldParser) floatAt(i int) float64 {
	if p.err != nil {
		return 0
	}
	switch t := p.row[i].(type) {
	case string:
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			p.err = fmt.Errorf("field %d: %v", i, err)
		}
		return v
	case json.Number:
		v, err := t.Float64()
		if err != nil {
			p.err = fmt.Errorf("field %d: %v", i, err)
		}
		return v
	default:
		p.err = fmt.Errorf("field %d: expected string or number, got %T", i, p.row[i])
		return 0
	}
}
