package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"panicker/internal/signal"
)

// HTTPClient polls a REST exchange gateway for candles/prices, matching the
// teacher's internal/binance.Client shape but against a generic OHLCV
// endpoint rather than Binance specifically. Every call is retried with
// exponential backoff, at most 3 attempts in all (maxRetries counts the
// retries after the first call), per spec.md section 7's transient-adapter
// policy.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// NewHTTPClient builds a real adapter against baseURL with the given
// per-call timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 2,
	}
}

var _ Adapter = (*HTTPClient)(nil)

func (c *HTTPClient) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if adapterErr, ok := err.(*Error); ok && adapterErr.Kind != ErrTransient && adapterErr.Kind != ErrRateLimited {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &Error{Kind: ErrPermission, Op: path, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: ErrTransient, Op: path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: ErrNotFound, Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: ErrRateLimited, Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: ErrPermission, Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &Error{Kind: ErrTransient, Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &Error{Kind: ErrPermission, Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: ErrTransient, Op: path, Err: err}
	}
	return nil
}

type wireCandle struct {
	OpenTime int64   `json:"openTime"`
	Open     float64 `json:"open,string"`
	High     float64 `json:"high,string"`
	Low      float64 `json:"low,string"`
	Close    float64 `json:"close,string"`
	Volume   float64 `json:"volume,string"`
	Complete bool    `json:"complete"`
}

func (c *HTTPClient) Candles(ctx context.Context, instrument string, interval signal.Interval, count int) ([]signal.Candle, error) {
	var wire []wireCandle
	err := c.withRetry(ctx, "Candles", func() error {
		path := fmt.Sprintf("/candles?instrument=%s&interval=%s&limit=%d", instrument, interval, count)
		return c.getJSON(ctx, path, &wire)
	})
	if err != nil {
		return nil, err
	}
	out := make([]signal.Candle, len(wire))
	for i, w := range wire {
		out[i] = signal.Candle{
			Instrument: instrument,
			OpenTime:   time.UnixMilli(w.OpenTime),
			Open:       w.Open,
			High:       w.High,
			Low:        w.Low,
			Close:      w.Close,
			Volume:     w.Volume,
			Interval:   interval,
			Complete:   w.Complete,
		}
	}
	return out, nil
}

func (c *HTTPClient) LastPrice(ctx context.Context, instrument string) (float64, error) {
	var wire struct {
		Price string `json:"price"`
	}
	err := c.withRetry(ctx, "LastPrice", func() error {
		return c.getJSON(ctx, "/price?instrument="+instrument, &wire)
	})
	if err != nil {
		return 0, err
	}
	price, parseErr := strconv.ParseFloat(wire.Price, 64)
	if parseErr != nil {
		return 0, &Error{Kind: ErrTransient, Op: "LastPrice", Err: parseErr}
	}
	return price, nil
}

func (c *HTTPClient) OrderBook(ctx context.Context, instrument string, depth int) (OrderBook, error) {
	var wire OrderBook
	err := c.withRetry(ctx, "OrderBook", func() error {
		path := fmt.Sprintf("/depth?instrument=%s&limit=%d", instrument, depth)
		return c.getJSON(ctx, path, &wire)
	})
	return wire, err
}

func (c *HTTPClient) InstrumentMeta(ctx context.Context, instrument string) (InstrumentMeta, error) {
	var wire InstrumentMeta
	err := c.withRetry(ctx, "InstrumentMeta", func() error {
		return c.getJSON(ctx, "/meta?instrument="+instrument, &wire)
	})
	return wire, err
}

func (c *HTTPClient) AllInstruments(ctx context.Context) ([]string, error) {
	var wire []string
	err := c.withRetry(ctx, "AllInstruments", func() error {
		return c.getJSON(ctx, "/instruments", &wire)
	})
	return wire, err
}
