// Package market is the narrow market-data adapter (C1): OHLCV candles,
// last price, top-of-book and instrument metadata for one instrument over a
// time window. Implementations are pure I/O; no business logic. Grounded on
// the teacher's internal/binance/interface.go narrow-interface pattern.
package market

import (
	"context"

	"panicker/internal/signal"
)

// ErrKind is the adapter-facing error taxonomy: notFound, rateLimited,
// transient, permission.
type ErrKind string

const (
	ErrNotFound    ErrKind = "not_found"
	ErrRateLimited ErrKind = "rate_limited"
	ErrTransient   ErrKind = "transient"
	ErrPermission  ErrKind = "permission"
)

// Error is the adapter's error shape; callers branch on Kind.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string { return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// OrderBook is the top-of-book snapshot for one instrument.
type OrderBook struct {
	BestBid       float64
	BestAsk       float64
	BidVolume     float64
	AskVolume     float64
	SpreadPercent float64
}

// InstrumentMeta is static per-instrument metadata.
type InstrumentMeta struct {
	Name     string
	LotSize  float64
	Currency string
	Tradable bool
}

// Adapter is the Market-data adapter contract (C1) every implementation
// (real or mock) satisfies.
type Adapter interface {
	LastPrice(ctx context.Context, instrument string) (float64, error)
	Candles(ctx context.Context, instrument string, interval signal.Interval, count int) ([]signal.Candle, error)
	OrderBook(ctx context.Context, instrument string, depth int) (OrderBook, error)
	InstrumentMeta(ctx context.Context, instrument string) (InstrumentMeta, error)
	AllInstruments(ctx context.Context) ([]string, error)
}
