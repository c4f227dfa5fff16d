package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"panicker/internal/signal"
)

// Mock provides simulated market data for development/testing, matching the
// teacher's internal/binance.MockClient shape: a random-walk price per
// instrument, regenerated candle history, and stable instrument metadata.
type Mock struct {
	mu     sync.RWMutex
	prices map[string]float64
	last   time.Time
}

// NewMock builds a Mock seeded with a handful of instruments at plausible
// starting prices.
func NewMock(instruments []string) *Mock {
	m := &Mock{prices: make(map[string]float64), last: time.Now()}
	base := 100.0
	for i, sym := range instruments {
		m.prices[sym] = base + float64(i)*7.5
	}
	return m
}

var _ Adapter = (*Mock)(nil)

func (m *Mock) walk() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.last) < time.Second {
		return
	}
	for sym, price := range m.prices {
		change := (rand.Float64() - 0.5) * 0.01
		m.prices[sym] = price * (1 + change)
	}
	m.last = time.Now()
}

func (m *Mock) price(instrument string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.prices[instrument]; ok {
		return p
	}
	return 100.0
}

func (m *Mock) LastPrice(ctx context.Context, instrument string) (float64, error) {
	m.walk()
	return m.price(instrument), nil
}

func (m *Mock) Candles(ctx context.Context, instrument string, interval signal.Interval, count int) ([]signal.Candle, error) {
	m.walk()
	base := m.price(instrument)

	var step time.Duration
	switch interval {
	case signal.Interval1m:
		step = time.Minute
	case signal.Interval5m:
		step = 5 * time.Minute
	case signal.Interval15m:
		step = 15 * time.Minute
	case signal.IntervalHour:
		step = time.Hour
	case signal.IntervalDay:
		step = 24 * time.Hour
	default:
		step = time.Minute
	}

	out := make([]signal.Candle, count)
	now := time.Now()
	current := base
	for i := count - 1; i >= 0; i-- {
		openTime := now.Add(-time.Duration(count-i) * step)
		volatility := 0.02
		open := current
		change := (rand.Float64() - 0.5) * volatility * 2
		closePrice := open * (1 + change)
		high := math.Max(open, closePrice) * (1 + rand.Float64()*volatility*0.5)
		low := math.Min(open, closePrice) * (1 - rand.Float64()*volatility*0.5)
		volume := base * (1000 + rand.Float64()*5000) / base

		out[i] = signal.Candle{
			Instrument: instrument,
			OpenTime:   openTime,
			Open:       open,
			High:       high,
			Low:        low,
			Close:      closePrice,
			Volume:     volume,
			Interval:   interval,
			Complete:   true,
		}
		current = closePrice
	}
	return out, nil
}

func (m *Mock) OrderBook(ctx context.Context, instrument string, depth int) (OrderBook, error) {
	price := m.price(instrument)
	spread := price * 0.001
	return OrderBook{
		BestBid:       price - spread/2,
		BestAsk:       price + spread/2,
		BidVolume:     1000,
		AskVolume:     1000,
		SpreadPercent: 0.1,
	}, nil
}

func (m *Mock) InstrumentMeta(ctx context.Context, instrument string) (InstrumentMeta, error) {
	return InstrumentMeta{Name: instrument, LotSize: 1, Currency: "USD", Tradable: true}, nil
}

func (m *Mock) AllInstruments(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.prices))
	for sym := range m.prices {
		out = append(out, sym)
	}
	return out, nil
}
