package market

import (
	"context"
	"testing"

	"panicker/internal/signal"
)

func TestMockLastPrice(t *testing.T) {
	m := NewMock([]string{"BTCUSDT"})
	price, err := m.LastPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price <= 0 {
		t.Errorf("expected positive price, got %v", price)
	}
}

func TestMockLastPriceUnknownInstrumentFallsBack(t *testing.T) {
	m := NewMock([]string{"BTCUSDT"})
	price, err := m.LastPrice(context.Background(), "DOESNOTEXIST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 100.0 {
		t.Errorf("expected fallback price 100.0, got %v", price)
	}
}

func TestMockCandlesCountAndOrdering(t *testing.T) {
	m := NewMock([]string{"ETHUSDT"})
	candles, err := m.Candles(context.Background(), "ETHUSDT", signal.Interval5m, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 30 {
		t.Fatalf("expected 30 candles, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			t.Errorf("expected candle %d to be after candle %d chronologically", i, i-1)
		}
	}
}

func TestMockOrderBookSpread(t *testing.T) {
	m := NewMock([]string{"BTCUSDT"})
	ob, err := m.OrderBook(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ob.BestAsk <= ob.BestBid {
		t.Errorf("expected ask %v > bid %v", ob.BestAsk, ob.BestBid)
	}
}

func TestMockAllInstruments(t *testing.T) {
	m := NewMock([]string{"BTCUSDT", "ETHUSDT"})
	all, err := m.AllInstruments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 instruments, got %d", len(all))
	}
}

var _ Adapter = (*Mock)(nil)
