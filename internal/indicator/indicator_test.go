package indicator

import (
	"math"
	"testing"
)

func TestRSILength(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi := RSI(closes, 14)
	if len(rsi) != len(closes) {
		t.Fatalf("expected len %d, got %d", len(closes), len(rsi))
	}
	for i := 0; i < 14; i++ {
		if rsi[i] != Undefined {
			t.Errorf("expected undefined at %d, got %v", i, rsi[i])
		}
	}
}

func TestRSIMonotonicIncreasingConverges(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi := RSI(closes, 14)
	last := rsi[len(rsi)-1]
	if math.Abs(last-100) > 1e-6 {
		t.Errorf("expected RSI to converge to 100 for strictly increasing series, got %v", last)
	}
}

func TestRSIMonotonicDecreasingConverges(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	rsi := RSI(closes, 14)
	last := rsi[len(rsi)-1]
	if math.Abs(last-0) > 1e-6 {
		t.Errorf("expected RSI to converge to 0 for strictly decreasing series, got %v", last)
	}
}

func TestATRZeroWhenFlat(t *testing.T) {
	n := 20
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := range highs {
		highs[i] = 100
		lows[i] = 100
		closes[i] = 100
	}
	atr := ATR(highs, lows, closes, 14)
	if atr[n-1] != 0 {
		t.Errorf("expected atr 0 for flat series, got %v", atr[n-1])
	}
}

func TestATRNonNegative(t *testing.T) {
	highs := []float64{101, 103, 99, 105, 110, 108, 112, 115, 111, 120, 118, 122, 125, 121, 130}
	lows := []float64{99, 100, 95, 101, 104, 103, 106, 109, 105, 112, 110, 114, 118, 112, 120}
	closes := []float64{100, 101, 97, 103, 107, 105, 110, 112, 108, 117, 115, 119, 122, 116, 126}
	atr := ATR(highs, lows, closes, 5)
	for i, v := range atr {
		if v == Undefined {
			continue
		}
		if v < 0 {
			t.Errorf("atr[%d] negative: %v", i, v)
		}
	}
}

func TestSMAMatchesMean(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7}
	sma := SMA(values, 3)
	want := (5.0 + 6.0 + 7.0) / 3.0
	if math.Abs(sma[6]-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, sma[6])
	}
	if sma[0] != Undefined || sma[1] != Undefined {
		t.Errorf("expected undefined prefix")
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7}
	ema := EMA(values, 3)
	sma := SMA(values, 3)
	if ema[2] != sma[2] {
		t.Errorf("expected EMA seeded with SMA at index period-1: %v != %v", ema[2], sma[2])
	}
}

func TestVolumeRatioDefaults(t *testing.T) {
	if r := VolumeRatio(100, nil); r != 1.0 {
		t.Errorf("expected 1.0 for empty history, got %v", r)
	}
	if r := VolumeRatio(100, []float64{0, 0}); r != 1.0 {
		t.Errorf("expected 1.0 for zero-mean history, got %v", r)
	}
	if r := VolumeRatio(200, []float64{100, 100}); math.Abs(r-2.0) > 1e-9 {
		t.Errorf("expected 2.0, got %v", r)
	}
}
