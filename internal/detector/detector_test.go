package detector

import (
	"context"
	"testing"
	"time"

	"panicker/internal/calendar"
	"panicker/internal/cluster"
	"panicker/internal/filter"
	"panicker/internal/risk"
	"panicker/internal/signal"
)

func newTestDetector(t *testing.T, now time.Time) *Detector {
	t.Helper()
	cal, err := calendar.New(time.UTC, "")
	if err != nil {
		t.Fatalf("calendar.New: %v", err)
	}
	d := New(cal, filter.DefaultConfig(), cluster.New(3), risk.New(2.0), DefaultThresholds(), nil)
	d.Now = func() time.Time { return now }
	return d
}

// a Monday at 12:00 UTC is inside the active zone and market hours.
var openMoment = time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

func baseWindow() signal.IndicatorWindow {
	return signal.IndicatorWindow{
		Instrument:  "TEST",
		Closes:      []float64{300, 302, 305, 308, 310},
		Volumes:     []float64{10, 12, 11, 13, 14},
		RSI7:        22,
		HasRSI7:     true,
		RSI14:       24,
		RSI21:       26,
		HasRSI21:    true,
		ATR:         5.0,
		AvgATR:      3.0,
		SMA20:       305.0,
		VolumeRatio: 2.3,
		LastPrice:   310.0,
	}
}

func TestStrongPanicAllFiltersPass(t *testing.T) {
	d := newTestDetector(t, openMoment)
	sig, err := d.Detect(context.Background(), baseWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal to be emitted")
	}
	if sig.SignalType != signal.TypePanic {
		t.Errorf("expected panic, got %v", sig.SignalType)
	}
	if sig.BaseLevel != signal.BaseStrong {
		t.Errorf("expected strong base level, got %v", sig.BaseLevel)
	}
	if sig.FinalLevel != signal.LevelRed {
		t.Errorf("expected red final level, got %v", sig.FinalLevel)
	}
	if sig.Risk.Score <= 0 {
		t.Errorf("expected positive risk score, got %v", sig.Risk.Score)
	}
}

func TestModerateGreedOneFailedFilter(t *testing.T) {
	d := newTestDetector(t, openMoment)
	w := signal.IndicatorWindow{
		Instrument:  "TEST",
		Closes:      []float64{200, 202, 204, 206, 205},
		Volumes:     []float64{10, 12, 11, 13, 14},
		RSI7:        40,
		HasRSI7:     true,
		RSI14:       72,
		RSI21:       73,
		HasRSI21:    true,
		ATR:         3.0,
		AvgATR:      3.0,
		SMA20:       200.0,
		VolumeRatio: 1.6,
		LastPrice:   205.0,
	}
	sig, err := d.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal to be emitted")
	}
	if sig.BaseLevel != signal.BaseGood {
		t.Errorf("expected good base level, got %v", sig.BaseLevel)
	}
	if sig.FinalLevel != signal.LevelWhite {
		t.Errorf("expected white final level after one downgrade, got %v", sig.FinalLevel)
	}
}

func TestUrgentWithWeakVolumePumpPromotesToGood(t *testing.T) {
	d := newTestDetector(t, openMoment)
	w := signal.IndicatorWindow{
		Instrument:  "TEST",
		Closes:      []float64{300, 302, 305, 308, 310},
		Volumes:     []float64{10, 12, 11, 13, 14},
		RSI7:        40,
		HasRSI7:     true,
		RSI14:       28,
		RSI21:       45,
		HasRSI21:    true,
		ATR:         5.0,
		AvgATR:      3.0,
		SMA20:       305.0,
		VolumeRatio: 2.1,
		LastPrice:   310.0,
	}
	sig, err := d.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal to be emitted")
	}
	if sig.FinalLevel != signal.LevelYellow {
		t.Errorf("expected yellow final level, got %v", sig.FinalLevel)
	}
}

func TestRSINormalRangeDropsAtStep3(t *testing.T) {
	d := newTestDetector(t, openMoment)
	w := baseWindow()
	w.RSI14 = 50
	w.RSI7, w.RSI21 = 50, 50
	w.VolumeRatio = 3.0
	sig, err := d.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no signal when rsi14 is in the normal range")
	}
}

func TestMarketClosedDropsAtStep1(t *testing.T) {
	closed := time.Date(2026, 8, 3, 19, 30, 0, 0, time.UTC)
	d := newTestDetector(t, closed)
	sig, err := d.Detect(context.Background(), baseWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no signal when market is closed")
	}
}

func TestDeterministicExcludingDetectedAt(t *testing.T) {
	d := newTestDetector(t, openMoment)
	a, _ := d.Detect(context.Background(), baseWindow())
	b, _ := d.Detect(context.Background(), baseWindow())
	if a == nil || b == nil {
		t.Fatal("expected both runs to emit a signal")
	}
	if a.FinalLevel != b.FinalLevel || a.Risk.Score != b.Risk.Score || a.BaseLevel != b.BaseLevel {
		t.Errorf("expected deterministic output for identical inputs")
	}
}
