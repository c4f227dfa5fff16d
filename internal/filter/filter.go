// Package filter implements the four context filters (C3): independent
// predicates over a prepared IndicatorWindow, each returning pass/fail and a
// short reason. Filter order for downgrade accounting is fixed at
// [volatility, trend, volume]; "time" is a market-open precondition handled
// by the detector's step 1, not a step-7 filter (see spec.md's open question
// on filter ordering).
package filter

import (
	"context"
	"fmt"
	"time"

	"panicker/internal/calendar"
	"panicker/internal/signal"
)

// Outcome is a filter's pass/fail decision with its human-readable reason.
type Outcome struct {
	Name   string
	Passed bool
	Reason string
}

// Config carries the tunable thresholds for the volatility/trend/volume
// filters, per spec.md section 6's configuration surface.
type Config struct {
	VolatilityMinRatio        float64
	VolatilityMinAbsoluteATR  float64
	TrendMAPeriod             int
	TrendRequireAlignment     bool
	VolumeMinRatio            float64
}

// DefaultConfig mirrors spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		VolatilityMinRatio:       0.8,
		VolatilityMinAbsoluteATR: 0.5,
		TrendMAPeriod:            20,
		TrendRequireAlignment:    true,
		VolumeMinRatio:           1.5,
	}
}

// AverageVolumeSource fetches a historical average volume for an instrument,
// used by the volume filter when volumeRatio is unavailable on the window.
// The scanner's implementation caches the average in C8's local tier, under
// that tier's TTL, in front of C1.
type AverageVolumeSource interface {
	AverageVolume(ctx context.Context, instrument string) (float64, error)
}

// Time passes iff the market is open now and the instant is within the
// active zone.
func Time(cal *calendar.Calendar, now time.Time) Outcome {
	open, reason := cal.IsMarketOpenNow(now)
	if !open {
		return Outcome{Name: "time", Passed: false, Reason: reason}
	}
	if !cal.InActiveZone(now) {
		return Outcome{Name: "time", Passed: false, Reason: "outside active zone"}
	}
	return Outcome{Name: "time", Passed: true, Reason: "within active zone"}
}

// Volatility passes iff atr >= minRatio*avgAtr and atr/price*100 >= minAbsoluteATRPct.
func Volatility(cfg Config, w signal.IndicatorWindow) Outcome {
	if w.AvgATR <= 0 {
		return Outcome{Name: "volatility", Passed: false, Reason: "no average ATR available"}
	}
	ratio := w.ATR / w.AvgATR
	if ratio < cfg.VolatilityMinRatio {
		return Outcome{Name: "volatility", Passed: false, Reason: fmt.Sprintf("atr/avgAtr %.3f below %.3f", ratio, cfg.VolatilityMinRatio)}
	}
	if w.LastPrice <= 0 {
		return Outcome{Name: "volatility", Passed: false, Reason: "no price available"}
	}
	atrPct := w.ATR / w.LastPrice * 100
	if atrPct < cfg.VolatilityMinAbsoluteATR {
		return Outcome{Name: "volatility", Passed: false, Reason: fmt.Sprintf("atr%% %.3f below %.3f", atrPct, cfg.VolatilityMinAbsoluteATR)}
	}
	return Outcome{Name: "volatility", Passed: true, Reason: "sufficient volatility"}
}

// Trend maps signalType to an action (panic->buy, greed->sell) and checks
// price against sma20.
func Trend(cfg Config, w signal.IndicatorWindow, signalType signal.Type) Outcome {
	if !cfg.TrendRequireAlignment {
		return Outcome{Name: "trend", Passed: true, Reason: "trend alignment not required"}
	}
	if signalType == signal.TypePanic {
		if w.LastPrice > w.SMA20 {
			return Outcome{Name: "trend", Passed: true, Reason: "price above sma20, buy-aligned"}
		}
		return Outcome{Name: "trend", Passed: false, Reason: "price not above sma20"}
	}
	if w.LastPrice < w.SMA20 {
		return Outcome{Name: "trend", Passed: true, Reason: "price below sma20, sell-aligned"}
	}
	return Outcome{Name: "trend", Passed: false, Reason: "price not below sma20"}
}

// Volume passes iff volumeRatio >= minVolumeRatio. When volumeRatio is
// unavailable it falls back to src (typically C8 in front of C1) to fetch
// the historical average volume.
func Volume(ctx context.Context, cfg Config, w signal.IndicatorWindow, src AverageVolumeSource) Outcome {
	ratio := w.VolumeRatio
	if ratio <= 0 && src != nil {
		avg, err := src.AverageVolume(ctx, w.Instrument)
		if err == nil && avg > 0 {
			ratio = w.CurrentVolume / avg
		}
	}
	if ratio < cfg.VolumeMinRatio {
		return Outcome{Name: "volume", Passed: false, Reason: fmt.Sprintf("volumeRatio %.3f below %.3f", ratio, cfg.VolumeMinRatio)}
	}
	return Outcome{Name: "volume", Passed: true, Reason: "sufficient volume"}
}

// ToSignalOutcome converts a filter Outcome into the signal package's
// FilterOutcome shape used by PassedFilters/FailedFilters.
func (o Outcome) ToSignalOutcome() signal.FilterOutcome {
	return signal.FilterOutcome{Filter: o.Name, Reason: o.Reason}
}
