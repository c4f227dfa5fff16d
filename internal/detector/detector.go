// Package detector implements the panic detector (C6): the ten-step
// deterministic state machine that turns one instrument's IndicatorWindow
// into at most one graded PanicSignal per scan tick.
//
// States: START -> GATED -> TYPED -> LEVELED -> FILTERED -> ENRICHED ->
// EMIT/DROP. Every drop at steps 1-8 is an expected outcome, not an error;
// unexpected arithmetic failures are converted to a step-8-equivalent
// internal-error drop so a single bad instrument never stalls the batch.
package detector

import (
	"context"
	"fmt"
	"time"

	"panicker/internal/calendar"
	"panicker/internal/cluster"
	"panicker/internal/filter"
	"panicker/internal/panicerr"
	"panicker/internal/risk"
	"panicker/internal/signal"
)

// LevelThresholds is one row of the compatibility table in spec.md section
// 4.6: only the White row participates in the step 3/4 gates.
type LevelThresholds struct {
	RSIBuy     float64
	RSISell    float64
	VolumeMin  float64
}

// Thresholds bundles the red/yellow/white rows; only White gates step 3/4.
type Thresholds struct {
	Red, Yellow, White LevelThresholds
}

// DefaultThresholds mirrors spec.md's documented table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Red:    LevelThresholds{RSIBuy: 25, RSISell: 75, VolumeMin: 2.0},
		Yellow: LevelThresholds{RSIBuy: 30, RSISell: 70, VolumeMin: 1.5},
		White:  LevelThresholds{RSIBuy: 35, RSISell: 65, VolumeMin: 1.2},
	}
}

// Detector runs the ten-step algorithm for one instrument at a time.
type Detector struct {
	Calendar   *calendar.Calendar
	Filters    filter.Config
	Cluster    *cluster.Analyzer
	Risk       *risk.Calculator
	Thresholds Thresholds
	VolumeSrc  filter.AverageVolumeSource
	Now        func() time.Time
}

// New builds a Detector with the supplied collaborators.
func New(cal *calendar.Calendar, filters filter.Config, clusterAnalyzer *cluster.Analyzer, riskCalc *risk.Calculator, thresholds Thresholds, volumeSrc filter.AverageVolumeSource) *Detector {
	return &Detector{
		Calendar:   cal,
		Filters:    filters,
		Cluster:    clusterAnalyzer,
		Risk:       riskCalc,
		Thresholds: thresholds,
		VolumeSrc:  volumeSrc,
		Now:        time.Now,
	}
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Detect runs steps 1-10 for one instrument's prepared window, returning a
// fully-populated signal on EMIT, or nil on any expected or internal drop.
// err is non-nil only for panicerr.KindInternal conditions; callers should
// treat a nil signal with nil error as a normal, silent drop.
func (d *Detector) Detect(ctx context.Context, w signal.IndicatorWindow) (sig *signal.PanicSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicerr.New(panicerr.KindInternal, w.Instrument, "recover", fmt.Sprintf("%v", r))
			sig = nil
		}
	}()

	// Step 1 - market time.
	open, reason := d.Calendar.IsMarketOpenNow(d.now())
	if !open {
		return nil, nil
	}
	_ = reason

	// Step 2 - data completeness.
	if w.Instrument == "" || w.LastPrice <= 0 || w.VolumeRatio <= 0 {
		return nil, nil
	}
	if isNaN(w.RSI14) || isNaN(w.VolumeRatio) || isNaN(w.LastPrice) {
		return nil, panicerr.New(panicerr.KindInternal, w.Instrument, "step2", "non-finite input")
	}

	white := d.Thresholds.White

	// Step 3 - type from RSI14.
	var sigType signal.Type
	switch {
	case w.RSI14 <= white.RSIBuy:
		sigType = signal.TypePanic
	case w.RSI14 >= white.RSISell:
		sigType = signal.TypeGreed
	default:
		return nil, nil
	}

	// Step 4 - minimum volume.
	if w.VolumeRatio < white.VolumeMin {
		return nil, nil
	}

	// Step 5 - multi-period verification -> baseLevel.
	outside := func(x float64, has bool) bool {
		if !has {
			return false
		}
		if sigType == signal.TypePanic {
			return x < white.RSIBuy
		}
		return x > white.RSISell
	}
	o7 := outside(w.RSI7, w.HasRSI7)
	o14 := outside(w.RSI14, true)
	o21 := outside(w.RSI21, w.HasRSI21)

	var base signal.BaseLevel
	switch {
	case o7 && o14 && o21:
		base = signal.BaseStrong
	case (o7 && o14) || (o14 && o21):
		base = signal.BaseGood
	case o14 && !o7 && !o21:
		base = signal.BaseUrgent
	default:
		base = signal.BaseNone
	}
	if base == signal.BaseNone {
		return nil, nil
	}

	// Step 6 - volume bump: promote one rung, strong absorbing. base keeps
	// the step-5 grade for the emitted signal.
	level := base
	if w.VolumeRatio >= 2.0 {
		level = promote(level)
	}

	// Step 7 - context filters in fixed order, downgrading on each failure.
	var passed, failed []signal.FilterOutcome

	volOut := filter.Volatility(d.Filters, w)
	record(volOut, &passed, &failed)
	if !volOut.Passed {
		level = demote(level)
	}

	trendOut := filter.Trend(d.Filters, w, sigType)
	record(trendOut, &passed, &failed)
	if !trendOut.Passed {
		level = demote(level)
	}

	volumeOut := filter.Volume(ctx, d.Filters, w, d.VolumeSrc)
	record(volumeOut, &passed, &failed)
	if !volumeOut.Passed {
		level = demote(level)
	}

	// Step 8 - finalize level.
	final := finalize(level)
	if final == signal.LevelIgnore {
		return nil, nil
	}

	sig = &signal.PanicSignal{
		Instrument:    w.Instrument,
		DetectedAt:    d.now(),
		SignalType:    sigType,
		RSI7:          w.RSI7,
		RSI14:         w.RSI14,
		RSI21:         w.RSI21,
		HasRSI7:       w.HasRSI7,
		HasRSI21:      w.HasRSI21,
		VolumeRatio:   w.VolumeRatio,
		CurrentVolume: w.CurrentVolume,
		AvgVolume:     w.AvgVolume,
		BaseLevel:     base,
		FinalLevel:    final,
		PassedFilters: passed,
		FailedFilters: failed,
		Price:         w.LastPrice,
		ATR:           w.ATR,
		SMA20:         w.SMA20,
		SpreadPercent: spreadOrDefault(w.SpreadPercent),
	}

	// Step 9 - volume clusters.
	clusters := d.Cluster.Analyze(w.Closes, w.Volumes)
	sig.VolumeClusters = clusters
	sig.ClusterSummary = cluster.Summary(clusters)

	// Step 10 - risk.
	riskMetrics := d.Risk.Calculate(w.RSI14, w.VolumeRatio, w.ATR, sigType)
	sig.Risk = riskMetrics
	sig.RiskInterpretation = riskMetrics.Interpretation
	sig.Interpretation, sig.Recommendation, sig.RiskLevelText = narrate(sigType, final, riskMetrics)

	return sig, nil
}

func spreadOrDefault(v float64) float64 {
	if v == 0 {
		return 0.1
	}
	return v
}

func isNaN(f float64) bool { return f != f }

func record(o filter.Outcome, passed, failed *[]signal.FilterOutcome) {
	if o.Passed {
		*passed = append(*passed, o.ToSignalOutcome())
	} else {
		*failed = append(*failed, o.ToSignalOutcome())
	}
}

// promote moves one rung up {urgent->good->strong}; strong is absorbing.
func promote(l signal.BaseLevel) signal.BaseLevel {
	switch l {
	case signal.BaseUrgent:
		return signal.BaseGood
	case signal.BaseGood:
		return signal.BaseStrong
	default:
		return l
	}
}

// demote moves one rung down {strong->good->urgent->none}.
func demote(l signal.BaseLevel) signal.BaseLevel {
	switch l {
	case signal.BaseStrong:
		return signal.BaseGood
	case signal.BaseGood:
		return signal.BaseUrgent
	case signal.BaseUrgent:
		return signal.BaseNone
	default:
		return l
	}
}

func finalize(l signal.BaseLevel) signal.FinalLevel {
	switch l {
	case signal.BaseStrong:
		return signal.LevelRed
	case signal.BaseGood:
		return signal.LevelYellow
	case signal.BaseUrgent:
		return signal.LevelWhite
	default:
		return signal.LevelIgnore
	}
}

func narrate(sigType signal.Type, final signal.FinalLevel, risk signal.RiskMetrics) (interpretation, recommendation, levelText string) {
	action := "oversold panic"
	if sigType == signal.TypeGreed {
		action = "overbought greed"
	}
	switch final {
	case signal.LevelRed:
		levelText = "STRONG"
		interpretation = fmt.Sprintf("Strong %s signal confirmed across multiple RSI periods", action)
		recommendation = "High-confidence anomaly; consider immediate attention"
	case signal.LevelYellow:
		levelText = "MODERATE"
		interpretation = fmt.Sprintf("Moderate %s signal", action)
		recommendation = "Worth monitoring; confirm with additional context before acting"
	case signal.LevelWhite:
		levelText = "URGENT"
		interpretation = fmt.Sprintf("Early %s signal on a single confirming period", action)
		recommendation = "Low-confidence, time-sensitive; watch for follow-through"
	}
	interpretation = fmt.Sprintf("%s (%s risk)", interpretation, risk.Level)
	return
}
