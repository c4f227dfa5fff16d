// Package risk is the risk scorer (C5): combines RSI deviation, volume
// ratio and ATR ratio into a 0-100 score with a categorical level. Grounded
// on original_source/core/risk_metrics.py's RiskCalculator.
package risk

import (
	"fmt"
	"math"

	"panicker/internal/signal"
)

// DefaultATRNormal is the baseline ATR used to normalize the volatility
// component when no override is configured.
const DefaultATRNormal = 2.0

// Calculator scores detector inputs into a RiskMetrics value.
type Calculator struct {
	ATRNormal float64
}

// New builds a Calculator with the given ATR baseline.
func New(atrNormal float64) *Calculator {
	if atrNormal <= 0 {
		atrNormal = DefaultATRNormal
	}
	return &Calculator{ATRNormal: atrNormal}
}

// Calculate scores rsi/volumeRatio/atr for a signal of the given type.
func (c *Calculator) Calculate(rsi, volumeRatio, atr float64, signalType signal.Type) signal.RiskMetrics {
	rsiComponent := math.Abs(rsi-50) / 50
	if rsiComponent > 1.0 {
		rsiComponent = 1.0 + (rsiComponent-1.0)*0.5
	}

	volumeComponent := math.Log2(volumeRatio + 1)
	if volumeComponent > 2.0 {
		volumeComponent = 2.0
	}
	volumeComponent /= 2.0

	volatilityComponent := atr / c.ATRNormal
	if volatilityComponent > 3.0 {
		volatilityComponent = 3.0
	}
	volatilityComponent /= 3.0

	var score float64
	if rsiComponent != 0 {
		score = rsiComponent * volumeComponent * volatilityComponent * 100
	}

	level := levelFor(score)
	interpretation := interpret(rsiComponent, volumeComponent, volatilityComponent, level, signalType)

	return signal.RiskMetrics{
		Score:               score,
		Level:               level,
		RSIComponent:        rsiComponent,
		VolumeComponent:     volumeComponent,
		VolatilityComponent: volatilityComponent,
		Interpretation:      interpretation,
	}
}

func levelFor(score float64) signal.RiskLevel {
	switch {
	case score <= 10:
		return signal.RiskVeryLow
	case score <= 25:
		return signal.RiskLow
	case score <= 50:
		return signal.RiskModerate
	case score <= 75:
		return signal.RiskHigh
	case score <= 90:
		return signal.RiskVeryHigh
	default:
		return signal.RiskExtreme
	}
}

// interpret names the dominant component (largest of the three, scaled to a
// comparable 0-100 range) in the interpretation text.
func interpret(rsiComponent, volumeComponent, volatilityComponent float64, level signal.RiskLevel, signalType signal.Type) string {
	rsiScaled := rsiComponent * 100
	volScaled := volumeComponent * 100
	atrScaled := volatilityComponent * 100

	dominant := "RSI deviation"
	max := rsiScaled
	if volScaled > max {
		dominant = "volume surge"
		max = volScaled
	}
	if atrScaled > max {
		dominant = "volatility expansion"
		max = atrScaled
	}

	action := "panic selling"
	if signalType == signal.TypeGreed {
		action = "greedy buying"
	}

	return fmt.Sprintf("%s risk, driven mainly by %s, during a %s episode", level, dominant, action)
}
