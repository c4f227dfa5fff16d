// Package indicator is the pure numerical kernel (C2): RSI, ATR, SMA, EMA and
// volume ratio. Every function allocates a fresh output slice and never
// mutates its inputs, matching the teacher's internal/strategy/indicators.go
// style, but with Wilder-exact smoothing for RSI and ATR as original_source's
// core/indicators.py defines it rather than the teacher's simplified windowed
// averages.
package indicator

import "math"

// Undefined marks a position in an indicator output where not enough
// history was available yet.
const Undefined = math.MaxFloat64

// RSI computes the Wilder-smoothed Relative Strength Index over closes.
// Output length equals len(closes); the first `period` entries are
// Undefined. avgLoss == 0 over the seed window yields RSI 100; avgGain == 0
// yields RSI 0.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = Undefined
	}
	if len(closes) <= period || period <= 0 {
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	if avgGain == 0 {
		return 0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ATR computes the Wilder-smoothed Average True Range. True range at index i
// is max(h-l, |h-prevClose|, |l-prevClose|). The first `period` entries are
// Undefined (there is no true range at index 0, and the seed average needs
// `period` of them).
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	out := make([]float64, n)
	for i := range out {
		out[i] = Undefined
	}
	if n != len(lows) || n != len(closes) || n <= period || period <= 0 {
		return out
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr

	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// SMA is the straight mean of the last `period` values, Undefined where
// fewer values are available.
func SMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is seeded with SMA(first period) at index period-1 and recurses
// forward with smoothing factor 2/(period+1).
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 || len(values) < period {
		return out
	}
	sma := SMA(values, period)
	out[period-1] = sma[period-1]
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// VolumeRatio is currentVolume divided by the mean of historicalVolumes.
// Returns 1.0 if the history is empty or its mean is 0.
func VolumeRatio(currentVolume float64, historicalVolumes []float64) float64 {
	if len(historicalVolumes) == 0 {
		return 1.0
	}
	var sum float64
	for _, v := range historicalVolumes {
		sum += v
	}
	mean := sum / float64(len(historicalVolumes))
	if mean == 0 {
		return 1.0
	}
	return currentVolume / mean
}
