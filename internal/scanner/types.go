// Package scanner is the scan orchestrator (C10): a periodic,
// market-calendar-gated loop that fans work across the configured
// instrument set, feeds each one through the detection pipeline, and
// funnels produced signals to persistence and notification. Grounded on the
// teacher's internal/scanner.Scanner worker-pool loop (runScanLoop, a
// symbolChan/resultChan worker pool, sorted/limited results), generalized
// from strategy proximity scanning to panic-detector scanning.
package scanner

import "time"

// Config is the scan orchestrator's tunable surface, per spec.md section 6.
type Config struct {
	ScanInterval   time.Duration
	CooldownClosed time.Duration
	RequestDelay   time.Duration
	MaxWorkers     int
	AdapterTimeout time.Duration
	CandleInterval string
	CandleCount    int
}

// DefaultConfig mirrors spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:   60 * time.Second,
		CooldownClosed: 300 * time.Second,
		RequestDelay:   200 * time.Millisecond,
		MaxWorkers:     8,
		AdapterTimeout: 10 * time.Second,
		CandleInterval: "5m",
		CandleCount:    60,
	}
}

// Result summarizes one completed scan tick, mirroring the teacher's
// ScanResult shape.
type Result struct {
	ScanID         string
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	TotalScanned   int
	SignalsFound   int
	BadInstruments []string
}
