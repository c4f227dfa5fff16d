package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"panicker/internal/cache"
	"panicker/internal/calendar"
	"panicker/internal/detector"
	"panicker/internal/filter"
	"panicker/internal/indicator"
	"panicker/internal/logging"
	"panicker/internal/market"
	"panicker/internal/notification"
	"panicker/internal/signal"
)

// SignalStore is the narrow persistence contract the scan orchestrator
// needs from C9, satisfied by *store.Repository and, in tests, by a
// hand-written fake.
type SignalStore interface {
	Save(ctx context.Context, sig *signal.PanicSignal) error
}

const (
	rsiShortPeriod  = 7
	rsiMainPeriod   = 14
	rsiLongPeriod   = 21
	atrPeriod       = 14
	smaPeriod       = 20
	avgATRWindow    = 20
	volumeHistoryN  = 20
	orderBookDepth  = 5
)

func signalInterval(s string) signal.Interval {
	switch s {
	case "1m":
		return signal.Interval1m
	case "15m":
		return signal.Interval15m
	case "hour":
		return signal.IntervalHour
	case "day":
		return signal.IntervalDay
	default:
		return signal.Interval5m
	}
}

// OnSignal is invoked for every emitted red-level signal, also when
// persisting it failed, used to feed C11's streamSignals server push.
type OnSignal func(*signal.PanicSignal)

// Scanner is the scan orchestrator (C10).
type Scanner struct {
	adapter   market.Adapter
	local     *cache.Local
	redis     *cache.RedisTier
	detector  *detector.Detector
	repo      SignalStore
	notifier  *notification.Manager
	calendar  *calendar.Calendar
	volumeSrc *volumeSource
	cfg       Config
	log       logging.Logger
	onSignal  OnSignal

	instruments []string

	mu            sync.Mutex
	ignoreUntil   map[string]time.Time
	badInstrument map[string]bool
	inFlight      bool
	lastResult    *Result

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scanner with the supplied collaborators.
func New(
	adapter market.Adapter,
	local *cache.Local,
	redis *cache.RedisTier,
	det *detector.Detector,
	repo SignalStore,
	notifier *notification.Manager,
	cal *calendar.Calendar,
	cfg Config,
	instruments []string,
	log logging.Logger,
) *Scanner {
	return &Scanner{
		adapter:       adapter,
		local:         local,
		redis:         redis,
		detector:      det,
		repo:          repo,
		notifier:      notifier,
		calendar:      cal,
		volumeSrc:     newVolumeSource(adapter, local, cfg),
		cfg:           cfg,
		log:           log.WithComponent("scanner"),
		instruments:   instruments,
		ignoreUntil:   make(map[string]time.Time),
		badInstrument: make(map[string]bool),
		stopCh:        make(chan struct{}),
	}
}

// SetOnSignal registers the callback invoked for every red-level signal, used
// to drive C11's streamSignals server push.
func (s *Scanner) SetOnSignal(fn OnSignal) { s.onSignal = fn }

// VolumeSource exposes the scanner's cached average-volume lookup so the
// detector's volume filter can share C8's cache instead of hitting C1
// directly, per spec.md section 4.3's volume filter fallback.
func (s *Scanner) VolumeSource() filter.AverageVolumeSource { return s.volumeSrc }

// IgnoreInstrument adds instrument to the in-memory ignore map for
// durationHours, per spec.md's ignoreInstrument operation. Not persisted
// across restarts.
func (s *Scanner) IgnoreInstrument(instrument string, durationHours float64) time.Time {
	until := time.Now().Add(time.Duration(durationHours * float64(time.Hour)))
	s.mu.Lock()
	s.ignoreUntil[instrument] = until
	s.mu.Unlock()
	return until
}

func (s *Scanner) ignoreSnapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[string]time.Time, len(s.ignoreUntil))
	for k, v := range s.ignoreUntil {
		snap[k] = v
	}
	return snap
}

// LastResult returns the most recently completed scan's summary.
func (s *Scanner) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// BadInstruments returns the instruments marked bad by a permanent adapter
// error during the most recent run, for surfacing via stats.
func (s *Scanner) BadInstruments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.badInstrument))
	for k := range s.badInstrument {
		out = append(out, k)
	}
	return out
}

// Start begins the periodic scan loop. Ticks that fire while the previous
// tick's fan-out is still in flight are skipped (no overlap).
func (s *Scanner) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.runLoop(ctx)
}

// Stop signals the loop to exit and waits up to a bounded deadline for
// in-flight work to drain.
func (s *Scanner) Stop() {
	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.log.Warn("scan loop did not drain within shutdown deadline")
	}
}

func (s *Scanner) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.log.Warn("skipping tick, previous scan still in flight")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	open, reason := s.calendar.IsMarketOpenNow(time.Now())
	if !open {
		s.log.WithField("reason", reason).Info("market closed, cooling down")
		select {
		case <-time.After(s.cfg.CooldownClosed):
		case <-s.stopCh:
		case <-ctx.Done():
		}
		return
	}

	s.Scan(ctx)
}

// Scan runs one full scan cycle across all configured instruments not
// currently ignored, fanned out across a bounded worker pool.
func (s *Scanner) Scan(ctx context.Context) *Result {
	start := time.Now()
	scanID := uuid.NewString()
	ignored := s.ignoreSnapshot()

	var toScan []string
	now := time.Now()
	for _, instrument := range s.instruments {
		if until, isIgnored := ignored[instrument]; isIgnored && until.After(now) {
			continue
		}
		toScan = append(toScan, instrument)
	}

	instrumentChan := make(chan string, len(toScan))
	type outcome struct {
		instrument string
		sig        *signal.PanicSignal
		bad        bool
	}
	resultChan := make(chan outcome, len(toScan))

	var workerWG sync.WaitGroup
	workers := s.cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for instrument := range instrumentChan {
				sig, bad := s.scanOne(ctx, instrument)
				resultChan <- outcome{instrument: instrument, sig: sig, bad: bad}
				time.Sleep(s.cfg.RequestDelay)
			}
		}()
	}

	go func() {
		for _, instrument := range toScan {
			select {
			case instrumentChan <- instrument:
			case <-ctx.Done():
			}
		}
		close(instrumentChan)
	}()

	go func() {
		workerWG.Wait()
		close(resultChan)
	}()

	signalsFound := 0
	var bad []string
	for r := range resultChan {
		if r.bad {
			bad = append(bad, r.instrument)
			continue
		}
		if r.sig != nil {
			signalsFound++
		}
	}

	result := &Result{
		ScanID:         scanID,
		StartTime:      start,
		EndTime:        time.Now(),
		Duration:       time.Since(start),
		TotalScanned:   len(toScan),
		SignalsFound:   signalsFound,
		BadInstruments: bad,
	}

	s.mu.Lock()
	s.lastResult = result
	for _, b := range bad {
		s.badInstrument[b] = true
	}
	s.mu.Unlock()

	s.log.WithScanID(scanID).WithFields(map[string]interface{}{
		"total_scanned": result.TotalScanned,
		"signals_found": result.SignalsFound,
		"duration_ms":   result.Duration.Milliseconds(),
	}).Info("scan tick completed")

	return result
}

// scanOne prepares the indicator window for instrument, runs C6, and on
// EMIT persists the signal and forwards it to the notification channel for
// red-level signals only. bad reports a permanent adapter error.
func (s *Scanner) scanOne(ctx context.Context, instrument string) (sig *signal.PanicSignal, bad bool) {
	log := s.log.WithInstrument(instrument)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	defer cancel()

	window, err := s.buildWindow(callCtx, instrument)
	if err != nil {
		if isPermanentAdapterError(err) {
			log.WithError(err).Error("permanent adapter error")
			return nil, true
		}
		log.WithError(err).Warn("transient adapter error, dropping instrument for this tick")
		return nil, false
	}

	sig, detErr := s.detector.Detect(callCtx, window)
	if detErr != nil {
		log.WithError(detErr).Error("internal detector error")
		return nil, false
	}
	if sig == nil {
		return nil, false
	}

	if err := s.persistWithRetry(ctx, sig); err != nil {
		log.WithError(err).Error("store failure persisting signal, emitting notification regardless")
	}

	if sig.FinalLevel == signal.LevelRed {
		if s.notifier != nil {
			_ = s.notifier.SendSignal(sig)
		}
		if s.onSignal != nil {
			s.onSignal(sig)
		}
	}

	return sig, false
}

// DetectNow runs one ad-hoc detection step for instrument outside the
// regular tick loop, for C11's scanInstruments operation. realTime bypasses
// the candle cache and fetches live from C1; otherwise the last cached
// window (if any) is reused. The result is persisted and notified exactly
// like a regular scan step.
func (s *Scanner) DetectNow(ctx context.Context, instrument string, realTime bool) (*signal.PanicSignal, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	defer cancel()

	if realTime {
		s.local.Delete("candles:" + instrument + ":" + s.cfg.CandleInterval)
	}

	window, err := s.buildWindow(callCtx, instrument)
	if err != nil {
		return nil, err
	}

	sig, err := s.detector.Detect(callCtx, window)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, nil
	}

	if err := s.persistWithRetry(ctx, sig); err != nil {
		s.log.WithInstrument(instrument).WithError(err).Error("store failure persisting ad-hoc signal")
	}
	if sig.FinalLevel == signal.LevelRed {
		if s.notifier != nil {
			_ = s.notifier.SendSignal(sig)
		}
		if s.onSignal != nil {
			s.onSignal(sig)
		}
	}
	return sig, nil
}

func isPermanentAdapterError(err error) bool {
	me, ok := err.(*market.Error)
	if !ok {
		return false
	}
	return me.Kind == market.ErrNotFound || me.Kind == market.ErrPermission
}

// persistWithRetry saves sig, retrying once on failure per spec.md section
// 7's store-failure policy.
func (s *Scanner) persistWithRetry(ctx context.Context, sig *signal.PanicSignal) error {
	err := s.repo.Save(ctx, sig)
	if err == nil {
		return nil
	}
	return s.repo.Save(ctx, sig)
}

func (s *Scanner) buildWindow(ctx context.Context, instrument string) (signal.IndicatorWindow, error) {
	candles, err := s.cachedCandles(ctx, instrument)
	if err != nil {
		return signal.IndicatorWindow{}, err
	}
	if len(candles) < smaPeriod+1 {
		return signal.IndicatorWindow{}, fmt.Errorf("insufficient candle history for %s", instrument)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	rsi7 := indicator.RSI(closes, rsiShortPeriod)
	rsi14 := indicator.RSI(closes, rsiMainPeriod)
	rsi21 := indicator.RSI(closes, rsiLongPeriod)
	atr := indicator.ATR(highs, lows, closes, atrPeriod)
	sma20 := indicator.SMA(closes, smaPeriod)

	last := len(candles) - 1
	w := signal.IndicatorWindow{
		Instrument: instrument,
		Closes:     closes,
		Highs:      highs,
		Lows:       lows,
		Volumes:    volumes,
		LastPrice:  closes[last],
	}

	if rsi7[last] != indicator.Undefined {
		w.RSI7 = rsi7[last]
		w.HasRSI7 = true
	}
	if rsi14[last] != indicator.Undefined {
		w.RSI14 = rsi14[last]
	}
	if rsi21[last] != indicator.Undefined {
		w.RSI21 = rsi21[last]
		w.HasRSI21 = true
	}
	if atr[last] != indicator.Undefined {
		w.ATR = atr[last]
	}
	if sma20[last] != indicator.Undefined {
		w.SMA20 = sma20[last]
	}
	w.AvgATR = meanDefined(atr, avgATRWindow)

	w.CurrentVolume = volumes[last]
	histStart := last - volumeHistoryN
	if histStart < 0 {
		histStart = 0
	}
	w.AvgVolume = meanOf(volumes[histStart:last])
	w.VolumeRatio = indicator.VolumeRatio(w.CurrentVolume, volumes[histStart:last])

	book, err := s.adapter.OrderBook(ctx, instrument, orderBookDepth)
	if err == nil {
		w.SpreadPercent = book.SpreadPercent
	}

	return w, nil
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanDefined(values []float64, window int) float64 {
	start := len(values) - window
	if start < 0 {
		start = 0
	}
	var sum float64
	var n int
	for _, v := range values[start:] {
		if v != indicator.Undefined {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (s *Scanner) cachedCandles(ctx context.Context, instrument string) ([]signal.Candle, error) {
	key := "candles:" + instrument + ":" + s.cfg.CandleInterval

	if val, ok := s.local.Get(key); ok {
		return val.([]signal.Candle), nil
	}
	if s.redis != nil {
		var candles []signal.Candle
		if s.redis.GetJSON(ctx, key, &candles) {
			s.local.Set(key, candles)
			return candles, nil
		}
	}

	candles, err := s.adapter.Candles(ctx, instrument, signalInterval(s.cfg.CandleInterval), s.cfg.CandleCount)
	if err != nil {
		return nil, err
	}
	s.local.Set(key, candles)
	if s.redis != nil {
		s.redis.SetJSON(ctx, key, candles, time.Minute)
	}
	return candles, nil
}
