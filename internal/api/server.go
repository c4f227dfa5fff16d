// Package api is the service boundary (C11): a gin-based HTTP/JSON binding
// of the request/response surface over scanning, overheat index, signal
// history, top signals, stats, a candle passthrough, current prices,
// instrument ignoring and a red-level signal stream. Grounded on the
// teacher's internal/api/server.go Server/NewServer/setupRoutes idiom
// (gin.New, cors.New, gin.Logger/gin.Recovery, http.Server with a graceful
// Shutdown), narrowed from the teacher's SaaS/futures/spot/autopilot route
// set down to C11's nine operations.
package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"panicker/internal/calendar"
	"panicker/internal/detector"
	"panicker/internal/logging"
	"panicker/internal/market"
	"panicker/internal/scanner"
	"panicker/internal/signal"
	"panicker/internal/store"
)

// RateLimiter is a simple in-memory per-endpoint rate limiter, grounded on
// the teacher's internal/api/server.go RateLimiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{requests: make(map[string][]time.Time), limit: limit, window: window}
}

// Allow reports whether a request for key is within the configured window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Config holds server configuration, per SPEC_FULL.md section A.2's
// ServerConfig.
type Config struct {
	Host           string
	Port           int
	ProductionMode bool
	CORSOrigins    []string
	APIKeyHash     string // bcrypt hash; empty disables API-key auth on mutating routes
	StreamSecret   string // HMAC secret for streamSignals JWT tokens
}

// Repository is the narrow persistence contract C11 reads from.
type Repository interface {
	HealthCheck(ctx context.Context) error
	History(ctx context.Context, instrument string, daysBack int, limit int) ([]*signal.PanicSignal, error)
	TopSignals(ctx context.Context, period store.Period, limit int) ([]*signal.PanicSignal, error)
	LastSignal(ctx context.Context, instrument string) (*signal.PanicSignal, error)
	Stats(ctx context.Context, days int) (*store.Stats, error)
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	repo        Repository
	adapter     market.Adapter
	detector    *detector.Detector
	scanner     *scanner.Scanner
	calendar    *calendar.Calendar
	cfg         Config
	rateLimiter *RateLimiter
	hub         *wsHub
	log         logging.Logger
}

// NewServer builds a Server wired to its collaborators and registers every
// C11 route.
func NewServer(
	cfg Config,
	repo Repository,
	adapter market.Adapter,
	det *detector.Detector,
	scan *scanner.Scanner,
	cal *calendar.Calendar,
	log logging.Logger,
) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(logging.TraceMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		repo:        repo,
		adapter:     adapter,
		detector:    det,
		scanner:     scan,
		calendar:    cal,
		cfg:         cfg,
		rateLimiter: NewRateLimiter(120, time.Minute),
		hub:         newWSHub(log),
		log:         log.WithComponent("api"),
	}

	go s.hub.run()
	if scan != nil {
		scan.SetOnSignal(s.hub.PushSignal)
	}

	s.setupRoutes()
	return s
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": true, "message": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// apiKeyMiddleware protects mutating endpoints with a bcrypt-checked static
// API key, supplementing the distilled spec per SPEC_FULL.md section B
// (ignoreInstrument). A no-op when cfg.APIKeyHash is unset.
func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKeyHash == "" {
			c.Next()
			return
		}
		key := c.GetHeader("X-API-Key")
		if key == "" || bcrypt.CompareHashAndPassword([]byte(s.cfg.APIKeyHash), []byte(key)) != nil {
			errorResponse(c, http.StatusUnauthorized, "invalid or missing API key")
			c.Abort()
			return
		}
		c.Next()
	}
}

// streamTokenMiddleware validates the short-lived JWT passed as a query
// parameter on the streamSignals websocket upgrade, per SPEC_FULL.md
// section B's streaming-auth entry. A no-op when cfg.StreamSecret is unset.
func (s *Server) streamTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.StreamSecret == "" {
			c.Next()
			return
		}
		tokenString := c.Query("token")
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.cfg.StreamSecret), nil
		})
		if err != nil || !token.Valid {
			errorResponse(c, http.StatusUnauthorized, "invalid stream token")
			c.Abort()
			return
		}
		c.Next()
	}
}

// IssueStreamToken mints a short-lived token for a streamSignals client.
func (s *Server) IssueStreamToken(ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		Issuer:    "panicker",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.StreamSecret))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.POST("/scan", s.handleScanInstruments)
		api.GET("/overheat/:instrument", s.handleOverheatIndex)
		api.GET("/signals/:instrument/history", s.handleSignalHistory)
		api.GET("/signals/top", s.handleTopSignals)
		api.GET("/stats", s.handleStats)
		api.GET("/candles/:instrument", s.handleCandles)
		api.GET("/prices", s.handleCurrentPrices)
		api.POST("/instruments/:instrument/ignore", s.apiKeyMiddleware(), s.handleIgnoreInstrument)
		api.GET("/stream", s.streamTokenMiddleware(), s.handleStreamSignals)
	}
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.WithField("addr", addr).Info("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "store": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "store": "healthy"})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": true, "message": message})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// ---------------------------------------------------------------------------
// scanInstruments
// ---------------------------------------------------------------------------

type scanRequest struct {
	Instruments []string `json:"instruments"`
	RealTime    bool     `json:"realTime"`
}

func (s *Server) handleScanInstruments(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Instruments) == 0 {
		errorResponse(c, http.StatusBadRequest, "instruments[] is required")
		return
	}
	if s.scanner == nil {
		errorResponse(c, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	start := time.Now()
	var signals []*signal.PanicSignal
	var badInstruments []string
	for _, instrument := range req.Instruments {
		sig, bad := s.scanOneForAPI(c.Request.Context(), instrument, req.RealTime)
		if bad {
			badInstruments = append(badInstruments, instrument)
			continue
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}

	if req.RealTime && len(signals) > 1 {
		compareRisks(signals)
	}

	successResponse(c, gin.H{
		"signals":        signals,
		"scanId":         fmt.Sprintf("req-%d", start.UnixNano()),
		"scannedAt":      start,
		"totalScanned":   len(req.Instruments),
		"signalsFound":   len(signals),
		"badInstruments": badInstruments,
	})
}

// scanOneForAPI mirrors the scan orchestrator's per-instrument detection
// step for a caller-triggered scan, per spec.md's realTime flag: true fetches
// live from C1, false reuses the last cached candle window.
func (s *Server) scanOneForAPI(ctx context.Context, instrument string, realTime bool) (*signal.PanicSignal, bool) {
	sig, err := s.scanner.DetectNow(ctx, instrument, realTime)
	if err != nil {
		return nil, true
	}
	return sig, false
}

// compareRisks ranks a batch of signals by risk score descending, ported
// from the original's core/risk_metrics.py compare_risks so a multi-instrument
// realTime scan surfaces the riskiest instrument first.
func compareRisks(signals []*signal.PanicSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Risk.Score > signals[j].Risk.Score
	})
}

// ---------------------------------------------------------------------------
// overheatIndex
// ---------------------------------------------------------------------------

func (s *Server) handleOverheatIndex(c *gin.Context) {
	instrument := c.Param("instrument")
	ctx := c.Request.Context()

	candles, err := s.adapter.Candles(ctx, instrument, signal.Interval5m, 30)
	if err != nil || len(candles) < 15 {
		errorResponse(c, http.StatusBadGateway, "insufficient market data")
		return
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, cd := range candles {
		closes[i] = cd.Close
		volumes[i] = cd.Volume
	}

	rsi14 := wilderRSI(closes, 14)
	last := len(closes) - 1
	currentVol := volumes[last]
	avgVol := meanAll(volumes[:last])
	volumeRatio := 1.0
	if avgVol > 0 {
		volumeRatio = currentVol / avgVol
	}

	overheatPct := math.Abs(rsi14-50) * 2
	if volumeRatio > 1.5 {
		overheatPct = math.Min(100, overheatPct*1.2)
	}

	resp := gin.H{
		"instrument":  instrument,
		"overheatPct": overheatPct,
		"rsi14":       rsi14,
		"volumeRatio": volumeRatio,
	}
	if last, err := s.repo.LastSignal(ctx, instrument); err == nil && last != nil {
		resp["lastSignalAt"] = last.DetectedAt
		resp["lastSignalLevel"] = last.FinalLevel
	}

	successResponse(c, resp)
}

func meanAll(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// wilderRSI is a self-contained RSI computation for the overheat endpoint,
// which does not need the full indicator window the scan loop builds.
func wilderRSI(closes []float64, period int) float64 {
	if len(closes) <= period {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		var g, l float64
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ---------------------------------------------------------------------------
// signalHistory / topSignals / stats
// ---------------------------------------------------------------------------

func (s *Server) handleSignalHistory(c *gin.Context) {
	instrument := c.Param("instrument")
	daysBack := queryInt(c, "daysBack", 7)
	limit := queryInt(c, "limit", 100)

	out, err := s.repo.History(c.Request.Context(), instrument, daysBack, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load signal history")
		return
	}
	successResponse(c, out)
}

func (s *Server) handleTopSignals(c *gin.Context) {
	period := store.Period(c.DefaultQuery("period", string(store.PeriodToday)))
	limit := queryInt(c, "limit", 20)

	out, err := s.repo.TopSignals(c.Request.Context(), period, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load top signals")
		return
	}
	successResponse(c, out)
}

func (s *Server) handleStats(c *gin.Context) {
	days := queryInt(c, "days", 7)

	out, err := s.repo.Stats(c.Request.Context(), days)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	successResponse(c, out)
}

// ---------------------------------------------------------------------------
// candles / currentPrices
// ---------------------------------------------------------------------------

func (s *Server) handleCandles(c *gin.Context) {
	instrument := c.Param("instrument")
	interval := signalIntervalFromQuery(c.DefaultQuery("interval", "5m"))
	count := queryInt(c, "count", 60)

	candles, err := s.adapter.Candles(c.Request.Context(), instrument, interval, count)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, "failed to fetch candles")
		return
	}
	successResponse(c, candles)
}

func signalIntervalFromQuery(s string) signal.Interval {
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

func (s *Server) handleCurrentPrices(c *gin.Context) {
	raw := c.Query("instruments")
	if raw == "" {
		errorResponse(c, http.StatusBadRequest, "instruments query parameter is required")
		return
	}
	instruments := splitCSV(raw)

	out := make(map[string]float64, len(instruments))
	for _, instrument := range instruments {
		price, err := s.adapter.LastPrice(c.Request.Context(), instrument)
		if err != nil {
			continue
		}
		out[instrument] = price
	}
	successResponse(c, out)
}

// ---------------------------------------------------------------------------
// ignoreInstrument
// ---------------------------------------------------------------------------

func (s *Server) handleIgnoreInstrument(c *gin.Context) {
	instrument := c.Param("instrument")
	var req struct {
		DurationHours float64 `json:"durationHours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DurationHours <= 0 {
		errorResponse(c, http.StatusBadRequest, "durationHours must be a positive number")
		return
	}
	if s.scanner == nil {
		errorResponse(c, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	until := s.scanner.IgnoreInstrument(instrument, req.DurationHours)
	successResponse(c, gin.H{"ok": true, "ignoredUntil": until})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
