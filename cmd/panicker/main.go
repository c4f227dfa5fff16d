// Command panicker wires every component (C1, C7-C11) and runs the scan
// orchestrator alongside the HTTP API server until interrupted. Grounded on
// the teacher's main.go bootstrap sequence (config.Load, component wiring in
// dependency order, signal.Notify(os.Interrupt, syscall.SIGTERM), a bounded
// graceful-shutdown context).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"panicker/config"
	"panicker/internal/api"
	"panicker/internal/cache"
	"panicker/internal/calendar"
	"panicker/internal/cluster"
	"panicker/internal/detector"
	"panicker/internal/filter"
	"panicker/internal/logging"
	"panicker/internal/market"
	"panicker/internal/notification"
	"panicker/internal/risk"
	"panicker/internal/scanner"
	"panicker/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	format := logging.FormatJSON
	if cfg.Logging.Format == "console" {
		format = logging.FormatConsole
	}
	logging.Init(level, format)
	log := logging.Default().WithComponent("main")
	log.Info("starting panicker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cal, err := calendar.New(time.Local, "holidays.json")
	if err != nil {
		log.WithError(err).Fatal("failed to initialize market calendar")
	}

	var adapter market.Adapter
	if cfg.Market.MockMode {
		adapter = market.NewMock(cfg.Instruments)
		log.Info("market adapter running in mock mode")
	} else {
		adapter = market.NewHTTPClient(cfg.Market.BaseURL, cfg.Market.Timeout)
	}

	local := cache.NewLocal(cfg.Cache.LocalTTL, cfg.Cache.LocalMaxEntries)

	var redisTier *cache.RedisTier
	if cfg.Cache.RedisEnabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		redisTier = cache.NewRedisTier(redisClient, log)
	}

	db, err := store.NewDB(ctx, store.Config{
		DSN:             cfg.Store.DSN,
		MaxConns:        cfg.Store.MaxConns,
		MinConns:        cfg.Store.MinConns,
		MaxConnLifetime: cfg.Store.MaxConnLifetime,
		MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to store")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.WithError(err).Fatal("failed to run store migrations")
	}
	repo := store.NewRepository(db)

	thresholds := detector.Thresholds{
		Red:    detector.LevelThresholds{RSIBuy: cfg.Thresholds.Red.RSIBuy, RSISell: cfg.Thresholds.Red.RSISell, VolumeMin: cfg.Thresholds.Red.VolumeMin},
		Yellow: detector.LevelThresholds{RSIBuy: cfg.Thresholds.Yellow.RSIBuy, RSISell: cfg.Thresholds.Yellow.RSISell, VolumeMin: cfg.Thresholds.Yellow.VolumeMin},
		White:  detector.LevelThresholds{RSIBuy: cfg.Thresholds.White.RSIBuy, RSISell: cfg.Thresholds.White.RSISell, VolumeMin: cfg.Thresholds.White.VolumeMin},
	}
	filterConfig := filter.Config{
		VolatilityMinRatio:       cfg.Filter.VolatilityMinRatio,
		VolatilityMinAbsoluteATR: cfg.Filter.VolatilityMinAbsoluteATR,
		TrendMAPeriod:            cfg.Filter.TrendMAPeriod,
		TrendRequireAlignment:    cfg.Filter.TrendRequireAlignment,
		VolumeMinRatio:           cfg.Filter.VolumeMinRatio,
	}
	clusterAnalyzer := cluster.New(cfg.Cluster.NumClusters).WithMinVolumeShare(cfg.Cluster.MinVolumeShare)
	riskCalc := risk.New(cfg.Risk.ATRNormal)

	scanCfg := scanner.Config{
		ScanInterval:   time.Duration(cfg.Scan.ScanIntervalSeconds) * time.Second,
		CooldownClosed: time.Duration(cfg.Scan.CooldownClosedSeconds) * time.Second,
		RequestDelay:   time.Duration(cfg.Scan.RequestDelayMillis) * time.Millisecond,
		MaxWorkers:     cfg.Scan.MaxWorkers,
		AdapterTimeout: time.Duration(cfg.Scan.AdapterTimeoutSeconds) * time.Second,
		CandleInterval: cfg.Scan.CandleInterval,
		CandleCount:    cfg.Scan.CandleCount,
	}

	notifyManager := notification.NewManager()
	if cfg.Notification.Enabled {
		if cfg.Notification.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.Notification.Telegram.BotToken,
				ChatID:   cfg.Notification.Telegram.ChatID,
				Enabled:  cfg.Notification.Telegram.Enabled,
			}))
			log.Info("telegram notifications enabled")
		}
		if cfg.Notification.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.Notification.Discord.WebhookURL,
				Enabled:    cfg.Notification.Discord.Enabled,
			}))
			log.Info("discord notifications enabled")
		}
	}

	// The detector's volume-average source is assigned after the scanner is
	// built, since it needs the adapter/cache collaborators the scanner
	// already owns.
	det := detector.New(cal, filterConfig, clusterAnalyzer, riskCalc, thresholds, nil)
	det.Now = time.Now

	scan := scanner.New(adapter, local, redisTier, det, repo, notifyManager, cal, scanCfg, cfg.Instruments, log)
	det.VolumeSrc = scan.VolumeSource()

	apiServer := api.NewServer(api.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ProductionMode: cfg.Server.ProductionMode,
		CORSOrigins:    cfg.Server.CORSOrigins,
		APIKeyHash:     cfg.Server.APIKeyHash,
		StreamSecret:   cfg.Server.StreamSecret,
	}, repo, adapter, det, scan, cal, log)

	scan.Start(ctx)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.WithError(err).Error("API server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error shutting down API server")
	}
	scan.Stop()

	if redisTier != nil {
		if err := redisTier.Close(); err != nil {
			log.WithError(err).Warn("error closing redis client")
		}
	}

	log.Info("panicker stopped")
}
