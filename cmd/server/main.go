package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetsight/backend/internal/api"
	"github.com/fleetsight/backend/internal/bus"
	"github.com/fleetsight/backend/internal/config"
	"github.com/fleetsight/backend/internal/engine"
	"github.com/fleetsight/backend/internal/metrics"
	"github.com/fleetsight/backend/internal/notify"
	"github.com/fleetsight/backend/internal/seed"
	"github.com/fleetsight/backend/internal/staticdata"
	"github.com/fleetsight/backend/internal/store"
	"github.com/fleetsight/backend/internal/tracking"
)

func main() {
	log.Println("🔥 Starting FleetSight tracking backend...")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Store: Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Postgres failed: %v", err)
		}
		defer pg.Close()
		st = pg
		log.Println("🗄️  Postgres store ready")
	} else {
		st = store.NewMemory()
		log.Println("🗄️  In-memory store (no DATABASE_URL configured)")
	}

	if cfg.Seed.Enabled {
		if err := seed.Load(ctx, st); err != nil {
			log.Fatalf("Seed failed: %v", err)
		}
	}

	// 2. Event bus: Redis fan-out across instances, local fallback.
	var eventBus bus.Bus
	var redisBus *bus.RedisBus
	if cfg.Redis.Addr != "" {
		redisBus, err = bus.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ChannelPrefix)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, falling back to local bus: %v", err)
		}
	}
	if redisBus != nil {
		eventBus = redisBus
		defer redisBus.Close()
	} else {
		eventBus = bus.NewLocalBus()
	}

	// 3. Notifier: webhook gateway when configured, log output otherwise.
	var notifier notify.Notifier
	if cfg.Notifier.WebhookURL != "" {
		webhook := notify.NewWebhookNotifier(cfg.Notifier.WebhookURL, 4)
		defer webhook.Shutdown()
		notifier = webhook
	} else {
		notifier = notify.NewLogNotifier()
	}

	// 4. Services.
	static := staticdata.New(st, cfg.Cache.GeofenceEntries, cfg.Cache.VehicleDriverEntries,
		time.Duration(cfg.Cache.TTLMinutes)*time.Minute)
	m := metrics.New(prometheus.DefaultRegisterer)
	engineCfg := engine.Config{
		DwellTimeSeconds:       cfg.Geofence.DwellTimeSeconds,
		SpeedThresholdKmh:      cfg.Geofence.SpeedThresholdKmh,
		MinTripDurationMinutes: cfg.Geofence.MinTripDurationMinutes,
	}

	coordinator := tracking.NewCoordinator(st, static, notifier, eventBus, engineCfg, m)
	dispatcher := tracking.NewDispatcher(coordinator, tracking.DispatcherConfig{
		CoreWorkers:  cfg.Ingest.Workers,
		MaxWorkers:   cfg.Ingest.MaxWorkers,
		QueueSize:    cfg.Ingest.QueueSize,
		MaxBatchSize: cfg.Ingest.MaxBatchSize,
	}, m)
	admin := tracking.NewAdmin(st, static, notifier, eventBus, m)
	audit := tracking.NewAuditQuery(st)

	streamer := api.NewStreamer(eventBus)
	go streamer.Run()

	server := api.NewServer(dispatcher, admin, audit, st, static, streamer)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("🚀 Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting HTTP, drain the ingest queue, then
	// tear down the streamer.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}

	dispatcher.Shutdown()
	streamer.Close()
	log.Println("👋 Stopped")
}
