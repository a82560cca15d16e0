package main

import (
	"bytes"
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"routecodex/internal/config"
	"routecodex/internal/constants"
	"routecodex/internal/dispatch"
	"routecodex/internal/events"
	"routecodex/internal/ingress"
	"routecodex/internal/logging"
	tracing "routecodex/internal/monitoring/tracing"
	usagestats "routecodex/internal/stats"
	store "routecodex/internal/storage"
	"routecodex/internal/translator"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const adminVersion = "dev"

func atoiPort(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg := config.LoadWithFile(*configPath)
	if cfg == nil {
		log.Fatal("Failed to load configuration")
	}
	if *debug {
		cfg.Security.Debug = true
		cfg.SyncFromDomains()
	}

	if err := cfg.ValidateAndExpandPaths(); err != nil {
		log.WithError(err).Fatal("invalid configuration paths")
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	translator.ConfigureSanitizer(cfg.ResponseShaping.SanitizerEnabled, cfg.ResponseShaping.SanitizerPatterns)

	eventHub := events.NewHub()
	if cm := config.GetConfigManager(); cm != nil {
		cm.SetEventPublisher(eventHub)
	}
	if cfg.Security.Debug {
		eventHub.Subscribe(events.TopicConfigUpdated, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debugf("config event: %v", evt.Payload)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseDir := cfg.Storage.BaseDir
	if baseDir == "" {
		baseDir = cfg.Security.AuthDir
	}
	storageBackend := store.NewFileBackend(baseDir)
	if err := storageBackend.Initialize(ctx); err != nil {
		log.WithError(err).Error("storage backend initialization failed; running without persistent usage storage")
		storageBackend = nil
	}
	if storageBackend != nil {
		defer func() { _ = storageBackend.Close() }()
	}

	usageInterval := time.Duration(cfg.RateLimit.UsageResetIntervalHours) * time.Hour
	usage := usagestats.NewUsageStats(storageBackend, usageInterval, cfg.RateLimit.UsageResetTimezone, cfg.RateLimit.UsageResetHourLocal)
	go usage.StartPeriodicReset(ctx)

	gatewayCfg := config.LoadGatewayConfig()
	dispatchEngine, err := dispatch.Build(gatewayCfg, usage)
	if err != nil {
		log.WithError(err).Fatal("failed to build dispatch engine")
	}

	gwEngine := gin.New()
	gwEngine.Use(gin.Recovery())
	ingress.New(dispatchEngine.Executor).Register(gwEngine)
	ingress.RegisterAdmin(gwEngine, ingress.AdminInfo{
		ServerName:        "routecodex",
		Version:           adminVersion,
		Host:              "0.0.0.0",
		Port:              atoiPort(gatewayCfg.Port),
		PipelineReady:     func() bool { return true },
		SnapshotProviders: func() []string { return dispatchEngine.Registry.ProviderKeys() },
		SnapshotQuota:     func() interface{} { return dispatchEngine.Quota.Snapshot() },
		SnapshotHealth:    func() interface{} { return dispatchEngine.Health.Snapshot() },
		SnapshotRouting:   func() interface{} { return dispatchEngine.Routing.Snapshot() },
		ExportConfig: func(format string) ([]byte, error) {
			var buf bytes.Buffer
			if err := config.GetConfigManager().ExportConfig(&buf, format); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	gatewaySrv := &http.Server{Addr: ":" + gatewayCfg.Port, Handler: gwEngine}
	go func() {
		log.Infof("RouteCodex gateway listening on :%s", gatewayCfg.Port)
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("gateway server: %v", err)
		}
	}()

	stopPersist := make(chan struct{})
	go dispatchEngine.PersistPeriodically(5*time.Minute, stopPersist)
	defer close(stopPersist)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()

	_ = gatewaySrv.Shutdown(shutdownCtx)

	time.Sleep(constants.ServerGracefulWait)
	log.Info("Server stopped")
}
