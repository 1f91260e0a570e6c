package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/y0ug/contentscan/internal/cache"
	"github.com/y0ug/contentscan/internal/contentscan"
	"github.com/y0ug/contentscan/internal/contentscan/decrypt"
	"github.com/y0ug/contentscan/internal/contentscan/fetcher"
	"github.com/y0ug/contentscan/internal/contentscan/invoker"
	"github.com/y0ug/contentscan/internal/metrics"
	"github.com/y0ug/contentscan/internal/notifications"
	"github.com/y0ug/contentscan/internal/webserver"
)

func main() {
	ctx := context.Background()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	envFileFlag := flag.String("env", "", "Path to a .env file")
	flag.Parse()

	var err error
	if *envFileFlag != "" {
		err = godotenv.Load(*envFileFlag)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		logger.Info("No .env file found. Proceeding with environment variables.")
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			logger.Warnf("Invalid LOG_LEVEL %q. Keeping %s.", level, logger.GetLevel())
		} else {
			logger.SetLevel(parsed)
		}
	}

	scanCfg, err := contentscan.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load scanner configuration: %v", err)
	}

	cacheCfg, err := cache.LoadCacheConfig()
	if err != nil {
		logger.Fatalf("Failed to load cache configuration: %v", err)
	}

	resultCache, err := cache.New(cacheCfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize %s cache: %v", cacheCfg.Type, err)
	}
	logger.WithFields(logrus.Fields{
		"type":   cacheCfg.Type,
		"policy": cacheCfg.Policy.String(),
	}).Info("Result cache initialized")

	notificationCfg, err := notifications.LoadNotificationConfig()
	if err != nil {
		logger.Fatalf("Failed to load notification configuration: %v", err)
	}

	notifier, err := notifications.NewNotifier(notificationCfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize notifier: %v", err)
	}

	mediaFetcher := fetcher.NewFetcher(scanCfg.MediaBaseURL, scanCfg.FetchTimeout, scanCfg.MaxFileSize, logger)
	if rl := scanCfg.FetchRateLimit; rl != nil {
		limiter := fetcher.NewRateLimiter(rl.Rate, rl.Burst)
		logger.Infof("Setting rate limiter for media fetches: %v", limiter)
		mediaFetcher.SetRateLimiter(limiter)
	}

	runner, err := invoker.NewRunner(scanCfg.ScanCommand, scanCfg.ScanTimeout)
	if err != nil {
		logger.Fatalf("Failed to initialize scan command: %v", err)
	}

	m := metrics.New()

	generator := contentscan.NewReportGenerator(contentscan.GeneratorConfig{
		Config:    scanCfg,
		Cache:     resultCache,
		Fetcher:   mediaFetcher,
		Decryptor: decrypt.New(),
		Scanner:   runner,
		Notifier:  notifier,
		Metrics:   m,
		Logger:    logger,
	})
	retriever := contentscan.NewReportRetriever(resultCache, m, logger)

	webServerConfig, err := webserver.NewWebserverConfig()
	if err != nil {
		logger.Fatalf("Failed to load webserver configuration: %v", err)
	}

	webServer := webserver.NewWebServer(generator, retriever, m, webServerConfig, logger)

	ctxCancel, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := webserver.StartWebServer(ctxCancel, webServer)
	if err != nil {
		logger.Fatalf("Failed to start web server: %v", err)
	}

	// SIGHUP resets the result cache; SIGINT and SIGTERM shut down.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			if err := retriever.Clear(ctx); err != nil {
				logger.WithError(err).Error("Failed to clear result cache")
			}
			continue
		}
		logger.Infof("Received signal: %s. Initiating shutdown...", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Failed to gracefully shutdown the server: %v", err)
	}
	cancel()

	if err := resultCache.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to close result cache")
	}

	logger.Info("Shutdown complete. Exiting.")
}
