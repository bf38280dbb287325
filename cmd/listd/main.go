package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/server/digest"
	"github.com/oromail/listd/server/lmtp"
	"github.com/oromail/listd/server/pipeline"
	"github.com/oromail/listd/server/relayqueue"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	fLmtpAddr := flag.String("lmtpaddr", "", "LMTP listen address (overrides config)")
	fHTTPAddr := flag.String("httpaddr", "", "Metrics HTTP listen address (overrides config)")
	fLogLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg := config.NewDefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		if err := config.LoadConfigFromFile(*configPath, &cfg); err != nil {
			log.Fatalf("Failed to load configuration from %s: %v", *configPath, err)
		}
	} else if isFlagSet("config") {
		log.Fatalf("Configuration file not found: %s", *configPath)
	}

	if *fLmtpAddr != "" {
		cfg.LMTP.Addr = *fLmtpAddr
	}
	if *fHTTPAddr != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = *fHTTPAddr
	}
	if *fLogLevel != "" {
		cfg.Logging.Level = *fLogLevel
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabaseFromConfig(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	hostname := cfg.LMTP.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	processor := pipeline.NewProcessor(database, hostname)

	errChan := make(chan error, 1)

	var relayWorker *relayqueue.Worker
	if cfg.Relay.IsConfigured() {
		handler := relayqueue.NewSMTPRelayHandler(&cfg.Relay)
		relayWorker, err = relayqueue.NewWorker(database, handler, &cfg.Relay.Queue)
		if err != nil {
			logger.Fatal("invalid relay queue configuration", "error", err)
		}
		relayWorker.Start(ctx)
		defer relayWorker.Stop()
	} else {
		logger.Warn("no SMTP relay configured, the out queue will not be drained")
	}

	if cfg.Digest.Enabled {
		var notifier digest.Notifier
		if relayWorker != nil {
			notifier = relayWorker
		}
		digestWorker, err := digest.NewWorker(database, notifier, hostname, &cfg.Digest)
		if err != nil {
			logger.Fatal("invalid digest configuration", "error", err)
		}
		digestWorker.Start(ctx)
		defer digestWorker.Stop()
	}

	lmtpServer, err := lmtp.New(ctx, database, processor, &cfg.LMTP)
	if err != nil {
		logger.Fatal("failed to create LMTP server", "error", err)
	}
	go func() {
		if err := lmtpServer.ListenAndServe(); err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()
	go func() {
		<-ctx.Done()
		if err := lmtpServer.Close(); err != nil {
			logger.Error("error closing LMTP server", "error", err)
		}
	}()

	if cfg.HTTP.Enabled {
		go startHTTPServer(ctx, cfg.HTTP.Addr, errChan)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errChan:
		logger.Fatal("server error", "error", err)
	}
}

// startHTTPServer exposes metrics and a health probe.
func startHTTPServer(ctx context.Context, addr string, errChan chan error) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("starting HTTP listener", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- err
	}
}

func isFlagSet(name string) bool {
	isSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
