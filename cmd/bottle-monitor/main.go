package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dj-oyu/bottle-monitor/internal/config"
	"github.com/dj-oyu/bottle-monitor/internal/history"
	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/metrics"
	"github.com/dj-oyu/bottle-monitor/internal/monitor"
	"github.com/dj-oyu/bottle-monitor/internal/webmonitor"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config file (default $"+config.EnvConfigPath+")")
		httpAddr    = flag.String("http", "", "HTTP server address")
		apiBase     = flag.String("api", "", "Inference backend base URL")
		wsURL       = flag.String("ws", "", "Inspection stream URL (overrides the derived one)")
		assetsDir   = flag.String("assets", "", "Web assets directory")
		historyPath = flag.String("history", "", "History database path")
		recordPath  = flag.String("record-path", "", "Recording output path")
		stunServers = flag.String("stun", "", "STUN server URLs (comma-separated)")
		noConnect   = flag.Bool("no-connect", false, "Do not open the stream on startup")
		reconnect   = flag.Bool("reconnect", false, "Reconnect automatically after the stream drops")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
		logColor    = flag.Bool("log-color", true, "Enable colored log output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.Server.Addr = *httpAddr
		case "api":
			cfg.Backend.BaseURL = *apiBase
		case "ws":
			cfg.Backend.StreamURL = *wsURL
		case "assets":
			cfg.Server.AssetsDir = *assetsDir
		case "history":
			cfg.History.Path = *historyPath
		case "record-path":
			cfg.Recording.OutputPath = *recordPath
		case "stun":
			cfg.WebRTC.STUNServers = strings.Split(*stunServers, ",")
		case "no-connect":
			cfg.Stream.AutoConnect = !*noConnect
		case "reconnect":
			cfg.Stream.Reconnect = *reconnect
		case "log-color":
			cfg.Logging.Color = *logColor
		}
	})
	if *logLevel != "" {
		level, err := logger.ParseLevel(*logLevel)
		if err != nil {
			log.Fatalf("Invalid log level: %v", err)
		}
		cfg.Logging.Level = level
	}
	logger.Init(cfg.Logging.Level, os.Stderr, cfg.Logging.Color)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	streamURL, err := cfg.StreamURL()
	if err != nil {
		log.Fatalf("Invalid stream URL: %v", err)
	}

	m := metrics.New()

	store, err := history.Open(cfg.History.Path, cfg.History.StorageKey, cfg.History.MaxItems)
	if err != nil {
		// The dashboard still works without history.
		logger.Warn("Main", "History disabled: %v", err)
		store = nil
	}

	mon := monitor.New(monitor.Options{
		URL:               streamURL,
		HandshakeTimeout:  cfg.Stream.HandshakeTimeout,
		Reconnect:         cfg.Stream.Reconnect,
		ReconnectInterval: cfg.Stream.ReconnectInterval,
		Metrics:           m,
	})

	server := webmonitor.NewServer(*cfg, webmonitor.Deps{
		Monitor: mon,
		History: store,
		Metrics: m,
	})

	if cfg.Stream.AutoConnect {
		if err := mon.Mount(); err != nil {
			log.Fatalf("Failed to mount monitor: %v", err)
		}
	}

	logger.Info("Main", "Bottle monitor listening on %s", cfg.Server.Addr)
	logger.Info("Main", "Backend: %s (stream: %s)", cfg.Backend.BaseURL, streamURL)
	logger.Info("Main", "Assets: %s (build: %s)", cfg.Server.AssetsDir, cfg.Server.BuildAssetsDir)
	logger.Info("Main", "Log level: %s", cfg.Logging.Level)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	// Closing the broadcasters first ends the SSE streams so Shutdown can drain.
	mon.Unmount()
	if err := server.Close(); err != nil {
		logger.Warn("Main", "Server close: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("Main", "History close: %v", err)
		}
	}

	logger.Info("Main", "Server stopped")
}
