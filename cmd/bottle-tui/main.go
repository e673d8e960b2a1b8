package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dj-oyu/bottle-monitor/internal/config"
	"github.com/dj-oyu/bottle-monitor/internal/inference"
	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/monitor"
	"github.com/dj-oyu/bottle-monitor/internal/tui"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (default $"+config.EnvConfigPath+")")
		apiBase    = flag.String("api", "", "Inference backend base URL")
		wsURL      = flag.String("ws", "", "Inspection stream URL (overrides the derived one)")
		reconnect  = flag.Bool("reconnect", false, "Reconnect automatically after the stream drops")
		noPower    = flag.Bool("no-power", false, "Hide the power control")
		limit      = flag.Int("limit", 200, "Events kept in view")
		logFile    = flag.String("log-file", "", "Write logs to this file (logs are discarded otherwise)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *apiBase != "" {
		cfg.Backend.BaseURL = *apiBase
	}
	if *wsURL != "" {
		cfg.Backend.StreamURL = *wsURL
	}
	if *reconnect {
		cfg.Stream.Reconnect = true
	}

	// The terminal belongs to the dashboard; logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger.Init(cfg.Logging.Level, logOut, false)

	streamURL, err := cfg.StreamURL()
	if err != nil {
		log.Fatalf("Invalid stream URL: %v", err)
	}

	mon := monitor.New(monitor.Options{
		URL:               streamURL,
		HandshakeTimeout:  cfg.Stream.HandshakeTimeout,
		Reconnect:         cfg.Stream.Reconnect,
		ReconnectInterval: cfg.Stream.ReconnectInterval,
	})
	updates, unsubscribe := tui.Feed(mon, 64)
	defer unsubscribe()

	if err := mon.Mount(); err != nil {
		log.Fatalf("Failed to mount monitor: %v", err)
	}
	defer mon.Unmount()

	var power tui.Power
	if !*noPower {
		client := inference.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, nil)
		power = inference.NewSystemControl(client)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := tui.New(ctx, mon, power, updates, *limit)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
