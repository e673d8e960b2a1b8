package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dj-oyu/bottle-monitor/internal/config"
	"github.com/dj-oyu/bottle-monitor/internal/history"
	"github.com/dj-oyu/bottle-monitor/internal/inference"
	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/preview"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config file (default $"+config.EnvConfigPath+")")
		apiBase     = flag.String("api", "", "Inference backend base URL")
		modelName   = flag.String("model", "level", "Model to run (level, nivell, tap)")
		saveHistory = flag.Bool("save", false, "Append results to the analysis history")
		power       = flag.String("power", "", "Switch the inspection line on or off instead of classifying")
		logLevel    = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] image...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *apiBase != "" {
		cfg.Backend.BaseURL = *apiBase
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := inference.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, nil)

	if *power != "" {
		if err := setPower(ctx, client, *power); err != nil {
			log.Fatal(err)
		}
		return
	}

	model, err := inference.ParseModel(*modelName)
	if err != nil {
		log.Fatalf("Invalid model: %v", err)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var store *history.Store
	if *saveHistory {
		store, err = history.Open(cfg.History.Path, cfg.History.StorageKey, cfg.History.MaxItems)
		if err != nil {
			log.Fatalf("Failed to open history: %v", err)
		}
		defer store.Close()
	}

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, path := range flag.Args() {
		result, err := classifyFile(ctx, client, model, path, cfg.History.PreviewPx)
		if err != nil {
			logger.Error("Classify", "%s: %v", path, err)
			failed++
			continue
		}
		if store != nil {
			if _, err := store.Add(result); err != nil {
				logger.Warn("Classify", "History append failed: %v", err)
			}
		}
		// Previews are for the dashboard; keep stdout readable.
		result.ImagePreview = ""
		_ = enc.Encode(result)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func classifyFile(ctx context.Context, client *inference.Client, model inference.Model, path string, previewPx int) (inference.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return inference.Result{}, err
	}
	result, err := client.Classify(ctx, model, filepath.Base(path), bytes.NewReader(data))
	if err != nil {
		return inference.Result{}, err
	}
	if url, err := preview.DataURL(data, previewPx); err == nil {
		result.ImagePreview = url
	}
	return result, nil
}

func setPower(ctx context.Context, client *inference.Client, state string) error {
	switch state {
	case "on":
		return client.SetPower(ctx, true)
	case "off":
		return client.SetPower(ctx, false)
	default:
		return fmt.Errorf("power must be on or off, got %q", state)
	}
}
