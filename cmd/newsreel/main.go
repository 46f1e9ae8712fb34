package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/newsreel/newsreel/internal/app"
	"github.com/newsreel/newsreel/internal/config"
	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: newsreel <command>

Commands:
  daily      generate the daily shorts video
  weekly     generate the weekly roundup video
  breaking   run one breaking-news evaluation cycle
  watch      run the breaking evaluation loop until interrupted

Flags:
  --dry-run  (breaking only) evaluate trigger rules without generating
`)
	os.Exit(2)
}

func main() {
	logger.Init()

	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]
	dryRun := len(os.Args) > 2 && os.Args[2] == "--dry-run"

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
		go startMonitoringServer()
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "daily":
		err = a.RunDaily(ctx)
	case "weekly":
		err = a.RunWeekly(ctx)
	case "breaking":
		_, err = a.RunBreakingCycle(ctx, dryRun)
	case "watch":
		err = a.Watch(ctx)
	default:
		usage()
	}

	if err != nil {
		logger.Error("run failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func startMonitoringServer() {
	port := os.Getenv("MONITORING_PORT")
	if port == "" {
		port = "8080"
	}

	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/metrics", metricsHandler)

	logger.Info("starting monitoring server", "port", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Error("monitoring server error", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	stats := metrics.Global.GetStats()

	status := "ok"
	if !stats["is_healthy"].(bool) {
		status = "error"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func metricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metrics.Global.GetStats())
}
