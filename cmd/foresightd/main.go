package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/api"
	"github.com/markus-lassfolk/foresight/pkg/forecast"
	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/metrics"
	"github.com/markus-lassfolk/foresight/pkg/models"
	"github.com/markus-lassfolk/foresight/pkg/mqtt"
	"github.com/markus-lassfolk/foresight/pkg/pidfile"
	"github.com/markus-lassfolk/foresight/pkg/scheduler"
	"github.com/markus-lassfolk/foresight/pkg/telem"
	"github.com/markus-lassfolk/foresight/pkg/uci"
	"github.com/markus-lassfolk/foresight/pkg/utils"
)

var (
	configPath = flag.String("config", "/etc/config/foresight", "Path to UCI configuration file")
	pidPath    = flag.String("pid-file", "/tmp/foresightd.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error|trace)")
	version    = flag.Bool("version", false, "Show version information")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (equivalent to trace level)")
	foreground = flag.Bool("foreground", false, "Run in foreground mode (don't daemonize)")
	once       = flag.Bool("once", false, "Run a single forecast cycle, print the result and exit")
	force      = flag.Bool("force", false, "Force start by removing stale PID file")
)

const (
	AppName    = "foresightd"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	// Determine log level
	effectiveLogLevel := "info"
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	if *verbose {
		effectiveLogLevel = "trace"
	}

	// Initialize logger with component name
	logger := logx.NewLogger(effectiveLogLevel, "foresightd")

	// Initialize PID file management
	pidFile := pidfile.New(*pidPath)

	// Check if another instance is already running
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("Failed to check for running instance", "error", err)
		os.Exit(1)
	}

	if running {
		if *force {
			logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
			if err := pidFile.ForceRemove(); err != nil {
				logger.Error("Failed to remove existing PID file", "error", err)
				os.Exit(1)
			}
		} else {
			logger.Error("Another instance is already running", "existing_pid", existingPID, "pid_file", *pidPath)
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			fmt.Fprintf(os.Stderr, "Use --force to override, or stop the existing instance first\n")
			os.Exit(1)
		}
	}

	// Create PID file
	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}

	// Ensure PID file is cleaned up on exit
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	logger.Info("Starting foresight daemon", "version", AppVersion, "pid", os.Getpid(), "pid_file", *pidPath, "foreground", *foreground)

	// Load configuration
	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	// Apply configured log level unless overridden on the command line
	if *logLevel == "" && !*verbose && cfg.LogLevel != "" {
		logger.SetLevel(cfg.LogLevel)
	}

	logger.Info("Configuration loaded",
		"forecast_horizon", cfg.ForecastHorizon,
		"context_length", cfg.ContextLength,
		"aggregate_data", cfg.AggregateData,
		"annual_seasonality", cfg.EnableAnnualSeasonality,
		"primary_endpoint", cfg.PrimaryEndpoint)

	// Ensure all required UCI entries exist for later runs. Provisioning
	// failures are not fatal since defaults are already applied.
	uciClient := uci.NewUCI(logger)
	nativeClient := uci.NewNativeUCI(filepath.Dir(*configPath), logger)
	configManager := uci.NewConfigManager(uciClient, nativeClient, logger)
	if err := configManager.EnsureRequiredConfig(context.Background()); err != nil {
		logger.Warn("Failed to ensure required configuration", "error", err)
	} else if err := configManager.Commit(context.Background()); err != nil {
		logger.Warn("Failed to commit configuration changes", "error", err)
	}

	// Initialize telemetry store
	store, err := telem.NewStore(cfg.RetentionHours, cfg.MaxRAMMB, cfg.ContextLength)
	if err != nil {
		logger.Error("Failed to initialize telemetry store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize the primary model client and the forecasting engine
	primary := models.NewPrimary(cfg.PrimaryEndpoint, time.Duration(cfg.PrimaryTimeoutS)*time.Second, cfg.ContextLength, logger.WithComponent("primary"))
	engine := forecast.NewEngine(cfg, primary, logger.WithComponent("engine"))

	// Initialize the forecast scheduler
	schedConfig := scheduler.DefaultConfig()
	schedConfig.IntervalS = cfg.ForecastIntervalS
	schedConfig.Aggregate = cfg.AggregateData
	sched := scheduler.New(engine, store, schedConfig, logger.WithComponent("scheduler"))

	// Single-cycle mode for cron-style invocation
	if *once {
		result, err := sched.RunOnce(context.Background())
		if err != nil {
			logger.Error("Forecast cycle failed", "error", err)
			os.Exit(1)
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			logger.Error("Failed to marshal forecast result", "error", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	// Initialize and start metrics server if enabled
	var metricsServer *metrics.Server
	if cfg.MetricsListener {
		metricsServer = metrics.NewServer(&metrics.Config{
			Enabled: true,
			Port:    cfg.MetricsPort,
		}, engine, store, logger.WithComponent("metrics"))
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", "error", err)
			os.Exit(1)
		}
		sched.AddSink(metricsServer)
	}

	// Initialize and start API server if enabled
	var apiServer *api.Server
	if cfg.APIListener {
		apiServer = api.NewServer(engine, sched, store, &api.Config{
			Enabled:    true,
			Port:       cfg.APIPort,
			Token:      cfg.APIToken,
			SecretHash: cfg.APISecretHash,
		}, logger.WithComponent("api"))
		if err := apiServer.Start(); err != nil {
			logger.Error("Failed to start API server", "error", err)
			os.Exit(1)
		}
	}

	// Initialize MQTT publisher if enabled
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewPublisher(&mqtt.Config{
			Enabled:     cfg.MQTT.Enabled,
			Broker:      cfg.MQTT.Broker,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retain:      cfg.MQTT.Retain,
		}, logger.WithComponent("mqtt"))
		if err := publisher.Connect(); err != nil {
			logger.Error("Failed to connect to MQTT broker", "error", err)
			// Don't exit, MQTT is optional
		}
		sched.AddSink(publisher)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Start heartbeat writer
	startTime := time.Now()
	heartbeat := utils.NewHeartbeat("/tmp/foresightd.health", 10*time.Second, logger)
	if err := heartbeat.Start(ctx); err != nil {
		logger.Warn("Failed to start heartbeat writer", "error", err)
	}

	// Start the forecast scheduler
	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	logger.Info("Daemon started", "api_listener", cfg.APIListener, "metrics_listener", cfg.MetricsListener, "mqtt", cfg.MQTT.Enabled)

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	sched.Stop()
	heartbeat.Stop()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn("API server shutdown failed", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if publisher != nil {
		publisher.Disconnect()
	}

	logger.Info("Graceful shutdown completed", "uptime_s", int64(time.Since(startTime).Seconds()))
}
