package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"printwatch/agent/metrics"
	"printwatch/agent/monitor"
	agentstorage "printwatch/agent/storage"
	"printwatch/common/config"
	"printwatch/common/logger"
	"printwatch/common/settings"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const component = "agent"

func main() {
	configPath := flag.String("config", "", "Configuration file path (default: search platform paths for config.toml)")
	envFile := flag.String("env-file", ".env", "Environment file loaded before overrides are applied")
	generateConfig := flag.Bool("generate-config", false, "Generate default config file and exit")
	serviceCmd := flag.String("service", "", "Service control: install, uninstall, start, stop, restart, status, run")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("PrintWatch Agent %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	if *generateConfig {
		path := *configPath
		if path == "" {
			path = "config.toml"
		}
		if err := WriteDefaultAgentConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default configuration at %s\n", path)
		return
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if *serviceCmd != "" {
		if err := handleServiceCommand(*serviceCmd, *configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if !service.Interactive() {
		if err := handleServiceCommand("run", *configPath); err != nil {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *configPath, false); err != nil {
		fmt.Fprintf(os.Stderr, "printwatch: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the flag value when set, otherwise the first
// config.toml found on the search path. Empty means run on defaults.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path, _, err := config.FindConfigFile("config.toml", component); err == nil {
		return path
	}
	return ""
}

// run starts the monitor and blocks until ctx is canceled.
func run(ctx context.Context, configFlag string, isService bool) error {
	configPath := resolveConfigPath(configFlag)
	cfg, err := LoadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logDir, err := config.GetLogDirectory(component, isService)
	if err != nil {
		logDir = ""
	}
	appLogger := newLogger(cfg.Logging, logDir)
	defer appLogger.Close()
	logger.Global = appLogger
	agentstorage.SetLogger(appLogger)

	appLogger.Info("PrintWatch agent starting",
		"version", Version,
		"git_commit", GitCommit,
		"config", configPath,
		"service", isService)

	dbPath, err := databasePath(cfg.Database, isService)
	if err != nil {
		return err
	}
	store, err := agentstorage.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	appLogger.Info("Database ready", "path", store.Path(), "schema_version", agentstorage.SchemaVersion())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	devicesEvery, alertsEvery, historyEvery := cfg.Persistence.intervals()
	mon, err := monitor.New(monitor.Config{
		Settings:            settings.NewStore(cfg.Settings),
		Store:               store,
		Metrics:             metrics.New(reg),
		Logger:              appLogger,
		DeviceSaveInterval:  devicesEvery,
		AlertSaveInterval:   alertsEvery,
		HistorySaveInterval: historyEvery,
	})
	if err != nil {
		return err
	}
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = newMetricsServer(cfg.Metrics.Listen, reg)
		go func() {
			appLogger.Info("Serving metrics", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Metrics server failed", "addr", cfg.Metrics.Listen, "error", err)
			}
		}()
	}

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-hangup:
			if err := reloadLogging(appLogger, configPath); err != nil {
				appLogger.Warn("Logging reload failed", "error", err)
			}
		}
	}
	appLogger.Info("PrintWatch agent shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Metrics server shutdown", "error", err)
		}
		cancel()
	}
	mon.Stop()
	return nil
}

func newLogger(cfg config.LoggingConfig, logDir string) *logger.Logger {
	policy := logger.DefaultRotationPolicy()
	if cfg.MaxSizeMB > 0 {
		policy.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		policy.MaxFiles = cfg.MaxBackups
	}
	if cfg.MaxAgeDays > 0 {
		policy.MaxAgeDays = cfg.MaxAgeDays
	}
	return logger.NewWithRotation(logger.LevelFromString(cfg.Level), logDir, 1000, policy)
}

// reloadLogging applies the log level from the config file and reopens the
// log file, so external rotation can follow a SIGHUP.
func reloadLogging(l *logger.Logger, configPath string) error {
	cfg, err := LoadAgentConfig(configPath)
	if err != nil {
		return err
	}
	if level := logger.LevelFromString(cfg.Logging.Level); level != l.GetLevel() {
		l.Info("Log level changed", "from", l.GetLevel(), "to", level)
		l.SetLevel(level)
	}
	return l.Rotate()
}

func databasePath(cfg config.DatabaseConfig, isService bool) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}
	dataDir, err := config.GetDataDirectory(component, isService)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "printwatch.db"), nil
}

func newMetricsServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
