// Package main is the entry point for the Vitalis exporter. It loads the
// configuration, builds the collection jobs and serves their metrics until
// it is told to stop, either from a terminal or as a Windows service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/vitalis/exporter/internal/app"
	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/service"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath    = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	listenAddress = flag.String("web.listen-address", "", "Address to serve metrics on")
	metricsPath   = flag.String("web.metrics-path", "", "Path under which to expose metrics")
	logLevel      = flag.String("log.level", "", "Log level: debug, info, warn or error")
	checkOnly     = flag.Bool("config.check", false, "Validate the configuration and exit")
	writeConfig   = flag.String("config.write", "", "Write the effective configuration to this path and exit")
	showVersion   = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("vitalis-exporter %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.LoadLayered(config.CLIOverrides{
		ListenAddress: *listenAddress,
		MetricsPath:   *metricsPath,
		LogLevel:      *logLevel,
	}, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	if *checkOnly {
		fmt.Printf("Configuration OK, %d jobs\n", len(cfg.Jobs))
		os.Exit(0)
	}
	if *writeConfig != "" {
		if err := config.WriteConfig(cfg, *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *writeConfig)
		os.Exit(0)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Warn("Failed to set GOMAXPROCS", zap.Error(err))
	}

	logger.Info("Starting Vitalis Exporter",
		zap.String("version", version),
		zap.String("listen_address", cfg.ListenAddress),
		zap.Int("jobs", len(cfg.Jobs)))

	a, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		logger.Error("Failed to initialize exporter", zap.Error(err))
		os.Exit(1)
	}
	if err := a.Listen(); err != nil {
		logger.Error("Cannot start metrics server", zap.Error(err))
		_ = a.Close()
		os.Exit(1)
	}

	if service.IsWindowsService() {
		logger.Info("Running as Windows service")
		err = service.New(logger, a.Run).Run()
	} else {
		err = a.Run(context.Background())
	}
	if cerr := a.Close(); cerr != nil {
		logger.Warn("Error releasing resources", zap.Error(cerr))
	}
	if err != nil {
		logger.Error("Exporter stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Exporter stopped")
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)
	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			))
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
