package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vertexgw/vertex-gateway/internal/config"
	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/gateway"
	"github.com/vertexgw/vertex-gateway/internal/telemetry"
)

const version = "0.1.0"

var (
	flagConfig       string
	flagProject      string
	flagRegion       string
	flagModel        string
	flagModelVersion string
	flagLogLevel     string
)

var rootCmd = &cobra.Command{
	Use:           "vertexgw",
	Short:         "Resilient client for Vertex AI hosted models",
	Long:          "vertexgw calls partner and native models hosted on Vertex AI through one interface, with credential fallback, retries and circuit breaking built in.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Classified errors print their message and the
// remediation hint; the process exits non-zero on any failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if e, ok := domain.AsError(err); ok {
			fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
			if e.Remediation != "" {
				fmt.Fprintf(os.Stderr, "fix: %s\n", e.Remediation)
			}
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "Google Cloud project id")
	rootCmd.PersistentFlags().StringVarP(&flagRegion, "region", "r", "", "Region override")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Model id")
	rootCmd.PersistentFlags().StringVar(&flagModelVersion, "model-version", "", "Pinned model version, e.g. @20250929")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig builds the effective configuration: defaults, file, environment,
// then command-line flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagProject != "" {
		cfg.ProjectID = flagProject
	}
	if flagRegion != "" {
		cfg.Region = flagRegion
	}
	if flagModel != "" {
		cfg.ModelID = flagModel
	}
	if flagModelVersion != "" {
		cfg.ModelVersion = flagModelVersion
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	setupLogger(cfg.LogLevel)
	return cfg, nil
}

// newGateway wires a gateway plus its telemetry shutdown hook.
func newGateway(ctx context.Context) (*gateway.Gateway, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, "vertexgw", version, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		shutdownTelemetry(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		if err := gw.Close(); err != nil {
			slog.Warn("gateway close failed", "error", err)
		}
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}
	return gw, cleanup, nil
}

// setupLogger installs a JSON handler on stderr so command output on stdout
// stays machine-readable.
func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
