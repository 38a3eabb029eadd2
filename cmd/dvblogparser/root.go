package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/config"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/logging"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/tracing"
)

const (
	keyFilePrefix = "file_prefix"
	keyLogLevel   = "logging.level"
	keyLogFormat  = "logging.format"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "dvblogparser",
		Short: "Deduplicate rotated access logs and report new errors",
		Long: `dvblogparser scans a directory of rotating access logs, keeps a persisted
set of every record seen within the retention window and prints records
at the alert level that were not seen on any earlier run.

The file name prefix is read from LOG_FILE_NAME_STARTS_WITH.

Examples:
  LOG_FILE_NAME_STARTS_WITH=access dvblogparser
  LOG_FILE_NAME_STARTS_WITH=access dvblogparser --config /etc/dvblogparser.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParser(cmd, v)
		},
	}

	cmd.PersistentFlags().String("config", "", "path to YAML configuration file")
	cmd.PersistentFlags().String("log-level", "", "diagnostic log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "diagnostic log format (json, console)")

	_ = v.BindEnv(keyFilePrefix, config.EnvFilePrefix)
	_ = v.BindPFlag(keyLogLevel, cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag(keyLogFormat, cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func runParser(cmd *cobra.Command, v *viper.Viper) error {
	// Fail before touching the filesystem
	prefix := v.GetString(keyFilePrefix)
	if prefix == "" {
		return config.ErrMissingPrefix
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.FilePrefix = prefix
	if level := v.GetString(keyLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if format := v.GetString(keyLogFormat); format != "" {
		cfg.Logging.Format = format
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	logging.SetGlobal(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	logger.Debug().
		Str("version", version).
		Str("log_dir", cfg.LogDir).
		Str("prefix", cfg.FilePrefix).
		Str("state", cfg.State.Path).
		Msg("Starting run")

	p, err := pipeline.New(cfg, logger,
		pipeline.WithOutput(cmd.OutOrStdout()),
		pipeline.WithTracer(provider.Tracer()),
	)
	if err != nil {
		return err
	}

	_, err = p.Run(ctx)
	return err
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
