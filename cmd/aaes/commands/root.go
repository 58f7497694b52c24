package commands

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/aaes/internal/config"
)

var cfg config.Config

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		serviceURL string
		timeout    time.Duration
		logLevel   string
		logFormat  string
	)

	root := &cobra.Command{
		Use:          "aaes",
		Short:        "Audio enhancement client for listeners with hearing loss",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			flags := cmd.Flags()
			if flags.Changed("service") {
				cfg.ServiceURL = serviceURL
			}
			if flags.Changed("timeout") {
				cfg.RequestTimeout = timeout
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return setupLogging(cfg.LogLevel, cfg.LogFormat)
		},
	}

	root.PersistentFlags().StringVar(&serviceURL, "service", "", "enhancement service base URL (default $AAES_SERVICE_URL)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 0, "per-request timeout (default $AAES_REQUEST_TIMEOUT seconds)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(serveCmd(), enhanceCmd(), stubServiceCmd())
	return root
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
