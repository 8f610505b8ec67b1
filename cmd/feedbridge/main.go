// cmd/feedbridge/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/common/shutdown"
	"github.com/YaganovValera/feedbridge/internal/app"
	"github.com/YaganovValera/feedbridge/internal/config"
	"github.com/YaganovValera/feedbridge/pkg/feedclient"
)

var configPath string

func bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file (empty → ENV only)")
}

// setup загружает конфиг и создаёт логгер.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}
	return cfg, log, nil
}

func main() {
	root := &cobra.Command{
		Use:           "feedbridge",
		Short:         "Bridge between a market-data feed server and local sinks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(root.PersistentFlags())

	root.AddCommand(
		serveCmd(),
		feedCmd(app.CmdRegister, "Register the inbound address with the feed"),
		feedCmd(app.CmdUnregister, "Remove the inbound address from the feed"),
		feedCmd(app.CmdStart, "Ask the feed to start streaming"),
		feedCmd(app.CmdStop, "Ask the feed to stop streaming"),
		restartCmd(),
		configCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "feedbridge: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the feed endpoints and fan pushes out to sinks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := shutdown.SignalContext(context.Background(), log)
			defer cancel()

			log.Info("starting service",
				zap.String("service.name", cfg.ServiceName),
				zap.String("service.version", cfg.ServiceVersion),
			)
			if err := app.Run(ctx, cfg, log); err != nil {
				log.Error("application exited with error", zap.Error(err))
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}
}

func feedCmd(c app.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(c),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFeedCommand(cmd.Context(), c, nil)
		},
	}
}

func restartCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Reset the feed stream, optionally replaying from --at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if at == "" {
				return runFeedCommand(cmd.Context(), app.CmdRestart, nil)
			}
			return runFeedCommand(cmd.Context(), app.CmdRestart, &at)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "replay start, "+feedclient.RestartDateLayout+" in feed.time_location")
	return cmd
}

func runFeedCommand(ctx context.Context, c app.Command, rawAt *string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	var at *time.Time
	if rawAt != nil {
		loc, err := time.LoadLocation(cfg.Feed.TimeLocation)
		if err != nil {
			return err
		}
		t, err := time.ParseInLocation(feedclient.RestartDateLayout, *rawAt, loc)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		at = &t
	}
	return app.RunCommand(ctx, cfg, log, c, at)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets hidden",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return cfg.Print(cmd.OutOrStdout())
		},
	})
	return cmd
}
