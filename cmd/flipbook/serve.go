package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/flipbook/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP server until SIGINT or SIGTERM. The database is migrated on
startup. Without Docker the server still starts; publications just get no
thumbnail.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.Build(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to create server", slog.String("error", err.Error()))
			return err
		}
		logger.Info("flipbook starting", slog.String("version", version))

		// Start blocks until ctx is cancelled.
		if err := srv.Start(ctx); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
