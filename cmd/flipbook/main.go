// Package main is the entry point for the flipbook server.
//
// The main package stays small: it turns flags and the config file into a
// config.Config and hands it to internal/server. Each operation is a
// subcommand: serve, migrate, config and version.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/flipbook/internal/config"
	"github.com/sakif/flipbook/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// defaultConfigFile is read when --config is not given and the file exists.
const defaultConfigFile = "flipbook.toml"

var rootCmd = &cobra.Command{
	Use:   "flipbook",
	Short: "Publish PDFs as page-flip books",
	Long: `flipbook serves a web app where signed-in users upload PDFs and share
them as flipbooks. Configuration comes from a TOML file (--config, or
./flipbook.toml when present) overridden by FLIPBOOK_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./"+defaultConfigFile+" if present)")
}

// loadConfig resolves the --config flag and loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking %s: %w", defaultConfigFile, err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", path)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(cfg.Log.Format, cfg.Log.Level, os.Stderr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
