package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/facturaIA/lector-ncf/api"
	"github.com/facturaIA/lector-ncf/internal/app"
	"github.com/facturaIA/lector-ncf/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	stderr     io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stderr: stderr}
	root := &cobra.Command{
		Use:          "ncfctl",
		Short:        "Operator tool for the NCF invoice reader",
		Version:      api.Version,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(
		newExtractCmd(opts),
		newBatchCmd(opts),
		newLedgerCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) logger() *slog.Logger {
	return app.NewLogger(o.stderr, o.logLevel)
}

// open wires the application without OCR; recognizers are built lazily by
// the commands that need them.
func (o *rootOptions) open(ctx context.Context, withExport bool) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, o.logger(), app.Options{WithExport: withExport})
}

var errNoSecret = errors.New("auth.jwt_secret (JWT_SECRET) is not configured")
