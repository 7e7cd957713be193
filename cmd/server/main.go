package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/facturaIA/lector-ncf/api"
	"github.com/facturaIA/lector-ncf/internal/app"
	"github.com/facturaIA/lector-ncf/internal/config"
)

func main() {
	fs := ff.NewFlagSet("lector-ncf")
	var (
		configPath  = fs.StringLong("config", "config.yaml", "YAML configuration file")
		port        = fs.IntLong("port", 0, "HTTP port (overrides config)")
		host        = fs.StringLong("host", "", "listen address (overrides config)")
		logLevel    = fs.StringLong("log-level", "", "debug, info, warn or error (overrides config)")
		showVersion = fs.BoolLong("version", "show version information")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("LECTOR_NCF")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *showVersion {
		fmt.Println(api.Version)
		return
	}

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config.invalid", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	if path == "" {
		logger.Warn("config.defaults", "path", *configPath)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server.failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{WithOCR: true, WithExport: true})
	if err != nil {
		return err
	}
	defer a.Close()

	deps := api.Deps{
		Engine:        a.Engine,
		Ledger:        a.Ledger,
		Recognizer:    a.Recognizer,
		Exporter:      a.Exporter,
		Auth:          a.Auth,
		MinConfidence: cfg.Validation.MinConfidence,
		Logger:        logger,
	}
	if a.Storage != nil {
		deps.Images = a.Storage
	}
	if a.Archive != nil {
		deps.Archive = a.Archive
	}
	if a.Auth == nil {
		logger.Warn("auth.disabled", "reason", "JWT_SECRET not set")
	}

	handler, err := api.NewHandler(deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      3 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server.listening",
			"addr", srv.Addr,
			"ocr", a.Recognizer.Name(),
			"ledger", cfg.Ledger.Backend,
			"exports", a.Exporter != nil,
			"archive", a.Archive != nil,
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
