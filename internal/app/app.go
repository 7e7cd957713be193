package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/facturaIA/lector-ncf/internal/auth"
	"github.com/facturaIA/lector-ncf/internal/config"
	"github.com/facturaIA/lector-ncf/internal/export"
	"github.com/facturaIA/lector-ncf/internal/ledger"
	"github.com/facturaIA/lector-ncf/internal/ocr"
	"github.com/facturaIA/lector-ncf/internal/services"
	"github.com/facturaIA/lector-ncf/internal/storage"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Ledger     *ledger.Ledger
	Engine     *services.Engine
	Storage    *storage.Store
	Exporter   export.Sink
	Archive    *export.PostgresSink
	Recognizer ocr.Recognizer
	Auth       *auth.Authenticator
}

// Options choose which optional components New builds.
type Options struct {
	// WithOCR builds the configured recognizer; failures are fatal.
	WithOCR bool
	// WithExport builds the configured export sinks.
	WithExport bool
}

// New wires the application from cfg. Object storage is optional: when it
// cannot be reached a warning is logged and images are not stored.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	store, err := ledger.Open(ctx, cfg.LedgerOptions())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.Ledger = ledger.New(store, cfg.Ledger.Timeout, logger)
	logger.Info("ledger.opened", "backend", cfg.Ledger.Backend)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = services.NewEngine(engineCfg, a.Ledger, logger)

	if so, ok := cfg.StorageOptions(); ok {
		st, err := storage.New(ctx, so)
		if err != nil {
			logger.Warn("storage.unavailable", "endpoint", so.Endpoint, "error", err)
		} else {
			a.Storage = st
			logger.Info("storage.ready", "bucket", st.Bucket())
		}
	}

	if opts.WithOCR {
		rec, err := ocr.New(ctx, cfg.OCROptions(), logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ocr: %w", err)
		}
		a.Recognizer = rec
		logger.Info("ocr.ready", "recognizer", rec.Name())
	}

	if opts.WithExport && cfg.Export.PostgresURL != "" {
		archive, err := export.NewPostgresSink(ctx, cfg.Export.PostgresURL, logger)
		if err != nil {
			logger.Warn("export.archive.unavailable", "error", err)
		} else {
			a.Archive = archive
			logger.Info("export.archive.ready")
		}
	}

	if opts.WithExport {
		if m := a.exporters(); m.Len() > 0 {
			a.Exporter = m
		}
	}

	if cfg.Auth.JWTSecret != "" {
		a.Auth, err = auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) exporters() *export.Multi {
	cfg := a.Config.Export
	var sinks []export.Sink
	if cfg.CSVPath != "" {
		sinks = append(sinks, export.NewCSVWriter(cfg.CSVPath, 0, a.Logger))
	}
	if cfg.XLSXPath != "" {
		sinks = append(sinks, export.NewXLSXWriter(cfg.XLSXPath, a.Logger))
	}
	if cfg.JSONDir != "" {
		sinks = append(sinks, export.NewJSONWriter(export.DirStore{Dir: cfg.JSONDir}, cfg.JSONName, a.Logger))
	}
	if cfg.JSONToStorage && a.Storage != nil {
		sinks = append(sinks, export.NewJSONWriter(a.Storage, cfg.JSONName, a.Logger))
	}
	if a.Archive != nil {
		sinks = append(sinks, a.Archive)
	}
	return export.NewMulti(a.Logger, sinks...)
}

// Close releases the recognizer, the invoice archive and the ledger store.
func (a *App) Close() error {
	var errs []error
	if c, ok := a.Recognizer.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.Archive != nil {
		errs = append(errs, a.Archive.Close())
	}
	if a.Ledger != nil {
		errs = append(errs, a.Ledger.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds a JSON slog logger at level ("debug", "info", "warn",
// "error"; anything else means info).
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}
