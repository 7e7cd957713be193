package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/facturaIA/lector-ncf/internal/models"
)

// DefaultCSVName is the historical file every processed invoice is appended to.
const DefaultCSVName = "facturas_historico.csv"

// CSVWriter appends invoices to a CSV history file. The header is written
// only when the file is new or empty.
type CSVWriter struct {
	path      string
	delimiter rune
	mu        sync.Mutex
	logger    *slog.Logger
}

// NewCSVWriter creates a writer for path. A zero delimiter means ','.
func NewCSVWriter(path string, delimiter rune, logger *slog.Logger) *CSVWriter {
	if delimiter == 0 {
		delimiter = ','
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{path: path, delimiter: delimiter, logger: logger}
}

// Path is the file being appended to.
func (w *CSVWriter) Path() string { return w.path }

func (w *CSVWriter) Append(_ context.Context, inv *models.Invoice) error {
	return w.AppendAll([]*models.Invoice{inv})
}

// AppendAll writes the invoices in order under one lock.
func (w *CSVWriter) AppendAll(invs []*models.Invoice) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat csv: %w", err)
	}

	cw := csv.NewWriter(f)
	cw.Comma = w.delimiter
	if info.Size() == 0 {
		if err := cw.Write(Columns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, inv := range invs {
		if err := cw.Write(Row(inv)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	w.logger.Info("export.csv.ok", "path", w.path, "rows", len(invs))
	return nil
}
