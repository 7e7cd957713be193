package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/facturaIA/lector-ncf/internal/models"
)

// SheetName is the worksheet holding the invoices.
const SheetName = "Facturas"

// XLSX returns a workbook (as bytes) with one row per invoice.
func XLSX(invs []*models.Invoice) ([]byte, error) {
	f, err := newWorkbook()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i, inv := range invs {
		if err := writeRow(f, i+2, Row(inv)); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func newWorkbook() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, err
	}

	if err := writeRow(f, 1, Columns); err != nil {
		return nil, err
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetName, "A", "A", 20) // processed at
	_ = f.SetColWidth(SheetName, "B", "C", 16) // ncf, rnc
	_ = f.SetColWidth(SheetName, "D", "D", 36) // name
	_ = f.SetColWidth(SheetName, "E", "H", 14) // date, amounts
	_ = f.SetColWidth(SheetName, "I", "I", 48) // image
	_ = f.SetColWidth(SheetName, "M", "M", 40) // flags
	return f, nil
}

func writeRow(f *excelize.File, row int, values []string) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, v); err != nil {
			return fmt.Errorf("xlsx set %s: %w", cell, err)
		}
	}
	return nil
}

// XLSXWriter appends invoices to a workbook on disk, creating it on first use.
type XLSXWriter struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewXLSXWriter creates a writer for path.
func NewXLSXWriter(path string, logger *slog.Logger) *XLSXWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXWriter{path: path, logger: logger}
}

func (w *XLSXWriter) Append(_ context.Context, inv *models.Invoice) error {
	return w.AppendAll([]*models.Invoice{inv})
}

// AppendAll adds the invoices after the last used row and saves the workbook.
func (w *XLSXWriter) AppendAll(invs []*models.Invoice) error {
	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f, err = newWorkbook()
		if err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return fmt.Errorf("read xlsx: %w", err)
	}
	next := len(rows) + 1
	for i, inv := range invs {
		if err := writeRow(f, next+i, Row(inv)); err != nil {
			return err
		}
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}

	w.logger.Info("export.xlsx.ok",
		"path", w.path,
		"rows", len(invs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
