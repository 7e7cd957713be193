package export

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/models"
)

// Layouts used in every export format.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

// Columns of the tabular exports, in order.
var Columns = []string{
	"fecha_procesamiento",
	"ncf",
	"rnc",
	"razon_social",
	"fecha_emision",
	"subtotal",
	"itbis",
	"total",
	"imagen_original",
	"tipo_ncf",
	"estado",
	"confianza",
	"alertas",
}

// Row renders an invoice as one tabular row matching Columns. Absent fields
// are empty strings.
func Row(inv *models.Invoice) []string {
	return []string{
		inv.ProcessedAt.Format(TimestampLayout),
		text(inv.NCF),
		text(inv.RNC),
		text(inv.BusinessName),
		date(inv.IssueDate),
		money(inv.Amounts.Subtotal),
		money(inv.Amounts.Tax),
		money(inv.Amounts.Total),
		inv.Provenance.SourceImage,
		inv.TipoNCF,
		string(inv.Outcome.Status),
		decimal.NewFromFloat(inv.Confidence).StringFixed(4),
		joinCodes(inv.Outcome),
	}
}

func text(f models.ResolvedField[string]) string {
	if !f.Present {
		return ""
	}
	return f.Value
}

func date(f models.ResolvedField[time.Time]) string {
	if !f.Present {
		return ""
	}
	return f.Value.Format(DateLayout)
}

func money(f models.ResolvedField[decimal.Decimal]) string {
	if !f.Present {
		return ""
	}
	return f.Value.StringFixed(2)
}

func joinCodes(o models.ValidationOutcome) string {
	codes := o.Codes()
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, "|")
}

// Sink receives each processed invoice.
type Sink interface {
	Append(ctx context.Context, inv *models.Invoice) error
}

// Multi fans an invoice out to every sink. All sinks are attempted; the
// errors are joined.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti builds a Multi. Nil sinks are skipped.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len is the number of configured sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Append(ctx context.Context, inv *models.Invoice) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, inv); err != nil {
			m.logger.Error("export.append.failed", "invoice_id", inv.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
