package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/db"
	"github.com/facturaIA/lector-ncf/internal/models"
)

const facturasSchema = `
CREATE TABLE IF NOT EXISTS facturas (
	id                  TEXT PRIMARY KEY,
	empresa_id          TEXT NOT NULL,
	ncf                 TEXT,
	tipo_ncf            TEXT NOT NULL DEFAULT '',
	rnc                 TEXT,
	razon_social        TEXT,
	fecha_emision       DATE,
	subtotal            NUMERIC(14,2),
	itbis               NUMERIC(14,2),
	total               NUMERIC(14,2),
	moneda              TEXT NOT NULL DEFAULT 'DOP',
	estado              TEXT NOT NULL,
	alertas             TEXT[] NOT NULL DEFAULT '{}',
	confianza           DOUBLE PRECISION NOT NULL DEFAULT 0,
	confianza_ocr       DOUBLE PRECISION NOT NULL DEFAULT 0,
	origen              TEXT NOT NULL DEFAULT '',
	imagen_original     TEXT NOT NULL DEFAULT '',
	revisada            BOOLEAN NOT NULL DEFAULT false,
	exportada           BOOLEAN NOT NULL DEFAULT false,
	fecha_procesamiento TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const facturasIndex = `
CREATE INDEX IF NOT EXISTS facturas_empresa_idx
	ON facturas (empresa_id, fecha_procesamiento DESC)`

// NoEmpresa groups invoices whose issuer RNC was not read.
const NoEmpresa = "sin_empresa"

// ErrInvoiceNotFound is returned when no stored invoice has the given id.
var ErrInvoiceNotFound = errors.New("invoice not found")

// EmpresaID is the company key an invoice is filed under: emp_<rnc>.
func EmpresaID(inv *models.Invoice) string {
	if !inv.RNC.Present || inv.RNC.Value == "" {
		return NoEmpresa
	}
	return "emp_" + inv.RNC.Value
}

// StoredRecord is a Record as kept by PostgresSink, with its review state.
type StoredRecord struct {
	Record
	EmpresaID string `json:"empresa_id"`
	Revisada  bool   `json:"revisada"`
	Exportada bool   `json:"exportada"`
}

// NewStoredRecord is the row Append inserts for inv.
func NewStoredRecord(inv *models.Invoice) StoredRecord {
	return StoredRecord{Record: NewRecord(inv), EmpresaID: EmpresaID(inv)}
}

// ListFilter narrows PostgresSink.List. Zero values match everything.
type ListFilter struct {
	EmpresaID   string
	PendingOnly bool // not yet reviewed
	Limit       int
}

// PostgresSink archives every processed invoice in the facturas table.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresSink connects to databaseURL and creates the facturas table
func NewPostgresSink(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := db.NewPool(ctx, databaseURL, facturasSchema, facturasIndex)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{pool: pool, logger: logger}, nil
}

// Append inserts inv. Re-appending the same invoice id is a no-op.
func (p *PostgresSink) Append(ctx context.Context, inv *models.Invoice) error {
	r := NewStoredRecord(inv)
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO facturas (
			id, empresa_id, ncf, tipo_ncf, rnc, razon_social, fecha_emision,
			subtotal, itbis, total, moneda, estado, alertas, confianza,
			confianza_ocr, origen, imagen_original, fecha_procesamiento
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`,
		r.ID, r.EmpresaID, r.NCF, r.TipoNCF, r.RNC, r.RazonSocial,
		ptr(inv.IssueDate.Present, inv.IssueDate.Value),
		fixed(r.Montos.Subtotal), fixed(r.Montos.ITBIS), fixed(r.Montos.Total),
		currencyOrDefault(r.Montos.Moneda), r.Estado, r.Alertas, r.Confianza,
		r.Metadata.ConfianzaOCR, r.Metadata.Origen, r.Metadata.ImagenOriginal, inv.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert factura %s: %w", inv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		p.logger.Debug("export.postgres.exists", "invoice_id", inv.ID)
	}
	return nil
}

// List returns stored invoices, newest first.
func (p *PostgresSink) List(ctx context.Context, f ListFilter) ([]StoredRecord, error) {
	query := `
		SELECT id, empresa_id, ncf, tipo_ncf, rnc, razon_social, fecha_emision::text,
			subtotal::text, itbis::text, total::text, moneda, estado, alertas,
			confianza, confianza_ocr, origen, imagen_original, revisada, exportada,
			fecha_procesamiento
		FROM facturas
		WHERE ($1 = '' OR empresa_id = $1)
			AND (NOT $2 OR NOT revisada)
		ORDER BY fecha_procesamiento DESC, id
	`
	args := []any{f.EmpresaID, f.PendingOnly}
	if f.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, f.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]StoredRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkReviewed flags an invoice as checked by an operator.
func (p *PostgresSink) MarkReviewed(ctx context.Context, id string) error {
	return p.mark(ctx, id, `UPDATE facturas SET revisada = true, updated_at = now() WHERE id = $1`)
}

// MarkExported flags an invoice as sent to the accounting system.
func (p *PostgresSink) MarkExported(ctx context.Context, id string) error {
	return p.mark(ctx, id, `UPDATE facturas SET exportada = true, updated_at = now() WHERE id = $1`)
}

func (p *PostgresSink) mark(ctx context.Context, id, stmt string) error {
	tag, err := p.pool.Exec(ctx, stmt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// Truncate removes every stored invoice
func (p *PostgresSink) Truncate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `TRUNCATE facturas`)
	return err
}

// Close closes the connection pool
func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (StoredRecord, error) {
	var (
		r                      StoredRecord
		subtotal, itbis, total *string
		processedAt            time.Time
	)
	err := row.Scan(
		&r.ID, &r.EmpresaID, &r.NCF, &r.TipoNCF, &r.RNC, &r.RazonSocial, &r.FechaEmision,
		&subtotal, &itbis, &total, &r.Montos.Moneda, &r.Estado, &r.Alertas,
		&r.Confianza, &r.Metadata.ConfianzaOCR, &r.Metadata.Origen, &r.Metadata.ImagenOriginal,
		&r.Revisada, &r.Exportada, &processedAt,
	)
	if err != nil {
		return StoredRecord{}, err
	}
	r.FechaProcesamiento = processedAt.UTC().Format(time.RFC3339)
	if r.Alertas == nil {
		r.Alertas = []string{}
	}
	if r.Montos.Subtotal, err = parseAmount(subtotal); err != nil {
		return StoredRecord{}, err
	}
	if r.Montos.ITBIS, err = parseAmount(itbis); err != nil {
		return StoredRecord{}, err
	}
	if r.Montos.Total, err = parseAmount(total); err != nil {
		return StoredRecord{}, err
	}
	return r, nil
}

func parseAmount(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", *s, err)
	}
	return &d, nil
}

func fixed(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "DOP"
	}
	return c
}
