package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/db"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ncf_ledger (
	ncf         TEXT PRIMARY KEY,
	invoice_id  TEXT NOT NULL,
	rnc         TEXT NOT NULL DEFAULT '',
	total       NUMERIC(14,2) NOT NULL DEFAULT 0,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and creates the ledger table
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, databaseURL, postgresSchema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Contains reports whether the NCF row exists
func (p *PostgresStore) Contains(ctx context.Context, ncf string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ncf_ledger WHERE ncf = $1)`, ncf).Scan(&exists)
	return exists, err
}

// Insert relies on the primary key: a concurrent writer leaves RowsAffected at 0
func (p *PostgresStore) Insert(ctx context.Context, e Entry) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO ncf_ledger (ncf, invoice_id, rnc, total, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ncf) DO NOTHING
	`, e.NCF, e.InvoiceID, e.RNC, e.Total.StringFixed(2), e.RecordedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves a single entry by NCF
func (p *PostgresStore) Get(ctx context.Context, ncf string) (Entry, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT ncf, invoice_id, rnc, total::text, recorded_at
		FROM ncf_ledger
		WHERE ncf = $1
	`, ncf)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns entries newest first
func (p *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT ncf, invoice_id, rnc, total::text, recorded_at
		FROM ncf_ledger
		ORDER BY recorded_at DESC, ncf
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Truncate removes every entry
func (p *PostgresStore) Truncate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `TRUNCATE ncf_ledger`)
	return err
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e     Entry
		total string
	)
	if err := row.Scan(&e.NCF, &e.InvoiceID, &e.RNC, &total, &e.RecordedAt); err != nil {
		return Entry{}, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing total %q: %w", total, err)
	}
	e.Total = d
	return e, nil
}
