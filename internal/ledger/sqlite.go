package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// timestamps are stored fixed-width so ORDER BY on text sorts chronologically
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ncf_ledger (
	ncf         TEXT PRIMARY KEY,
	invoice_id  TEXT NOT NULL,
	rnc         TEXT NOT NULL DEFAULT '',
	total       TEXT NOT NULL DEFAULT '0.00',
	recorded_at TEXT NOT NULL
)`

// SQLiteStore implements Store on a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and creates the ledger table
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ncf_ledger table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Contains(ctx context.Context, ncf string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM ncf_ledger WHERE ncf = ?`, ncf).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) Insert(ctx context.Context, e Entry) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ncf_ledger (ncf, invoice_id, rnc, total, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.NCF, e.InvoiceID, e.RNC, e.Total.StringFixed(2), e.RecordedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) Get(ctx context.Context, ncf string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ncf, invoice_id, rnc, total, recorded_at FROM ncf_ledger WHERE ncf = ?
	`, ncf)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ncf, invoice_id, rnc, total, recorded_at FROM ncf_ledger
		ORDER BY recorded_at DESC, ncf
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var (
		e                 Entry
		total, recordedAt string
	)
	if err := row.Scan(&e.NCF, &e.InvoiceID, &e.RNC, &total, &recordedAt); err != nil {
		return Entry{}, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing total %q: %w", total, err)
	}
	t, err := time.Parse(sqliteTimeLayout, recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing recorded_at %q: %w", recordedAt, err)
	}
	e.Total = d
	e.RecordedAt = t
	return e, nil
}
