// Package ledger persists the NCFs already seen and serializes the duplicate
// check with the insertion for each NCF.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Get when the NCF was never recorded.
var ErrNotFound = errors.New("ledger entry not found")

// DefaultTimeout bounds each store call.
const DefaultTimeout = 3 * time.Second

// Entry is one recorded NCF.
type Entry struct {
	NCF        string          `json:"ncf"`
	InvoiceID  string          `json:"invoiceId"`
	RNC        string          `json:"rnc,omitempty"`
	Total      decimal.Decimal `json:"total"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Store is the persistence contract. Insert must be insert-if-absent: it
// reports false, without error, when the NCF is already present.
type Store interface {
	Contains(ctx context.Context, ncf string) (bool, error)
	Insert(ctx context.Context, e Entry) (bool, error)
	Get(ctx context.Context, ncf string) (Entry, error)
	// List returns entries newest first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Decision is called with the duplicate verdict while the NCF is locked. It
// returns the entry to record and whether to record it.
type Decision func(duplicate bool) (Entry, bool)

// Result of a check-then-record.
type Result struct {
	Duplicate bool
	Recorded  bool
}

// Ledger wraps a Store with per-NCF locking and bounded I/O.
type Ledger struct {
	store   Store
	guard   *Guard
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a ledger over store. A zero timeout means DefaultTimeout.
func New(store Store, timeout time.Duration, logger *slog.Logger) *Ledger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:   store,
		guard:   NewGuard(),
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// CheckAndRecord looks the NCF up and, if decide asks for it, inserts it, all
// while holding the NCF's lock. At most one caller per NCF observes a
// non-duplicate and records it. When the store reports the NCF appeared in the
// meantime (another process), decide is called again with duplicate=true.
func (l *Ledger) CheckAndRecord(ctx context.Context, ncf string, decide Decision) (Result, error) {
	unlock := l.guard.Lock(ncf)
	defer unlock()

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	duplicate, err := l.store.Contains(cctx, ncf)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("failed to check ledger for %s: %w", ncf, err)
	}

	entry, record := decide(duplicate)
	if !record {
		return Result{Duplicate: duplicate}, nil
	}

	entry.NCF = ncf
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = l.now().UTC()
	}

	ictx, cancel := context.WithTimeout(ctx, l.timeout)
	inserted, err := l.store.Insert(ictx, entry)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("failed to record %s in ledger: %w", ncf, err)
	}
	if !inserted {
		l.logger.Warn("ledger.insert.conflict", "ncf", ncf)
		decide(true)
		return Result{Duplicate: true}, nil
	}

	l.logger.Debug("ledger.insert.ok", "ncf", ncf, "invoice_id", entry.InvoiceID)
	return Result{Duplicate: duplicate, Recorded: true}, nil
}

// Contains reports whether ncf was recorded.
func (l *Ledger) Contains(ctx context.Context, ncf string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	ok, err := l.store.Contains(ctx, ncf)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s: %w", ncf, err)
	}
	return ok, nil
}

// Get returns the entry for ncf or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, ncf string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	e, err := l.store.Get(ctx, ncf)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get ledger entry %s: %w", ncf, err)
	}
	return e, nil
}

// List returns up to limit entries, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	entries, err := l.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	return entries, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
