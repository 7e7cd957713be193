package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/facturaIA/lector-ncf/internal/extract"
	"github.com/facturaIA/lector-ncf/internal/ledger"
	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/normalize"
	"github.com/facturaIA/lector-ncf/internal/resolve"
)

// ErrInvalidInput is returned for input that is not text or carries an
// OCR confidence outside [0, 1]. It is never a validation flag.
var ErrInvalidInput = errors.New("invalid input")

// InsertPolicy decides which invoices get their NCF recorded in the ledger.
type InsertPolicy string

const (
	// InsertAccepted records only accepted, non-duplicate invoices.
	InsertAccepted InsertPolicy = "accepted"
	// InsertAlways records every well-formed NCF not already present.
	InsertAlways InsertPolicy = "always"
)

// IDGenerator generates unique IDs for invoices
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// EngineConfig groups the engine options.
type EngineConfig struct {
	Validator    ValidatorConfig
	Weights      Weights
	InsertPolicy InsertPolicy
}

// Engine runs normalize, extract, resolve, validate, aggregate and assemble
// for one text. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	extractors  []extract.Extractor
	validator   *TaxValidator
	weights     Weights
	policy      InsertPolicy
	ledger      *ledger.Ledger
	logger      *slog.Logger
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewEngine creates an Engine. l may be nil, in which case no duplicate
// detection happens.
func NewEngine(cfg EngineConfig, l *ledger.Ledger, logger *slog.Logger) *Engine {
	return NewEngineWithDeps(cfg, l, logger, uuidGenerator{}, systemClock{})
}

// NewEngineWithDeps creates an Engine with custom dependencies for testing
func NewEngineWithDeps(cfg EngineConfig, l *ledger.Ledger, logger *slog.Logger, idGen IDGenerator, timeSrc TimeSource) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.InsertPolicy == "" {
		cfg.InsertPolicy = InsertAccepted
	}
	validator := NewTaxValidator(cfg.Validator)
	return &Engine{
		extractors:  extract.Defaults(validator.rules, cfg.Validator.RNCLengths),
		validator:   validator,
		weights:     cfg.Weights,
		policy:      cfg.InsertPolicy,
		ledger:      l,
		logger:      logger,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Process turns one OCR text into an Invoice. Field problems are reported as
// flags on the invoice; errors are reserved for bad input and ledger I/O.
func (e *Engine) Process(ctx context.Context, req models.ProcessRequest) (*models.Invoice, error) {
	if !utf8.ValidString(req.Text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
	}
	if !(req.OCRConfidence >= 0 && req.OCRConfidence <= 1) {
		return nil, fmt.Errorf("%w: ocr confidence %v outside [0,1]", ErrInvalidInput, req.OCRConfidence)
	}

	text := normalize.Text(req.Text, req.OCRConfidence)
	e.logger.Debug("invoice.normalized", "bytes", len(text.Folded), "text", text.Original)

	fields := resolve.All(text, e.extract(text))

	id := e.idGenerator.Generate()
	now := e.timeSource.Now()

	outcome, recorded, err := e.validate(ctx, fields, id, now)
	if err != nil {
		return nil, err
	}

	inv := e.assemble(assembly{
		id:       id,
		now:      now,
		req:      req,
		text:     text,
		fields:   fields,
		outcome:  outcome,
		recorded: recorded,
	})
	e.logger.Info("invoice.processed",
		"id", inv.ID,
		"ncf", inv.NCF.Value,
		"status", inv.Outcome.Status,
		"flags", inv.Outcome.Codes(),
		"confidence", inv.Confidence,
		"ledger_recorded", inv.LedgerRecorded,
	)
	return inv, nil
}

// extract runs every extractor in its own goroutine. Results are pooled in
// extractor order so the outcome does not depend on scheduling.
func (e *Engine) extract(text models.RawText) []models.FieldCandidate {
	results := make([][]models.FieldCandidate, len(e.extractors))
	var g errgroup.Group
	for i, ex := range e.extractors {
		g.Go(func() error {
			results[i] = ex.Extract(text)
			return nil
		})
	}
	_ = g.Wait()

	var all []models.FieldCandidate
	for i, r := range results {
		e.logger.Debug("invoice.extracted", "extractor", e.extractors[i].Name(), "candidates", len(r))
		all = append(all, r...)
	}
	return all
}

// validate computes the outcome. With a ledger and a well-formed NCF the
// duplicate check and the insertion happen under the NCF's lock.
func (e *Engine) validate(ctx context.Context, f resolve.Fields, id string, now time.Time) (models.ValidationOutcome, bool, error) {
	if e.ledger == nil || !e.validator.LegalNCF(f.NCF) {
		return e.validator.Validate(f, false), false, nil
	}

	var outcome models.ValidationOutcome
	res, err := e.ledger.CheckAndRecord(ctx, f.NCF.Value, func(duplicate bool) (ledger.Entry, bool) {
		outcome = e.validator.Validate(f, duplicate)
		entry := ledger.Entry{
			InvoiceID:  id,
			RNC:        f.RNC.Value,
			Total:      f.Total.Value,
			RecordedAt: now,
		}
		return entry, e.shouldRecord(outcome, duplicate)
	})
	if err != nil {
		return models.ValidationOutcome{}, false, err
	}
	return outcome, res.Recorded, nil
}

func (e *Engine) shouldRecord(outcome models.ValidationOutcome, duplicate bool) bool {
	if duplicate {
		return false
	}
	switch e.policy {
	case InsertAlways:
		return true
	default:
		return outcome.Status == models.StatusAccepted
	}
}
