package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/lector-ncf/internal/ledger"
	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/services"
)

const facturaText = `FERRETERIA EL PROGRESO SRL
Av. Duarte #45, Santo Domingo
FACTURA DE CREDITO FISCAL
RNC: 123456789
NCF: B0100000123
Fecha: 10/02/2026
Subtotal 1,271.19
ITBIS 18% 228.81
Total 1,500.00`

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Generate() string { return fmt.Sprintf("inv-%d", s.n.Add(1)) }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var processedAt = time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)

func newEngine(cfg services.EngineConfig, l *ledger.Ledger) *services.Engine {
	return services.NewEngineWithDeps(cfg, l, nil, &seqIDs{}, fixedClock{processedAt})
}

func request(text string) models.ProcessRequest {
	return models.ProcessRequest{Text: text, OCRConfidence: 0.9, Channel: "whatsapp", SourceImage: "empresa/2026/02/factura.jpg"}
}

func TestEngineEndToEnd(t *testing.T) {
	inv, err := newEngine(services.EngineConfig{}, nil).Process(context.Background(), request(facturaText))
	require.NoError(t, err)

	assert.Equal(t, "inv-1", inv.ID)
	assert.Equal(t, models.StatusAccepted, inv.Outcome.Status)
	assert.Empty(t, inv.Outcome.Flags)
	assert.False(t, inv.Outcome.HasReject())

	assert.Equal(t, "B0100000123", inv.NCF.Value)
	assert.Equal(t, "B01", inv.TipoNCF)
	assert.Equal(t, "Factura Crédito Fiscal", inv.TipoNCFDescripcion)
	assert.Equal(t, "123456789", inv.RNC.Value)
	assert.Equal(t, "1", inv.TipoID)
	assert.Equal(t, "FERRETERIA EL PROGRESO SRL", inv.BusinessName.Value)
	assert.Equal(t, "2026-02-10", inv.IssueDate.Value.Format("2006-01-02"))
	assert.Equal(t, "1271.19", inv.Amounts.Subtotal.Value.StringFixed(2))
	assert.Equal(t, "228.81", inv.Amounts.Tax.Value.StringFixed(2))
	assert.Equal(t, "1500.00", inv.Amounts.Total.Value.StringFixed(2))
	assert.Equal(t, "DOP", inv.Amounts.Currency)

	assert.Equal(t, processedAt, inv.ProcessedAt)
	assert.Equal(t, "whatsapp", inv.Provenance.Channel)
	assert.InDelta(t, 0.9, inv.Provenance.OCRConfidence, 1e-9)
	assert.Greater(t, inv.Confidence, 0.5)
	assert.Less(t, inv.Confidence, 0.9)
}

func TestEngineSingleLineInvoice(t *testing.T) {
	text := "FACTURA RNC: 123456789 NCF: B0100000123 Subtotal 1,271.19 ITBIS 228.81 Total 1,500.00 Fecha: 10/02/2026"
	inv, err := newEngine(services.EngineConfig{}, nil).Process(context.Background(), request(text))
	require.NoError(t, err)

	assert.Equal(t, models.StatusAccepted, inv.Outcome.Status)
	assert.False(t, inv.Outcome.Has(models.FlagAmountsIncoherent))
	assert.True(t, inv.NCF.Present)
	assert.True(t, inv.RNC.Present)
	assert.True(t, inv.IssueDate.Present)
	assert.True(t, inv.Amounts.Complete())
}

func TestEngineIncoherentAmounts(t *testing.T) {
	text := "RNC: 123456789\nNCF: B0100000123\nSubtotal 1,271.19\nITBIS 228.81\nTotal 1,550.00"
	inv, err := newEngine(services.EngineConfig{}, nil).Process(context.Background(), request(text))
	require.NoError(t, err)

	assert.True(t, inv.Outcome.Has(models.FlagAmountsIncoherent))
	assert.Equal(t, models.StatusAccepted, inv.Outcome.Status)
}

func TestEngineSeveralTotalLabels(t *testing.T) {
	e := newEngine(services.EngineConfig{}, nil)
	ctx := context.Background()

	text := "RNC: 123456789\nNCF: B0100000123\nTOTAL ARTICULOS: 3\nSubtotal 1,271.19\nITBIS TOTAL 228.81\nTotal 1,500.00"
	inv, err := e.Process(ctx, request(text))
	require.NoError(t, err)
	assert.Equal(t, "228.81", inv.Amounts.Tax.Value.StringFixed(2))
	assert.Equal(t, "1500.00", inv.Amounts.Total.Value.StringFixed(2))
	assert.False(t, inv.Outcome.Has(models.FlagAmountsIncoherent))

	// with nothing to check against, the bare label still beats the qualified one
	inv, err = e.Process(ctx, request("NCF: B0100000123\nTOTAL ARTICULOS: 3\nTotal 1,500.00"))
	require.NoError(t, err)
	assert.Equal(t, "1500.00", inv.Amounts.Total.Value.StringFixed(2))
}

func TestEngineEmptyText(t *testing.T) {
	inv, err := newEngine(services.EngineConfig{}, nil).Process(context.Background(), request(""))
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, inv.Outcome.Status)
	assert.Equal(t, []models.FlagCode{
		models.FlagNCFNotFound,
		models.FlagRNCNotFound,
		models.FlagDateNotFound,
		models.FlagAmountsIncomplete,
	}, inv.Outcome.Codes())
	assert.InDelta(t, 0.0, inv.Confidence, 0.001)
}

func TestEngineInvalidInput(t *testing.T) {
	e := newEngine(services.EngineConfig{}, nil)

	_, err := e.Process(context.Background(), models.ProcessRequest{Text: "NCF \xff\xfe", OCRConfidence: 0.9})
	assert.True(t, errors.Is(err, services.ErrInvalidInput))

	_, err = e.Process(context.Background(), models.ProcessRequest{Text: facturaText, OCRConfidence: 1.5})
	assert.True(t, errors.Is(err, services.ErrInvalidInput))

	_, err = e.Process(context.Background(), models.ProcessRequest{Text: facturaText, OCRConfidence: -0.1})
	assert.True(t, errors.Is(err, services.ErrInvalidInput))

	inv, err := e.Process(context.Background(), models.ProcessRequest{Text: facturaText, OCRConfidence: math.NaN()})
	assert.True(t, errors.Is(err, services.ErrInvalidInput))
	assert.Nil(t, inv)
}

func TestEngineIdempotent(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), 0, nil)
	e := newEngine(services.EngineConfig{}, l)
	ctx := context.Background()

	// first run records the NCF; later runs see an unchanged ledger
	_, err := e.Process(ctx, request(facturaText))
	require.NoError(t, err)

	second, err := e.Process(ctx, request(facturaText))
	require.NoError(t, err)
	third, err := e.Process(ctx, request(facturaText))
	require.NoError(t, err)

	assert.Equal(t, mustJSON(t, second.Outcome), mustJSON(t, third.Outcome))
	assert.Equal(t, mustJSON(t, resolvedSet(second)), mustJSON(t, resolvedSet(third)))
	assert.Equal(t, second.Confidence, third.Confidence)
}

func resolvedSet(inv *models.Invoice) any {
	return []any{inv.NCF, inv.RNC, inv.BusinessName, inv.IssueDate, inv.Amounts}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestEngineDuplicateSequential(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), 0, nil)
	e := newEngine(services.EngineConfig{}, l)
	ctx := context.Background()

	first, err := e.Process(ctx, request(facturaText))
	require.NoError(t, err)
	assert.True(t, first.LedgerRecorded)
	assert.False(t, first.Outcome.Has(models.FlagDuplicateNCF))

	second, err := e.Process(ctx, request(facturaText))
	require.NoError(t, err)
	assert.False(t, second.LedgerRecorded)
	assert.True(t, second.Outcome.Has(models.FlagDuplicateNCF))

	entry, err := l.Get(ctx, "B0100000123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, entry.InvoiceID)
	assert.Equal(t, "1500.00", entry.Total.StringFixed(2))
}

func TestEngineConcurrentDuplicate(t *testing.T) {
	for round := 0; round < 25; round++ {
		l := ledger.New(ledger.NewMemoryStore(), 0, nil)
		e := newEngine(services.EngineConfig{}, l)

		invs := processConcurrently(t, e, 2)

		recorded, flagged := 0, 0
		for _, inv := range invs {
			if inv.LedgerRecorded {
				recorded++
			}
			if inv.Outcome.Has(models.FlagDuplicateNCF) {
				flagged++
			}
		}
		require.Equal(t, 1, recorded, "round %d", round)
		require.Equal(t, 1, flagged, "round %d", round)

		entries, err := l.List(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	}
}

func TestEngineConcurrentDuplicateRejected(t *testing.T) {
	cfg := services.EngineConfig{
		Validator: services.ValidatorConfig{DuplicateSeverity: models.SeverityReject},
	}
	for round := 0; round < 25; round++ {
		l := ledger.New(ledger.NewMemoryStore(), 0, nil)
		invs := processConcurrently(t, newEngine(cfg, l), 2)

		accepted, rejected := 0, 0
		for _, inv := range invs {
			switch inv.Outcome.Status {
			case models.StatusAccepted:
				accepted++
				assert.True(t, inv.LedgerRecorded)
			case models.StatusRejected:
				rejected++
				assert.True(t, inv.Outcome.Has(models.FlagDuplicateNCF))
			}
		}
		require.Equal(t, 1, accepted, "round %d", round)
		require.Equal(t, 1, rejected, "round %d", round)
	}
}

func processConcurrently(t *testing.T, e *services.Engine, n int) []*models.Invoice {
	t.Helper()
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		invs  = make([]*models.Invoice, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			invs[i], errs[i] = e.Process(context.Background(), request(facturaText))
		}()
	}
	close(start)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return invs
}

func TestEngineInsertPolicy(t *testing.T) {
	// RNC missing: rejected, but the NCF is well formed
	text := "NCF: B0100000123\nSubtotal 1,271.19\nITBIS 228.81\nTotal 1,500.00"
	ctx := context.Background()

	t.Run("accepted", func(t *testing.T) {
		l := ledger.New(ledger.NewMemoryStore(), 0, nil)
		inv, err := newEngine(services.EngineConfig{}, l).Process(ctx, request(text))
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, inv.Outcome.Status)
		assert.False(t, inv.LedgerRecorded)
	})

	t.Run("always", func(t *testing.T) {
		l := ledger.New(ledger.NewMemoryStore(), 0, nil)
		inv, err := newEngine(services.EngineConfig{InsertPolicy: services.InsertAlways}, l).Process(ctx, request(text))
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, inv.Outcome.Status)
		assert.True(t, inv.LedgerRecorded)
	})
}

func TestEngineLedgerFailure(t *testing.T) {
	l := ledger.New(brokenStore{ledger.NewMemoryStore()}, 0, nil)
	_, err := newEngine(services.EngineConfig{}, l).Process(context.Background(), request(facturaText))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type brokenStore struct {
	*ledger.MemoryStore
}

func (brokenStore) Insert(context.Context, ledger.Entry) (bool, error) {
	return false, errors.New("disk full")
}
