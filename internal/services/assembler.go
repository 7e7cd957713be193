package services

import (
	"time"

	"github.com/facturaIA/lector-ncf/internal/extract"
	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/resolve"
)

// assembly carries everything the assembler needs for one invoice.
type assembly struct {
	id       string
	now      time.Time
	req      models.ProcessRequest
	text     models.RawText
	fields   resolve.Fields
	outcome  models.ValidationOutcome
	recorded bool
}

// assemble packages resolved fields, outcome and confidence into the Invoice.
func (e *Engine) assemble(a assembly) *models.Invoice {
	f := a.fields
	inv := &models.Invoice{
		ID:           a.id,
		NCF:          f.NCF,
		RNC:          f.RNC,
		BusinessName: f.BusinessName,
		IssueDate:    f.IssueDate,
		Amounts: models.MonetaryAmounts{
			Subtotal: f.Subtotal,
			Tax:      f.Tax,
			Total:    f.Total,
			Currency: extract.DetectCurrency(a.text),
		},
		ProcessedAt:    a.now,
		Confidence:     calculateConfidence(a.text.OCRConfidence, f, e.weights),
		Outcome:        a.outcome,
		LedgerRecorded: a.recorded,
		Provenance: models.Provenance{
			Channel:       a.req.Channel,
			SourceImage:   a.req.SourceImage,
			OCRConfidence: a.req.OCRConfidence,
		},
	}
	if f.NCF.Present {
		inv.TipoNCF, inv.TipoNCFDescripcion = e.validator.Describe(f.NCF.Value)
	}
	if f.RNC.Present && !f.RNC.Malformed {
		inv.TipoID = models.DetectTipoID(f.RNC.Value)
	}
	return inv
}
