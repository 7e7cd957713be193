package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the terminal artifact of one extraction attempt. It is assembled
// once and never mutated afterwards; export and messaging collaborators own it.
type Invoice struct {
	ID string `json:"id"`

	// DGII - Comprobante Fiscal
	NCF                ResolvedField[string] `json:"ncf"`
	TipoNCF            string                `json:"tipoNcf,omitempty"`            // B01, B02, E31, ...
	TipoNCFDescripcion string                `json:"tipoNcfDescripcion,omitempty"` // Factura Crédito Fiscal, ...

	// DGII - Emisor
	RNC          ResolvedField[string] `json:"rncEmisor"`
	TipoID       string                `json:"tipoIdEmisor,omitempty"` // 1=RNC, 2=Cedula
	BusinessName ResolvedField[string] `json:"nombreEmisor"`

	// DGII - Fechas
	IssueDate ResolvedField[time.Time] `json:"fechaFactura"`

	// DGII - Montos
	Amounts MonetaryAmounts `json:"montos"`

	// Metadata
	ProcessedAt    time.Time         `json:"processedAt"`
	Confidence     float64           `json:"confidence"` // Aggregated score (0-1)
	Outcome        ValidationOutcome `json:"outcome"`
	Provenance     Provenance        `json:"provenance"`
	LedgerRecorded bool              `json:"ledgerRecorded"`
}

// Accepted reports whether no reject-severity flag fired.
func (inv *Invoice) Accepted() bool {
	return inv.Outcome.Status == StatusAccepted
}

// MonetaryAmounts holds the subtotal/ITBIS/total triple. Each amount is
// resolved independently; coherence is checked by the validator.
type MonetaryAmounts struct {
	Subtotal ResolvedField[decimal.Decimal] `json:"subtotal"`
	Tax      ResolvedField[decimal.Decimal] `json:"itbis"`
	Total    ResolvedField[decimal.Decimal] `json:"total"`
	Currency string                         `json:"moneda"`
}

// Complete reports whether all three amounts were resolved.
func (m MonetaryAmounts) Complete() bool {
	return m.Subtotal.Present && m.Tax.Present && m.Total.Present
}

// Provenance records where the invoice came from.
type Provenance struct {
	Channel       string  `json:"origen"`                   // whatsapp, api, cli
	SourceImage   string  `json:"imagenOriginal,omitempty"` // object path or filename
	OCRConfidence float64 `json:"confianzaOcr"`
}

// RawText is the normalized OCR text handed to the extractors.
// Folded and Original are byte-aligned: a span valid in one is valid in the other.
type RawText struct {
	Folded        string  // upper-cased, used for label and pattern matching
	Original      string  // case preserved, used for display values
	OCRConfidence float64 // 0.0 - 1.0
}

// Contains reports whether span lies inside the normalized text.
func (r RawText) Contains(s Span) bool {
	return s.Start >= 0 && s.End <= len(r.Folded) && s.Start <= s.End
}

// ProcessRequest is the input for one extraction attempt.
type ProcessRequest struct {
	Text          string
	OCRConfidence float64
	Channel       string
	SourceImage   string
}
