package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/resolve"
)

// DefaultTolerance is the absolute amount allowed between subtotal+ITBIS and total.
var DefaultTolerance = decimal.NewFromFloat(0.05)

// ValidatorConfig holds the recognized validation options.
type ValidatorConfig struct {
	Rules             models.NCFRules
	RNCLengths        []int
	Tolerance         *decimal.Decimal // nil means DefaultTolerance; zero demands exact sums
	AmountSeverity    models.Severity
	DuplicateSeverity models.Severity
}

// TaxValidator validates resolved Dominican invoice fields
type TaxValidator struct {
	rules             models.NCFRules
	rncLengths        map[int]bool
	tolerance         decimal.Decimal
	amountSeverity    models.Severity
	duplicateSeverity models.Severity
}

// NewTaxValidator creates a validator, filling unset options with defaults
func NewTaxValidator(cfg ValidatorConfig) *TaxValidator {
	v := &TaxValidator{
		rules:             cfg.Rules,
		rncLengths:        map[int]bool{},
		tolerance:         DefaultTolerance,
		amountSeverity:    cfg.AmountSeverity,
		duplicateSeverity: cfg.DuplicateSeverity,
	}
	if len(v.rules) == 0 {
		v.rules = models.DefaultNCFRules()
	}
	lengths := cfg.RNCLengths
	if len(lengths) == 0 {
		lengths = models.DefaultRNCLengths()
	}
	for _, n := range lengths {
		v.rncLengths[n] = true
	}
	if cfg.Tolerance != nil {
		v.tolerance = *cfg.Tolerance
	}
	if v.amountSeverity == "" {
		v.amountSeverity = models.SeverityWarning
	}
	if v.duplicateSeverity == "" {
		v.duplicateSeverity = models.SeverityWarning
	}
	return v
}

// Validate runs every check in order without short-circuiting so the caller
// sees all problems at once. duplicate reports whether the ledger already
// holds the NCF.
func (v *TaxValidator) Validate(f resolve.Fields, duplicate bool) models.ValidationOutcome {
	outcome := models.ValidationOutcome{
		Status: models.StatusPending,
		Flags:  []models.Flag{},
	}

	// 1. NCF format and type
	v.validateNCF(f.NCF, &outcome)

	// 2. RNC digit count
	v.validateRNC(f.RNC, &outcome)

	// 3. Issue date
	if !f.IssueDate.Present {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagDateNotFound,
			Severity: models.SeverityWarning,
			Field:    models.FieldDate,
			Message:  "Fecha de la factura no encontrada",
		})
	}

	// 4. Subtotal + ITBIS = Total
	v.validateAmounts(f, &outcome)

	// 5. Duplicate NCF
	if duplicate {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagDuplicateNCF,
			Severity: v.duplicateSeverity,
			Field:    models.FieldNCF,
			Message:  "NCF ya registrado: " + f.NCF.Value,
		})
	}

	outcome.Status = models.StatusAccepted
	if outcome.HasReject() {
		outcome.Status = models.StatusRejected
	}
	return outcome
}

// LegalNCF reports whether the resolved NCF passes the prefix/length table.
func (v *TaxValidator) LegalNCF(f models.ResolvedField[string]) bool {
	return f.Present && !f.Malformed && v.rules.Legal(f.Value)
}

// Describe returns the document type and its description for an NCF.
func (v *TaxValidator) Describe(ncf string) (tipo, descripcion string) {
	if len(ncf) < 3 {
		return "", ""
	}
	if r, ok := v.rules.Lookup(ncf[:3]); ok {
		return r.Prefix, r.Description
	}
	return ncf[:3], ""
}

// validateNCF checks NCF presence, prefix and length
func (v *TaxValidator) validateNCF(ncf models.ResolvedField[string], outcome *models.ValidationOutcome) {
	if !ncf.Present {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagNCFNotFound,
			Severity: models.SeverityReject,
			Field:    models.FieldNCF,
			Message:  "NCF no encontrado",
		})
		return
	}
	if !v.LegalNCF(ncf) {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagNCFInvalid,
			Severity: models.SeverityReject,
			Field:    models.FieldNCF,
			Message:  "NCF con formato inválido: " + ncf.Value,
		})
	}
}

// validateRNC checks RNC presence and digit count
func (v *TaxValidator) validateRNC(rnc models.ResolvedField[string], outcome *models.ValidationOutcome) {
	if !rnc.Present {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagRNCNotFound,
			Severity: models.SeverityReject,
			Field:    models.FieldRNC,
			Message:  "RNC no encontrado",
		})
		return
	}
	if rnc.Malformed || !v.rncLengths[len(rnc.Value)] || !digitsOnly(rnc.Value) {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagRNCInvalid,
			Severity: models.SeverityReject,
			Field:    models.FieldRNC,
			Message:  fmt.Sprintf("RNC inválido (%d dígitos): %s", len(rnc.Value), rnc.Value),
		})
	}
}

// validateAmounts checks all three amounts exist and add up within tolerance
func (v *TaxValidator) validateAmounts(f resolve.Fields, outcome *models.ValidationOutcome) {
	var missing []string
	if !f.Subtotal.Present {
		missing = append(missing, "subtotal")
	}
	if !f.Tax.Present {
		missing = append(missing, "ITBIS")
	}
	if !f.Total.Present {
		missing = append(missing, "total")
	}
	if len(missing) > 0 {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagAmountsIncomplete,
			Severity: v.amountSeverity,
			Message:  "Montos incompletos, falta: " + strings.Join(missing, ", "),
		})
		return
	}

	sum := f.Subtotal.Value.Add(f.Tax.Value)
	diff := sum.Sub(f.Total.Value).Abs()
	if diff.GreaterThan(v.tolerance) {
		outcome.Flags = append(outcome.Flags, models.Flag{
			Code:     models.FlagAmountsIncoherent,
			Severity: v.amountSeverity,
			Field:    models.FieldTotal,
			Message: fmt.Sprintf("Subtotal + ITBIS = %s no coincide con total %s",
				sum.StringFixed(2), f.Total.Value.StringFixed(2)),
		})
	}
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
