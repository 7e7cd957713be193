// Package resolve picks one candidate per field using explicit tie-break policies.
package resolve

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/extract"
	"github.com/facturaIA/lector-ncf/internal/models"
)

// AmbiguityPenalty discounts a winner that had competitors with other values.
const AmbiguityPenalty = 0.8

// Less reports whether a should be preferred over b.
type Less func(a, b models.FieldCandidate) bool

// WellFormedFirst prefers well-formed candidates, then reading order. Used for NCF.
func WellFormedFirst(a, b models.FieldCandidate) bool {
	if a.Malformed != b.Malformed {
		return !a.Malformed
	}
	return a.Span.Start < b.Span.Start
}

// ByConfidence prefers higher local confidence, then reading order.
func ByConfidence(a, b models.FieldCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Span.Start < b.Span.Start
}

// Policies maps each field to its tie-break.
var Policies = map[models.Field]Less{
	models.FieldNCF:          WellFormedFirst,
	models.FieldRNC:          ByConfidence,
	models.FieldDate:         ByConfidence,
	models.FieldSubtotal:     ByConfidence,
	models.FieldTax:          ByConfidence,
	models.FieldTotal:        ByConfidence,
	models.FieldBusinessName: ByConfidence,
}

// Order returns the candidates for field that lie inside text, best first.
func Order(text models.RawText, field models.Field, cands []models.FieldCandidate) []models.FieldCandidate {
	var out []models.FieldCandidate
	for _, c := range cands {
		if c.Field == field && text.Contains(c.Span) {
			out = append(out, c)
		}
	}
	less, ok := Policies[field]
	if !ok {
		less = ByConfidence
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Resolve chooses a single candidate for field, or returns the absent state.
func Resolve(text models.RawText, field models.Field, cands []models.FieldCandidate) models.ResolvedField[string] {
	return pick(Order(text, field, cands))
}

// coherenceSlack is how far a total may sit from subtotal+ITBIS and still be
// preferred by ResolveTotal.
var coherenceSlack = decimal.New(1, -2)

// ResolveTotal resolves the total like Resolve, except that when subtotal and
// ITBIS are known a candidate matching their sum wins over the policy order.
func ResolveTotal(text models.RawText, cands []models.FieldCandidate, subtotal, tax models.ResolvedField[decimal.Decimal]) models.ResolvedField[string] {
	ordered := Order(text, models.FieldTotal, cands)
	if len(ordered) < 2 || !subtotal.Present || !tax.Present {
		return pick(ordered)
	}
	sum := subtotal.Value.Add(tax.Value)
	for i, c := range ordered {
		v, ok := parseDecimal(c.Value)
		if !ok || v.Sub(sum).Abs().GreaterThan(coherenceSlack) {
			continue
		}
		copy(ordered[1:i+1], ordered[:i])
		ordered[0] = c
		break
	}
	return pick(ordered)
}

// pick takes the first of ordered, discounting it when rivals disagree.
func pick(ordered []models.FieldCandidate) models.ResolvedField[string] {
	if len(ordered) == 0 {
		return models.Absent[string]()
	}
	best := ordered[0]
	competitors := 0
	for _, c := range ordered[1:] {
		if c.Value != best.Value {
			competitors++
		}
	}
	conf := best.Confidence
	if competitors > 0 {
		conf *= AmbiguityPenalty
	}
	return models.ResolvedField[string]{
		Value:       best.Value,
		Present:     true,
		Confidence:  conf,
		RuleID:      best.RuleID,
		Span:        best.Span,
		Competitors: competitors,
		Malformed:   best.Malformed,
	}
}

// Convert maps a resolved string to a typed value. A value that does not parse
// leaves the field absent.
func Convert[T any](f models.ResolvedField[string], parse func(string) (T, bool)) models.ResolvedField[T] {
	if !f.Present {
		return models.Absent[T]()
	}
	v, ok := parse(f.Value)
	if !ok {
		return models.Absent[T]()
	}
	return models.ResolvedField[T]{
		Value:       v,
		Present:     true,
		Confidence:  f.Confidence,
		RuleID:      f.RuleID,
		Span:        f.Span,
		Competitors: f.Competitors,
		Malformed:   f.Malformed,
	}
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(extract.DateLayout, s)
	return t, err == nil
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}

// Fields is the full set of resolved fields for one text.
type Fields struct {
	NCF          models.ResolvedField[string]
	RNC          models.ResolvedField[string]
	BusinessName models.ResolvedField[string]
	IssueDate    models.ResolvedField[time.Time]
	Subtotal     models.ResolvedField[decimal.Decimal]
	Tax          models.ResolvedField[decimal.Decimal]
	Total        models.ResolvedField[decimal.Decimal]
}

// All resolves every field from the pooled candidates.
func All(text models.RawText, cands []models.FieldCandidate) Fields {
	f := Fields{
		NCF:          Resolve(text, models.FieldNCF, cands),
		RNC:          Resolve(text, models.FieldRNC, cands),
		BusinessName: Resolve(text, models.FieldBusinessName, cands),
		IssueDate:    Convert(Resolve(text, models.FieldDate, cands), parseDate),
		Subtotal:     Convert(Resolve(text, models.FieldSubtotal, cands), parseDecimal),
		Tax:          Convert(Resolve(text, models.FieldTax, cands), parseDecimal),
	}
	f.Total = Convert(ResolveTotal(text, cands, f.Subtotal, f.Tax), parseDecimal)
	return f
}
