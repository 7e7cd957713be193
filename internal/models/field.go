package models

// Field names a resolvable invoice field.
type Field string

const (
	FieldNCF          Field = "ncf"
	FieldRNC          Field = "rnc"
	FieldDate         Field = "fecha"
	FieldSubtotal     Field = "subtotal"
	FieldTax          Field = "itbis"
	FieldTotal        Field = "total"
	FieldBusinessName Field = "razon_social"
)

// Span is a half-open byte range [Start, End) into the normalized text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FieldCandidate is one match produced by an extractor. Value is always in
// canonical form: digits for NCF/RNC, YYYY-MM-DD for dates, a plain decimal
// string for amounts.
type FieldCandidate struct {
	Field      Field   `json:"field"`
	Value      string  `json:"value"`
	Span       Span    `json:"span"`
	Confidence float64 `json:"confidence"`
	RuleID     string  `json:"ruleId"`
	Malformed  bool    `json:"malformed,omitempty"` // matched shape but fails the format rule
}

// ResolvedField is the single value chosen for a field, or absent.
type ResolvedField[T any] struct {
	Value       T       `json:"value"`
	Present     bool    `json:"present"`
	Confidence  float64 `json:"confidence"`
	RuleID      string  `json:"ruleId,omitempty"`
	Span        Span    `json:"span"`
	Competitors int     `json:"competitors,omitempty"`
	Malformed   bool    `json:"malformed,omitempty"`
}

// Absent returns the absent state for a field.
func Absent[T any]() ResolvedField[T] {
	return ResolvedField[T]{}
}
