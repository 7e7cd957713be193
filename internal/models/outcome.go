package models

// Severity of a validation flag.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityReject  Severity = "reject"
)

// ParseSeverity accepts "warning" or "reject"; empty means fallback.
func ParseSeverity(s string, fallback Severity) (Severity, bool) {
	switch Severity(s) {
	case "":
		return fallback, true
	case SeverityWarning, SeverityReject:
		return Severity(s), true
	}
	return fallback, false
}

// FlagCode identifies a validation problem.
type FlagCode string

const (
	FlagNCFNotFound       FlagCode = "NCF_NOT_FOUND"
	FlagNCFInvalid        FlagCode = "NCF_INVALID"
	FlagRNCNotFound       FlagCode = "RNC_NOT_FOUND"
	FlagRNCInvalid        FlagCode = "RNC_INVALID"
	FlagDateNotFound      FlagCode = "DATE_NOT_FOUND"
	FlagAmountsIncomplete FlagCode = "AMOUNTS_INCOMPLETE"
	FlagAmountsIncoherent FlagCode = "AMOUNTS_INCOHERENT"
	FlagDuplicateNCF      FlagCode = "DUPLICATE_NCF"
	FlagLowConfidence     FlagCode = "LOW_CONFIDENCE"
)

// Flag is a single validation finding.
type Flag struct {
	Code     FlagCode `json:"code"`
	Severity Severity `json:"severity"`
	Field    Field    `json:"field,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Status of an invoice attempt.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// ValidationOutcome is the ordered set of flags and the resulting status.
type ValidationOutcome struct {
	Status Status `json:"status"`
	Flags  []Flag `json:"flags"`
}

// Has reports whether a flag with the given code is present.
func (o ValidationOutcome) Has(code FlagCode) bool {
	for _, f := range o.Flags {
		if f.Code == code {
			return true
		}
	}
	return false
}

// HasReject reports whether any reject-severity flag is present.
func (o ValidationOutcome) HasReject() bool {
	for _, f := range o.Flags {
		if f.Severity == SeverityReject {
			return true
		}
	}
	return false
}

// Codes returns the flag codes in order.
func (o ValidationOutcome) Codes() []FlagCode {
	codes := make([]FlagCode, len(o.Flags))
	for i, f := range o.Flags {
		codes[i] = f.Code
	}
	return codes
}
