package extract

import (
	"strings"

	"github.com/facturaIA/lector-ncf/internal/models"
)

// NCF rule ids and their local confidences.
const (
	RuleNCFExact            = "ncf.exact"
	RuleNCFSpaced           = "ncf.spaced"
	RuleNCFUnknownType      = "ncf.unknown-type"
	RuleNCFLabeledMalformed = "ncf.labeled-malformed"

	confNCFExact            = 0.95
	confNCFSpaced           = 0.8
	confNCFUnknownType      = 0.4
	confNCFLabeledMalformed = 0.3
)

// NCFExtractor finds comprobante numbers using a prefix/length table.
type NCFExtractor struct {
	rules   models.NCFRules
	lengths map[int]bool
	series  map[byte]bool
}

// NewNCFExtractor builds an extractor for the given rule table.
func NewNCFExtractor(rules models.NCFRules) *NCFExtractor {
	if len(rules) == 0 {
		rules = models.DefaultNCFRules()
	}
	e := &NCFExtractor{rules: rules, lengths: map[int]bool{}, series: map[byte]bool{}}
	for _, r := range rules {
		e.lengths[r.Length] = true
		if r.Prefix != "" {
			e.series[r.Prefix[0]] = true
		}
	}
	return e
}

func (e *NCFExtractor) Name() string { return "ncf" }

// run is a maximal [A-Z0-9] token of the folded text.
type run struct {
	start, end int
	text       string
}

func alnumRuns(s string) []run {
	var out []run
	for i := 0; i < len(s); {
		if !isUpper(s[i]) && !isDigit(s[i]) {
			i++
			continue
		}
		j := i
		for j < len(s) && (isUpper(s[j]) || isDigit(s[j])) {
			j++
		}
		// non-ASCII letters glued to the run break the word boundary
		if !alnumBefore(s, i) && !alnumAfter(s, j) {
			out = append(out, run{start: i, end: j, text: s[i:j]})
		}
		i = j
	}
	return out
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func (e *NCFExtractor) Extract(text models.RawText) []models.FieldCandidate {
	s := text.Folded
	runs := alnumRuns(s)
	var out []models.FieldCandidate

	for i := 0; i < len(runs); i++ {
		r := runs[i]
		if len(r.text) >= 3 && isUpper(r.text[0]) && allDigits(r.text[1:]) {
			prefix := r.text[:3]
			rule, known := e.rules.Lookup(prefix)

			switch {
			case known && len(r.text) == rule.Length:
				out = append(out, candidate(models.FieldNCF, r.text, r.start, r.end, confNCFExact, RuleNCFExact))
				continue

			case known && len(r.text) == 3 && i+1 < len(runs):
				next := runs[i+1]
				if spacedJoin(s, r.end, next.start) && allDigits(next.text) && 3+len(next.text) == rule.Length {
					out = append(out, candidate(models.FieldNCF, prefix+next.text, r.start, next.end, confNCFSpaced, RuleNCFSpaced))
					i++
					continue
				}

			case !known && e.series[r.text[0]] && e.lengths[len(r.text)]:
				c := candidate(models.FieldNCF, r.text, r.start, r.end, confNCFUnknownType, RuleNCFUnknownType)
				c.Malformed = true
				out = append(out, c)
				continue
			}
		}

		if len(r.text) >= 3 && r.text != "NCF" && ncfLabelBefore(s, r.start) {
			c := candidate(models.FieldNCF, r.text, r.start, r.end, confNCFLabeledMalformed, RuleNCFLabeledMalformed)
			c.Malformed = true
			out = append(out, c)
		}
	}
	return out
}

// spacedJoin reports whether s[from:to] is a single space or hyphen.
func spacedJoin(s string, from, to int) bool {
	if to-from != 1 {
		return false
	}
	return s[from] == ' ' || s[from] == '-'
}

// ncfLabelBefore reports whether the text on the same line before offset ends
// with an NCF label such as "NCF:", "N.C.F." or "NCF NO.".
func ncfLabelBefore(s string, offset int) bool {
	lineStart := strings.LastIndexByte(s[:offset], '\n') + 1
	prefix := strings.TrimRight(s[lineStart:offset], " :#.-")
	prefix = strings.TrimSuffix(prefix, " NO")
	prefix = strings.TrimRight(prefix, " :#.-")
	for _, label := range []string{"NCF", "N.C.F", "COMPROBANTE"} {
		if strings.HasSuffix(prefix, label) && !alnumBefore(prefix, len(prefix)-len(label)) {
			return true
		}
	}
	return false
}
