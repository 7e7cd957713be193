package extract

import (
	"strconv"
	"strings"

	"github.com/facturaIA/lector-ncf/internal/models"
)

const (
	RuleRNCLabeled          = "rnc.labeled"
	RuleRNCLabelPrevLine    = "rnc.label-previous-line"
	RuleRNCUnlabeled        = "rnc.unlabeled"
	RuleRNCLabeledMalformed = "rnc.labeled-malformed"

	confRNCLabeled          = 0.95
	confRNCLabelPrevLine    = 0.85
	confRNCUnlabeled        = 0.5
	confRNCLabeledMalformed = 0.3
)

// rncGroupings are the hyphenated layouts printed for RNC and cedula numbers.
// Phone numbers (3-3-4) do not match any of them.
var rncGroupings = map[string]bool{
	"1-2-5-1": true,
	"3-7-1":   true,
	"3-6":     true,
	"3-3-3":   true,
	"3-5-1":   true,
}

var rncLabels = []string{"RNC/CEDULA", "RNC", "R.N.C", "CEDULA", "CED"}

// RNCExtractor finds taxpayer ids.
type RNCExtractor struct {
	lengths map[int]bool
	min     int
	max     int
}

// NewRNCExtractor accepts the configured digit counts (default 9 and 11).
func NewRNCExtractor(lengths []int) *RNCExtractor {
	if len(lengths) == 0 {
		lengths = models.DefaultRNCLengths()
	}
	e := &RNCExtractor{lengths: map[int]bool{}, min: lengths[0], max: lengths[0]}
	for _, n := range lengths {
		e.lengths[n] = true
		e.min = min(e.min, n)
		e.max = max(e.max, n)
	}
	return e
}

func (e *RNCExtractor) Name() string { return "rnc" }

func (e *RNCExtractor) Extract(text models.RawText) []models.FieldCandidate {
	s := text.Folded
	lines := splitLines(s)
	var out []models.FieldCandidate

	for i := 0; i < len(s); {
		if !isDigit(s[i]) {
			i++
			continue
		}
		start := i
		j := i
		for j < len(s) && (isDigit(s[j]) || (s[j] == '-' && j+1 < len(s) && isDigit(s[j+1]))) {
			j++
		}
		i = j

		if alnumBefore(s, start) || alnumAfter(s, j) {
			continue
		}
		// amounts, dates and times glued by punctuation
		if digitJoinedBefore(s, start, ".,/:") || digitJoinedAfter(s, j, ".,/:") {
			continue
		}

		raw := s[start:j]
		groups := strings.Split(raw, "-")
		if len(groups) > 1 && !rncGroupings[groupLayout(groups)] {
			continue
		}
		digits := strings.Join(groups, "")

		li := lineAt(lines, start)
		l := lines[li]
		sameLine := labelIn(s[l.start:start])
		prevLine := !sameLine && li > 0 && labelEnds(lines[li-1].text)

		switch {
		case e.lengths[len(digits)] && sameLine:
			out = append(out, candidate(models.FieldRNC, digits, start, j, confRNCLabeled, RuleRNCLabeled))
		case e.lengths[len(digits)] && prevLine:
			out = append(out, candidate(models.FieldRNC, digits, start, j, confRNCLabelPrevLine, RuleRNCLabelPrevLine))
		case e.lengths[len(digits)]:
			out = append(out, candidate(models.FieldRNC, digits, start, j, confRNCUnlabeled, RuleRNCUnlabeled))
		case (sameLine || prevLine) && len(digits) >= e.min-2 && len(digits) <= e.max+2:
			c := candidate(models.FieldRNC, digits, start, j, confRNCLabeledMalformed, RuleRNCLabeledMalformed)
			c.Malformed = true
			out = append(out, c)
		}
	}
	return out
}

func groupLayout(groups []string) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = strconv.Itoa(len(g))
	}
	return strings.Join(parts, "-")
}

// labelIn reports whether an RNC label occurs in the text preceding a run.
func labelIn(prefix string) bool {
	for _, label := range rncLabels {
		if hasWord(prefix, label) {
			return true
		}
	}
	return false
}

// labelEnds reports whether a line ends with an RNC label.
func labelEnds(text string) bool {
	t := strings.TrimRight(text, " :#.-")
	for _, label := range rncLabels {
		if strings.HasSuffix(t, label) && !alnumBefore(t, len(t)-len(label)) {
			return true
		}
	}
	return false
}
