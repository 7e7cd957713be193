package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/models"
)

const (
	RuleAmountSameLine  = "amount.same-line"
	RuleAmountNextLine  = "amount.next-line"
	RuleAmountQualified = "amount.qualified"

	confAmountSameLine  = 0.9
	confAmountQualified = 0.8
	confAmountNextLine  = 0.75

	CurrencyDOP = "DOP"
	CurrencyUSD = "USD"
)

var (
	subtotalLabel = regexp.MustCompile(`\b(?:SUB[ \-]?TOTAL|BASE IMPONIBLE|MONTO GRAVADO)\b`)
	taxLabel      = regexp.MustCompile(`\b(?:ITBIS|I\.T\.B\.I\.S)\b\.?`)
	totalLabel    = regexp.MustCompile(`\bTOTAL\b`)
	subBefore     = regexp.MustCompile(`SUB[ \-]?$`)
	itbisAfter    = regexp.MustCompile(`^\s*(?:DE\s+)?(?:ITBIS|I\.T\.B\.I\.S)`)
	itbisBefore   = regexp.MustCompile(`(?:ITBIS|I\.T\.B\.I\.S)\.?\s*$`)
	gapWord       = regexp.MustCompile(`[A-Z]+`)
	numberToken   = regexp.MustCompile(`\d[\d.,]*\d|\d`)
	usdMarker     = regexp.MustCompile(`US\$|\bUSD\b`)

	// letters allowed directly before an amount
	currencyPrefixes = []string{"RD", "US", "USD", "DOP"}

	// words after TOTAL that still name the amount payable
	payableQualifiers = []string{"A PAGAR", "GENERAL", "NETO", "FACTURA", "FACTURADO", "MONTO"}
)

type label struct {
	field      models.Field
	start, end int
}

// AmountExtractor finds subtotal, ITBIS and total amounts next to their labels.
type AmountExtractor struct{}

func (AmountExtractor) Name() string { return "amount" }

func (AmountExtractor) Extract(text models.RawText) []models.FieldCandidate {
	s := text.Folded
	lines := splitLines(s)
	labels := make([][]label, len(lines))
	for i, l := range lines {
		labels[i] = findLabels(l.text)
	}

	var out []models.FieldCandidate
	for i, l := range lines {
		for k, lb := range labels[i] {
			end := len(l.text)
			if k+1 < len(labels[i]) {
				end = labels[i][k+1].start
			}
			if v, ts, te, ok := firstAmount(l.text, lb.end, end); ok {
				conf, rule := confAmountSameLine, RuleAmountSameLine
				if lb.field == models.FieldTotal && qualifiedTotal(l.text[lb.end:ts]) {
					conf, rule = confAmountQualified, RuleAmountQualified
				}
				out = append(out, candidate(lb.field, v, l.start+ts, l.start+te, conf, rule))
				continue
			}
			// only the last label on a line may take its value from the next one
			if k+1 < len(labels[i]) || i+1 >= len(lines) {
				continue
			}
			next := lines[i+1]
			nextEnd := len(next.text)
			if len(labels[i+1]) > 0 {
				nextEnd = labels[i+1][0].start
			}
			if v, ts, te, ok := firstAmount(next.text, 0, nextEnd); ok {
				out = append(out, candidate(lb.field, v, next.start+ts, next.start+te, confAmountNextLine, RuleAmountNextLine))
			}
		}
	}
	return out
}

// DetectCurrency returns USD when a US$ or USD marker is present, DOP otherwise.
func DetectCurrency(text models.RawText) string {
	if usdMarker.MatchString(text.Folded) {
		return CurrencyUSD
	}
	return CurrencyDOP
}

func findLabels(t string) []label {
	var out []label
	for _, m := range subtotalLabel.FindAllStringIndex(t, -1) {
		out = append(out, label{field: models.FieldSubtotal, start: m[0], end: m[1]})
	}
	for _, m := range taxLabel.FindAllStringIndex(t, -1) {
		out = append(out, label{field: models.FieldTax, start: m[0], end: m[1]})
	}
	for _, m := range totalLabel.FindAllStringIndex(t, -1) {
		if subBefore.MatchString(t[:m[0]]) || itbisAfter.MatchString(t[m[1]:]) || itbisBefore.MatchString(t[:m[0]]) {
			continue
		}
		out = append(out, label{field: models.FieldTotal, start: m[0], end: m[1]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// qualifiedTotal reports whether the words between a TOTAL label and its
// number turn it into some other total ("TOTAL ARTICULOS", "TOTAL DESCUENTO").
func qualifiedTotal(gap string) bool {
	var words []string
	for _, w := range gapWord.FindAllString(gap, -1) {
		switch w {
		case "RD", "US", "USD", "DOP":
			continue
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return false
	}
	joined := strings.Join(words, " ")
	for _, q := range payableQualifiers {
		if strings.HasPrefix(joined, q) {
			return false
		}
	}
	return true
}

// firstAmount returns the first parseable number token in t[from:to].
func firstAmount(t string, from, to int) (value string, start, end int, ok bool) {
	if from >= to {
		return "", 0, 0, false
	}
	for _, m := range numberToken.FindAllStringIndex(t[from:to], -1) {
		ts, te := from+m[0], from+m[1]
		if skipToken(t, ts, te) {
			continue
		}
		d, ok := ParseAmount(t[ts:te])
		if !ok {
			continue
		}
		return d.StringFixed(2), ts, te, true
	}
	return "", 0, 0, false
}

// skipToken rejects numbers glued to '/', '%' or letters: dates, rates, codes.
func skipToken(t string, start, end int) bool {
	if start > 0 {
		switch c := t[start-1]; {
		case c == '/' || c == '%':
			return true
		case isUpper(c) && !currencyBefore(t[:start]):
			return true
		}
	}
	if end < len(t) {
		c := t[end]
		if c == '/' || c == '%' || isUpper(c) {
			return true
		}
		if end+1 < len(t) && c == ' ' && t[end+1] == '%' {
			return true
		}
	}
	return false
}

func currencyBefore(prefix string) bool {
	for _, p := range currencyPrefixes {
		if strings.HasSuffix(prefix, p) && !alnumBefore(prefix, len(prefix)-len(p)) {
			return true
		}
	}
	return false
}

// ParseAmount reads "1,271.19", "1.271,19", "1500" and similar into an exact
// decimal rounded to two places. When both separators appear the last one is
// decimal. A lone separator is decimal unless exactly three digits follow it.
// A repeated single separator groups thousands unless the last group has two digits.
func ParseAmount(tok string) (decimal.Decimal, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return decimal.Decimal{}, false
	}
	dots := strings.Count(tok, ".")
	commas := strings.Count(tok, ",")

	var intPart, fracPart string
	switch {
	case dots > 0 && commas > 0:
		i := strings.LastIndexAny(tok, ".,")
		intPart, fracPart = tok[:i], tok[i+1:]
		if strings.ContainsAny(fracPart, ".,") {
			return decimal.Decimal{}, false
		}
	case dots+commas == 1:
		i := strings.IndexAny(tok, ".,")
		if len(tok)-i-1 == 3 {
			intPart = tok
		} else {
			intPart, fracPart = tok[:i], tok[i+1:]
		}
	case dots+commas > 1:
		i := strings.LastIndexAny(tok, ".,")
		if len(tok)-i-1 == 2 {
			intPart, fracPart = tok[:i], tok[i+1:]
		} else {
			intPart = tok
		}
	default:
		intPart = tok
	}

	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if !allDigits(intPart) || (fracPart != "" && !allDigits(fracPart)) {
		return decimal.Decimal{}, false
	}
	num := intPart
	if fracPart != "" {
		num += "." + fracPart
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}
