package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/facturaIA/lector-ncf/internal/models"
)

const (
	RuleNameLabeled   = "name.labeled"
	RuleNameUppercase = "name.uppercase-line"

	confNameLabeled = 0.8
	confNameFirst   = 0.6
	confNameStep    = 0.1

	maxNameLines = 3
)

var (
	nameLabel = regexp.MustCompile(`\b(?:RAZON SOCIAL|NOMBRE(?: COMERCIAL)?|EMPRESA)\s*[:.\-]\s*`)

	// lines carrying any of these words are labels or boilerplate, not a name
	nameStopWords = []string{
		"FACTURA", "RNC", "NCF", "FECHA", "TOTAL", "SUBTOTAL", "ITBIS", "TEL", "TELEFONO",
		"CEDULA", "COMPROBANTE", "CREDITO", "FISCAL", "CONSUMIDOR", "VENCE", "VENCIMIENTO",
		"CLIENTE", "CAJERO", "DIRECCION", "CALLE", "AV", "GRACIAS", "DESCRIPCION", "CANTIDAD",
		"PRECIO", "HORA", "EFECTIVO", "TARJETA", "CAMBIO", "VALIDO", "COPIA", "ORIGINAL",
	}
)

// NameExtractor is a best-effort business name heuristic.
type NameExtractor struct{}

func (NameExtractor) Name() string { return "name" }

func (NameExtractor) Extract(text models.RawText) []models.FieldCandidate {
	var out []models.FieldCandidate
	lines := splitLines(text.Folded)

	for _, l := range lines {
		m := nameLabel.FindStringIndex(l.text)
		if m == nil {
			continue
		}
		start, end := l.start+m[1], l.end()
		value := strings.TrimSpace(text.Original[start:end])
		if letterCount(value) < 2 {
			continue
		}
		out = append(out, candidate(models.FieldBusinessName, value, start, end, confNameLabeled, RuleNameLabeled))
	}

	conf := confNameFirst
	taken := 0
	for _, l := range lines {
		if taken == maxNameLines {
			break
		}
		orig := text.Original[l.start:l.end()]
		if nameLabel.MatchString(l.text) || !looksLikeName(l.text, orig) {
			continue
		}
		out = append(out, candidate(models.FieldBusinessName, orig, l.start, l.end(), conf, RuleNameUppercase))
		conf -= confNameStep
		taken++
	}
	return out
}

// looksLikeName requires at least four letters, 80% of them upper-case and
// letters making up 60% of the non-space characters.
func looksLikeName(folded, orig string) bool {
	for _, w := range nameStopWords {
		if hasWord(folded, w) {
			return false
		}
	}
	var letters, upper, nonSpace int
	for _, r := range orig {
		if unicode.IsSpace(r) {
			continue
		}
		nonSpace++
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 4 {
		return false
	}
	return upper*5 >= letters*4 && letters*5 >= nonSpace*3
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
