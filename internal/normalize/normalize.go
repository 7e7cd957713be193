// Package normalize canonicalizes raw OCR text into the working form the
// field extractors scan.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/facturaIA/lector-ncf/internal/models"
)

// Text normalizes raw OCR output. It never fails: empty input yields empty output.
func Text(raw string, ocrConfidence float64) models.RawText {
	original := Clean(raw)
	return models.RawText{
		Folded:        Fold(original),
		Original:      original,
		OCRConfidence: ocrConfidence,
	}
}

// Clean strips accents and control codes, collapses spaces and drops blank lines.
// Line breaks survive; case is preserved.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ToValidUTF8(raw, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = StripAccents(s)

	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = cleanLine(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func cleanLine(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	space := false
	for _, r := range line {
		switch {
		case r == '\t' || unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r) || unicode.Is(unicode.Cf, r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// StripAccents removes combining marks: "Razón" becomes "Razon".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold upper-cases s rune by rune, keeping any rune whose upper-case form
// has a different encoded width so byte offsets line up with the input.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		u := unicode.ToUpper(r)
		if utf8.RuneLen(u) != utf8.RuneLen(r) {
			u = r
		}
		b.WriteRune(u)
	}
	return b.String()
}
