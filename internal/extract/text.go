// Package extract holds the field extractors. Each extractor is stateless and
// scans the normalized text with an ordered set of rules, returning every
// candidate it finds; picking one is the resolver's job.
package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/facturaIA/lector-ncf/internal/models"
)

// Extractor produces candidates for one or more fields.
type Extractor interface {
	Name() string
	Extract(text models.RawText) []models.FieldCandidate
}

// Defaults returns the standard extractor set.
func Defaults(rules models.NCFRules, rncLengths []int) []Extractor {
	return []Extractor{
		NewNCFExtractor(rules),
		NewRNCExtractor(rncLengths),
		DateExtractor{},
		AmountExtractor{},
		NameExtractor{},
	}
}

// line is one line of the folded text with its byte offset.
type line struct {
	start int
	text  string
}

func (l line) end() int { return l.start + len(l.text) }

func splitLines(s string) []line {
	var out []line
	start := 0
	for {
		i := strings.IndexByte(s[start:], '\n')
		if i < 0 {
			out = append(out, line{start: start, text: s[start:]})
			return out
		}
		out = append(out, line{start: start, text: s[start : start+i]})
		start += i + 1
	}
}

// lineAt returns the index of the line containing offset.
func lineAt(lines []line, offset int) int {
	for i, l := range lines {
		if offset >= l.start && offset <= l.end() {
			return i
		}
	}
	return len(lines) - 1
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isUpper(b byte) bool { return b >= 'A' && b <= 'Z' }

// alnumBefore reports whether the rune ending at i is a letter or digit.
func alnumBefore(s string, i int) bool {
	if i <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// alnumAfter reports whether the rune starting at i is a letter or digit.
func alnumAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// digitJoinedBefore reports s[i-1] is one of seps and s[i-2] a digit.
func digitJoinedBefore(s string, i int, seps string) bool {
	return i >= 2 && strings.IndexByte(seps, s[i-1]) >= 0 && isDigit(s[i-2])
}

// digitJoinedAfter reports s[i] is one of seps and s[i+1] a digit.
func digitJoinedAfter(s string, i int, seps string) bool {
	return i+1 < len(s) && strings.IndexByte(seps, s[i]) >= 0 && isDigit(s[i+1])
}

// hasWord reports whether word occurs in s with non-alphanumeric neighbours.
func hasWord(s, word string) bool {
	for off := 0; ; {
		i := strings.Index(s[off:], word)
		if i < 0 {
			return false
		}
		i += off
		if !alnumBefore(s, i) && !alnumAfter(s, i+len(word)) {
			return true
		}
		off = i + 1
	}
}

func candidate(field models.Field, value string, start, end int, conf float64, rule string) models.FieldCandidate {
	return models.FieldCandidate{
		Field:      field,
		Value:      value,
		Span:       models.Span{Start: start, End: end},
		Confidence: conf,
		RuleID:     rule,
	}
}
