package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/facturaIA/lector-ncf/internal/models"
)

const (
	RuleDateLabeled = "date.labeled"
	RuleDateTextual = "date.textual"
	RuleDateNumeric = "date.numeric"
	RuleDateDue     = "date.due"

	confDateLabeled = 0.95
	confDateTextual = 0.85
	confDateNumeric = 0.7
	confDateDue     = 0.3

	// DateLayout is the canonical candidate value format.
	DateLayout = "2006-01-02"
)

var months = map[string]time.Month{
	"ENERO": time.January, "ENE": time.January, "JANUARY": time.January, "JAN": time.January,
	"FEBRERO": time.February, "FEB": time.February, "FEBRUARY": time.February,
	"MARZO": time.March, "MAR": time.March, "MARCH": time.March,
	"ABRIL": time.April, "ABR": time.April, "APRIL": time.April, "APR": time.April,
	"MAYO": time.May, "MAY": time.May,
	"JUNIO": time.June, "JUN": time.June, "JUNE": time.June,
	"JULIO": time.July, "JUL": time.July, "JULY": time.July,
	"AGOSTO": time.August, "AGO": time.August, "AUGUST": time.August, "AUG": time.August,
	"SEPTIEMBRE": time.September, "SETIEMBRE": time.September, "SEPTEMBER": time.September,
	"SEPT": time.September, "SEP": time.September, "SET": time.September,
	"OCTUBRE": time.October, "OCT": time.October, "OCTOBER": time.October,
	"NOVIEMBRE": time.November, "NOV": time.November, "NOVEMBER": time.November,
	"DICIEMBRE": time.December, "DIC": time.December, "DECEMBER": time.December, "DEC": time.December,
}

var (
	numericDate = regexp.MustCompile(`\b(\d{1,4})([/.\-])(\d{1,2})([/.\-])(\d{1,4})\b`)
	dayMonthRe  *regexp.Regexp
	monthDayRe  *regexp.Regexp
)

func init() {
	names := make([]string, 0, len(months))
	for name := range months {
		names = append(names, name)
	}
	// longest first so ENERO wins over ENE
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	alt := strings.Join(names, "|")
	dayMonthRe = regexp.MustCompile(`\b(\d{1,2})(?:\s+DE\s+|[\s/.\-]+)(` + alt + `)\b\.?(?:\s+DEL?\s+|[\s,/.\-]+)(\d{4}|\d{2})\b`)
	monthDayRe = regexp.MustCompile(`\b(` + alt + `)\b\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
}

// DateExtractor parses issue dates in numeric and textual forms.
type DateExtractor struct{}

func (DateExtractor) Name() string { return "date" }

func (DateExtractor) Extract(text models.RawText) []models.FieldCandidate {
	s := text.Folded
	lines := splitLines(s)
	var out []models.FieldCandidate

	for _, l := range lines {
		due := strings.Contains(l.text, "VENC")
		labeled := hasWord(l.text, "FECHA")

		emit := func(d time.Time, start, end int, textual bool) {
			conf, rule := confDateNumeric, RuleDateNumeric
			switch {
			case due:
				conf, rule = confDateDue, RuleDateDue
			case labeled:
				conf, rule = confDateLabeled, RuleDateLabeled
			case textual:
				conf, rule = confDateTextual, RuleDateTextual
			}
			out = append(out, candidate(models.FieldDate, d.Format(DateLayout), l.start+start, l.start+end, conf, rule))
		}

		for _, m := range numericDate.FindAllStringSubmatchIndex(l.text, -1) {
			if digitJoinedBefore(l.text, m[0], "/.-,") || digitJoinedAfter(l.text, m[1], "/.-,") {
				continue
			}
			g := func(k int) string { return l.text[m[2*k]:m[2*k+1]] }
			if g(2) != g(4) {
				continue
			}
			if d, ok := parseNumericDate(g(1), g(3), g(5)); ok {
				emit(d, m[0], m[1], false)
			}
		}
		for _, m := range dayMonthRe.FindAllStringSubmatchIndex(l.text, -1) {
			day, _ := strconv.Atoi(l.text[m[2]:m[3]])
			month := months[l.text[m[4]:m[5]]]
			if d, ok := buildDate(l.text[m[6]:m[7]], month, day); ok {
				emit(d, m[0], m[1], true)
			}
		}
		for _, m := range monthDayRe.FindAllStringSubmatchIndex(l.text, -1) {
			month := months[l.text[m[2]:m[3]]]
			day, _ := strconv.Atoi(l.text[m[4]:m[5]])
			if d, ok := buildDate(l.text[m[6]:m[7]], month, day); ok {
				emit(d, m[0], m[1], true)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}

// parseNumericDate applies the ordering rule: ISO when the first part has four
// digits, day-first when the first part exceeds 12 or is ambiguous, month-first
// only when the second part exceeds 12.
func parseNumericDate(a, b, c string) (time.Time, bool) {
	if len(a) == 4 {
		if len(c) > 2 {
			return time.Time{}, false
		}
		month, _ := strconv.Atoi(b)
		day, _ := strconv.Atoi(c)
		return buildDate(a, time.Month(month), day)
	}
	if len(a) > 2 || (len(c) != 2 && len(c) != 4) {
		return time.Time{}, false
	}
	first, _ := strconv.Atoi(a)
	second, _ := strconv.Atoi(b)

	day, month := first, second
	if first <= 12 && second > 12 {
		day, month = second, first
	}
	return buildDate(c, time.Month(month), day)
}

// buildDate rejects calendar overflow such as February 30 or month 13.
func buildDate(year string, month time.Month, day int) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false
	}
	switch len(year) {
	case 2:
		if y < 70 {
			y += 2000
		} else {
			y += 1900
		}
	case 4:
	default:
		return time.Time{}, false
	}
	if y < 1970 || y > 2100 || month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	d := time.Date(y, month, day, 0, 0, 0, 0, time.UTC)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}
