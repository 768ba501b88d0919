package extract

import (
	"fmt"
	"regexp"
	"strings"
)

type datePatternKind int

const (
	dateDayMonthYear datePatternKind = iota + 1
	dateISO
	dateEnglishMonth
	dateGermanMonth
	dateBareFebruary
)

func (k datePatternKind) String() string {
	switch k {
	case dateDayMonthYear:
		return "day_month_year"
	case dateISO:
		return "iso"
	case dateEnglishMonth:
		return "english_month"
	case dateGermanMonth:
		return "german_month"
	case dateBareFebruary:
		return "bare_february"
	default:
		return "unknown"
	}
}

// bareFebruaryYear is assumed for "February 9" style mentions without a
// year, which is how one reporting system formats its subject lines.
const bareFebruaryYear = "2025"

type datePattern struct {
	kind      datePatternKind
	re        *regexp.Regexp
	normalize func(m []string) (string, bool)
}

var englishMonths = map[string]string{
	"january": "01", "february": "02", "march": "03", "april": "04",
	"may": "05", "june": "06", "july": "07", "august": "08",
	"september": "09", "october": "10", "november": "11", "december": "12",
}

var germanMonths = map[string]string{
	"januar": "01", "februar": "02", "märz": "03", "april": "04",
	"mai": "05", "juni": "06", "juli": "07", "august": "08",
	"september": "09", "oktober": "10", "november": "11", "dezember": "12",
}

// sp is \s widened to Unicode space separators such as the no-break space
// that HTML mail produces for &nbsp;.
const sp = `[\s\p{Zs}\x{FEFF}]`

var (
	reDayMonthYear = regexp.MustCompile(`(\d{1,2})[.-](\d{1,2})[.-](\d{4})`)
	reISODate      = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
)

// datePatterns is ordered by priority; the first kind with any match wins.
var datePatterns = []datePattern{
	{
		kind: dateDayMonthYear,
		re:   reDayMonthYear,
		normalize: func(m []string) (string, bool) {
			return isoDate(m[3], m[2], m[1]), true
		},
	},
	{
		kind: dateISO,
		re:   reISODate,
		normalize: func(m []string) (string, bool) {
			return isoDate(m[1], m[2], m[3]), true
		},
	},
	{
		kind: dateEnglishMonth,
		re:   regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)` + sp + `+(\d{1,2})(?:st|nd|rd|th)?,` + sp + `+(\d{4})`),
		normalize: func(m []string) (string, bool) {
			month, ok := englishMonths[strings.ToLower(m[1])]
			if !ok {
				return "", false
			}
			return isoDate(m[3], month, m[2]), true
		},
	},
	{
		kind: dateGermanMonth,
		re:   regexp.MustCompile(`(?i)(\d{1,2})\.?` + sp + `+(Januar|Februar|März|April|Mai|Juni|Juli|August|September|Oktober|November|Dezember)` + sp + `+(\d{4})`),
		normalize: func(m []string) (string, bool) {
			month, ok := germanMonths[strings.ToLower(m[2])]
			if !ok {
				return "", false
			}
			return isoDate(m[3], month, m[1]), true
		},
	},
	{
		kind: dateBareFebruary,
		re:   regexp.MustCompile(`(?i)February` + sp + `+(\d{1,2})`),
		normalize: func(m []string) (string, bool) {
			return isoDate(bareFebruaryYear, "2", m[1]), true
		},
	},
}

// ExtractDate returns the first date found in text as YYYY-MM-DD. Day and
// month are only zero padded, never range checked.
func ExtractDate(text string) *string {
	date, _ := findDate(text)
	return date
}

func findDate(text string) (*string, datePatternKind) {
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		date, ok := p.normalize(m)
		if !ok {
			continue
		}
		return &date, p.kind
	}
	return nil, 0
}

func isoDate(year, month, day string) string {
	return fmt.Sprintf("%s-%s-%s", year, pad2(month), pad2(day))
}

func pad2(v string) string {
	if len(v) >= 2 {
		return v
	}
	return strings.Repeat("0", 2-len(v)) + v
}
