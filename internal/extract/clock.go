package extract

import (
	"regexp"
	"strings"
)

var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2})[:.]` + sp + `*(\d{2})(?:` + sp + `*(?:Uhr|h))?`),
	// bare "9.24" as written by some reporting tools
	regexp.MustCompile(`(\d{1,2})\.(\d{2})`),
}

// ExtractTime returns the first time of day in text as HH:MM. Minutes and
// hours are padded, not validated.
func ExtractTime(text string) *string {
	masked := maskNumericDates(text)
	for _, re := range timePatterns {
		m := re.FindStringSubmatch(masked)
		if m == nil {
			continue
		}
		t := pad2(m[1]) + ":" + pad2(m[2])
		return &t
	}
	return nil
}

// maskNumericDates blanks out DD.MM.YYYY and YYYY-MM-DD expressions so their
// day and month digits are not read as a time of day.
func maskNumericDates(text string) string {
	blank := func(s string) string { return strings.Repeat(" ", len(s)) }
	text = reDayMonthYear.ReplaceAllStringFunc(text, blank)
	return reISODate.ReplaceAllStringFunc(text, blank)
}
