package source

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const dateLayout = "2006-01-02"

// DefaultDateLayouts are tried in order. Slash dates are day first, the way
// project-plan exports in es/pt/fr locales print them.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2/1/06 15:04",
	"2/1/06",
	"2/1/2006 15:04",
	"2/1/2006",
	"2 January 2006",
	"January 2, 2006",
}

// Excel serial dates count days from this epoch.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses a cell into a date. A leading weekday word ("lun",
// "Mon.") is ignored and Excel serial numbers are accepted. ok is false when
// the cell is empty or matches no layout.
func ParseDate(cell string, layouts []string) (t time.Time, ok bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, false
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < 1 || serial > 2958465 { // 9999-12-31
			return time.Time{}, false
		}
		days := math.Floor(serial)
		return excelEpoch.AddDate(0, 0, int(days)), true
	}

	s = stripWeekday(s)
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a date the way the remote date columns expect it.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func stripWeekday(s string) string {
	word, rest, found := strings.Cut(s, " ")
	if !found {
		return s
	}
	word = strings.TrimSuffix(word, ".")
	if word == "" {
		return s
	}
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return s
		}
	}
	// Month names are letters too; only drop the word if what follows still
	// starts like a date.
	rest = strings.TrimSpace(rest)
	if rest == "" || !unicode.IsDigit(rune(rest[0])) {
		return s
	}
	if _, ok := monthPrefixes[strings.ToLower(word)]; ok {
		return s
	}
	return rest
}

var monthPrefixes = map[string]struct{}{
	"january": {}, "february": {}, "march": {}, "april": {}, "may": {}, "june": {},
	"july": {}, "august": {}, "september": {}, "october": {}, "november": {}, "december": {},
}
