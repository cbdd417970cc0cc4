package catalog

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s and strips diacritics so "Embolización" matches
// "embolizacion".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

func queryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(fold(query)) {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

func matchesAll(title string, terms []string) bool {
	folded := fold(title)
	for _, t := range terms {
		if !strings.Contains(folded, t) {
			return false
		}
	}
	return true
}

// parseDuration accepts seconds ("754"), clock ("12:34", "1:02:03") and
// Go-ish ("45 min", "1h 5m") forms. Unknown input yields zero.
func parseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if strings.Contains(raw, ":") {
		var total int
		for _, part := range strings.Split(raw, ":") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 0 {
				return 0
			}
			total = total*60 + n
		}
		return time.Duration(total) * time.Second
	}
	compact := strings.ReplaceAll(raw, " ", "")
	compact = strings.NewReplacer("mins", "m", "min", "m", "hrs", "h", "hr", "h", "secs", "s", "sec", "s").Replace(compact)
	if d, err := time.ParseDuration(compact); err == nil && d > 0 {
		return d
	}
	return 0
}
