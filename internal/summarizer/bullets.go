package summarizer

import (
	"regexp"
	"strings"
)

var (
	bulletMarker  = regexp.MustCompile(`^\s*(?:[-*+•‣◦]|\d{1,3}[.)])\s+`)
	headingMarker = regexp.MustCompile(`^\s*(?:#{1,6}\s|\*\*[^*]+\*\*:?\s*$|[A-Z][^.!?]{0,60}:\s*$)`)
)

// parseBullets extracts ordered bullet texts from model output. Headings and
// preamble are dropped; indented continuation lines join the previous
// bullet. When the output has no bullet markers at all, each remaining line
// is taken as a bullet. max <= 0 means no cap.
func parseBullets(raw string, max int) []string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var bullets []string
	sawMarker := false
	for _, line := range lines {
		if bulletMarker.MatchString(line) {
			sawMarker = true
			break
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "---") {
			continue
		}
		if loc := bulletMarker.FindStringIndex(line); loc != nil {
			if text := clean(line[loc[1]:]); text != "" {
				bullets = append(bullets, text)
			}
			continue
		}
		if headingMarker.MatchString(line) {
			continue
		}
		if sawMarker {
			// Continuation of the previous bullet; text before the first
			// bullet is preamble.
			if len(bullets) > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
				bullets[len(bullets)-1] += " " + clean(trimmed)
			}
			continue
		}
		bullets = append(bullets, clean(trimmed))
	}

	if max > 0 && len(bullets) > max {
		bullets = bullets[:max]
	}
	return bullets
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
