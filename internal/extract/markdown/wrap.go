package markdown

import (
	"strings"
	"unicode/utf8"
)

// wrapLines folds prose lines at width. Fenced code, indented code, tables,
// headings, quotes, and list items are left alone.
func wrapLines(text string, width int) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence || !wrappable(line) || utf8.RuneCountInString(line) <= width {
			out = append(out, line)
			continue
		}
		out = append(out, fold(line, width)...)
	}
	return strings.Join(out, "\n")
}

func wrappable(line string) bool {
	if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
		return false
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '#', '|', '>', '-', '*', '+':
		return false
	}
	if i := strings.IndexAny(trimmed, ".)"); i > 0 && i < 4 && isDigits(trimmed[:i]) {
		return false
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func fold(line string, width int) []string {
	words := strings.Fields(line)
	var (
		out     []string
		current strings.Builder
	)
	for _, word := range words {
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+1+utf8.RuneCountInString(word) > width {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
