package ingest

import (
	"strings"
)

// FlattenTables rewrites markdown table rows produced by OCR into plain
// lines so that a row's cells stay together in one chunk. Any line that
// starts and ends with "|" counts as a row, even on its own. Separator rows
// (|---|:--:|) are dropped and cells are joined with "; ". Text with no such
// line is returned unchanged.
func FlattenTables(text string) string {
	if !strings.Contains(text, "|") {
		return text
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	sawTable := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < 2 || !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
			out = append(out, line)
			continue
		}
		sawTable = true

		cells := make([]string, 0, 8)
		separator := true
		for _, c := range strings.Split(strings.Trim(trimmed, "|"), "|") {
			cell := strings.TrimSpace(c)
			if strings.Trim(cell, ":- ") != "" {
				separator = false
			}
			if cell != "" {
				cells = append(cells, cell)
			}
		}
		if separator || len(cells) == 0 {
			continue
		}
		out = append(out, strings.Join(cells, "; "))
	}
	if !sawTable {
		return text
	}
	return strings.Join(out, "\n")
}
