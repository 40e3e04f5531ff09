package feedback

import (
	"fmt"
	"strings"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

// Format renders structured feedback back into the annotated text form that
// Parse accepts. Criteria are emitted in set order with their scores, and the
// general comment closes the text.
func Format(structured Structured, set scoring.CriteriaSet, scores scoring.ScoreMap) string {
	var b strings.Builder
	for _, c := range set.Criteria {
		item := structured.Items[c.Name]
		summary := splitLines(item.Summary)
		if len(summary) > 0 && classifySection(summary[0]) != kindBody {
			// Summary fell back to the raw block; the sections below carry it.
			summary = nil
		}

		header := fmt.Sprintf("[%s] (%s/%s):", c.Name, formatScore(scores[c.Name]), formatScore(c.MaxScore))
		writeSection(&b, header, summary)
		writeSection(&b, strengthsMarker+" 잘 작성한 점:", splitLines(item.GoodPoints))
		writeSection(&b, issuesMarker+" 개선할 점 및 오류:", splitLines(item.ImprovementPoints))
	}

	for _, line := range splitLines(structured.General) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, header string, lines []string) {
	if len(lines) == 0 {
		if strings.HasPrefix(header, "[") {
			b.WriteString(header)
			b.WriteByte('\n')
		}
		return
	}
	b.WriteString(header)
	b.WriteByte(' ')
	b.WriteString(lines[0])
	b.WriteByte('\n')
	for _, line := range lines[1:] {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func formatScore(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
