// Package report renders evaluation results for teachers and students: one
// HTML feedback report per essay, score workbooks and zip archives.
package report

import (
	"strings"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

// RunInfo is the metadata printed on every report.
type RunInfo struct {
	Year     string
	Semester string
	Subject  string
	Title    string
}

// EssayRow is one evaluated essay as reports see it.
type EssayRow struct {
	Filename string
	Scores   scoring.ScoreMap
	Total    float64
	Feedback string
}

// StudentName derives the student label from an uploaded file name.
func StudentName(filename string) string {
	return strings.ReplaceAll(strings.ReplaceAll(filename, ".pdf", ""), ".PDF", "")
}

// ReportFilename is the archive entry name of a student's feedback report.
func ReportFilename(filename string) string {
	return StudentName(filename) + "_피드백보고서.html"
}

// ArchiveFilename names the zip holding every report of a run.
func ArchiveFilename(info RunInfo) string {
	return "전체_피드백보고서_" + orNA(info.Year) + "_" + orNA(info.Semester) + ".zip"
}

// WorkbookFilename names an exported workbook of a run.
func WorkbookFilename(info RunInfo, label string) string {
	return label + "_" + orNA(info.Year) + "_" + orNA(info.Semester) + ".xlsx"
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}
