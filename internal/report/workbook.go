package report

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

const (
	SheetSummary  = "점수 요약"
	SheetCriteria = "평가 기준"
	SheetInfo     = "평가 정보"

	columnStudent = "학생"
	columnTotal   = "총점"
)

// WorkbookInput is the data behind a score workbook.
type WorkbookInput struct {
	Info RunInfo
	Set  scoring.CriteriaSet
	Rows []EssayRow
	// AdjustedMax rescales every score onto this full mark when set.
	AdjustedMax *float64
}

// ScoreWorkbook renders the run's scores (no feedback) as xlsx.
func ScoreWorkbook(in WorkbookInput) ([]byte, error) {
	header, rows := summaryTable(in)

	maxTotal := scoring.MaxTotal(in.Set)
	adjustedLabel := fmt.Sprintf("%.1f점", maxTotal)
	if in.AdjustedMax != nil {
		adjustedLabel = fmt.Sprintf("%.1f점", *in.AdjustedMax)
	}
	info := [][]interface{}{
		{"평가 년도", in.Info.Year},
		{"학기", in.Info.Semester},
		{"과목명", in.Info.Subject},
		{"평가 제목", in.Info.Title},
		{"원래 총점 만점", fmt.Sprintf("%.1f점", maxTotal)},
		{"조정된 총점 만점", adjustedLabel},
	}

	return writeWorkbook(header, rows, criteriaTable(in.Set, in.AdjustedMax), info)
}

// AccumulateWorkbook merges the run's scores into a previously exported
// workbook. Students present in the run replace their earlier rows; columns
// missing on either side are left blank. An empty existing workbook starts a
// fresh one.
func AccumulateWorkbook(existing []byte, in WorkbookInput, now time.Time) ([]byte, error) {
	in.AdjustedMax = nil
	header, rows := summaryTable(in)

	if len(existing) > 0 {
		prevHeader, prevRows, err := readSummary(existing)
		if err != nil {
			return nil, err
		}
		header, rows = mergeSummary(prevHeader, prevRows, header, rows)
	}

	info := [][]interface{}{
		{"평가 년도", in.Info.Year},
		{"학기", in.Info.Semester},
		{"과목명", in.Info.Subject},
		{"평가 제목", in.Info.Title},
		{"총점 만점", fmt.Sprintf("%.1f점", scoring.MaxTotal(in.Set))},
		{"마지막 업데이트", now.Format("2006-01-02 15:04:05")},
	}

	return writeWorkbook(header, rows, criteriaTable(in.Set, nil), info)
}

func summaryTable(in WorkbookInput) ([]string, [][]interface{}) {
	header := append([]string{columnStudent}, in.Set.Names()...)
	header = append(header, columnTotal)

	rows := make([][]interface{}, 0, len(in.Rows))
	for _, essay := range in.Rows {
		scores, total := essay.Scores, essay.Total
		if in.AdjustedMax != nil {
			scores, total = scoring.Rescale(essay.Scores, essay.Total, in.Set, *in.AdjustedMax)
		}

		row := []interface{}{StudentName(essay.Filename)}
		for _, c := range in.Set.Criteria {
			row = append(row, scores[c.Name])
		}
		rows = append(rows, append(row, total))
	}
	return header, rows
}

func criteriaTable(set scoring.CriteriaSet, adjustedMax *float64) [][]interface{} {
	header := []interface{}{"평가 기준", "기준 상세 설명", "최저점", "최고점", "가중치"}
	if adjustedMax != nil {
		header = append(header, "조정된 최고점")
	}

	table := [][]interface{}{header}
	for _, c := range set.Criteria {
		row := []interface{}{c.Name, c.Description, c.MinScore, c.MaxScore, c.Weight}
		if adjustedMax != nil {
			row = append(row, scoring.RescaledMax(c, set, *adjustedMax))
		}
		table = append(table, row)
	}
	return table
}

func readSummary(data []byte) ([]string, [][]interface{}, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("open existing workbook: %w", err)
	}
	defer f.Close()

	raw, err := f.GetRows(SheetSummary)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", SheetSummary, err)
	}
	if len(raw) == 0 {
		return nil, nil, nil
	}

	header := raw[0]
	rows := make([][]interface{}, 0, len(raw)-1)
	for _, cells := range raw[1:] {
		row := make([]interface{}, len(header))
		for i := range header {
			switch {
			case i >= len(cells):
			case header[i] == columnStudent:
				row[i] = cells[i]
			default:
				row[i] = cellValue(cells[i])
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// mergeSummary unions the two tables by column name, existing columns first.
func mergeSummary(prevHeader []string, prevRows [][]interface{}, header []string, rows [][]interface{}) ([]string, [][]interface{}) {
	if len(prevHeader) == 0 {
		return header, rows
	}

	merged := slices.Clone(prevHeader)
	for _, name := range header {
		if !slices.Contains(merged, name) {
			merged = append(merged, name)
		}
	}

	replaced := map[string]struct{}{}
	for _, row := range rows {
		replaced[fmt.Sprint(row[0])] = struct{}{}
	}

	studentIdx := slices.Index(prevHeader, columnStudent)
	out := make([][]interface{}, 0, len(prevRows)+len(rows))
	for _, row := range prevRows {
		if studentIdx >= 0 {
			if _, ok := replaced[fmt.Sprint(row[studentIdx])]; ok {
				continue
			}
		}
		out = append(out, project(prevHeader, row, merged))
	}
	for _, row := range rows {
		out = append(out, project(header, row, merged))
	}
	return merged, out
}

func project(from []string, row []interface{}, to []string) []interface{} {
	out := make([]interface{}, len(to))
	for i, name := range from {
		if j := slices.Index(to, name); j >= 0 && i < len(row) {
			out[j] = row[i]
		}
	}
	return out
}

func cellValue(s string) interface{} {
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}

func writeWorkbook(summaryHeader []string, summaryRows, criteria, info [][]interface{}) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetCriteria, SheetInfo} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	header := make([]interface{}, len(summaryHeader))
	for i, name := range summaryHeader {
		header[i] = name
	}
	if err := writeRows(f, SheetSummary, append([][]interface{}{header}, summaryRows...)); err != nil {
		return nil, err
	}
	if err := writeRows(f, SheetCriteria, criteria); err != nil {
		return nil, err
	}
	if err := writeRows(f, SheetInfo, append([][]interface{}{{"항목", "내용"}}, info...)); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
