package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-essay-api/internal/feedback"
	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

// EssayReport is everything needed to render one student's feedback report.
type EssayReport struct {
	Info     RunInfo
	Essay    EssayRow
	Set      scoring.CriteriaSet
	Feedback feedback.Structured
}

type scoreCell struct {
	Name  string
	Score string
}

type feedbackRow struct {
	Criterion    string
	Summary      template.HTML
	Strengths    template.HTML
	Improvements template.HTML
	Empty        bool
}

type reportView struct {
	Info    RunInfo
	Student string
	Scores  []scoreCell
	Total   string
	Rows    []feedbackRow
	General template.HTML
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="ko">
<head>
<meta charset="utf-8">
<title>에세이 평가 보고서 - {{.Student}}</title>
<style>
@page { size: A4 landscape; }
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; margin-bottom: 1.5em; }
th, td { border: 1px solid #9bb7d4; padding: 6px 8px; vertical-align: top; }
th { background: #dbe5f1; }
td.criterion { width: 7%; font-weight: bold; }
.general td { font-weight: bold; }
</style>
</head>
<body>
<h1 style="text-align:center">에세이 평가 보고서</h1>
<h2>평가 정보</h2>
<p>
{{- with .Info.Year}}<strong>평가 년도: {{.}}</strong><br>{{end}}
{{- with .Info.Semester}}<strong>학기: {{.}}</strong><br>{{end}}
{{- with .Info.Subject}}<strong>과목명: {{.}}</strong><br>{{end}}
{{- with .Info.Title}}<strong>평가 제목: {{.}}</strong><br>{{end}}
</p>
<h2>학생 정보</h2>
<p><strong>학생명: {{.Student}}</strong></p>
<h2>점수 요약</h2>
<table>
<tr><th>평가 기준</th>{{range .Scores}}<th>{{.Name}}</th>{{end}}<th>총점</th></tr>
<tr><th>점수</th>{{range .Scores}}<td>{{.Score}}</td>{{end}}<td><strong>{{.Total}}</strong></td></tr>
</table>
<h2>상세 피드백</h2>
<table>
<tr><th>평가 기준</th><th>상세 피드백</th></tr>
{{- range .Rows}}
<tr><td class="criterion">{{.Criterion}}</td><td>
{{- if .Empty}}피드백 없음{{else}}
{{- with .Summary}}<p>【평가 요약】<br>{{.}}</p>{{end}}
{{- with .Strengths}}<p>✨ 잘 작성한 점:<br>{{.}}</p>{{end}}
{{- with .Improvements}}<p>⚠️ 개선할 점 및 오류:<br>{{.}}</p>{{end}}
{{- end}}</td></tr>
{{- end}}
{{- with .General}}
<tr class="general"><td class="criterion">종합의견</td><td>{{.}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

// Renderer renders essay reports. Oracle text is treated as untrusted and
// stripped of markup before it reaches the page.
type Renderer struct {
	sanitizer *bluemonday.Policy
}

// NewRenderer constructs a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{sanitizer: bluemonday.StrictPolicy()}
}

// EssayHTML renders the feedback report for one essay.
func (r *Renderer) EssayHTML(in EssayReport) ([]byte, error) {
	view := reportView{
		Info:    in.Info,
		Student: StudentName(in.Essay.Filename),
	}

	var totalMax float64
	for _, c := range in.Set.Criteria {
		view.Scores = append(view.Scores, scoreCell{
			Name:  c.Name,
			Score: fmt.Sprintf("%.1f / %.1f", in.Essay.Scores[c.Name], c.MaxScore),
		})
		totalMax += c.MaxScore * c.Weight

		item := in.Feedback.Items[c.Name]
		row := feedbackRow{
			Criterion:    c.Name,
			Summary:      r.multiline(item.Summary),
			Strengths:    r.multiline(item.GoodPoints),
			Improvements: r.multiline(item.ImprovementPoints),
		}
		row.Empty = row.Summary == "" && row.Strengths == "" && row.Improvements == ""
		view.Rows = append(view.Rows, row)
	}
	view.Total = fmt.Sprintf("%.1f / %.1f", scoring.Aggregate(in.Essay.Scores, in.Set), totalMax)
	view.General = r.multiline(in.Feedback.General)

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// multiline sanitizes each line and joins them with <br>.
func (r *Renderer) multiline(text string) template.HTML {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = r.sanitizer.Sanitize(strings.TrimSpace(line))
	}
	return template.HTML(strings.Join(lines, "<br>"))
}
