package ai

import (
	"fmt"
	"strings"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

const scorerSystemPrompt = `너는 전문 에세이 채점관이야. 사용자가 설정한 평가 기준과 배점을 바탕으로 업로드된 에세이를 분석해서 점수를 매기고 상세한 피드백을 제공해야 해.

평가할 때는:
1. 각 평가 기준 항목별로 정확하고 공정한 점수를 매겨야 해
2. 점수는 반드시 설정된 최저점과 최고점 범위 내에서 매겨야 해
3. 각 항목별로 왜 그 점수를 받았는지 구체적이고 상세한 피드백을 한글로 제공해야 해
4. 잘 작성한 부분과 개선이 필요한 부분을 학생의 글에서 실제 문장을 인용해 설명해야 해
5. 오류가 있는 경우 정확한 문장을 인용하고 올바른 표현을 제시해야 해
6. 전체적인 종합 평가도 포함해야 해

피드백은 다음 형식으로 작성해줘:
[항목명] (점수/최고점): 평가 내용과 이유
✨ 잘 작성한 점: 구체적인 예시와 칭찬
⚠️ 개선할 점 및 오류: 실제 문장을 인용한 지적과 올바른 표현
전체적으로 종합적인 평가

결과는 반드시 다음 JSON 형식으로 반환해야 해:
{"scores": {"항목명": 점수(숫자)}, "feedback": "항목별 평가와 종합 평가를 포함한 피드백"}`

// criteriaListing renders "1. name (description): 최저점 X점, 최고점 Y점" lines.
func criteriaListing(criteria []scoring.Criterion) string {
	builder := strings.Builder{}
	for idx, c := range criteria {
		fmt.Fprintf(&builder, "%d. %s", idx+1, c.Name)
		if c.Description != "" {
			fmt.Fprintf(&builder, " (%s)", c.Description)
		}
		fmt.Fprintf(&builder, ": 최저점 %s점, 최고점 %s점\n", formatPoints(c.MinScore), formatPoints(c.MaxScore))
	}
	return builder.String()
}

func buildUserPrompt(input ScoringInput) string {
	builder := strings.Builder{}
	builder.WriteString("다음은 평가 기준과 배점이야:\n\n")
	builder.WriteString(criteriaListing(input.Criteria))
	builder.WriteString("\n다음은 평가할 에세이 전문이야:\n\n---\n")
	builder.WriteString(input.EssayText)
	builder.WriteString("\n---\n\n")
	builder.WriteString("위 에세이를 평가 기준과 배점에 따라 항목별로 채점하고, 학생의 글에서 실제로 사용된 문장을 인용해 ")
	builder.WriteString("잘 작성한 점과 개선할 점을 한글로 설명해줘. 점수의 키는 평가 기준의 항목명을 그대로 사용해. JSON 형식으로 결과를 반환해줘.")
	return builder.String()
}

func formatPoints(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
