package ai

import (
	"context"
	"errors"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

var (
	// ErrOracleUnavailable wraps transport, quota and breaker failures.
	ErrOracleUnavailable = errors.New("scoring oracle unavailable")
	// ErrInvalidResponse is returned when the oracle reply is not a usable score payload.
	ErrInvalidResponse = errors.New("invalid scoring response")
)

// MissingFeedback is used when the oracle returns scores without feedback text.
const MissingFeedback = "피드백을 생성할 수 없습니다."

// ScoringInput contains the essay and the rubric it is graded against.
type ScoringInput struct {
	EssayText string
	Criteria  []scoring.Criterion
}

// ScoringResult is the raw oracle answer. Scores are keyed by criterion name
// and are not yet validated against the rubric bounds.
type ScoringResult struct {
	Scores   scoring.ScoreMap       `json:"scores"`
	Feedback string                 `json:"feedback"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

// Scorer describes an AI model capable of grading essays against a rubric.
type Scorer interface {
	Score(ctx context.Context, input ScoringInput) (ScoringResult, error)
}
