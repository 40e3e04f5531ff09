package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

const scoringResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "scores": {
      "type": "object",
      "additionalProperties": {"type": "number"}
    },
    "feedback": {"type": "string"}
  }
}`

var responseSchema = jsonschema.MustCompileString("scoring_response.schema.json", scoringResponseSchema)

// parseScoringResponse decodes and validates the oracle's JSON payload. Both
// fields are optional: missing scores are defaulted by the validator and
// missing feedback becomes MissingFeedback.
func parseScoringResponse(content string) (ScoringResult, error) {
	content = strings.TrimSpace(content)

	var document interface{}
	if err := json.Unmarshal([]byte(content), &document); err != nil {
		return ScoringResult{}, fmt.Errorf("%w: decode json: %v", ErrInvalidResponse, err)
	}
	if err := responseSchema.Validate(document); err != nil {
		return ScoringResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var payload struct {
		Scores   map[string]float64 `json:"scores"`
		Feedback *string            `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return ScoringResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	result := ScoringResult{
		Scores:   scoring.ScoreMap(payload.Scores),
		Feedback: MissingFeedback,
	}
	if result.Scores == nil {
		result.Scores = scoring.ScoreMap{}
	}
	if payload.Feedback != nil {
		result.Feedback = *payload.Feedback
	}
	return result, nil
}
