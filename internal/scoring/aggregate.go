package scoring

import (
	"maps"
	"strconv"
)

// ScoreMap maps criterion name to score.
type ScoreMap map[string]float64

// OverrideLevel describes what the plagiarism override did to the integrity score.
type OverrideLevel string

const (
	// OverrideNone leaves the integrity score untouched.
	OverrideNone OverrideLevel = "none"
	// OverrideReduced forces the integrity score to ReducedIntegrityScore.
	OverrideReduced OverrideLevel = "reduced"
	// OverrideZeroed forces the integrity score to zero.
	OverrideZeroed OverrideLevel = "zeroed"
	// OverrideSkipped means the set has no integrity criterion to override.
	OverrideSkipped OverrideLevel = "skipped"
)

// Override records the effect of a plagiarism verdict on the scores.
type Override struct {
	Level     OverrideLevel `json:"level"`
	Criterion string        `json:"criterion,omitempty"`
	Previous  float64       `json:"previous"`
	Score     float64       `json:"score"`
}

// Scorecard is a validated, overridden and aggregated set of scores.
type Scorecard struct {
	Scores   ScoreMap `json:"scores"`
	Total    float64  `json:"total_score"`
	Override Override `json:"override"`
}

// ValidateScores clamps raw oracle scores into each criterion's range. Missing
// criteria default to 0 before clamping; names outside the set are dropped.
func ValidateScores(raw ScoreMap, set CriteriaSet) ScoreMap {
	validated := make(ScoreMap, len(set.Criteria))
	for _, c := range set.Criteria {
		score := raw[c.Name]
		if score < c.MinScore {
			score = c.MinScore
		} else if score > c.MaxScore {
			score = c.MaxScore
		}
		validated[c.Name] = score
	}
	return validated
}

// Aggregate returns the weighted total over the criteria set.
func Aggregate(scores ScoreMap, set CriteriaSet) float64 {
	var total float64
	for _, c := range set.Criteria {
		total += scores[c.Name] * c.Weight
	}
	return total
}

// ApplyPlagiarismOverride returns a copy of scores with the integrity
// criterion adjusted for the verdict. The forced values are not re-clamped.
func ApplyPlagiarismOverride(scores ScoreMap, set CriteriaSet, verdict Verdict) (ScoreMap, Override) {
	adjusted := maps.Clone(scores)
	if adjusted == nil {
		adjusted = ScoreMap{}
	}

	integrity, ok := set.Integrity()
	if !ok {
		return adjusted, Override{Level: OverrideSkipped}
	}

	previous := adjusted[integrity.Name]
	override := Override{Level: OverrideNone, Criterion: integrity.Name, Previous: previous, Score: previous}
	switch {
	case verdict.SimilarityPercentage >= ZeroScoreThreshold:
		override.Level, override.Score = OverrideZeroed, 0
	case verdict.SimilarityPercentage > DetectionThreshold:
		override.Level, override.Score = OverrideReduced, ReducedIntegrityScore
	}
	adjusted[integrity.Name] = override.Score
	return adjusted, override
}

// Finalize validates raw scores, applies the plagiarism override and
// aggregates the result from scratch.
func Finalize(raw ScoreMap, set CriteriaSet, verdict Verdict) Scorecard {
	scores, override := ApplyPlagiarismOverride(ValidateScores(raw, set), set, verdict)
	return Scorecard{
		Scores:   scores,
		Total:    Aggregate(scores, set),
		Override: override,
	}
}

// ZeroScorecard is the scorecard recorded when the oracle fails.
func ZeroScorecard(set CriteriaSet) Scorecard {
	scores := make(ScoreMap, len(set.Criteria))
	for _, c := range set.Criteria {
		scores[c.Name] = 0
	}
	return Scorecard{Scores: scores, Override: Override{Level: OverrideSkipped}}
}

// MaxTotal is the highest achievable weighted total.
func MaxTotal(set CriteriaSet) float64 {
	var total float64
	for _, c := range set.Criteria {
		total += c.MaxScore * c.Weight
	}
	return total
}

// Rescale converts scores and total onto a target full mark, rounding to one
// decimal place. Criteria keep their share of MaxTotal.
func Rescale(scores ScoreMap, total float64, set CriteriaSet, target float64) (ScoreMap, float64) {
	maxTotal := MaxTotal(set)
	rescaled := make(ScoreMap, len(set.Criteria))
	for _, c := range set.Criteria {
		criterionMax := c.MaxScore * c.Weight
		if criterionMax <= 0 || maxTotal <= 0 {
			rescaled[c.Name] = 0
			continue
		}
		share := criterionMax / maxTotal * target
		rescaled[c.Name] = round1(scores[c.Name] / criterionMax * share)
	}

	if maxTotal <= 0 {
		return rescaled, 0
	}
	return rescaled, round1(total / maxTotal * target)
}

// RescaledMax is the criterion's full mark after rescaling to target.
func RescaledMax(c Criterion, set CriteriaSet, target float64) float64 {
	maxTotal := MaxTotal(set)
	if maxTotal <= 0 {
		return 0
	}
	return c.MaxScore * c.Weight / maxTotal * target
}

// round1 rounds to one decimal the way Python's round(v, 1) does: on the
// exact binary value, with exact halves going to the even digit.
func round1(v float64) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	if err != nil {
		return v
	}
	return rounded
}
