package scoring

import (
	"fmt"
	"slices"
)

const (
	// DetectionThreshold is the similarity percentage above which an essay is flagged.
	DetectionThreshold = 30.0
	// ZeroScoreThreshold is the similarity percentage at or above which the integrity score is zeroed.
	ZeroScoreThreshold = 50.0
	// ReducedIntegrityScore is the integrity score forced for flagged essays below ZeroScoreThreshold.
	ReducedIntegrityScore = 10.0
)

// CorpusEntry is one previously evaluated essay.
type CorpusEntry struct {
	EssayID string `json:"essay_id"`
	Text    string `json:"text"`
}

// Corpus is the ordered, append-only set of essays already evaluated in a run.
// Append never mutates the receiver, so a detector holding a corpus value
// cannot observe essays appended after it was handed over.
type Corpus struct {
	entries []CorpusEntry
}

// NewCorpus builds a corpus from entries in evaluation order.
func NewCorpus(entries ...CorpusEntry) Corpus {
	return Corpus{entries: slices.Clone(entries)}
}

// Append returns a corpus extended by entry.
func (c Corpus) Append(entry CorpusEntry) Corpus {
	return Corpus{entries: append(slices.Clip(c.entries), entry)}
}

// Len reports the number of essays in the corpus.
func (c Corpus) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the corpus entries.
func (c Corpus) Entries() []CorpusEntry {
	return slices.Clone(c.entries)
}

// Verdict is the outcome of comparing one essay against the corpus.
type Verdict struct {
	MaxSimilarity        float64 `json:"max_similarity"`
	SimilarEssay         *string `json:"similar_essay,omitempty"`
	Detected             bool    `json:"plagiarism_detected"`
	SimilarityPercentage float64 `json:"similarity_percentage"`
}

// CheckPlagiarism compares text with every corpus entry and reports the
// highest similarity. The first entry reaching the maximum wins ties.
func CheckPlagiarism(text string, corpus Corpus) Verdict {
	var verdict Verdict
	for _, entry := range corpus.entries {
		similarity := Similarity(text, entry.Text)
		if similarity > verdict.MaxSimilarity {
			ref := entry.EssayID
			verdict.MaxSimilarity = similarity
			verdict.SimilarEssay = &ref
		}
	}

	verdict.SimilarityPercentage = verdict.MaxSimilarity * 100
	verdict.Detected = verdict.SimilarityPercentage > DetectionThreshold
	return verdict
}

// Note renders the human readable plagiarism line appended to feedback.
func (v Verdict) Note() string {
	var message string
	switch {
	case v.SimilarityPercentage >= ZeroScoreThreshold:
		message = fmt.Sprintf("⚠️ 표절 검사 결과: %.1f%% 유사도로 감지되어 0점 처리되었습니다.", v.SimilarityPercentage)
	case v.SimilarityPercentage > DetectionThreshold:
		message = fmt.Sprintf("⚠️ 표절 검사 결과: %.1f%% 유사도로 감지되어 10점으로 조정되었습니다.", v.SimilarityPercentage)
	default:
		return fmt.Sprintf("✅ 표절 검사 결과: %.1f%% 유사도 (정상 범위)", v.SimilarityPercentage)
	}

	if v.SimilarEssay != nil && *v.SimilarEssay != "" {
		message += fmt.Sprintf(" (유사 에세이: %s)", *v.SimilarEssay)
	}
	return message
}
