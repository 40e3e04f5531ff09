package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

// EvaluationRun groups essays graded against one criteria set.
type EvaluationRun struct {
	ID          uint                                   `gorm:"primaryKey" json:"id"`
	Year        string                                 `gorm:"size:16" json:"year"`
	Semester    string                                 `gorm:"size:32" json:"semester"`
	Subject     string                                 `gorm:"size:128" json:"subject"`
	Title       string                                 `gorm:"size:255;index" json:"title"`
	Criteria    datatypes.JSONSlice[scoring.Criterion] `json:"criteria"`
	IntegrityID string                                 `gorm:"size:64" json:"integrity_id"`
	Status      string                                 `gorm:"size:32;not null" json:"status"`
	CreatedBy   uint                                   `json:"created_by"`
	CreatedAt   time.Time                              `json:"created_at"`
	UpdatedAt   time.Time                              `json:"updated_at"`
}

const (
	// RunStatusOpen accepts further batches.
	RunStatusOpen = "open"
	// RunStatusCompleted marks a run whose last batch finished.
	RunStatusCompleted = "completed"
)

// CriteriaSet rebuilds the scoring rubric stored with the run.
func (r EvaluationRun) CriteriaSet() scoring.CriteriaSet {
	return scoring.CriteriaSet{Criteria: []scoring.Criterion(r.Criteria), IntegrityID: r.IntegrityID}
}

// EssayResult is the persisted outcome of one essay. Successful results of a
// run double as its plagiarism corpus, ordered by Sequence.
type EssayResult struct {
	ID         uint                                 `gorm:"primaryKey" json:"id"`
	RunID      uint                                 `gorm:"not null;uniqueIndex:idx_essay_run_file" json:"run_id"`
	Filename   string                               `gorm:"size:255;not null;uniqueIndex:idx_essay_run_file" json:"filename"`
	Sequence   int                                  `gorm:"not null" json:"sequence"`
	Status     string                               `gorm:"size:32;not null" json:"status"`
	EssayText  string                               `gorm:"type:text" json:"-"`
	Scores     datatypes.JSONType[scoring.ScoreMap] `json:"scores"`
	TotalScore float64                              `json:"total_score"`
	Feedback   string                               `gorm:"type:text" json:"feedback"`
	Plagiarism datatypes.JSONType[scoring.Verdict]  `json:"plagiarism"`
	Override   datatypes.JSONType[scoring.Override] `json:"override"`
	Raw        datatypes.JSONMap                    `json:"raw"`
	CreatedAt  time.Time                            `json:"created_at"`
	UpdatedAt  time.Time                            `json:"updated_at"`
}

const (
	// EssayStatusEvaluated marks a result scored by the oracle.
	EssayStatusEvaluated = "evaluated"
	// EssayStatusFailed marks a result whose oracle call failed.
	EssayStatusFailed = "failed"
)

// IsEvaluated reports whether the essay belongs in the run's corpus.
func (e EssayResult) IsEvaluated() bool {
	return e.Status == EssayStatusEvaluated
}

// CriteriaTemplate is a reusable, titled criteria set.
type CriteriaTemplate struct {
	ID            uint                                   `gorm:"primaryKey" json:"id"`
	Title         string                                 `gorm:"size:255;not null;uniqueIndex" json:"title"`
	IntegrityName string                                 `gorm:"size:128" json:"integrity_name"`
	Criteria      datatypes.JSONSlice[scoring.Criterion] `json:"criteria"`
	CreatedAt     time.Time                              `json:"created_at"`
	UpdatedAt     time.Time                              `json:"updated_at"`
}
