package dto

import (
	"time"

	"github.com/noah-isme/gema-essay-api/internal/feedback"
	"github.com/noah-isme/gema-essay-api/internal/models"
	"github.com/noah-isme/gema-essay-api/internal/report"
	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

// CriterionPayload describes one rubric entry as supplied by clients.
type CriterionPayload struct {
	Name        string   `json:"name" yaml:"name" validate:"required,max=128"`
	Description string   `json:"description" yaml:"description,omitempty" validate:"max=1024"`
	MinScore    float64  `json:"min_score" yaml:"min_score" validate:"gte=0"`
	MaxScore    float64  `json:"max_score" yaml:"max_score" validate:"gtefield=MinScore"`
	Weight      *float64 `json:"weight,omitempty" yaml:"weight,omitempty" validate:"omitempty,gte=0"`
}

// ToCriteria converts payloads to scoring criteria. A missing weight counts as 1.
func ToCriteria(payloads []CriterionPayload) []scoring.Criterion {
	criteria := make([]scoring.Criterion, 0, len(payloads))
	for _, p := range payloads {
		weight := 1.0
		if p.Weight != nil {
			weight = *p.Weight
		}
		criteria = append(criteria, scoring.Criterion{
			Name:        p.Name,
			Description: p.Description,
			MinScore:    p.MinScore,
			MaxScore:    p.MaxScore,
			Weight:      weight,
		})
	}
	return criteria
}

// FromCriteria converts scoring criteria back to payloads.
func FromCriteria(criteria []scoring.Criterion) []CriterionPayload {
	payloads := make([]CriterionPayload, 0, len(criteria))
	for _, c := range criteria {
		weight := c.Weight
		payloads = append(payloads, CriterionPayload{
			Name:        c.Name,
			Description: c.Description,
			MinScore:    c.MinScore,
			MaxScore:    c.MaxScore,
			Weight:      &weight,
		})
	}
	return payloads
}

// CreateRunRequest opens a new evaluation run. Criteria are taken from the
// payload, else from the named template, else the default rubric.
type CreateRunRequest struct {
	Year               string             `json:"year" validate:"max=16"`
	Semester           string             `json:"semester" validate:"max=32"`
	Subject            string             `json:"subject" validate:"max=128"`
	Title              string             `json:"title" validate:"max=255"`
	TemplateTitle      string             `json:"template_title" validate:"max=255"`
	IntegrityCriterion string             `json:"integrity_criterion" validate:"max=128"`
	Criteria           []CriterionPayload `json:"criteria" validate:"omitempty,dive"`
}

// RunResponse describes an evaluation run.
type RunResponse struct {
	ID                 uint                `json:"id"`
	Year               string              `json:"year"`
	Semester           string              `json:"semester"`
	Subject            string              `json:"subject"`
	Title              string              `json:"title"`
	Status             string              `json:"status"`
	Criteria           []scoring.Criterion `json:"criteria"`
	IntegrityCriterion string              `json:"integrity_criterion,omitempty"`
	MaxTotal           float64             `json:"max_total"`
	CreatedAt          time.Time           `json:"created_at"`
}

// NewRunResponse builds a response DTO from a model.
func NewRunResponse(run models.EvaluationRun) RunResponse {
	set := run.CriteriaSet()
	response := RunResponse{
		ID:        run.ID,
		Year:      run.Year,
		Semester:  run.Semester,
		Subject:   run.Subject,
		Title:     run.Title,
		Status:    run.Status,
		Criteria:  set.Criteria,
		MaxTotal:  scoring.MaxTotal(set),
		CreatedAt: run.CreatedAt,
	}
	if integrity, ok := set.Integrity(); ok {
		response.IntegrityCriterion = integrity.Name
	}
	return response
}

// RunInfo extracts report metadata from a run.
func RunInfo(run models.EvaluationRun) report.RunInfo {
	return report.RunInfo{Year: run.Year, Semester: run.Semester, Subject: run.Subject, Title: run.Title}
}

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// RunListQuery filters the run listing.
type RunListQuery struct {
	Title    string `query:"title"`
	Page     int    `query:"page" validate:"gte=0"`
	PageSize int    `query:"page_size" validate:"gte=0,lte=100"`
}

// EssayUpload is one document submitted for evaluation.
type EssayUpload struct {
	Filename string `validate:"required,max=255"`
	Data     []byte
}

// EssayResultResponse describes one evaluated essay.
type EssayResultResponse struct {
	ID         uint             `json:"id"`
	RunID      uint             `json:"run_id"`
	Filename   string           `json:"filename"`
	Student    string           `json:"student"`
	Sequence   int              `json:"sequence"`
	Status     string           `json:"status"`
	Scores     scoring.ScoreMap `json:"scores"`
	TotalScore float64          `json:"total_score"`
	Feedback   string           `json:"feedback"`
	Plagiarism scoring.Verdict  `json:"plagiarism_check"`
	Override   scoring.Override `json:"override"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewEssayResultResponse builds a response DTO from a model.
func NewEssayResultResponse(result models.EssayResult) EssayResultResponse {
	scores := result.Scores.Data()
	if scores == nil {
		scores = scoring.ScoreMap{}
	}
	return EssayResultResponse{
		ID:         result.ID,
		RunID:      result.RunID,
		Filename:   result.Filename,
		Student:    report.StudentName(result.Filename),
		Sequence:   result.Sequence,
		Status:     result.Status,
		Scores:     scores,
		TotalScore: result.TotalScore,
		Feedback:   result.Feedback,
		Plagiarism: result.Plagiarism.Data(),
		Override:   result.Override.Data(),
		CreatedAt:  result.CreatedAt,
		UpdatedAt:  result.UpdatedAt,
	}
}

// EssayRow converts a stored result for report rendering.
func EssayRow(result models.EssayResult) report.EssayRow {
	return report.EssayRow{
		Filename: result.Filename,
		Scores:   result.Scores.Data(),
		Total:    result.TotalScore,
		Feedback: result.Feedback,
	}
}

// EssayResultDetailResponse adds the structured feedback to a result.
type EssayResultDetailResponse struct {
	EssayResultResponse
	StructuredFeedback feedback.Structured `json:"structured_feedback"`
	CacheHit           bool                `json:"cache_hit"`
}

// BatchResponse summarises one evaluated batch.
type BatchResponse struct {
	RunID     uint                  `json:"run_id"`
	Evaluated int                   `json:"evaluated"`
	Failed    int                   `json:"failed"`
	Detected  int                   `json:"plagiarism_detected"`
	Results   []EssayResultResponse `json:"results"`
}

// TemplateRequest saves a titled criteria set.
type TemplateRequest struct {
	Title              string             `json:"title" yaml:"title" validate:"required,max=255"`
	IntegrityCriterion string             `json:"integrity_criterion" yaml:"integrity_criterion,omitempty" validate:"max=128"`
	Criteria           []CriterionPayload `json:"criteria" yaml:"criteria" validate:"required,min=1,dive"`
}

// TemplateResponse describes a stored criteria template.
type TemplateResponse struct {
	ID                 uint               `json:"id"`
	Title              string             `json:"title"`
	IntegrityCriterion string             `json:"integrity_criterion"`
	Criteria           []CriterionPayload `json:"criteria"`
	MaxTotal           float64            `json:"max_total"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewTemplateResponse builds a response DTO from a model.
func NewTemplateResponse(template models.CriteriaTemplate) TemplateResponse {
	criteria := []scoring.Criterion(template.Criteria)
	return TemplateResponse{
		ID:                 template.ID,
		Title:              template.Title,
		IntegrityCriterion: template.IntegrityName,
		Criteria:           FromCriteria(criteria),
		MaxTotal:           scoring.MaxTotal(scoring.CriteriaSet{Criteria: criteria}),
		UpdatedAt:          template.UpdatedAt,
	}
}

// PublishResponse carries the URL of a published archive.
type PublishResponse struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}
