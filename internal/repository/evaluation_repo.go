package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-essay-api/internal/models"
)

// RunRepository persists evaluation runs.
type RunRepository interface {
	Create(ctx context.Context, run *models.EvaluationRun) error
	GetByID(ctx context.Context, id uint) (models.EvaluationRun, error)
	List(ctx context.Context, filter RunFilter) ([]models.EvaluationRun, int64, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

// RunFilter narrows run listings.
type RunFilter struct {
	Title    string
	Page     int
	PageSize int
}

type runRepository struct {
	db *gorm.DB
}

// NewRunRepository instantiates the repository.
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *models.EvaluationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *runRepository) GetByID(ctx context.Context, id uint) (models.EvaluationRun, error) {
	var run models.EvaluationRun
	if err := r.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return models.EvaluationRun{}, err
	}
	return run, nil
}

func (r *runRepository) List(ctx context.Context, filter RunFilter) ([]models.EvaluationRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.EvaluationRun{})
	if filter.Title != "" {
		query = query.Where("title = ?", filter.Title)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var runs []models.EvaluationRun
	if err := query.Order("created_at DESC").Order("id DESC").Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (r *runRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	result := r.db.WithContext(ctx).Model(&models.EvaluationRun{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// EssayResultRepository persists per-essay outcomes.
type EssayResultRepository interface {
	Upsert(ctx context.Context, result *models.EssayResult) error
	ListByRun(ctx context.Context, runID uint) ([]models.EssayResult, error)
	GetByID(ctx context.Context, runID, id uint) (models.EssayResult, error)
	NextSequence(ctx context.Context, runID uint) (int, error)
}

type essayResultRepository struct {
	db *gorm.DB
}

// NewEssayResultRepository instantiates the repository.
func NewEssayResultRepository(db *gorm.DB) EssayResultRepository {
	return &essayResultRepository{db: db}
}

// Upsert replaces the result stored for the same run and filename.
func (r *essayResultRepository) Upsert(ctx context.Context, result *models.EssayResult) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sequence", "status", "essay_text", "scores", "total_score", "feedback",
			"plagiarism", "override", "raw", "updated_at",
		}),
	}).Create(result).Error
	if err != nil {
		return err
	}

	var stored models.EssayResult
	if err := r.db.WithContext(ctx).
		Where("run_id = ? AND filename = ?", result.RunID, result.Filename).
		First(&stored).Error; err != nil {
		return err
	}
	*result = stored
	return nil
}

func (r *essayResultRepository) ListByRun(ctx context.Context, runID uint) ([]models.EssayResult, error) {
	var results []models.EssayResult
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("sequence ASC").
		Order("id ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *essayResultRepository) GetByID(ctx context.Context, runID, id uint) (models.EssayResult, error) {
	var result models.EssayResult
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&result, id).Error; err != nil {
		return models.EssayResult{}, err
	}
	return result, nil
}

func (r *essayResultRepository) NextSequence(ctx context.Context, runID uint) (int, error) {
	var maxSequence int64
	if err := r.db.WithContext(ctx).
		Model(&models.EssayResult{}).
		Where("run_id = ?", runID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSequence).Error; err != nil {
		return 0, err
	}
	return int(maxSequence) + 1, nil
}

// TemplateRepository persists titled criteria templates.
type TemplateRepository interface {
	Upsert(ctx context.Context, template *models.CriteriaTemplate) error
	List(ctx context.Context) ([]models.CriteriaTemplate, error)
	GetByTitle(ctx context.Context, title string) (models.CriteriaTemplate, error)
	DeleteByTitle(ctx context.Context, title string) error
}

type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository instantiates the repository.
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Upsert overwrites any template with the same title.
func (r *templateRepository) Upsert(ctx context.Context, template *models.CriteriaTemplate) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "title"}},
		DoUpdates: clause.AssignmentColumns([]string{"integrity_name", "criteria", "updated_at"}),
	}).Create(template).Error
	if err != nil {
		return err
	}
	var stored models.CriteriaTemplate
	if err := r.db.WithContext(ctx).Where("title = ?", template.Title).First(&stored).Error; err != nil {
		return err
	}
	*template = stored
	return nil
}

func (r *templateRepository) List(ctx context.Context) ([]models.CriteriaTemplate, error) {
	var templates []models.CriteriaTemplate
	if err := r.db.WithContext(ctx).Order("title ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *templateRepository) GetByTitle(ctx context.Context, title string) (models.CriteriaTemplate, error) {
	var template models.CriteriaTemplate
	if err := r.db.WithContext(ctx).Where("title = ?", title).First(&template).Error; err != nil {
		return models.CriteriaTemplate{}, err
	}
	return template, nil
}

func (r *templateRepository) DeleteByTitle(ctx context.Context, title string) error {
	result := r.db.WithContext(ctx).Where("title = ?", title).Delete(&models.CriteriaTemplate{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
