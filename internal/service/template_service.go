package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/models"
	"github.com/noah-isme/gema-essay-api/internal/repository"
	"github.com/noah-isme/gema-essay-api/internal/scoring"
)

// ErrTemplateNotFound indicates no template carries the requested title.
var ErrTemplateNotFound = errors.New("criteria template not found")

// TemplateService manages reusable criteria sets.
type TemplateService interface {
	Save(ctx context.Context, req dto.TemplateRequest) (dto.TemplateResponse, error)
	List(ctx context.Context) ([]dto.TemplateResponse, error)
	Get(ctx context.Context, title string) (dto.TemplateResponse, error)
	Delete(ctx context.Context, title string) error
	ImportYAML(ctx context.Context, data []byte) (dto.TemplateResponse, error)
	ExportYAML(ctx context.Context, title string) ([]byte, error)
	Default() dto.TemplateRequest
}

type templateService struct {
	repo          repository.TemplateRepository
	validator     *validator.Validate
	integrityName string
	logger        zerolog.Logger
}

// NewTemplateService constructs the template service. integrityName is the
// integrity criterion assumed for templates that do not name one.
func NewTemplateService(repo repository.TemplateRepository, validate *validator.Validate, integrityName string, logger zerolog.Logger) TemplateService {
	if strings.TrimSpace(integrityName) == "" {
		integrityName = scoring.DefaultIntegrityCriterion
	}
	return &templateService{
		repo:          repo,
		validator:     validate,
		integrityName: integrityName,
		logger:        logger.With().Str("component", "template_service").Logger(),
	}
}

// Save stores the template, replacing any template with the same title.
func (s *templateService) Save(ctx context.Context, req dto.TemplateRequest) (dto.TemplateResponse, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.Struct(req); err != nil {
		return dto.TemplateResponse{}, err
	}

	integrityName := strings.TrimSpace(req.IntegrityCriterion)
	if integrityName == "" {
		integrityName = s.integrityName
	}
	set := scoring.NewCriteriaSet(dto.ToCriteria(req.Criteria), integrityName)
	if err := set.Validate(); err != nil {
		return dto.TemplateResponse{}, err
	}

	template := models.CriteriaTemplate{
		Title:         req.Title,
		IntegrityName: integrityName,
		Criteria:      datatypes.JSONSlice[scoring.Criterion](set.Criteria),
	}
	if err := s.repo.Upsert(ctx, &template); err != nil {
		return dto.TemplateResponse{}, err
	}

	s.logger.Info().Str("title", template.Title).Int("criteria", len(set.Criteria)).Msg("criteria template saved")
	return dto.NewTemplateResponse(template), nil
}

func (s *templateService) List(ctx context.Context) ([]dto.TemplateResponse, error) {
	templates, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	responses := make([]dto.TemplateResponse, 0, len(templates))
	for _, template := range templates {
		responses = append(responses, dto.NewTemplateResponse(template))
	}
	return responses, nil
}

func (s *templateService) Get(ctx context.Context, title string) (dto.TemplateResponse, error) {
	template, err := s.get(ctx, title)
	if err != nil {
		return dto.TemplateResponse{}, err
	}
	return dto.NewTemplateResponse(template), nil
}

func (s *templateService) get(ctx context.Context, title string) (models.CriteriaTemplate, error) {
	template, err := s.repo.GetByTitle(ctx, strings.TrimSpace(title))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.CriteriaTemplate{}, ErrTemplateNotFound
		}
		return models.CriteriaTemplate{}, err
	}
	return template, nil
}

func (s *templateService) Delete(ctx context.Context, title string) error {
	if err := s.repo.DeleteByTitle(ctx, strings.TrimSpace(title)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTemplateNotFound
		}
		return err
	}
	s.logger.Info().Str("title", title).Msg("criteria template deleted")
	return nil
}

// ImportYAML saves a template described by a YAML document.
func (s *templateService) ImportYAML(ctx context.Context, data []byte) (dto.TemplateResponse, error) {
	req, err := DecodeTemplateYAML(data)
	if err != nil {
		return dto.TemplateResponse{}, err
	}
	return s.Save(ctx, req)
}

// ExportYAML renders a stored template as YAML accepted by ImportYAML.
func (s *templateService) ExportYAML(ctx context.Context, title string) ([]byte, error) {
	template, err := s.get(ctx, title)
	if err != nil {
		return nil, err
	}

	req := dto.TemplateRequest{
		Title:              template.Title,
		IntegrityCriterion: template.IntegrityName,
		Criteria:           dto.FromCriteria(template.Criteria),
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	return buf.Bytes(), nil
}

// Default returns the stock rubric as a template request.
func (s *templateService) Default() dto.TemplateRequest {
	return dto.TemplateRequest{
		Title:              "기본 평가 기준",
		IntegrityCriterion: s.integrityName,
		Criteria:           dto.FromCriteria(scoring.DefaultCriteria()),
	}
}

// DecodeTemplateYAML parses a criteria template document.
func DecodeTemplateYAML(data []byte) (dto.TemplateRequest, error) {
	var req dto.TemplateRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return dto.TemplateRequest{}, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}
	return req, nil
}
