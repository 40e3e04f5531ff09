package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/feedback"
	"github.com/noah-isme/gema-essay-api/internal/models"
	"github.com/noah-isme/gema-essay-api/internal/observability"
	"github.com/noah-isme/gema-essay-api/internal/repository"
	"github.com/noah-isme/gema-essay-api/internal/scoring"
	"github.com/noah-isme/gema-essay-api/pkg/ai"
)

// FailedEvaluationFeedback is stored for essays the oracle could not score.
const FailedEvaluationFeedback = "평가 중 오류가 발생했습니다."

const plagiarismNoteHeader = "\n\n【표절 검사 결과】\n"

var (
	// ErrRunNotFound indicates the evaluation run does not exist.
	ErrRunNotFound = errors.New("evaluation run not found")
	// ErrResultNotFound indicates the essay result does not exist in the run.
	ErrResultNotFound = errors.New("essay result not found")
	// ErrNoEssays is returned for a batch without uploads.
	ErrNoEssays = errors.New("no essays submitted")
	// ErrScorerUnavailable is returned when no scoring oracle is configured.
	ErrScorerUnavailable = errors.New("essay scorer is not configured")
	// ErrInvalidCriteria re-exports the scoring error for handlers.
	ErrInvalidCriteria = scoring.ErrInvalidCriteria
)

// TextExtractor turns an uploaded document into plain text. It returns ""
// when nothing can be extracted.
type TextExtractor interface {
	Text(name string, data []byte) string
}

// EvaluationConfig tunes the evaluation pipeline.
type EvaluationConfig struct {
	// IntegrityCriterion names the criterion overridden by plagiarism verdicts.
	IntegrityCriterion string
	// DefaultCriteria is used for runs created without criteria or template.
	DefaultCriteria  []scoring.Criterion
	FeedbackCacheTTL time.Duration
	EventPrefix      string
	// BatchLockTTL bounds how long a crashed replica can hold a run's batch lock.
	BatchLockTTL time.Duration
}

// EvaluationService runs essays through extraction, plagiarism detection,
// scoring and persistence.
type EvaluationService interface {
	CreateRun(ctx context.Context, req dto.CreateRunRequest, createdBy uint) (dto.RunResponse, error)
	GetRun(ctx context.Context, id uint) (dto.RunResponse, error)
	ListRuns(ctx context.Context, query dto.RunListQuery) ([]dto.RunResponse, int64, error)
	EvaluateBatch(ctx context.Context, runID uint, uploads []dto.EssayUpload) (dto.BatchResponse, error)
	ListResults(ctx context.Context, runID uint) ([]dto.EssayResultResponse, error)
	GetResult(ctx context.Context, runID, resultID uint) (dto.EssayResultDetailResponse, error)
}

type evaluationService struct {
	runs      repository.RunRepository
	results   repository.EssayResultRepository
	templates repository.TemplateRepository
	extractor TextExtractor
	scorer    ai.Scorer
	cache     *redis.Client
	locks     runLocker
	events    eventBus
	validator *validator.Validate
	cfg       EvaluationConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewEvaluationService wires the pipeline. cache and publisher may be nil.
func NewEvaluationService(
	runs repository.RunRepository,
	results repository.EssayResultRepository,
	templates repository.TemplateRepository,
	extractor TextExtractor,
	scorer ai.Scorer,
	cache *redis.Client,
	publisher EventPublisher,
	validate *validator.Validate,
	cfg EvaluationConfig,
	logger zerolog.Logger,
) EvaluationService {
	if strings.TrimSpace(cfg.IntegrityCriterion) == "" {
		cfg.IntegrityCriterion = scoring.DefaultIntegrityCriterion
	}
	if len(cfg.DefaultCriteria) == 0 {
		cfg.DefaultCriteria = scoring.DefaultCriteria()
	}
	if cfg.FeedbackCacheTTL <= 0 {
		cfg.FeedbackCacheTTL = 10 * time.Minute
	}
	if cfg.BatchLockTTL <= 0 {
		cfg.BatchLockTTL = 30 * time.Minute
	}

	componentLogger := logger.With().Str("component", "evaluation_service").Logger()
	return &evaluationService{
		runs:      runs,
		results:   results,
		templates: templates,
		extractor: extractor,
		scorer:    scorer,
		cache:     cache,
		locks:     newBatchLocks(cache, cfg.BatchLockTTL),
		events:    newEventBus(publisher, cfg.EventPrefix, componentLogger),
		validator: validate,
		cfg:       cfg,
		logger:    componentLogger,
		tracer:    otel.Tracer("github.com/noah-isme/gema-essay-api/internal/service/evaluation"),
		now:       time.Now,
	}
}

func (s *evaluationService) CreateRun(ctx context.Context, req dto.CreateRunRequest, createdBy uint) (dto.RunResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.RunResponse{}, err
	}

	criteria, integrityName, err := s.resolveCriteria(ctx, req)
	if err != nil {
		return dto.RunResponse{}, err
	}

	set := scoring.NewCriteriaSet(criteria, integrityName)
	if err := set.Validate(); err != nil {
		return dto.RunResponse{}, err
	}
	if _, ok := set.Integrity(); !ok {
		s.logger.Warn().Str("integrity_criterion", integrityName).Msg("run has no integrity criterion; plagiarism override disabled")
	}

	run := models.EvaluationRun{
		Year:        strings.TrimSpace(req.Year),
		Semester:    strings.TrimSpace(req.Semester),
		Subject:     strings.TrimSpace(req.Subject),
		Title:       strings.TrimSpace(req.Title),
		Criteria:    datatypes.JSONSlice[scoring.Criterion](set.Criteria),
		IntegrityID: set.IntegrityID,
		Status:      models.RunStatusOpen,
		CreatedBy:   createdBy,
	}
	if err := s.runs.Create(ctx, &run); err != nil {
		return dto.RunResponse{}, err
	}

	s.logger.Info().Uint("run_id", run.ID).Int("criteria", len(set.Criteria)).Msg("evaluation run created")
	return dto.NewRunResponse(run), nil
}

// resolveCriteria prefers explicit criteria, then the named template, then the defaults.
func (s *evaluationService) resolveCriteria(ctx context.Context, req dto.CreateRunRequest) ([]scoring.Criterion, string, error) {
	integrityName := strings.TrimSpace(req.IntegrityCriterion)

	switch {
	case len(req.Criteria) > 0:
		if integrityName == "" {
			integrityName = s.cfg.IntegrityCriterion
		}
		return dto.ToCriteria(req.Criteria), integrityName, nil
	case strings.TrimSpace(req.TemplateTitle) != "":
		template, err := s.templates.GetByTitle(ctx, strings.TrimSpace(req.TemplateTitle))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrTemplateNotFound
			}
			return nil, "", err
		}
		if integrityName == "" {
			integrityName = template.IntegrityName
		}
		if integrityName == "" {
			integrityName = s.cfg.IntegrityCriterion
		}
		// Fresh IDs per run keep runs independent of later template edits.
		criteria := make([]scoring.Criterion, len(template.Criteria))
		for i, c := range template.Criteria {
			c.ID = ""
			criteria[i] = c
		}
		return criteria, integrityName, nil
	default:
		if integrityName == "" {
			integrityName = s.cfg.IntegrityCriterion
		}
		return append([]scoring.Criterion(nil), s.cfg.DefaultCriteria...), integrityName, nil
	}
}

func (s *evaluationService) GetRun(ctx context.Context, id uint) (dto.RunResponse, error) {
	run, err := s.getRun(ctx, id)
	if err != nil {
		return dto.RunResponse{}, err
	}
	return dto.NewRunResponse(run), nil
}

func (s *evaluationService) getRun(ctx context.Context, id uint) (models.EvaluationRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.EvaluationRun{}, ErrRunNotFound
		}
		return models.EvaluationRun{}, err
	}
	return run, nil
}

func (s *evaluationService) ListRuns(ctx context.Context, query dto.RunListQuery) ([]dto.RunResponse, int64, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, 0, err
	}

	runs, total, err := s.runs.List(ctx, repository.RunFilter{
		Title:    strings.TrimSpace(query.Title),
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		return nil, 0, err
	}

	responses := make([]dto.RunResponse, 0, len(runs))
	for _, run := range runs {
		responses = append(responses, dto.NewRunResponse(run))
	}
	return responses, total, nil
}

// EvaluateBatch processes uploads strictly in order. Each essay is compared
// against the run's corpus as it stood before the essay, and only essays the
// oracle scored join the corpus afterwards. Batches on the same run are
// serialised: a second batch waits until the first has finished. A cancelled
// context stops the batch before the next essay; the essay in flight is
// neither persisted nor added to the corpus.
func (s *evaluationService) EvaluateBatch(ctx context.Context, runID uint, uploads []dto.EssayUpload) (dto.BatchResponse, error) {
	if len(uploads) == 0 {
		return dto.BatchResponse{}, ErrNoEssays
	}
	if s.scorer == nil {
		return dto.BatchResponse{}, ErrScorerUnavailable
	}
	for _, upload := range uploads {
		if err := s.validator.Struct(upload); err != nil {
			return dto.BatchResponse{}, err
		}
	}

	ctx, span := s.tracer.Start(ctx, "evaluation.batch", trace.WithAttributes(
		attribute.Int("evaluation.run_id", int(runID)),
		attribute.Int("evaluation.essays", len(uploads)),
	))
	defer span.End()

	run, err := s.getRun(ctx, runID)
	if err != nil {
		return dto.BatchResponse{}, err
	}
	set := run.CriteriaSet()
	if err := set.Validate(); err != nil {
		return dto.BatchResponse{}, err
	}

	release, err := s.locks.acquire(ctx, runID)
	if err != nil {
		return dto.BatchResponse{}, err
	}
	defer release()

	corpus, err := s.seedCorpus(ctx, runID, uploads)
	if err != nil {
		return dto.BatchResponse{}, err
	}
	sequence, err := s.results.NextSequence(ctx, runID)
	if err != nil {
		return dto.BatchResponse{}, err
	}

	started := s.now()
	response := dto.BatchResponse{RunID: runID, Results: make([]dto.EssayResultResponse, 0, len(uploads))}
	logger := s.logger.With().Uint("run_id", runID).Logger()
	logger.Info().Int("essays", len(uploads)).Int("corpus", corpus.Len()).Msg("evaluation batch started")

	for _, upload := range uploads {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "batch cancelled")
			logger.Warn().Err(err).Int("processed", len(response.Results)).Msg("evaluation batch cancelled")
			return response, err
		}

		result, err := s.evaluateEssay(ctx, set, corpus, runID, sequence, upload, logger)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return response, err
		}
		sequence++

		if result.IsEvaluated() {
			corpus = corpus.Append(scoring.CorpusEntry{EssayID: result.Filename, Text: result.EssayText})
			response.Evaluated++
		} else {
			response.Failed++
		}
		if result.Plagiarism.Data().Detected {
			response.Detected++
		}
		response.Results = append(response.Results, dto.NewEssayResultResponse(result))
	}

	if err := s.runs.UpdateStatus(ctx, runID, models.RunStatusCompleted); err != nil {
		logger.Warn().Err(err).Msg("failed to mark run completed")
	}

	elapsed := s.now().Sub(started)
	observability.BatchDuration().Observe(elapsed.Seconds())
	s.events.emit(subjectRunCompleted, RunCompletedEvent{
		RunID:       runID,
		Evaluated:   response.Evaluated,
		Failed:      response.Failed,
		Detected:    response.Detected,
		CompletedAt: s.now().UTC(),
	})

	logger.Info().
		Int("evaluated", response.Evaluated).
		Int("failed", response.Failed).
		Int("plagiarism_detected", response.Detected).
		Dur("elapsed", elapsed).
		Msg("evaluation batch completed")
	return response, nil
}

// seedCorpus loads the run's scored essays in evaluation order. Essays about
// to be re-submitted are left out so they are not compared with themselves.
func (s *evaluationService) seedCorpus(ctx context.Context, runID uint, uploads []dto.EssayUpload) (scoring.Corpus, error) {
	existing, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return scoring.Corpus{}, err
	}

	resubmitted := make(map[string]struct{}, len(uploads))
	for _, upload := range uploads {
		resubmitted[upload.Filename] = struct{}{}
	}

	entries := make([]scoring.CorpusEntry, 0, len(existing))
	for _, result := range existing {
		if !result.IsEvaluated() {
			continue
		}
		if _, skip := resubmitted[result.Filename]; skip {
			continue
		}
		entries = append(entries, scoring.CorpusEntry{EssayID: result.Filename, Text: result.EssayText})
	}
	return scoring.NewCorpus(entries...), nil
}

func (s *evaluationService) evaluateEssay(ctx context.Context, set scoring.CriteriaSet, corpus scoring.Corpus, runID uint, sequence int, upload dto.EssayUpload, logger zerolog.Logger) (models.EssayResult, error) {
	ctx, span := s.tracer.Start(ctx, "evaluation.essay", trace.WithAttributes(attribute.String("essay.filename", upload.Filename)))
	defer span.End()

	essayLogger := logger.With().Str("file", upload.Filename).Logger()

	text := s.extractor.Text(upload.Filename, upload.Data)
	if text == "" {
		essayLogger.Warn().Msg("no text extracted; scoring empty essay")
	}

	verdict := scoring.CheckPlagiarism(text, corpus)
	span.SetAttributes(attribute.Float64("essay.similarity_percentage", verdict.SimilarityPercentage))

	result := models.EssayResult{
		RunID:      runID,
		Filename:   upload.Filename,
		Sequence:   sequence,
		EssayText:  text,
		Plagiarism: datatypes.NewJSONType(verdict),
	}

	oracle, err := s.scorer.Score(ctx, ai.ScoringInput{EssayText: text, Criteria: set.Criteria})
	switch {
	case err != nil && ctx.Err() != nil:
		return models.EssayResult{}, ctx.Err()
	case err != nil:
		span.RecordError(err)
		essayLogger.Error().Err(err).Msg("essay scoring failed")

		card := scoring.ZeroScorecard(set)
		result.Status = models.EssayStatusFailed
		result.Scores = datatypes.NewJSONType(card.Scores)
		result.TotalScore = card.Total
		result.Override = datatypes.NewJSONType(card.Override)
		result.Feedback = FailedEvaluationFeedback
	default:
		s.logScoreAnomalies(essayLogger, oracle.Scores, set)

		card := scoring.Finalize(oracle.Scores, set, verdict)
		result.Status = models.EssayStatusEvaluated
		result.Scores = datatypes.NewJSONType(card.Scores)
		result.TotalScore = card.Total
		result.Override = datatypes.NewJSONType(card.Override)
		result.Feedback = oracle.Feedback
		if _, ok := set.Integrity(); ok {
			result.Feedback += plagiarismNoteHeader + verdict.Note()
		}
		result.Raw = datatypes.JSONMap(oracle.Raw)
		observability.PlagiarismOverrides().WithLabelValues(string(card.Override.Level)).Inc()
	}

	if err := s.results.Upsert(ctx, &result); err != nil {
		return models.EssayResult{}, fmt.Errorf("persist result for %s: %w", upload.Filename, err)
	}
	observability.EssaysEvaluated().WithLabelValues(result.Status).Inc()

	s.events.emit(subjectEssayEvaluated, EssayEvaluatedEvent{
		RunID:                runID,
		ResultID:             result.ID,
		Filename:             result.Filename,
		Status:               result.Status,
		TotalScore:           result.TotalScore,
		PlagiarismDetected:   verdict.Detected,
		SimilarityPercentage: verdict.SimilarityPercentage,
		EvaluatedAt:          s.now().UTC(),
	})

	essayLogger.Info().
		Str("status", result.Status).
		Float64("total_score", result.TotalScore).
		Float64("similarity_percentage", verdict.SimilarityPercentage).
		Bool("plagiarism_detected", verdict.Detected).
		Msg("essay evaluated")
	return result, nil
}

// logScoreAnomalies reports oracle scores that validation will drop or default.
func (s *evaluationService) logScoreAnomalies(logger zerolog.Logger, raw scoring.ScoreMap, set scoring.CriteriaSet) {
	known := make(map[string]struct{}, len(set.Criteria))
	for _, c := range set.Criteria {
		known[c.Name] = struct{}{}
		score, ok := raw[c.Name]
		switch {
		case !ok:
			logger.Warn().Str("criterion", c.Name).Msg("oracle omitted criterion score")
		case score < c.MinScore || score > c.MaxScore:
			logger.Debug().Str("criterion", c.Name).Float64("score", score).Msg("oracle score out of range; clamped")
		}
	}
	for name := range raw {
		if _, ok := known[name]; !ok {
			logger.Warn().Str("criterion", name).Msg("oracle returned unknown criterion; ignored")
		}
	}
}

func (s *evaluationService) ListResults(ctx context.Context, runID uint) ([]dto.EssayResultResponse, error) {
	if _, err := s.getRun(ctx, runID); err != nil {
		return nil, err
	}

	results, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	responses := make([]dto.EssayResultResponse, 0, len(results))
	for _, result := range results {
		responses = append(responses, dto.NewEssayResultResponse(result))
	}
	return responses, nil
}

// GetResult returns a result with its feedback parsed per criterion. Parsed
// feedback is cached per result revision.
func (s *evaluationService) GetResult(ctx context.Context, runID, resultID uint) (dto.EssayResultDetailResponse, error) {
	run, err := s.getRun(ctx, runID)
	if err != nil {
		return dto.EssayResultDetailResponse{}, err
	}
	result, err := s.results.GetByID(ctx, runID, resultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.EssayResultDetailResponse{}, ErrResultNotFound
		}
		return dto.EssayResultDetailResponse{}, err
	}

	structured, hit := s.structuredFeedback(ctx, result, run.CriteriaSet())
	return dto.EssayResultDetailResponse{
		EssayResultResponse: dto.NewEssayResultResponse(result),
		StructuredFeedback:  structured,
		CacheHit:            hit,
	}, nil
}

func (s *evaluationService) structuredFeedback(ctx context.Context, result models.EssayResult, set scoring.CriteriaSet) (feedback.Structured, bool) {
	cacheKey := fmt.Sprintf("essay:feedback:%d:%d", result.ID, result.UpdatedAt.UnixNano())

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var structured feedback.Structured
			if unmarshalErr := json.Unmarshal([]byte(cached), &structured); unmarshalErr == nil {
				observability.FeedbackCacheLookups().WithLabelValues("hit").Inc()
				return structured, true
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read feedback cache")
		}
		observability.FeedbackCacheLookups().WithLabelValues("miss").Inc()
	}

	structured := feedback.Parse(result.Feedback, set)

	if s.cache != nil {
		if payload, err := json.Marshal(structured); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cfg.FeedbackCacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store feedback cache")
			}
		}
	}
	return structured, false
}
