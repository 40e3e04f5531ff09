package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/models"
	"github.com/noah-isme/gema-essay-api/internal/repository"
	"github.com/noah-isme/gema-essay-api/internal/scoring"
	"github.com/noah-isme/gema-essay-api/pkg/ai"
)

type stubExtractor struct{}

func (stubExtractor) Text(_ string, data []byte) string {
	return string(data)
}

type stubScorer struct {
	calls int
	score func(ctx context.Context, input ai.ScoringInput) (ai.ScoringResult, error)
}

func (s *stubScorer) Score(ctx context.Context, input ai.ScoringInput) (ai.ScoringResult, error) {
	s.calls++
	return s.score(ctx, input)
}

func uniformScorer(value float64, feedbackText string) *stubScorer {
	return &stubScorer{score: func(_ context.Context, input ai.ScoringInput) (ai.ScoringResult, error) {
		scores := scoring.ScoreMap{}
		for _, c := range input.Criteria {
			scores[c.Name] = value
		}
		return ai.ScoringResult{Scores: scores, Feedback: feedbackText, Raw: map[string]interface{}{"scores": len(scores)}}, nil
	}}
}

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.EvaluationRun{}, &models.EssayResult{}, &models.CriteriaTemplate{}))
	return db
}

type evaluationFixture struct {
	db        *gorm.DB
	svc       EvaluationService
	templates TemplateService
	publisher *recordingPublisher
}

func newEvaluationFixture(t *testing.T, scorer ai.Scorer, cache *redis.Client) evaluationFixture {
	t.Helper()
	db := setupServiceDB(t)
	validate := validator.New()
	publisher := &recordingPublisher{}
	templateRepo := repository.NewTemplateRepository(db)

	svc := NewEvaluationService(
		repository.NewRunRepository(db),
		repository.NewEssayResultRepository(db),
		templateRepo,
		stubExtractor{},
		scorer,
		cache,
		publisher,
		validate,
		EvaluationConfig{EventPrefix: "gema:essay", FeedbackCacheTTL: time.Minute},
		zerolog.Nop(),
	)
	return evaluationFixture{
		db:        db,
		svc:       svc,
		templates: NewTemplateService(templateRepo, validate, "", zerolog.Nop()),
		publisher: publisher,
	}
}

func upload(name, text string) dto.EssayUpload {
	return dto.EssayUpload{Filename: name, Data: []byte(text)}
}

const essayA = "환경 보호는 우리 모두의 책임이다. 작은 실천이 모여 큰 변화를 만든다."
const essayB = "인공지능은 교육의 방식을 바꾸고 있으며 교사의 역할도 달라지고 있다."

func TestCreateRunUsesDefaultCriteria(t *testing.T) {
	fx := newEvaluationFixture(t, uniformScorer(20, "ok"), nil)

	run, err := fx.svc.CreateRun(context.Background(), dto.CreateRunRequest{Year: "2024", Semester: "1", Title: "중간 평가"}, 7)
	require.NoError(t, err)
	require.NotZero(t, run.ID)
	require.Len(t, run.Criteria, 4)
	require.Equal(t, scoring.DefaultIntegrityCriterion, run.IntegrityCriterion)
	require.Equal(t, 100.0, run.MaxTotal)
	require.Equal(t, models.RunStatusOpen, run.Status)
	for _, c := range run.Criteria {
		require.NotEmpty(t, c.ID)
	}
}

func TestCreateRunFromTemplate(t *testing.T) {
	fx := newEvaluationFixture(t, uniformScorer(20, "ok"), nil)
	ctx := context.Background()

	_, err := fx.svc.CreateRun(ctx, dto.CreateRunRequest{TemplateTitle: "없는 템플릿"}, 1)
	require.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = fx.templates.Save(ctx, dto.TemplateRequest{
		Title:              "논술",
		IntegrityCriterion: "정직성",
		Criteria: []dto.CriterionPayload{
			{Name: "논증", MinScore: 0, MaxScore: 50},
			{Name: "정직성", MinScore: 0, MaxScore: 50},
		},
	})
	require.NoError(t, err)

	run, err := fx.svc.CreateRun(ctx, dto.CreateRunRequest{TemplateTitle: "논술"}, 1)
	require.NoError(t, err)
	require.Equal(t, "정직성", run.IntegrityCriterion)
	require.Equal(t, []string{"논증", "정직성"}, []string{run.Criteria[0].Name, run.Criteria[1].Name})
}

func TestCreateRunRejectsInvalidCriteria(t *testing.T) {
	fx := newEvaluationFixture(t, uniformScorer(20, "ok"), nil)

	_, err := fx.svc.CreateRun(context.Background(), dto.CreateRunRequest{Criteria: []dto.CriterionPayload{
		{Name: "내용", MaxScore: 10},
		{Name: "내용", MaxScore: 10},
	}}, 1)
	require.ErrorIs(t, err, ErrInvalidCriteria)
}

func TestEvaluateBatchDetectsCopiedEssayAndZeroesIntegrity(t *testing.T) {
	fx := newEvaluationFixture(t, uniformScorer(20, "잘 썼습니다."), nil)
	ctx := context.Background()

	run, err := fx.svc.CreateRun(ctx, dto.CreateRunRequest{Title: "평가"}, 1)
	require.NoError(t, err)

	batch, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{
		upload("김민수.pdf", essayA),
		upload("이영희.pdf", essayA),
	})
	require.NoError(t, err)
	require.Equal(t, 2, batch.Evaluated)
	require.Equal(t, 0, batch.Failed)
	require.Equal(t, 1, batch.Detected)

	first, second := batch.Results[0], batch.Results[1]
	require.False(t, first.Plagiarism.Detected)
	require.Nil(t, first.Plagiarism.SimilarEssay)
	require.Equal(t, 80.0, first.TotalScore)
	require.Contains(t, first.Feedback, "【표절 검사 결과】")

	require.True(t, second.Plagiarism.Detected)
	require.Equal(t, 100.0, second.Plagiarism.SimilarityPercentage)
	require.Equal(t, "김민수.pdf", *second.Plagiarism.SimilarEssay)
	require.Equal(t, 0.0, second.Scores[scoring.DefaultIntegrityCriterion])
	require.Equal(t, 60.0, second.TotalScore)
	require.Equal(t, scoring.OverrideZeroed, second.Override.Level)
	require.True(t, strings.HasPrefix(second.Feedback, "잘 썼습니다.\n\n【표절 검사 결과】\n⚠️"))
	require.Equal(t, 2, second.Sequence)

	require.Equal(t, []string{"gema.essay.essay.evaluated", "gema.essay.essay.evaluated", "gema.essay.run.completed"}, fx.publisher.subjects)
	var completed RunCompletedEvent
	require.NoError(t, json.Unmarshal(fx.publisher.payloads[2], &completed))
	require.Equal(t, run.ID, completed.RunID)
	require.Equal(t, 1, completed.Detected)

	stored, err := fx.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, stored.Status)
}

func TestEvaluateBatchOracleFailureIsRecordedButNotInCorpus(t *testing.T) {
	scorer := &stubScorer{}
	scorer.score = func(_ context.Context, input ai.ScoringInput) (ai.ScoringResult, error) {
		if scorer.calls == 1 {
			return ai.ScoringResult{}, fmt.Errorf("%w: quota", ai.ErrOracleUnavailable)
		}
		return uniformScorer(20, "ok").score(context.Background(), input)
	}
	fx := newEvaluationFixture(t, scorer, nil)
	ctx := context.Background()

	run, err := fx.svc.CreateRun(ctx, dto.CreateRunRequest{}, 1)
	require.NoError(t, err)

	batch, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{
		upload("a.pdf", essayA),
		upload("b.pdf", essayA),
	})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Failed)
	require.Equal(t, 1, batch.Evaluated)

	failed := batch.Results[0]
	require.Equal(t, models.EssayStatusFailed, failed.Status)
	require.Equal(t, FailedEvaluationFeedback, failed.Feedback)
	require.Equal(t, 0.0, failed.TotalScore)
	for _, score := range failed.Scores {
		require.Equal(t, 0.0, score)
	}

	// The failed essay never joined the corpus.
	require.False(t, batch.Results[1].Plagiarism.Detected)
	require.Equal(t, 0.0, batch.Results[1].Plagiarism.SimilarityPercentage)
}

func TestEvaluateBatchCorpusSpansBatchesAndSkipsResubmissions(t *testing.T) {
	fx := newEvaluationFixture(t, uniformScorer(20, "ok"), nil)
	ctx := context.Background()

	run, err := fx.svc.CreateRun(ctx, dto.CreateRunRequest{}, 1)
	require.NoError(t, err)

	_, err = fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("a.pdf", essayA)})
	require.NoError(t, err)

	batch, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("b.pdf", essayA)})
	require.NoError(t, err)
	require.True(t, batch.Results[0].Plagiarism.Detected)
	require.Equal(t, "a.pdf", *batch.Results[0].Plagiarism.SimilarEssay)

	resubmit, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("b.pdf", essayB)})
	require.NoError(t, err)
	require.False(t, resubmit.Results[0].Plagiarism.Detected)
	require.Equal(t, 3, resubmit.Results[0].Sequence)

	results, err := fx.svc.ListResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a.pdf", results[0].Filename)
	require.Equal(t, "b.pdf", results[1].Filename)
	require.Equal(t, "b", results[1].Student)
}

func TestEvaluateBatchCancelledEssayIsNotPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scorer := &stubScorer{score: func(ctx context.Context, _ ai.ScoringInput) (ai.ScoringResult, error) {
		cancel()
		return ai.ScoringResult{}, ctx.Err()
	}}
	fx := newEvaluationFixture(t, scorer, nil)

	run, err := fx.svc.CreateRun(context.Background(), dto.CreateRunRequest{}, 1)
	require.NoError(t, err)

	batch, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("a.pdf", essayA), upload("b.pdf", essayB)})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, batch.Results)
	require.Equal(t, 1, scorer.calls)

	results, err := fx.svc.ListResults(context.Background(), run.ID)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestEvaluateBatchErrors(t *testing.T) {
	fx := newEvaluationFixture(t, uniformScorer(20, "ok"), nil)
	ctx := context.Background()

	_, err := fx.svc.EvaluateBatch(ctx, 1, nil)
	require.ErrorIs(t, err, ErrNoEssays)

	_, err = fx.svc.EvaluateBatch(ctx, 999, []dto.EssayUpload{upload("a.pdf", essayA)})
	require.ErrorIs(t, err, ErrRunNotFound)

	noScorer := newEvaluationFixture(t, nil, nil)
	_, err = noScorer.svc.EvaluateBatch(ctx, 1, []dto.EssayUpload{upload("a.pdf", essayA)})
	require.ErrorIs(t, err, ErrScorerUnavailable)
}

func TestGetResultParsesAndCachesFeedback(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()
	cache := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	text := "[내용의 충실성] (20/25): 주제를 잘 이해했습니다.\n✨ 잘 작성한 점: 논지가 명확합니다.\n⚠️ 개선할 점 및 오류: 근거가 부족합니다.\n종합적으로 우수합니다."
	fx := newEvaluationFixture(t, uniformScorer(20, text), cache)
	ctx := context.Background()

	run, err := fx.svc.CreateRun(ctx, dto.CreateRunRequest{}, 1)
	require.NoError(t, err)
	batch, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("a.pdf", essayA)})
	require.NoError(t, err)
	resultID := batch.Results[0].ID

	first, err := fx.svc.GetResult(ctx, run.ID, resultID)
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	item := first.StructuredFeedback.Items["내용의 충실성"]
	require.Equal(t, "논지가 명확합니다.", item.GoodPoints)
	require.Equal(t, "근거가 부족합니다.", item.ImprovementPoints)
	require.Len(t, first.StructuredFeedback.Items, 4)

	second, err := fx.svc.GetResult(ctx, run.ID, resultID)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.StructuredFeedback, second.StructuredFeedback)

	_, err = fx.svc.GetResult(ctx, run.ID, resultID+100)
	require.True(t, errors.Is(err, ErrResultNotFound))
}
