package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "scoring_duration_seconds",
		Help:      "Duration of essay scoring requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "scoring_failures_total",
		Help:      "Number of essay scoring failures",
	}, []string{"model", "reason"})
)

// OpenAIConfig defines configuration options for the OpenAI scorer.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// OpenAIScorer implements Scorer against the OpenAI chat completion API.
type OpenAIScorer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIScorer builds a new scorer using the provided configuration.
func NewOpenAIScorer(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	tracer := otel.Tracer("github.com/noah-isme/gema-essay-api/pkg/ai/openai")
	logger := cfg.Logger.With().Str("component", "openai_scorer").Logger()

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIScorer{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Score sends the essay and rubric to OpenAI and parses the JSON reply.
func (s *OpenAIScorer) Score(parent context.Context, input ScoringInput) (ScoringResult, error) {
	ctx, span := s.tracer.Start(parent, "openai.score", trace.WithAttributes(
		attribute.String("model", s.cfg.Model),
		attribute.Int("criteria", len(input.Criteria)),
		attribute.Int("essay_runes", len([]rune(input.EssayText))),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: scorerSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := s.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(s.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return ScoringResult{}, s.fail(span, "transport", fmt.Errorf("%w: openai score: %w", ErrOracleUnavailable, err))
	}

	if len(resp.Choices) == 0 {
		return ScoringResult{}, s.fail(span, "empty", fmt.Errorf("%w: no choices returned from openai", ErrInvalidResponse))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseScoringResponse(content)
	if err != nil {
		return ScoringResult{}, s.fail(span, "payload", err)
	}

	result.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	s.logger.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Int("scores", len(result.Scores)).
		Msg("essay scored")

	return result, nil
}

func (s *OpenAIScorer) fail(span trace.Span, reason string, err error) error {
	aiFailures.WithLabelValues(s.cfg.Model, reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn().Err(err).Str("reason", reason).Msg("essay scoring failed")
	return err
}

// ClassifyOpenAIError decides whether a scoring failure is worth retrying.
// Rate limits and server errors are retried; quota exhaustion, auth and
// malformed payloads are not.
func ClassifyOpenAIError(err error) ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, ErrInvalidResponse) {
		return ErrorClassification{Retryable: true, RecordFailure: false}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return ErrorClassification{Retryable: false, RecordFailure: true}
		}
		return classifyStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	return ErrorClassification{Retryable: true, RecordFailure: true}
}

func classifyStatus(status int) ErrorClassification {
	switch {
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case status >= http.StatusBadRequest:
		return ErrorClassification{Retryable: false, RecordFailure: false}
	default:
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
}
