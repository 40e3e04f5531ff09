package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ResilienceConfig tunes retry, circuit breaking and rate limiting around a Scorer.
type ResilienceConfig struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	// RequestsPerMinute caps oracle calls; zero disables the limiter.
	RequestsPerMinute int
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     4 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c ResilienceConfig) normalize() ResilienceConfig {
	out := c
	def := DefaultResilienceConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	if out.RequestsPerMinute < 0 {
		out.RequestsPerMinute = 0
	}

	return out
}

// ErrorClassification tells the resilient scorer how to treat a failure.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// ResilientScorer wraps a Scorer with a rate limiter, bounded exponential
// retry and a circuit breaker. It keeps the Scorer contract: callers still
// see a single result or a single error per essay.
type ResilientScorer struct {
	next       Scorer
	cfg        ResilienceConfig
	classifier ErrorClassifier
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[ScoringResult]
	logger     zerolog.Logger
	sleep      func(context.Context, time.Duration) error
}

// NewResilientScorer decorates next. A nil classifier uses ClassifyOpenAIError.
func NewResilientScorer(next Scorer, cfg ResilienceConfig, classifier ErrorClassifier, logger zerolog.Logger) *ResilientScorer {
	cfg = cfg.normalize()
	if classifier == nil {
		classifier = ClassifyOpenAIError
	}

	s := &ResilientScorer{
		next:       next,
		cfg:        cfg,
		classifier: classifier,
		logger:     logger.With().Str("component", "resilient_scorer").Logger(),
		sleep:      sleepContext,
	}

	if cfg.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	if cfg.BreakerEnabled {
		s.breaker = gobreaker.NewCircuitBreaker[ScoringResult](gobreaker.Settings{
			Name:        "essay_scoring",
			MaxRequests: cfg.BreakerHalfOpenMaxCalls,
			Timeout:     cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.BreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= cfg.BreakerFailureRatio
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !classifier(err).RecordFailure
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				s.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		})
	}

	return s
}

// Score implements Scorer.
func (s *ResilientScorer) Score(ctx context.Context, input ScoringInput) (ScoringResult, error) {
	if s.breaker == nil {
		return s.scoreWithRetry(ctx, input)
	}

	result, err := s.breaker.Execute(func() (ScoringResult, error) {
		return s.scoreWithRetry(ctx, input)
	})
	if IsCircuitOpen(err) {
		return ScoringResult{}, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	return result, err
}

func (s *ResilientScorer) scoreWithRetry(ctx context.Context, input ScoringInput) (ScoringResult, error) {
	backoff := s.cfg.RetryInitialBackoff

	for attempt := 1; ; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return ScoringResult{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return ScoringResult{}, err
		}

		result, err := s.next.Score(ctx, input)
		if err == nil {
			return result, nil
		}

		if !s.classifier(err).Retryable || attempt >= s.cfg.RetryMaxAttempts {
			return ScoringResult{}, err
		}

		wait := min(backoff, s.cfg.RetryMaxBackoff)
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.cfg.RetryMaxAttempts).
			Dur("backoff", wait).
			Msg("retrying essay scoring")

		if err := s.sleep(ctx, wait); err != nil {
			return ScoringResult{}, err
		}
		backoff = time.Duration(float64(backoff) * s.cfg.RetryMultiplier)
	}
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
