package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/scoring"
	"github.com/noah-isme/gema-essay-api/pkg/ai"
)

type batchOutcome struct {
	batch dto.BatchResponse
	err   error
}

func TestEvaluateBatchSerialisesConcurrentBatchesOnRun(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	scorer := &stubScorer{score: func(_ context.Context, input ai.ScoringInput) (ai.ScoringResult, error) {
		started <- struct{}{}
		<-release
		scores := scoring.ScoreMap{}
		for _, c := range input.Criteria {
			scores[c.Name] = 20
		}
		return ai.ScoringResult{Scores: scores, Feedback: "좋습니다."}, nil
	}}
	fx := newEvaluationFixture(t, scorer, nil)
	ctx := context.Background()

	run, err := fx.svc.CreateRun(ctx, dto.CreateRunRequest{Title: "동시 제출"}, 1)
	require.NoError(t, err)

	first := make(chan batchOutcome, 1)
	go func() {
		batch, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("a.pdf", essayA)})
		first <- batchOutcome{batch, err}
	}()
	<-started

	second := make(chan batchOutcome, 1)
	go func() {
		batch, err := fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("b.pdf", essayA)})
		second <- batchOutcome{batch, err}
	}()

	require.Never(t, func() bool { return len(started) > 0 }, 150*time.Millisecond, 10*time.Millisecond,
		"second batch reached the scorer while the first was running")
	close(release)

	a := <-first
	require.NoError(t, a.err)
	b := <-second
	require.NoError(t, b.err)

	require.Equal(t, 1, a.batch.Results[0].Sequence)
	require.False(t, a.batch.Results[0].Plagiarism.Detected)

	copied := b.batch.Results[0]
	require.Equal(t, 2, copied.Sequence)
	require.True(t, copied.Plagiarism.Detected)
	require.Equal(t, 100.0, copied.Plagiarism.SimilarityPercentage)
	require.Equal(t, "a.pdf", *copied.Plagiarism.SimilarEssay)
}

func TestEvaluateBatchGivesUpWaitingForRunLock(t *testing.T) {
	fx := newEvaluationFixture(t, uniformScorer(20, "ok"), nil)
	run, err := fx.svc.CreateRun(context.Background(), dto.CreateRunRequest{Title: "대기"}, 1)
	require.NoError(t, err)

	release, err := fx.svc.(*evaluationService).locks.acquire(context.Background(), run.ID)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = fx.svc.EvaluateBatch(ctx, run.ID, []dto.EssayUpload{upload("a.pdf", essayA)})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	results, err := fx.svc.ListResults(context.Background(), run.ID)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestLocalRunLocksAreIndependentPerRun(t *testing.T) {
	locks := newLocalRunLocks()
	ctx := context.Background()

	releaseOne, err := locks.acquire(ctx, 1)
	require.NoError(t, err)
	releaseTwo, err := locks.acquire(ctx, 2)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(waitCtx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	releaseOne()
	releaseOne()
	releaseTwo()

	again, err := locks.acquire(ctx, 1)
	require.NoError(t, err)
	again()
	require.Empty(t, locks.slots)
}

func TestRedisRunLockIsSharedAcrossReplicas(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	defer client.Close()

	replicaA := newBatchLocks(client, time.Minute)
	replicaB := newBatchLocks(client, time.Minute)
	replicaB.remote.retry = 5 * time.Millisecond
	ctx := context.Background()

	releaseA, err := replicaA.acquire(ctx, 9)
	require.NoError(t, err)
	require.True(t, mini.Exists(runLockKey(9)))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = replicaB.acquire(waitCtx, 9)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	releaseA()
	require.False(t, mini.Exists(runLockKey(9)))

	releaseB, err := replicaB.acquire(ctx, 9)
	require.NoError(t, err)
	defer releaseB()
}

func TestRedisRunLockReleaseKeepsForeignLock(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	defer client.Close()

	lock := &redisRunLock{client: client, ttl: time.Second, retry: time.Millisecond}
	release, err := lock.acquire(context.Background(), 3)
	require.NoError(t, err)

	// The lease expired and another replica took the run over.
	mini.FastForward(2 * time.Second)
	require.NoError(t, mini.Set(runLockKey(3), "other-replica"))

	release()
	value, err := mini.Get(runLockKey(3))
	require.NoError(t, err)
	require.Equal(t, "other-replica", value)
}
