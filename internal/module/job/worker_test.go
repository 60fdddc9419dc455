package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/module/catalog"
	"github.com/palettebot/server/internal/shared/config"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
)

type workerFixture struct {
	*completerFixture
	provider *stubProvider
	worker   *Worker
}

func newWorkerFixture(generate func(context.Context, *model.GenerationRequest) ([]byte, error)) *workerFixture {
	cf := newCompleterFixture()
	provider := &stubProvider{generate: generate}
	cfg := config.WorkerConfig{
		BatchSize:      10,
		Interval:       time.Second,
		FreeRetryLimit: 2,
		PaidRetryLimit: 1,
		StuckCutoff:    30 * time.Minute,
	}
	w := NewWorker(
		cf.repo, provider, cf.completer, catalog.NewRegistry(0, 0),
		cfg, "https://bot.test/callbacks/generation", testMetrics, logger.New(nil),
	)
	return &workerFixture{completerFixture: cf, provider: provider, worker: w}
}

func (f *workerFixture) seedPending(ctx context.Context, t *testing.T, modelID string, tier model.Tier) *Job {
	t.Helper()
	j := New(1, 100, "a fox", nil, modelID, tier)
	require.NoError(t, f.repo.Create(ctx, j))
	_, err := f.quotaRows.GetOrCreate(ctx, j.OwnerID, 3)
	require.NoError(t, err)
	return j
}

func TestWorker_RunOnce_Success(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(func(context.Context, *model.GenerationRequest) ([]byte, error) {
		return []byte(pngResponse), nil
	})
	j := f.seedPending(ctx, t, "flux-schnell", model.TierFree)

	require.NoError(t, f.worker.RunOnce(ctx))

	stored, _ := f.repo.Get(ctx, j.ID)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Len(t, f.transport.photos, 1)
	assert.Equal(t, 1, f.provider.calls())
}

func TestWorker_RunOnce_AsyncModelGetsCallback(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(func(context.Context, *model.GenerationRequest) ([]byte, error) {
		return []byte(pngResponse), nil
	})
	j := f.seedPending(ctx, t, "flux-dev", model.TierPaid)
	f.quotaRows.rows[1].PaidCredits = 10

	require.NoError(t, f.worker.RunOnce(ctx))

	require.Equal(t, 1, f.provider.calls())
	req := f.provider.requests[0]
	assert.Equal(t, "https://bot.test/callbacks/generation", req.CallbackURL)
	assert.Equal(t, j.ID.String(), req.CorrelationID)
}

func TestWorker_RetryCeilings(t *testing.T) {
	alwaysDown := func(context.Context, *model.GenerationRequest) ([]byte, error) {
		return nil, errors.ProviderUnavailable("boom", nil)
	}

	t.Run("free tier retries twice then fails", func(t *testing.T) {
		ctx := context.Background()
		f := newWorkerFixture(alwaysDown)
		j := f.seedPending(ctx, t, "flux-schnell", model.TierFree)

		require.NoError(t, f.worker.RunOnce(ctx))
		stored, _ := f.repo.Get(ctx, j.ID)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)

		require.NoError(t, f.worker.RunOnce(ctx))
		stored, _ = f.repo.Get(ctx, j.ID)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, 2, stored.RetryCount)

		require.NoError(t, f.worker.RunOnce(ctx))
		stored, _ = f.repo.Get(ctx, j.ID)
		assert.Equal(t, StatusFailed, stored.Status)
		assert.Equal(t, 3, f.provider.calls())
		assert.Equal(t, []string{MsgGenerationFailed}, f.transport.texts)
	})

	t.Run("paid tier retries once then fails", func(t *testing.T) {
		ctx := context.Background()
		f := newWorkerFixture(alwaysDown)
		j := f.seedPending(ctx, t, "flux-dev", model.TierPaid)
		f.quotaRows.rows[1].PaidCredits = 10

		require.NoError(t, f.worker.RunOnce(ctx))
		stored, _ := f.repo.Get(ctx, j.ID)
		assert.Equal(t, StatusPending, stored.Status)

		require.NoError(t, f.worker.RunOnce(ctx))
		stored, _ = f.repo.Get(ctx, j.ID)
		assert.Equal(t, StatusFailed, stored.Status)
		assert.Equal(t, 2, f.provider.calls())
	})
}

func TestWorker_MalformedResponseRetries(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(func(context.Context, *model.GenerationRequest) ([]byte, error) {
		return []byte(`{"choices":[{"message":{"content":"no image here"}}]}`), nil
	})
	j := f.seedPending(ctx, t, "flux-schnell", model.TierFree)

	require.NoError(t, f.worker.RunOnce(ctx))

	stored, _ := f.repo.Get(ctx, j.ID)
	assert.Equal(t, StatusPending, stored.Status, "unusable payload re-enters the retry cycle")
	assert.Equal(t, 1, stored.RetryCount)
}

func TestWorker_ConfigurationErrorFailsFast(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(func(context.Context, *model.GenerationRequest) ([]byte, error) {
		return nil, errors.Configuration("provider API key is not set")
	})
	j := f.seedPending(ctx, t, "flux-schnell", model.TierFree)

	require.NoError(t, f.worker.RunOnce(ctx))

	stored, _ := f.repo.Get(ctx, j.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, 1, f.provider.calls(), "no retries on configuration errors")
}

func TestWorker_UnknownModelFails(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(func(context.Context, *model.GenerationRequest) ([]byte, error) {
		return []byte(pngResponse), nil
	})
	j := f.seedPending(ctx, t, "retired-model", model.TierFree)

	require.NoError(t, f.worker.RunOnce(ctx))

	stored, _ := f.repo.Get(ctx, j.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Zero(t, f.provider.calls())
}

func TestWorker_LostClaimIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(nil)
	j := f.seedPending(ctx, t, "flux-schnell", model.TierFree)

	// The callback completes the job while the worker's provider call is
	// still in flight and about to fail.
	f.provider.generate = func(context.Context, *model.GenerationRequest) ([]byte, error) {
		_, err := f.repo.CompleteIfActive(ctx, j.ID, "https://cdn.test/callback-won.png")
		require.NoError(t, err)
		return nil, errors.ProviderUnavailable("slow path lost", nil)
	}

	require.NoError(t, f.worker.RunOnce(ctx))

	stored, _ := f.repo.Get(ctx, j.ID)
	assert.Equal(t, StatusCompleted, stored.Status, "completed result survives the losing worker")
	assert.Equal(t, "https://cdn.test/callback-won.png", stored.ImageURL)
	assert.Zero(t, stored.RetryCount)
}

func TestWorker_RunOnce_FIFO(t *testing.T) {
	ctx := context.Background()
	var order []string
	f := newWorkerFixture(func(_ context.Context, req *model.GenerationRequest) ([]byte, error) {
		order = append(order, req.Prompt)
		return []byte(pngResponse), nil
	})

	for i, prompt := range []string{"first", "second", "third"} {
		j := New(1, 100, prompt, nil, "flux-schnell", model.TierFree)
		j.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, f.repo.Create(ctx, j))
	}
	_, err := f.quotaRows.GetOrCreate(ctx, 1, 3)
	require.NoError(t, err)

	require.NoError(t, f.worker.RunOnce(ctx))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestWorker_Run_RecoversStuckJobs(t *testing.T) {
	f := newWorkerFixture(func(context.Context, *model.GenerationRequest) ([]byte, error) {
		return []byte(pngResponse), nil
	})

	ctx := context.Background()
	j := f.seedPending(ctx, t, "flux-schnell", model.TierFree)
	claimed, err := f.repo.ClaimOldestPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	stale := time.Now().Add(-time.Hour)
	claimed[0].StartedAt = &stale

	// A cancelled context stops Run right after the recovery sweep.
	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	f.worker.Run(runCtx)

	stored, _ := f.repo.Get(ctx, j.ID)
	assert.Equal(t, StatusPending, stored.Status, "stranded claim returns to the queue")
}
