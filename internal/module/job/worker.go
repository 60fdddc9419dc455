package job

import (
	"context"
	"time"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/module/catalog"
	"github.com/palettebot/server/internal/port/outbound"
	"github.com/palettebot/server/internal/shared/config"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/utils/metrics"
)

// Worker drains pending jobs. Claims are compare-and-swap updates, so
// several worker processes can run against the same table without handing
// the same job to two of them.
type Worker struct {
	repo        Repository
	provider    outbound.ImageProvider
	completer   *Completer
	catalog     *catalog.Registry
	cfg         config.WorkerConfig
	callbackURL string
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// NewWorker creates a worker. callbackURL is the externally reachable
// completion endpoint passed to the provider for async models; empty
// disables the callback channel and async jobs run to the poll timeout.
func NewWorker(
	repo Repository,
	provider outbound.ImageProvider,
	completer *Completer,
	registry *catalog.Registry,
	cfg config.WorkerConfig,
	callbackURL string,
	m *metrics.Metrics,
	log *logger.Logger,
) *Worker {
	return &Worker{
		repo:        repo,
		provider:    provider,
		completer:   completer,
		catalog:     registry,
		cfg:         cfg,
		callbackURL: callbackURL,
		metrics:     m,
		log:         log.With(logger.String("component", "worker")),
	}
}

// Run recovers jobs stranded by a previous crash, then polls on the
// configured interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.cfg.StuckCutoff > 0 {
		cutoff := time.Now().Add(-w.cfg.StuckCutoff)
		n, err := w.repo.RecoverStuck(ctx, cutoff)
		if err != nil {
			w.log.Error("stuck job recovery failed", logger.Err(err))
		} else if n > 0 {
			w.log.Info("recovered stuck jobs", logger.Int64("count", n))
		}
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Error("worker cycle failed", logger.Err(err))
			}
		}
	}
}

// RunOnce claims up to the configured batch of oldest pending jobs and
// processes them serially, oldest first, pausing between items.
func (w *Worker) RunOnce(ctx context.Context) error {
	jobs, err := w.repo.ClaimOldestPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i, j := range jobs {
		if i > 0 && w.cfg.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.ItemDelay):
			}
		}
		w.process(ctx, j)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, j *Job) {
	w.metrics.JobsProcessing.Inc()
	defer w.metrics.JobsProcessing.Dec()

	log := w.log.With(
		logger.String("job", j.ID.String()),
		logger.String("model", j.ModelID),
		logger.String("tier", string(j.Tier)),
	)

	m, err := w.catalog.Get(j.ModelID)
	if err != nil {
		// The model was removed from the catalog after the job was queued.
		log.Warn("job references unknown model")
		w.fail(ctx, j, MsgGenerationFailed, "unknown model "+j.ModelID)
		return
	}

	callbackURL := ""
	if m.Async {
		callbackURL = w.callbackURL
	}
	req := j.Request(callbackURL)

	cctx, cancel := context.WithTimeout(ctx, m.Timeout)
	raw, err := w.provider.Generate(cctx, req)
	cancel()
	if err != nil {
		log.Warn("provider call failed",
			logger.Int("retry", j.RetryCount),
			logger.Err(err),
		)
		w.retryOrFail(ctx, j, err)
		return
	}

	if err := w.completer.Complete(ctx, j, raw); err != nil {
		log.Warn("completion failed",
			logger.Int("retry", j.RetryCount),
			logger.Err(err),
		)
		w.retryOrFail(ctx, j, err)
	}
}

// retryOrFail reverts a retryable failure back to pending when the tier's
// retry ceiling allows, and fails the job terminally otherwise. A revert
// that loses to a concurrent terminal transition is a no-op: the other
// writer already settled the job.
func (w *Worker) retryOrFail(ctx context.Context, j *Job, cause error) {
	if errors.IsRetryable(cause) && j.RetryCount < w.retryLimit(j.Tier) {
		reverted, err := w.repo.RevertToPending(ctx, j.ID)
		if err != nil {
			w.log.Error("revert to pending failed",
				logger.String("job", j.ID.String()),
				logger.Err(err),
			)
			return
		}
		if reverted {
			w.metrics.JobRetriesTotal.Inc()
		}
		return
	}

	w.fail(ctx, j, MsgGenerationFailed, cause.Error())
}

func (w *Worker) fail(ctx context.Context, j *Job, userMsg, errMsg string) {
	if err := w.completer.Fail(ctx, j, userMsg, errMsg); err != nil {
		w.log.Error("terminal failure write failed",
			logger.String("job", j.ID.String()),
			logger.Err(err),
		)
	}
}

func (w *Worker) retryLimit(tier model.Tier) int {
	if tier == model.TierPaid {
		return w.cfg.PaidRetryLimit
	}
	return w.cfg.FreeRetryLimit
}
