// Package dispatch turns merged chat requests into provider invocations,
// either inline for fast models or through the durable job queue for slow
// ones.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/module/batch"
	"github.com/palettebot/server/internal/module/catalog"
	"github.com/palettebot/server/internal/module/job"
	"github.com/palettebot/server/internal/module/quota"
	"github.com/palettebot/server/internal/port/outbound"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/utils/metrics"
)

// User-facing replies.
const (
	MsgQuotaExceeded = "You've used all your free generations. Paid credits unlock unlimited use."
	MsgVisionNeeded  = "That model can't work from reference images. Pick a vision-capable model with /models."
	MsgQueued        = "Working on it. I'll send your image here when it's ready."
	MsgRetryQueued   = "This is taking longer than usual. I'll keep trying and send the result here."
)

// Dispatcher sits behind the chat transport: everything that is not a
// command flows through Handle.
type Dispatcher struct {
	collector *batch.Collector
	quota     *quota.Service
	catalog   *catalog.Registry
	jobs      job.Repository
	completer *job.Completer
	provider  outbound.ImageProvider
	transport outbound.Transport
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	collector *batch.Collector,
	quotaSvc *quota.Service,
	registry *catalog.Registry,
	jobs job.Repository,
	completer *job.Completer,
	provider outbound.ImageProvider,
	transport outbound.Transport,
	m *metrics.Metrics,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		collector: collector,
		quota:     quotaSvc,
		catalog:   registry,
		jobs:      jobs,
		completer: completer,
		provider:  provider,
		transport: transport,
		metrics:   m,
		log:       log.With(logger.String("component", "dispatcher")),
	}
}

// Handle processes one inbound chat event end to end, replying to the
// sender itself. The returned error is diagnostic; the sender has already
// been answered by the time it is non-nil.
func (d *Dispatcher) Handle(ctx context.Context, ev *model.ChatEvent) error {
	res, err := d.collector.Ingest(ctx, ev)
	if err != nil {
		d.reply(ctx, ev.ChatID, job.MsgGenerationFailed)
		return err
	}
	if res == nil {
		return nil
	}
	return d.dispatch(ctx, ev, res)
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *model.ChatEvent, res *batch.Result) error {
	q, err := d.quota.Resolve(ctx, ev.SenderID)
	if err != nil {
		d.reply(ctx, ev.ChatID, job.MsgGenerationFailed)
		return err
	}

	m := d.resolveModel(ctx, ev.ChatID, q)
	tier := q.Tier()

	if len(res.ImageURLs) > 0 && !m.Vision {
		capErr := errors.UnsupportedCapability("model " + m.ID + " does not accept reference images")
		d.log.Info("generation rejected",
			logger.Int64("user", ev.SenderID),
			logger.Err(capErr),
		)
		d.reply(ctx, ev.ChatID, MsgVisionNeeded)
		return capErr
	}

	if err := d.quota.Reserve(q, tier); err != nil {
		d.metrics.QuotaDenialsTotal.Inc()
		d.reply(ctx, ev.ChatID, MsgQuotaExceeded)
		return nil
	}

	j := job.New(ev.SenderID, ev.ChatID, res.Prompt, res.ImageURLs, m.ID, tier)

	if m.Async {
		if err := d.jobs.Create(ctx, j); err != nil {
			d.reply(ctx, ev.ChatID, job.MsgGenerationFailed)
			return err
		}
		d.reply(ctx, ev.ChatID, MsgQueued)
		return nil
	}

	return d.runSync(ctx, j, m)
}

// runSync invokes a fast model inline. The job stays ephemeral on success;
// a retryable failure persists it as pending so the worker picks it up.
func (d *Dispatcher) runSync(ctx context.Context, j *job.Job, m *catalog.Model) error {
	cctx, cancel := context.WithTimeout(ctx, m.Timeout)
	raw, err := d.provider.Generate(cctx, j.Request(""))
	cancel()
	if err == nil {
		err = d.completer.DeliverSync(ctx, j, raw)
		if err == nil {
			return nil
		}
	}

	switch {
	case errors.IsRetryable(err):
		if cerr := d.jobs.Create(ctx, j); cerr != nil {
			d.reply(ctx, j.ChatID, job.MsgGenerationFailed)
			return cerr
		}
		d.reply(ctx, j.ChatID, MsgRetryQueued)
	case stderrors.Is(err, errors.ErrPersistence):
		d.reply(ctx, j.ChatID, job.MsgSaveFailed)
	default:
		d.reply(ctx, j.ChatID, job.MsgGenerationFailed)
	}
	return err
}

// resolveModel picks the sender's preferred model when it is still in the
// catalog and their tier allows it, falling back to the default free model
// with a notice on a paid mismatch.
func (d *Dispatcher) resolveModel(ctx context.Context, chatID int64, q *quota.UserQuota) *catalog.Model {
	m := d.catalog.Default()
	if q.PreferredModel != "" {
		if pm, err := d.catalog.Get(q.PreferredModel); err == nil {
			m = pm
		}
	}
	if m.Tier == model.TierPaid && !q.IsPaid() {
		fallback := d.catalog.Default()
		d.reply(ctx, chatID, fmt.Sprintf("%s needs paid credits, so I'm using %s instead.", m.Name, fallback.Name))
		m = fallback
	}
	return m
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.transport.SendText(ctx, chatID, text, nil); err != nil {
		d.log.Error("reply failed", logger.Int64("chat", chatID), logger.Err(err))
	}
}
