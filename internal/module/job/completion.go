package job

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/palettebot/server/internal/module/normalize"
	"github.com/palettebot/server/internal/module/quota"
	"github.com/palettebot/server/internal/port/outbound"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/utils/metrics"
)

// User-facing messages. Internal diagnostic detail is logged, never echoed.
const (
	MsgGenerationFailed = "Sorry, I couldn't generate that image. Try a different model or try again in a few minutes."
	MsgSaveFailed       = "Your image was generated but could not be saved. Please try again."
)

const captionLimit = 200

// Completer holds the terminal-transition logic shared by the worker and
// the callback receiver. The two differ only in how they learn the provider
// finished; everything from normalization to delivery is identical.
type Completer struct {
	jobs      Repository
	quota     *quota.Service
	storage   outbound.ObjectStorage
	transport outbound.Transport
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewCompleter creates a new completer.
func NewCompleter(
	jobs Repository,
	quotaSvc *quota.Service,
	storage outbound.ObjectStorage,
	transport outbound.Transport,
	m *metrics.Metrics,
	log *logger.Logger,
) *Completer {
	return &Completer{
		jobs:      jobs,
		quota:     quotaSvc,
		storage:   storage,
		transport: transport,
		metrics:   m,
		log:       log.With(logger.String("component", "completer")),
	}
}

// Complete finishes a persisted job from a raw provider response.
//
// When no image can be extracted it returns ErrMalformedResponse without
// mutating the job, so the caller chooses between retry and terminal
// failure. A storage failure after successful extraction is terminal for
// the job, with save-specific user messaging. A completion racing another
// writer observes the terminal status and performs no further mutation.
func (c *Completer) Complete(ctx context.Context, j *Job, raw []byte) error {
	payload, ok := normalize.Image(raw)
	if !ok {
		return errors.MalformedResponse("no image in provider response")
	}

	imageURL, err := c.persistImage(ctx, payload)
	if err != nil {
		c.log.Error("image persistence failed",
			logger.String("job", j.ID.String()),
			logger.Err(err),
		)
		if ferr := c.Fail(ctx, j, MsgSaveFailed, "image could not be saved"); ferr != nil {
			return ferr
		}
		// The job is settled; the error tells the caller why.
		return err
	}

	claimed, err := c.jobs.CompleteIfActive(ctx, j.ID, imageURL)
	if err != nil {
		return err
	}
	if !claimed {
		// Already terminal: duplicate callback or lost race. No-op.
		c.log.Debug("completion on terminal job ignored", logger.String("job", j.ID.String()))
		return nil
	}

	c.afterTerminal(ctx, j, "completed")
	if err := c.transport.SendPhoto(ctx, j.ChatID, imageURL, caption(j.Payload.Prompt)); err != nil {
		c.log.Error("result delivery failed",
			logger.String("job", j.ID.String()),
			logger.Err(err),
		)
	}
	return nil
}

// Fail marks a job failed and notifies the owner, unless another writer
// already reached a terminal state.
func (c *Completer) Fail(ctx context.Context, j *Job, userMsg, errMsg string) error {
	claimed, err := c.jobs.FailIfActive(ctx, j.ID, errMsg)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	c.afterTerminal(ctx, j, "failed")
	if err := c.transport.SendText(ctx, j.ChatID, userMsg, nil); err != nil {
		c.log.Error("failure notification failed",
			logger.String("job", j.ID.String()),
			logger.Err(err),
		)
	}
	return nil
}

// DeliverSync completes an ephemeral (never persisted) job from the
// synchronous path: normalize, persist the image, commit quota, deliver.
// Errors are returned to the dispatcher, which decides whether to persist
// the job for retry.
func (c *Completer) DeliverSync(ctx context.Context, j *Job, raw []byte) error {
	payload, ok := normalize.Image(raw)
	if !ok {
		return errors.MalformedResponse("no image in provider response")
	}

	imageURL, err := c.persistImage(ctx, payload)
	if err != nil {
		// The generation itself ran; a failed save still consumes the
		// credit, same as the persisted-job path.
		if stderrors.Is(err, errors.ErrPersistence) {
			c.commitQuota(ctx, j)
		}
		return err
	}

	c.commitQuota(ctx, j)
	return c.transport.SendPhoto(ctx, j.ChatID, imageURL, caption(j.Payload.Prompt))
}

// afterTerminal commits quota and records metrics once a terminal
// transition has been won. The generation was attempted, so credits are
// charged regardless of outcome.
func (c *Completer) afterTerminal(ctx context.Context, j *Job, outcome string) {
	c.commitQuota(ctx, j)

	elapsed := time.Since(j.CreatedAt)
	c.metrics.RecordJob(string(j.Tier), outcome, elapsed)
}

func (c *Completer) commitQuota(ctx context.Context, j *Job) {
	if err := c.quota.Commit(ctx, j.OwnerID, j.Tier); err != nil {
		c.log.Error("quota commit failed", logger.Int64("user", j.OwnerID), logger.Err(err))
	}
	c.metrics.RecordCommit(string(j.Tier))
}

// persistImage re-homes the canonical payload into owned object storage and
// returns the durable URL.
func (c *Completer) persistImage(ctx context.Context, payload string) (string, error) {
	var (
		data        []byte
		contentType string
		err         error
	)

	if strings.HasPrefix(payload, "data:") {
		contentType, data, err = normalize.DecodeDataURI(payload)
		if err != nil {
			return "", errors.MalformedResponse("undecodable data URI")
		}
	} else {
		data, err = c.storage.Fetch(ctx, payload)
		if err != nil {
			return "", errors.Persistence("fetch generated image", err)
		}
		contentType = http.DetectContentType(data)
	}

	url, err := c.storage.Put(ctx, data, contentType)
	if err != nil {
		return "", errors.Persistence("store generated image", err)
	}
	return url, nil
}

func caption(prompt string) string {
	if len(prompt) > captionLimit {
		return prompt[:captionLimit] + "..."
	}
	return prompt
}
