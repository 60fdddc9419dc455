// Package batch merges multi-image uploads into one logical generation
// request. Chat transports deliver an album as separate events sharing a
// batch id, with the caption attached to at most one of them.
package batch

import (
	"context"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/port/outbound"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
)

// Result is the merged logical request handed to the dispatcher.
type Result struct {
	Prompt    string
	ImageURLs []string
}

// Collector buffers image references per sender until a caption arrives.
// Sessions and dedup markers live in the batch store, so the collector
// itself carries no cross-request state.
type Collector struct {
	store outbound.BatchStore
	log   *logger.Logger
}

// NewCollector creates a collector.
func NewCollector(store outbound.BatchStore, log *logger.Logger) *Collector {
	return &Collector{
		store: store,
		log:   log.With(logger.String("component", "batch")),
	}
}

// Ingest routes one chat event through the collector. A nil Result with a
// nil error means the event was absorbed: a photo still waiting for its
// caption, or a duplicate delivery of an already dispatched batch.
func (c *Collector) Ingest(ctx context.Context, ev *model.ChatEvent) (*Result, error) {
	hasImages := len(ev.ImageURLs) > 0

	switch {
	case hasImages && ev.Text == "":
		// Uncaptioned photo: buffer it and stay silent.
		for _, u := range ev.ImageURLs {
			if err := c.store.Append(ctx, ev.SenderID, ev.BatchID, u); err != nil {
				return nil, errors.Persistence("buffer batch image", err)
			}
		}
		return nil, nil

	case hasImages:
		// Captioned photo: this event closes its batch.
		if ev.BatchID != "" {
			fresh, err := c.store.MarkDispatched(ctx, ev.BatchID)
			if err != nil {
				return nil, errors.Persistence("write batch dedup marker", err)
			}
			if !fresh {
				c.log.Debug("duplicate batch delivery discarded",
					logger.String("batch", ev.BatchID),
				)
				return nil, nil
			}
		}
		for _, u := range ev.ImageURLs {
			if err := c.store.Append(ctx, ev.SenderID, ev.BatchID, u); err != nil {
				return nil, errors.Persistence("buffer batch image", err)
			}
		}
		return c.consume(ctx, ev, ev.Text)

	case ev.Text != "":
		// Standalone text. A live session means the caption arrived as its
		// own message after the photos.
		return c.consume(ctx, ev, ev.Text)
	}

	return nil, nil
}

// consume drains the sender's session, preserving arrival order. A missing
// session degrades to the event's own images (often none). Losing buffered
// photos to an expired session is accepted; failing the request outright
// is not.
func (c *Collector) consume(ctx context.Context, ev *model.ChatEvent, prompt string) (*Result, error) {
	sess, err := c.store.Take(ctx, ev.SenderID)
	if err != nil {
		return nil, errors.Persistence("load batch session", err)
	}

	urls := ev.ImageURLs
	if sess != nil {
		if sess.BatchID != "" && sess.BatchID != ev.BatchID {
			// The caption came as a separate text message; the marker for
			// the buffered batch has not been written yet.
			fresh, err := c.store.MarkDispatched(ctx, sess.BatchID)
			if err != nil {
				return nil, errors.Persistence("write batch dedup marker", err)
			}
			if !fresh {
				return nil, nil
			}
		}
		urls = sess.ImageURLs
	}

	return &Result{Prompt: prompt, ImageURLs: urls}, nil
}
