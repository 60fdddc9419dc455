// Package provider implements the image provider port against an
// OpenAI-compatible HTTP API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/shared/config"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/utils/metrics"
)

const maxResponseBytes = 32 << 20

// Client calls an OpenAI-compatible image provider. All calls pass through
// a circuit breaker so a dead upstream sheds load fast instead of tying up
// worker cycles on timeouts.
type Client struct {
	cfg     config.ProviderConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewClient creates a provider client.
func NewClient(cfg config.ProviderConfig, m *metrics.Metrics, log *logger.Logger) *Client {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:    "image-provider",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{}, // per-call deadlines come from the context
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		metrics: m,
		log:     log.With(logger.String("component", "provider")),
	}
}

// Generate invokes the provider and returns the raw response body. The
// request shape depends on the payload kind; the response is opaque here
// and interpreted only by the normalizer.
func (c *Client) Generate(ctx context.Context, req *model.GenerationRequest) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.Configuration("provider API key is not set")
	}

	path, body, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.post(ctx, path, body)
	})
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "shed"
			err = errors.ProviderUnavailable("provider circuit open", err)
		}
	}
	c.metrics.RecordProviderRequest(req.Model, status, elapsed)

	if err != nil {
		c.log.Warn("provider request failed",
			logger.String("model", req.Model),
			logger.Duration("elapsed", elapsed),
			logger.Err(err),
		)
		return nil, err
	}
	return raw, nil
}

// buildRequest selects one of three request shapes from the payload kind:
// plain text-to-image, single-reference edit, or multi-reference
// composition.
func (c *Client) buildRequest(req *model.GenerationRequest) (string, []byte, error) {
	var (
		path    string
		payload map[string]any
	)

	switch req.Kind {
	case model.PayloadText:
		path = "/v1/images/generations"
		payload = map[string]any{
			"model":           req.Model,
			"prompt":          req.Prompt,
			"n":               1,
			"response_format": "b64_json",
		}
	case model.PayloadEdit:
		path = "/v1/chat/completions"
		payload = chatPayload(req.Model, req.Prompt, req.ImageURLs[:1])
	case model.PayloadCompose:
		path = "/v1/chat/completions"
		payload = chatPayload(req.Model, req.Prompt, req.ImageURLs)
	default:
		return "", nil, errors.BadRequest(fmt.Sprintf("unknown payload kind %q", req.Kind))
	}

	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
		payload["metadata"] = map[string]any{"correlation_id": req.CorrelationID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, errors.Internal("encode provider request", err)
	}
	return path, body, nil
}

// chatPayload builds an image-modality chat request carrying the prompt
// and the reference images as typed content parts, in order.
func chatPayload(modelID, prompt string, imageURLs []string) map[string]any {
	parts := make([]map[string]any, 0, len(imageURLs)+1)
	parts = append(parts, map[string]any{"type": "text", "text": prompt})
	for _, u := range imageURLs {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": u},
		})
	}
	return map[string]any{
		"model": modelID,
		"messages": []map[string]any{
			{"role": "user", "content": parts},
		},
		"modalities": []string{"image"},
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Internal("build provider request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures are transient.
		return nil, errors.ProviderUnavailable("provider request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.ProviderUnavailable("read provider response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.ProviderUnavailable(
			"provider returned "+strconv.Itoa(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256)),
		)
	default:
		// A 4xx means this request will never succeed; do not retry it.
		return nil, errors.Internal(
			"provider rejected request",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256)),
		)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
