package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/shared/config"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/utils/metrics"
)

var testMetrics = metrics.New("providertest")

func newTestClient(baseURL string) *Client {
	return NewClient(config.ProviderConfig{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		BreakerFailures: 3,
		BreakerTimeout:  time.Minute,
	}, testMetrics, logger.New(nil))
}

func TestClient_BuildRequest(t *testing.T) {
	c := newTestClient("https://api.test")

	t.Run("text payload uses image generation endpoint", func(t *testing.T) {
		path, body, err := c.buildRequest(&model.GenerationRequest{
			Model:  "flux-schnell",
			Prompt: "a red fox",
			Kind:   model.PayloadText,
		})
		require.NoError(t, err)
		assert.Equal(t, "/v1/images/generations", path)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "a red fox", payload["prompt"])
		assert.Equal(t, "flux-schnell", payload["model"])
		_, hasMessages := payload["messages"]
		assert.False(t, hasMessages)
	})

	t.Run("edit payload uses chat endpoint with one image part", func(t *testing.T) {
		path, body, err := c.buildRequest(&model.GenerationRequest{
			Model:     "flux-dev",
			Prompt:    "make it blue",
			ImageURLs: []string{"https://x/a.png"},
			Kind:      model.PayloadEdit,
		})
		require.NoError(t, err)
		assert.Equal(t, "/v1/chat/completions", path)

		var payload struct {
			Messages []struct {
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Len(t, payload.Messages, 1)
		require.Len(t, payload.Messages[0].Content, 2, "text part plus one image part")
		assert.Equal(t, "text", payload.Messages[0].Content[0]["type"])
		assert.Equal(t, "image_url", payload.Messages[0].Content[1]["type"])
	})

	t.Run("compose payload carries all images in order", func(t *testing.T) {
		urls := []string{"https://x/a.png", "https://x/b.png", "https://x/c.png"}
		_, body, err := c.buildRequest(&model.GenerationRequest{
			Model:     "gpt-image-1",
			Prompt:    "combine",
			ImageURLs: urls,
			Kind:      model.PayloadCompose,
		})
		require.NoError(t, err)

		var payload struct {
			Messages []struct {
				Content []struct {
					Type     string            `json:"type"`
					ImageURL map[string]string `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		content := payload.Messages[0].Content
		require.Len(t, content, 4)
		for i, u := range urls {
			assert.Equal(t, u, content[i+1].ImageURL["url"])
		}
	})

	t.Run("callback metadata is attached when requested", func(t *testing.T) {
		_, body, err := c.buildRequest(&model.GenerationRequest{
			Model:         "flux-dev",
			Prompt:        "a castle",
			Kind:          model.PayloadText,
			CallbackURL:   "https://bot.test/callbacks/generation",
			CorrelationID: "abc-123",
		})
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "https://bot.test/callbacks/generation", payload["callback_url"])
		meta, ok := payload["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "abc-123", meta["correlation_id"])
	})
}

func TestClient_Generate(t *testing.T) {
	t.Run("returns the raw body on success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"images":["https://x/y.png"]}`))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		raw, err := c.Generate(context.Background(), &model.GenerationRequest{
			Model: "flux-schnell", Prompt: "a fox", Kind: model.PayloadText,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"images":["https://x/y.png"]}`, string(raw))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		_, err := c.Generate(context.Background(), &model.GenerationRequest{
			Model: "flux-schnell", Prompt: "a fox", Kind: model.PayloadText,
		})
		require.Error(t, err)
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("rate limit is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		_, err := c.Generate(context.Background(), &model.GenerationRequest{
			Model: "flux-schnell", Prompt: "a fox", Kind: model.PayloadText,
		})
		require.Error(t, err)
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("4xx is terminal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"prompt rejected"}`))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		_, err := c.Generate(context.Background(), &model.GenerationRequest{
			Model: "flux-schnell", Prompt: "a fox", Kind: model.PayloadText,
		})
		require.Error(t, err)
		assert.False(t, errors.IsRetryable(err))
	})

	t.Run("missing API key fails fast", func(t *testing.T) {
		c := NewClient(config.ProviderConfig{BaseURL: "https://api.test"}, testMetrics, logger.New(nil))
		_, err := c.Generate(context.Background(), &model.GenerationRequest{
			Model: "flux-schnell", Prompt: "a fox", Kind: model.PayloadText,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrConfiguration)
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		req := &model.GenerationRequest{Model: "flux-schnell", Prompt: "a fox", Kind: model.PayloadText}
		for i := 0; i < 3; i++ {
			_, err := c.Generate(context.Background(), req)
			require.Error(t, err)
		}
		srv.Close()

		_, err := c.Generate(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrProviderUnavailable, "open breaker maps to unavailability")
	})
}
