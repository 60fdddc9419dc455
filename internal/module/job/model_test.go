package job

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palettebot/server/internal/model"
)

func TestNew(t *testing.T) {
	t.Run("text payload", func(t *testing.T) {
		j := New(10, 20, "a red fox", nil, "flux-schnell", model.TierFree)
		assert.NotEqual(t, uuid.Nil, j.ID)
		assert.Equal(t, int64(10), j.OwnerID)
		assert.Equal(t, int64(20), j.ChatID)
		assert.Equal(t, StatusPending, j.Status)
		assert.Equal(t, model.PayloadText, j.Payload.Kind)
		assert.Zero(t, j.RetryCount)
	})

	t.Run("edit payload from one reference image", func(t *testing.T) {
		j := New(10, 20, "make it blue", []string{"https://x/a.png"}, "flux-dev", model.TierPaid)
		assert.Equal(t, model.PayloadEdit, j.Payload.Kind)
	})

	t.Run("compose payload from several reference images", func(t *testing.T) {
		urls := []string{"https://x/a.png", "https://x/b.png", "https://x/c.png"}
		j := New(10, 20, "combine these", urls, "flux-dev", model.TierPaid)
		assert.Equal(t, model.PayloadCompose, j.Payload.Kind)
		assert.Equal(t, urls, j.Payload.ImageURLs)
	})
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			j := &Job{Status: tt.status}
			assert.Equal(t, tt.terminal, j.IsTerminal())
		})
	}
}

func TestJob_Request(t *testing.T) {
	j := New(10, 20, "a fox", []string{"https://x/a.png"}, "flux-dev", model.TierPaid)

	t.Run("without callback", func(t *testing.T) {
		req := j.Request("")
		assert.Equal(t, "flux-dev", req.Model)
		assert.Equal(t, "a fox", req.Prompt)
		assert.Equal(t, model.PayloadEdit, req.Kind)
		assert.Empty(t, req.CallbackURL)
		assert.Empty(t, req.CorrelationID)
	})

	t.Run("with callback carries the job id", func(t *testing.T) {
		req := j.Request("https://bot.example.com/callbacks/generation")
		require.Equal(t, "https://bot.example.com/callbacks/generation", req.CallbackURL)
		assert.Equal(t, j.ID.String(), req.CorrelationID)
	})
}
