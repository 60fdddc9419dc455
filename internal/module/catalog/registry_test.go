package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palettebot/server/internal/model"
)

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(0, 0)

	t.Run("known model", func(t *testing.T) {
		m, err := r.Get("flux-dev")
		require.NoError(t, err)
		assert.Equal(t, "Flux Dev", m.Name)
		assert.True(t, m.Vision)
		assert.True(t, m.Async)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := r.Get("dall-e-9000")
		assert.Error(t, err)
	})
}

func TestRegistry_Default(t *testing.T) {
	r := NewRegistry(0, 0)
	m := r.Default()
	require.NotNil(t, m)
	assert.True(t, m.IsFree())
	assert.False(t, m.Async, "default model must be usable inline")
	assert.Equal(t, "flux-schnell", m.ID)
}

func TestRegistry_All(t *testing.T) {
	r := NewRegistry(0, 0)
	all := r.All()
	require.NotEmpty(t, all)

	ids := make([]string, 0, len(all))
	for _, m := range all {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"flux-schnell", "sdxl-lightning", "flux-dev", "gpt-image-1"}, ids)
}

func TestRegistry_Timeouts(t *testing.T) {
	t.Run("configured values reach the models", func(t *testing.T) {
		r := NewRegistry(10*time.Second, 2*time.Minute)
		for _, m := range r.All() {
			if m.Async {
				assert.Equal(t, 2*time.Minute, m.Timeout, m.ID)
			} else {
				assert.Equal(t, 10*time.Second, m.Timeout, m.ID)
			}
		}
	})

	t.Run("zero falls back to defaults", func(t *testing.T) {
		r := NewRegistry(0, 0)
		sync := r.Default()
		assert.Equal(t, 30*time.Second, sync.Timeout)
		async, err := r.Get("flux-dev")
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, async.Timeout)
	})
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(0, 0)
	before := len(r.All())

	r.Register(&Model{
		ID:      "test-model",
		Name:    "Test Model",
		Tier:    model.TierFree,
		Timeout: time.Minute,
	})

	assert.Len(t, r.All(), before+1)

	t.Run("re-register replaces without duplicating", func(t *testing.T) {
		r.Register(&Model{ID: "test-model", Name: "Renamed", Tier: model.TierFree})
		assert.Len(t, r.All(), before+1)

		m, err := r.Get("test-model")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", m.Name)
	})
}

func TestModel_IsFree(t *testing.T) {
	assert.True(t, (&Model{Tier: model.TierFree}).IsFree())
	assert.False(t, (&Model{Tier: model.TierPaid}).IsFree())
}
