package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/palettebot/server/internal/model"
)

// Registry manages the available generation models.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]*Model
	order     []string
	defaultID string
}

const (
	defaultSyncTimeout  = 30 * time.Second
	defaultAsyncTimeout = 5 * time.Minute
)

// NewRegistry creates a registry with the built-in model set. The two
// timeouts bound a single provider call for sync and async models; zero
// selects the default.
func NewRegistry(syncTimeout, asyncTimeout time.Duration) *Registry {
	if syncTimeout <= 0 {
		syncTimeout = defaultSyncTimeout
	}
	if asyncTimeout <= 0 {
		asyncTimeout = defaultAsyncTimeout
	}

	r := &Registry{models: make(map[string]*Model)}
	for _, m := range builtinModels(syncTimeout, asyncTimeout) {
		r.Register(m)
	}
	r.defaultID = "flux-schnell"
	return r
}

// Register adds a model to the registry.
func (r *Registry) Register(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.models[m.ID] = m
}

// Get returns a model by ID.
func (r *Registry) Get(id string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", id)
	}
	return m, nil
}

// Default returns the default free synchronous model.
func (r *Registry) Default() *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[r.defaultID]
}

// All returns all models in registration order.
func (r *Registry) All() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Model, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.models[id])
	}
	return result
}

func builtinModels(syncTimeout, asyncTimeout time.Duration) []*Model {
	return []*Model{
		{
			ID:      "flux-schnell",
			Name:    "Flux Schnell",
			Tier:    model.TierFree,
			Vision:  false,
			Async:   false,
			Timeout: syncTimeout,
		},
		{
			ID:      "sdxl-lightning",
			Name:    "SDXL Lightning",
			Tier:    model.TierFree,
			Vision:  false,
			Async:   false,
			Timeout: syncTimeout,
		},
		{
			ID:      "flux-dev",
			Name:    "Flux Dev",
			Tier:    model.TierPaid,
			Vision:  true,
			Async:   true,
			Timeout: asyncTimeout,
		},
		{
			ID:      "gpt-image-1",
			Name:    "GPT Image",
			Tier:    model.TierPaid,
			Vision:  true,
			Async:   true,
			Timeout: asyncTimeout,
		},
	}
}
