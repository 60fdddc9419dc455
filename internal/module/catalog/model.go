// Package catalog holds the registry of generation models the bot exposes.
package catalog

import (
	"time"

	"github.com/palettebot/server/internal/model"
)

// Model represents a generation model and its routing properties.
type Model struct {
	ID   string
	Name string
	// Tier is the minimum quota class required to use the model.
	Tier model.Tier
	// Vision reports whether the model accepts reference images.
	Vision bool
	// Async models are enqueued as jobs; sync models are invoked inline.
	Async bool
	// Timeout bounds a single provider call for this model.
	Timeout time.Duration
}

// IsFree reports whether the model is reachable on the free tier.
func (m *Model) IsFree() bool {
	return m.Tier == model.TierFree
}
