// Package outbound defines the narrow interfaces the core depends on.
// Adapters under internal/adapter/outbound implement them.
package outbound

import (
	"context"

	"github.com/palettebot/server/internal/model"
)

// Transport sends messages back to the chat front-end.
type Transport interface {
	// SendText sends a text message, optionally with a quick-reply keyboard.
	SendText(ctx context.Context, chatID int64, text string, keyboard model.Keyboard) error
	// SendPhoto sends a photo by reference (URL) with a caption.
	SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error
}

// ImageProvider invokes an AI image provider. The returned bytes are the
// provider's raw response body, consumed only by the response normalizer.
type ImageProvider interface {
	Generate(ctx context.Context, req *model.GenerationRequest) ([]byte, error)
}

// ObjectStorage persists generated image bytes and resolves remote images.
type ObjectStorage interface {
	// Put stores bytes and returns a durable public URL.
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// Fetch downloads the bytes behind a URL so they can be re-homed
	// into owned storage before delivery.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// BatchStore holds transient media batch sessions and dedup markers.
type BatchStore interface {
	// Append adds an image URL to the sender's session, creating it if needed.
	Append(ctx context.Context, userID int64, batchID, imageURL string) error
	// Take loads and clears the sender's session. Returns nil if no session exists.
	Take(ctx context.Context, userID int64) (*model.BatchSession, error)
	// MarkDispatched writes the dedup marker for a batch. It returns false
	// if the marker was already present, i.e. the batch was dispatched before.
	MarkDispatched(ctx context.Context, batchID string) (bool, error)
}
