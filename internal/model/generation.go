package model

// Tier represents the quota class charged for a generation.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// PayloadKind selects the provider request-building strategy.
// It is decided at job-creation time from the number of reference images,
// never re-derived from the prompt text.
type PayloadKind string

const (
	// PayloadText is a text-only generation.
	PayloadText PayloadKind = "text"
	// PayloadEdit is an edit of a single reference image.
	PayloadEdit PayloadKind = "edit"
	// PayloadCompose is a composition over multiple reference images.
	PayloadCompose PayloadKind = "compose"
)

// KindFor returns the payload kind for a reference-image list.
func KindFor(imageURLs []string) PayloadKind {
	switch len(imageURLs) {
	case 0:
		return PayloadText
	case 1:
		return PayloadEdit
	default:
		return PayloadCompose
	}
}

// GenerationRequest is a provider-agnostic image generation request.
type GenerationRequest struct {
	Model     string
	Prompt    string
	ImageURLs []string
	Kind      PayloadKind

	// Async completion. CorrelationID is echoed back in the callback
	// payload's metadata; empty for synchronous requests.
	CallbackURL   string
	CorrelationID string
}
