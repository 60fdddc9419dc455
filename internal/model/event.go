package model

// ChatEvent is a normalized inbound chat event, independent of the
// transport's wire format.
type ChatEvent struct {
	SenderID  int64
	ChatID    int64
	Text      string
	ImageURLs []string
	// BatchID groups multiple images sent as one logical upload
	// (Telegram media_group_id). Empty for single messages.
	BatchID string
}

// BatchSession is the accumulated state of a multi-image upload.
type BatchSession struct {
	BatchID   string   `json:"batch_id"`
	ImageURLs []string `json:"image_urls"`
}

// Keyboard is a quick-reply keyboard: rows of button labels.
type Keyboard [][]string
