// Package job holds the durable generation job, its state machine, and the
// worker that drives pending jobs to completion.
package job

import (
	"time"

	"github.com/google/uuid"
	"github.com/palettebot/server/internal/model"
)

// Status represents the status of a generation job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payload is the structured generation input, decided at job-creation time.
type Payload struct {
	Kind      model.PayloadKind `json:"kind"`
	Prompt    string            `json:"prompt"`
	ImageURLs []string          `json:"image_urls,omitempty"`
}

// Job represents one durable unit of generation work.
type Job struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID      int64      `json:"owner_id" gorm:"not null;index"`
	ChatID       int64      `json:"chat_id" gorm:"not null"`
	Payload      Payload    `json:"payload" gorm:"type:jsonb;serializer:json;not null"`
	ModelID      string     `json:"model_id" gorm:"not null"`
	Tier         model.Tier `json:"tier" gorm:"not null"`
	Status       Status     `json:"status" gorm:"not null;index"`
	ImageURL     string     `json:"image_url,omitempty"`
	RetryCount   int        `json:"retry_count" gorm:"not null;default:0"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at" gorm:"index"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "generation_jobs"
}

// New creates a pending job. The payload variant is fixed here from the
// reference-image count.
func New(ownerID, chatID int64, prompt string, imageURLs []string, modelID string, tier model.Tier) *Job {
	return &Job{
		ID:      uuid.New(),
		OwnerID: ownerID,
		ChatID:  chatID,
		Payload: Payload{
			Kind:      model.KindFor(imageURLs),
			Prompt:    prompt,
			ImageURLs: imageURLs,
		},
		ModelID:   modelID,
		Tier:      tier,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// IsTerminal checks if the job is in a terminal state. Terminal jobs accept
// no further transitions.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Request builds the provider request for this job.
func (j *Job) Request(callbackURL string) *model.GenerationRequest {
	req := &model.GenerationRequest{
		Model:     j.ModelID,
		Prompt:    j.Payload.Prompt,
		ImageURLs: j.Payload.ImageURLs,
		Kind:      j.Payload.Kind,
	}
	if callbackURL != "" {
		req.CallbackURL = callbackURL
		req.CorrelationID = j.ID.String()
	}
	return req
}
