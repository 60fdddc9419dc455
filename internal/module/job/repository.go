package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("job not found")

// activeStatuses are the non-terminal states a completion may race against.
var activeStatuses = []Status{StatusPending, StatusProcessing}

// Repository defines the interface for job data access. All transitions out
// of an observed status are conditional updates so that concurrent writers
// (worker vs. callback, or two worker instances) cannot both win.
type Repository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	// ClaimOldestPending atomically claims up to limit of the oldest pending
	// jobs, transitioning each to processing. Only jobs whose claim update
	// succeeded are returned.
	ClaimOldestPending(ctx context.Context, limit int) ([]*Job, error)
	// CompleteIfActive marks the job completed if it is not already terminal.
	// Returns false when another writer reached a terminal state first.
	CompleteIfActive(ctx context.Context, id uuid.UUID, imageURL string) (bool, error)
	// FailIfActive marks the job failed if it is not already terminal.
	FailIfActive(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	// RevertToPending puts a processing job back in the queue for retry,
	// incrementing retry_count. Returns false if the job is no longer
	// processing (e.g. a callback completed it meanwhile).
	RevertToPending(ctx context.Context, id uuid.UUID) (bool, error)
	// RecoverStuck reverts processing jobs whose claim is older than the
	// cutoff, so a crashed worker does not strand them.
	RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new job repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, job *Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (r *repository) ClaimOldestPending(ctx context.Context, limit int) ([]*Job, error) {
	var candidates []*Job
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}

	now := time.Now()
	claimed := make([]*Job, 0, len(candidates))
	for _, job := range candidates {
		result := r.db.WithContext(ctx).
			Model(&Job{}).
			Where("id = ? AND status = ?", job.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusProcessing,
				"started_at": now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("claim job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// Claimed by a concurrent worker.
			continue
		}
		job.Status = StatusProcessing
		job.StartedAt = &now
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (r *repository) CompleteIfActive(ctx context.Context, id uuid.UUID, imageURL string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"image_url":    imageURL,
			"completed_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("complete job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FailIfActive(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": errMsg,
			"completed_at":  now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("fail job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) RevertToPending(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":      StatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
			"started_at":  nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("revert job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("status = ? AND started_at < ?", StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     StatusPending,
			"started_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
