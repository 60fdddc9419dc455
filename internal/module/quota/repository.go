package quota

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for quota data access.
type Repository interface {
	GetOrCreate(ctx context.Context, userID int64, initialFree int) (*UserQuota, error)
	Get(ctx context.Context, userID int64) (*UserQuota, error)
	// DecrementFree atomically decrements the free pool by one.
	// It is a no-op when free_credits is already zero; free_credits
	// never goes negative.
	DecrementFree(ctx context.Context, userID int64) error
	IncrementGenerated(ctx context.Context, userID int64) error
	SetPreferredModel(ctx context.Context, userID int64, modelID string) error
}

var ErrQuotaNotFound = errors.New("user quota not found")

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new quota repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// GetOrCreate loads a user's quota row, creating it with the initial free
// grant on first interaction.
func (r *repository) GetOrCreate(ctx context.Context, userID int64, initialFree int) (*UserQuota, error) {
	q := &UserQuota{
		UserID:      userID,
		FreeCredits: initialFree,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(q).Error
	if err != nil {
		return nil, fmt.Errorf("create user quota: %w", err)
	}
	return r.Get(ctx, userID)
}

// Get retrieves a user's quota row.
func (r *repository) Get(ctx context.Context, userID int64) (*UserQuota, error) {
	var q UserQuota
	err := r.db.WithContext(ctx).First(&q, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuotaNotFound
		}
		return nil, fmt.Errorf("get user quota: %w", err)
	}
	return &q, nil
}

func (r *repository) DecrementFree(ctx context.Context, userID int64) error {
	err := r.db.WithContext(ctx).
		Model(&UserQuota{}).
		Where("user_id = ? AND free_credits > 0", userID).
		UpdateColumn("free_credits", gorm.Expr("free_credits - 1")).Error
	if err != nil {
		return fmt.Errorf("decrement free credits: %w", err)
	}
	return nil
}

func (r *repository) IncrementGenerated(ctx context.Context, userID int64) error {
	err := r.db.WithContext(ctx).
		Model(&UserQuota{}).
		Where("user_id = ?", userID).
		UpdateColumn("total_generated", gorm.Expr("total_generated + 1")).Error
	if err != nil {
		return fmt.Errorf("increment total generated: %w", err)
	}
	return nil
}

func (r *repository) SetPreferredModel(ctx context.Context, userID int64, modelID string) error {
	err := r.db.WithContext(ctx).
		Model(&UserQuota{}).
		Where("user_id = ?", userID).
		Update("preferred_model", modelID).Error
	if err != nil {
		return fmt.Errorf("set preferred model: %w", err)
	}
	return nil
}
