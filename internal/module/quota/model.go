// Package quota enforces the two-tier (free/paid) credit model.
package quota

import (
	"time"

	"github.com/palettebot/server/internal/model"
)

// UserQuota tracks a single end user's credits. Created lazily on first
// interaction, never deleted.
type UserQuota struct {
	UserID         int64     `json:"user_id" gorm:"primaryKey"`
	FreeCredits    int       `json:"free_credits" gorm:"not null;default:0"`
	PaidCredits    int       `json:"paid_credits" gorm:"not null;default:0"`
	TotalGenerated int64     `json:"total_generated" gorm:"not null;default:0"`
	PreferredModel string    `json:"preferred_model"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the table name for UserQuota.
func (UserQuota) TableName() string {
	return "user_quotas"
}

// IsPaid reports whether the user holds a paid entitlement.
// Paid credits are treated as unlimited once positive.
func (q *UserQuota) IsPaid() bool {
	return q.PaidCredits > 0
}

// Tier returns the quota class charged for this user's generations.
func (q *UserQuota) Tier() model.Tier {
	if q.IsPaid() {
		return model.TierPaid
	}
	return model.TierFree
}
