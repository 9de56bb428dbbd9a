// Package tiersync records tier changes requested by the external tier
// management service. Each request is keyed by an idempotency token and is
// applied at most once.
package tiersync

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DefaultTier is reported for organizations that never changed tier.
const DefaultTier = "free"

// TierChange is the dedup ledger row for one tier change request.
type TierChange struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:varchar(255);not null;uniqueIndex"`
	OrgID          snowflake.ID `json:"org_id" gorm:"not null;index"`
	PreviousTier   string       `json:"previous_tier" gorm:"type:varchar(100);not null"`
	NewTier        string       `json:"new_tier" gorm:"type:varchar(100);not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (TierChange) TableName() string { return "tier_changes" }

// OrgTier is the current tier of an organization.
type OrgTier struct {
	OrgID     snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Tier      string       `gorm:"type:varchar(100);not null"`
	Version   int64        `gorm:"not null;default:1"`
	UpdatedAt time.Time    `gorm:"not null"`
}

func (OrgTier) TableName() string { return "org_tiers" }

type ChangeRequest struct {
	OrgID          snowflake.ID `json:"org_id" validate:"required"`
	IdempotencyKey string       `json:"idempotency_key" validate:"required,max=255"`
	Tier           string       `json:"tier" validate:"required,max=100"`
}

type ChangeResult struct {
	OrgID        snowflake.ID `json:"org_id"`
	PreviousTier string       `json:"previous_tier"`
	NewTier      string       `json:"new_tier"`
	// Duplicate is set when the idempotency key was already applied.
	Duplicate bool `json:"duplicate"`
}
