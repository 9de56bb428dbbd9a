package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingBinding records the single authoritative provider for an organization.
type BillingBinding struct {
	OrgID     snowflake.ID   `json:"org_id" gorm:"primaryKey;autoIncrement:false"`
	Provider  string         `json:"provider" gorm:"type:varchar(50);not null;index"`
	Config    datatypes.JSON `json:"-" gorm:"not null"`
	IsActive  bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (BillingBinding) TableName() string { return "billing_bindings" }

// ProviderMigration is the audit trail of explicit provider switches.
type ProviderMigration struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID        snowflake.ID `json:"org_id" gorm:"not null;index"`
	FromProvider string       `json:"from_provider" gorm:"type:varchar(50)"`
	ToProvider   string       `json:"to_provider" gorm:"type:varchar(50);not null"`
	Actor        string       `json:"actor" gorm:"type:varchar(255);not null"`
	Reason       string       `json:"reason" gorm:"type:text"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (ProviderMigration) TableName() string { return "provider_migrations" }

type BindingRepository interface {
	FindActive(ctx context.Context, orgID snowflake.ID) (*BillingBinding, error)
	ListActiveByProvider(ctx context.Context, provider string) ([]*BillingBinding, error)
	// Switch replaces the org's binding and writes the audit row atomically.
	Switch(ctx context.Context, binding *BillingBinding, audit *ProviderMigration) error
}
