package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type bindingRepo struct {
	db *gorm.DB
}

func NewBindingRepository(db *gorm.DB) domain.BindingRepository {
	return &bindingRepo{db: db}
}

func (r *bindingRepo) FindActive(ctx context.Context, orgID snowflake.ID) (*domain.BillingBinding, error) {
	var binding domain.BillingBinding
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND is_active = ?", orgID, true).
		First(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &binding, nil
}

func (r *bindingRepo) ListActiveByProvider(ctx context.Context, provider string) ([]*domain.BillingBinding, error) {
	var bindings []*domain.BillingBinding
	err := r.db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", provider, true).
		Order("org_id ASC").
		Find(&bindings).Error
	return bindings, err
}

func (r *bindingRepo) Switch(ctx context.Context, binding *domain.BillingBinding, audit *domain.ProviderMigration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"provider", "config", "is_active", "updated_at"}),
		}).Create(binding).Error
		if err != nil {
			return err
		}
		if audit == nil {
			return nil
		}
		return tx.Create(audit).Error
	})
}
