package tiersync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/events"
	"github.com/railzwaylabs/paygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxChangeAttempts = 5

type Params struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	DB        *gorm.DB
	GenID     *snowflake.Node
	Clock     clock.Clock
	Publisher events.Publisher `optional:"true"`
}

// Service applies tier changes with the same guard webhook ingestion uses:
// the idempotency key row is inserted first and only the inserting call
// moves the organization's tier.
type Service struct {
	log       *zap.Logger
	db        *gorm.DB
	genID     *snowflake.Node
	clock     clock.Clock
	plans     *config.PlanCatalog
	publisher events.Publisher
	validate  *validator.Validate
}

func New(p Params) *Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		log:       p.Log.Named("tiersync"),
		db:        p.DB,
		genID:     p.GenID,
		clock:     p.Clock,
		plans:     p.Cfg.Plans(),
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) Change(ctx context.Context, req ChangeRequest) (*ChangeResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	tier := normalizeTier(req.Tier)
	if !s.known(tier) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	existing, err := s.findChange(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return replayed(existing, req.OrgID, tier)
	}

	for attempt := 1; attempt <= maxChangeAttempts; attempt++ {
		change, inserted, err := s.apply(ctx, req.OrgID, key, tier)
		if errors.Is(err, errTierRaced) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !inserted {
			existing, err := s.findChange(ctx, key)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, fmt.Errorf("tier change %s vanished after conflict", key)
			}
			return replayed(existing, req.OrgID, tier)
		}

		s.log.Info("tier changed",
			zap.String("org_id", req.OrgID.String()),
			zap.String("previous_tier", change.PreviousTier),
			zap.String("new_tier", change.NewTier),
			zap.String("idempotency_key", key),
		)
		s.announce(ctx, change)
		return &ChangeResult{
			OrgID:        change.OrgID,
			PreviousTier: change.PreviousTier,
			NewTier:      change.NewTier,
		}, nil
	}
	return nil, ErrVersionConflict
}

// Current returns the organization's tier, DefaultTier when none was set.
func (s *Service) Current(ctx context.Context, orgID snowflake.ID) (string, error) {
	if orgID == 0 {
		return "", ErrInvalidRequest
	}
	current, err := loadTier(s.db.WithContext(ctx), orgID)
	if err != nil {
		return "", err
	}
	if current == nil {
		return DefaultTier, nil
	}
	return current.Tier, nil
}

func (s *Service) apply(ctx context.Context, orgID snowflake.ID, key, tier string) (*TierChange, bool, error) {
	now := s.clock.Now(ctx)
	change := &TierChange{
		ID:             s.genID.Generate(),
		IdempotencyKey: key,
		OrgID:          orgID,
		NewTier:        tier,
		CreatedAt:      now,
	}

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadTier(tx, orgID)
		if err != nil {
			return err
		}
		change.PreviousTier = DefaultTier
		if current != nil {
			change.PreviousTier = current.Tier
		}

		inserted, err = db.InsertIfAbsent(ctx, tx, change)
		if err != nil || !inserted {
			return err
		}
		if change.PreviousTier == tier {
			return nil
		}

		if current == nil {
			created, err := db.InsertIfAbsent(ctx, tx, &OrgTier{OrgID: orgID, Tier: tier, Version: 1, UpdatedAt: now})
			if err != nil {
				return err
			}
			if !created {
				return errTierRaced
			}
			return nil
		}

		res := tx.Model(&OrgTier{}).
			Where("org_id = ? AND version = ?", orgID, current.Version).
			Updates(map[string]any{
				"tier":       tier,
				"version":    current.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTierRaced
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return change, inserted, nil
}

func (s *Service) findChange(ctx context.Context, key string) (*TierChange, error) {
	var change TierChange
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&change).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *Service) announce(ctx context.Context, change *TierChange) {
	err := s.publisher.PublishBillingChange(ctx, events.BillingChange{
		ID:              change.ID.String(),
		OrgID:           change.OrgID,
		Entity:          "tier",
		Kind:            "tier.changed",
		EntityKey:       change.OrgID.String(),
		Status:          change.NewTier,
		ProviderEventID: change.IdempotencyKey,
		OccurredAt:      change.CreatedAt,
	})
	if err != nil {
		s.log.Warn("failed to publish tier change", zap.Error(err))
	}
}

func (s *Service) known(tier string) bool {
	if tier == DefaultTier {
		return true
	}
	for _, plan := range s.plans.All() {
		if normalizeTier(plan.ProductTier) == tier {
			return true
		}
	}
	return false
}

func loadTier(tx *gorm.DB, orgID snowflake.ID) (*OrgTier, error) {
	var current OrgTier
	err := tx.Where("org_id = ?", orgID).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &current, nil
}

// replayed answers a repeated key with the original outcome. A key reused
// for a different org or tier is rejected.
func replayed(change *TierChange, orgID snowflake.ID, tier string) (*ChangeResult, error) {
	if change.OrgID != orgID || change.NewTier != tier {
		return nil, ErrKeyReused
	}
	return &ChangeResult{
		OrgID:        change.OrgID,
		PreviousTier: change.PreviousTier,
		NewTier:      change.NewTier,
		Duplicate:    true,
	}, nil
}

func normalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}
