package repository

import (
	"context"
	"errors"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/pkg/db"
	"gorm.io/gorm"
)

type ledgerRepo struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) domain.LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) InsertIfAbsent(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	row := *event
	row.Payload = EncodePayload(event.Payload)
	return db.InsertIfAbsent(ctx, r.db, &row)
}

func (r *ledgerRepo) Get(ctx context.Context, provider, providerEventID string) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRow(&event)
}

func (r *ledgerRepo) Transition(ctx context.Context, provider, providerEventID string, from domain.WebhookStatus, update domain.LedgerUpdate) (bool, error) {
	values := map[string]any{
		"status":       update.Status,
		"failure_kind": update.FailureKind,
		"last_error":   update.LastError,
		"processed_at": update.ProcessedAt,
		"updated_at":   update.UpdatedAt,
	}
	if update.Attempted {
		values["attempts"] = gorm.Expr("attempts + 1")
	}

	res := r.db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("provider = ? AND provider_event_id = ? AND status = ? AND attempts = ?",
			provider, providerEventID, from, update.FromAttempts).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ledgerRepo) ListReplayable(ctx context.Context, filter domain.ReplayFilter) ([]*domain.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var rows []*domain.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("(status = ? AND failure_kind = ? AND attempts < ?) OR (status IN ? AND updated_at < ?)",
			domain.WebhookStatusFailed, domain.FailureTransient, filter.MaxAttempts,
			[]domain.WebhookStatus{domain.WebhookStatusProcessing, domain.WebhookStatusReceived}, filter.StuckBefore).
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for i, row := range rows {
		decoded, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		rows[i] = decoded
	}
	return rows, nil
}

func decodeRow(event *domain.WebhookEvent) (*domain.WebhookEvent, error) {
	raw, err := DecodePayload(event.Payload)
	if err != nil {
		return nil, err
	}
	event.Payload = raw
	return event, nil
}
