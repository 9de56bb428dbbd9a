package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type WebhookStatus string

const (
	WebhookStatusReceived   WebhookStatus = "received"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusProcessed  WebhookStatus = "processed"
	WebhookStatusFailed     WebhookStatus = "failed"
)

type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailureConflict  FailureKind = "conflict"
	FailureParse     FailureKind = "parse"
)

// WebhookEvent is the durable ledger row. (Provider, ProviderEventID) is the
// sole idempotency key. Rows are never deleted.
type WebhookEvent struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string        `json:"provider" gorm:"type:varchar(50);not null;uniqueIndex:ux_webhook_events_provider_event"`
	ProviderEventID string        `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_webhook_events_provider_event"`
	EventType       string        `json:"event_type" gorm:"type:varchar(100);not null"`
	OrgID           snowflake.ID  `json:"org_id" gorm:"not null;index"`
	PayloadDigest   string        `json:"payload_digest" gorm:"type:char(64);not null"`
	Payload         []byte        `json:"-" gorm:"not null"`
	Status          WebhookStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	FailureKind     FailureKind   `json:"failure_kind,omitempty" gorm:"type:varchar(20)"`
	LastError       string        `json:"last_error,omitempty" gorm:"type:text"`
	Attempts        int           `json:"attempts" gorm:"not null;default:0"`
	OccurredAt      time.Time     `json:"occurred_at"`
	ReceivedAt      time.Time     `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time    `json:"processed_at"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null;index"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Retryable reports whether the sweep may replay this event.
func (e WebhookEvent) Retryable() bool {
	return e.Status == WebhookStatusFailed && e.FailureKind == FailureTransient
}

// LedgerUpdate is applied by a conditional status transition. FromAttempts
// is the attempt count the caller read; the row must still carry it.
type LedgerUpdate struct {
	FromAttempts int
	Status       WebhookStatus
	FailureKind  FailureKind
	LastError    string
	ProcessedAt  *time.Time
	Attempted    bool
	UpdatedAt    time.Time
}

type ReplayFilter struct {
	MaxAttempts int
	StuckBefore time.Time
	Limit       int
}

// LedgerRepository owns the WebhookEvent ledger.
type LedgerRepository interface {
	// InsertIfAbsent atomically creates the row; false means it already existed.
	InsertIfAbsent(ctx context.Context, event *WebhookEvent) (bool, error)
	Get(ctx context.Context, provider, providerEventID string) (*WebhookEvent, error)
	// Transition applies update only while the row is still in status from
	// with update.FromAttempts attempts.
	Transition(ctx context.Context, provider, providerEventID string, from WebhookStatus, update LedgerUpdate) (bool, error)
	// ListReplayable returns retryable failures and events stuck in processing.
	ListReplayable(ctx context.Context, filter ReplayFilter) ([]*WebhookEvent, error)
}
