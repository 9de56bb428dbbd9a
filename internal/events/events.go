// Package events carries paygate's NATS traffic: billing change
// notifications and deferred webhook reconciliation requests.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var ErrDisabled = errors.New("events_disabled")

// BillingChange announces an applied change to billing state.
type BillingChange struct {
	ID              string       `json:"id"`
	OrgID           snowflake.ID `json:"org_id"`
	Provider        string       `json:"provider"`
	Entity          string       `json:"entity"`
	Kind            string       `json:"kind"`
	EntityKey       string       `json:"entity_key"`
	Status          string       `json:"status,omitempty"`
	ProviderEventID string       `json:"provider_event_id"`
	OccurredAt      time.Time    `json:"occurred_at"`
}

// ReconcileRequest asks a worker to reconcile a stored webhook event.
type ReconcileRequest struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
}

type Publisher interface {
	PublishBillingChange(ctx context.Context, change BillingChange) error
}

// Bus publishes and consumes paygate subjects. A Bus without a connection
// drops billing changes and refuses reconcile requests.
type Bus struct {
	conn   *nats.Conn
	prefix string
	queue  string
	log    *zap.Logger
}

func NewBus(conn *nats.Conn, prefix, queue string, log *zap.Logger) *Bus {
	if prefix == "" {
		prefix = "paygate"
	}
	return &Bus{conn: conn, prefix: prefix, queue: queue, log: log.Named("events")}
}

func (b *Bus) Enabled() bool {
	return b != nil && b.conn != nil
}

// BillingSubject is <prefix>.billing.<entity>.<action>.
func (b *Bus) BillingSubject(kind string) string {
	return b.prefix + ".billing." + kind
}

func (b *Bus) ReconcileSubject() string {
	return b.prefix + ".webhooks.reconcile"
}

func (b *Bus) PublishBillingChange(ctx context.Context, change BillingChange) error {
	if !b.Enabled() {
		return nil
	}
	if change.ID == "" {
		change.ID = ulid.Make().String()
	}
	return b.publish(b.BillingSubject(change.Kind), change.ID, change)
}

func (b *Bus) PublishReconcile(ctx context.Context, req ReconcileRequest) error {
	if !b.Enabled() {
		return ErrDisabled
	}
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	return b.publish(b.ReconcileSubject(), req.ID, req)
}

func (b *Bus) publish(subject, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, id)
	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeReconcile consumes reconcile requests in the configured queue
// group, so each request is handled by one worker.
func (b *Bus) SubscribeReconcile(handler func(ctx context.Context, req ReconcileRequest) error) (*nats.Subscription, error) {
	if !b.Enabled() {
		return nil, ErrDisabled
	}
	return b.conn.QueueSubscribe(b.ReconcileSubject(), b.queue, func(msg *nats.Msg) {
		var req ReconcileRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			b.log.Warn("dropping malformed reconcile request", zap.Error(err))
			return
		}
		if err := handler(context.Background(), req); err != nil {
			b.log.Error("reconcile request failed",
				zap.String("provider", req.Provider),
				zap.String("provider_event_id", req.ProviderEventID),
				zap.Error(err),
			)
		}
	})
}

// Nop discards billing changes.
type Nop struct{}

func (Nop) PublishBillingChange(context.Context, BillingChange) error { return nil }
