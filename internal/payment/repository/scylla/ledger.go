// Package scylla stores the webhook ledger in ScyllaDB, using lightweight
// transactions for the insert-if-absent and status-transition guarantees.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gocql/gocql"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/repository"
	"github.com/scylladb/gocqlx/v2"
	"github.com/scylladb/gocqlx/v2/qb"
)

const table = "webhook_events"

// Schema is applied by the migrate command when the scylla backend is selected.
const Schema = `CREATE TABLE IF NOT EXISTS webhook_events (
    provider text,
    provider_event_id text,
    id bigint,
    event_type text,
    org_id bigint,
    payload_digest text,
    payload blob,
    status text,
    failure_kind text,
    last_error text,
    attempts int,
    occurred_at timestamp,
    received_at timestamp,
    processed_at timestamp,
    updated_at timestamp,
    PRIMARY KEY ((provider, provider_event_id))
)`

var columns = []string{
	"provider", "provider_event_id", "id", "event_type", "org_id", "payload_digest", "payload",
	"status", "failure_kind", "last_error", "attempts", "occurred_at", "received_at", "processed_at", "updated_at",
}

type row struct {
	Provider        string
	ProviderEventID string
	ID              int64
	EventType       string
	OrgID           int64
	PayloadDigest   string
	Payload         []byte
	Status          string
	FailureKind     string
	LastError       string
	Attempts        int
	OccurredAt      time.Time
	ReceivedAt      time.Time
	ProcessedAt     time.Time
	UpdatedAt       time.Time
}

type Ledger struct {
	session gocqlx.Session
}

// NewSession connects to the cluster described by cfg.
func NewSession(cfg config.ScyllaConfig) (gocqlx.Session, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency(cfg.Consistency)
	cluster.SerialConsistency = gocql.LocalSerial
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	session, err := gocqlx.WrapSession(cluster.CreateSession())
	if err != nil {
		return gocqlx.Session{}, fmt.Errorf("failed to create ScyllaDB session: %w", err)
	}
	return session, nil
}

func consistency(level string) gocql.Consistency {
	switch strings.ToUpper(level) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	default:
		return gocql.LocalQuorum
	}
}

func NewLedger(session gocqlx.Session) *Ledger {
	return &Ledger{session: session}
}

func (l *Ledger) EnsureSchema(ctx context.Context) error {
	return l.session.ExecStmt(Schema)
}

func (l *Ledger) InsertIfAbsent(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	stmt, names := qb.Insert(table).Columns(columns...).Unique().ToCql()
	q := l.session.Query(stmt, names).WithContext(ctx).BindStruct(toRow(event))
	applied, err := q.ExecCASRelease()
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return applied, nil
}

func (l *Ledger) Get(ctx context.Context, provider, providerEventID string) (*domain.WebhookEvent, error) {
	stmt, names := qb.Select(table).Columns(columns...).
		Where(qb.Eq("provider"), qb.Eq("provider_event_id")).
		ToCql()
	var r row
	err := l.session.Query(stmt, names).WithContext(ctx).
		BindMap(qb.M{"provider": provider, "provider_event_id": providerEventID}).
		GetRelease(&r)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return fromRow(r)
}

// Transition applies the update under IF status = from AND attempts =
// update.FromAttempts. The read only skips a doomed write.
func (l *Ledger) Transition(ctx context.Context, provider, providerEventID string, from domain.WebhookStatus, update domain.LedgerUpdate) (bool, error) {
	current, err := l.Get(ctx, provider, providerEventID)
	if err != nil || current == nil {
		return false, err
	}
	if current.Status != from || current.Attempts != update.FromAttempts {
		return false, nil
	}

	attempts := update.FromAttempts
	if update.Attempted {
		attempts++
	}
	var processedAt time.Time
	if update.ProcessedAt != nil {
		processedAt = *update.ProcessedAt
	}

	stmt, names := qb.Update(table).
		Set("status", "failure_kind", "last_error", "processed_at", "updated_at", "attempts").
		Where(qb.Eq("provider"), qb.Eq("provider_event_id")).
		If(qb.EqNamed("status", "from_status"), qb.EqNamed("attempts", "from_attempts")).
		ToCql()
	applied, err := l.session.Query(stmt, names).WithContext(ctx).
		BindMap(qb.M{
			"status":            string(update.Status),
			"failure_kind":      string(update.FailureKind),
			"last_error":        update.LastError,
			"processed_at":      processedAt,
			"updated_at":        update.UpdatedAt,
			"attempts":          attempts,
			"provider":          provider,
			"provider_event_id": providerEventID,
			"from_status":       string(from),
			"from_attempts":     update.FromAttempts,
		}).
		ExecCASRelease()
	if err != nil {
		return false, fmt.Errorf("transition webhook event: %w", err)
	}
	return applied, nil
}

// ListReplayable scans by status with ALLOW FILTERING. The sweep runs
// under a lease, so at most one node pays for the scan.
func (l *Ledger) ListReplayable(ctx context.Context, filter domain.ReplayFilter) ([]*domain.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*domain.WebhookEvent
	for _, status := range []domain.WebhookStatus{domain.WebhookStatusFailed, domain.WebhookStatusProcessing, domain.WebhookStatusReceived} {
		stmt, names := qb.Select(table).Columns(columns...).
			Where(qb.Eq("status")).
			AllowFiltering().
			ToCql()
		var rows []row
		err := l.session.Query(stmt, names).WithContext(ctx).
			BindMap(qb.M{"status": string(status)}).
			SelectRelease(&rows)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			event, err := fromRow(r)
			if err != nil {
				return nil, err
			}
			if !replayable(event, filter) {
				continue
			}
			out = append(out, event)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func replayable(event *domain.WebhookEvent, filter domain.ReplayFilter) bool {
	if event.Retryable() {
		return event.Attempts < filter.MaxAttempts
	}
	switch event.Status {
	case domain.WebhookStatusProcessing, domain.WebhookStatusReceived:
		return event.UpdatedAt.Before(filter.StuckBefore)
	}
	return false
}

func toRow(event *domain.WebhookEvent) row {
	r := row{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		ID:              event.ID.Int64(),
		EventType:       event.EventType,
		OrgID:           event.OrgID.Int64(),
		PayloadDigest:   event.PayloadDigest,
		Payload:         repository.EncodePayload(event.Payload),
		Status:          string(event.Status),
		FailureKind:     string(event.FailureKind),
		LastError:       event.LastError,
		Attempts:        event.Attempts,
		OccurredAt:      event.OccurredAt,
		ReceivedAt:      event.ReceivedAt,
		UpdatedAt:       event.UpdatedAt,
	}
	if event.ProcessedAt != nil {
		r.ProcessedAt = *event.ProcessedAt
	}
	return r
}

func fromRow(r row) (*domain.WebhookEvent, error) {
	payload, err := repository.DecodePayload(r.Payload)
	if err != nil {
		return nil, err
	}
	event := &domain.WebhookEvent{
		ID:              snowflake.ID(r.ID),
		Provider:        r.Provider,
		ProviderEventID: r.ProviderEventID,
		EventType:       r.EventType,
		OrgID:           snowflake.ID(r.OrgID),
		PayloadDigest:   r.PayloadDigest,
		Payload:         payload,
		Status:          domain.WebhookStatus(r.Status),
		FailureKind:     domain.FailureKind(r.FailureKind),
		LastError:       r.LastError,
		Attempts:        r.Attempts,
		OccurredAt:      r.OccurredAt.UTC(),
		ReceivedAt:      r.ReceivedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if !r.ProcessedAt.IsZero() {
		processedAt := r.ProcessedAt.UTC()
		event.ProcessedAt = &processedAt
	}
	return event, nil
}

var _ domain.LedgerRepository = (*Ledger)(nil)
