package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.WebhookEvent{}, &domain.BillingBinding{}, &domain.ProviderMigration{}))
	return db
}

func newEvent(id string, now time.Time) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:              1,
		Provider:        "stripe",
		ProviderEventID: id,
		EventType:       "invoice.paid",
		OrgID:           42,
		PayloadDigest:   "digest",
		Payload:         []byte(`{"id":"` + id + `"}`),
		Status:          domain.WebhookStatusReceived,
		ReceivedAt:      now,
		UpdatedAt:       now,
	}
}

func TestLedger_InsertIfAbsentAndGet(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	inserted, err := repo.InsertIfAbsent(ctx, newEvent("evt_1", now))
	require.NoError(t, err)
	require.True(t, inserted)

	dup := newEvent("evt_1", now)
	dup.ID = 2
	inserted, err = repo.InsertIfAbsent(ctx, dup)
	require.NoError(t, err)
	require.False(t, inserted)

	got, err := repo.Get(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `{"id":"evt_1"}`, string(got.Payload))

	missing, err := repo.Get(ctx, "stripe", "evt_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLedger_TransitionIsConditional(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.InsertIfAbsent(ctx, newEvent("evt_1", now))
	require.NoError(t, err)

	ok, err := repo.Transition(ctx, "stripe", "evt_1", domain.WebhookStatusReceived, domain.LedgerUpdate{
		Status:    domain.WebhookStatusProcessing,
		Attempted: true,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// a second claimant loses
	ok, err = repo.Transition(ctx, "stripe", "evt_1", domain.WebhookStatusReceived, domain.LedgerUpdate{
		Status:    domain.WebhookStatusProcessing,
		Attempted: true,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.False(t, ok)

	processedAt := now.Add(time.Second)
	ok, err = repo.Transition(ctx, "stripe", "evt_1", domain.WebhookStatusProcessing, domain.LedgerUpdate{
		FromAttempts: 1,
		Status:       domain.WebhookStatusProcessed,
		ProcessedAt:  &processedAt,
		UpdatedAt:    processedAt,
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.Get(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ProcessedAt)
}

func TestLedger_StuckEventClaimedOnce(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	stuck := newEvent("evt_stuck", now.Add(-time.Hour))
	stuck.Status = domain.WebhookStatusProcessing
	stuck.Attempts = 1
	_, err := repo.InsertIfAbsent(ctx, stuck)
	require.NoError(t, err)

	// both sweepers read attempts=1; only the first claim may land
	claim := domain.LedgerUpdate{
		FromAttempts: 1,
		Status:       domain.WebhookStatusProcessing,
		Attempted:    true,
		UpdatedAt:    now,
	}
	ok, err := repo.Transition(ctx, "stripe", "evt_stuck", domain.WebhookStatusProcessing, claim)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Transition(ctx, "stripe", "evt_stuck", domain.WebhookStatusProcessing, claim)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.Get(ctx, "stripe", "evt_stuck")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
}

func TestLedger_ListReplayable(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-time.Hour)

	transient := newEvent("evt_transient", now)
	transient.ID = 1
	transient.Status = domain.WebhookStatusFailed
	transient.FailureKind = domain.FailureTransient
	transient.Attempts = 1

	conflict := newEvent("evt_conflict", now)
	conflict.ID = 2
	conflict.Status = domain.WebhookStatusFailed
	conflict.FailureKind = domain.FailureConflict

	stuck := newEvent("evt_stuck", old)
	stuck.ID = 3
	stuck.Status = domain.WebhookStatusProcessing

	fresh := newEvent("evt_fresh", now)
	fresh.ID = 4
	fresh.Status = domain.WebhookStatusProcessing

	exhausted := newEvent("evt_exhausted", now)
	exhausted.ID = 5
	exhausted.Status = domain.WebhookStatusFailed
	exhausted.FailureKind = domain.FailureTransient
	exhausted.Attempts = 5

	for _, e := range []*domain.WebhookEvent{transient, conflict, stuck, fresh, exhausted} {
		_, err := repo.InsertIfAbsent(ctx, e)
		require.NoError(t, err)
	}

	rows, err := repo.ListReplayable(ctx, domain.ReplayFilter{
		MaxAttempts: 5,
		StuckBefore: now.Add(-10 * time.Minute),
		Limit:       10,
	})
	require.NoError(t, err)

	var ids []string
	for _, row := range rows {
		ids = append(ids, row.ProviderEventID)
	}
	assert.ElementsMatch(t, []string{"evt_transient", "evt_stuck"}, ids)
}

func TestBinding_SwitchWritesAudit(t *testing.T) {
	db := openTestDB(t)
	repo := NewBindingRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Switch(ctx, &domain.BillingBinding{
		OrgID: 42, Provider: "stripe", Config: datatypes.JSON(`{}`), IsActive: true, CreatedAt: now, UpdatedAt: now,
	}, nil))

	later := now.Add(time.Minute)
	require.NoError(t, repo.Switch(ctx, &domain.BillingBinding{
		OrgID: 42, Provider: "xendit", Config: datatypes.JSON(`{}`), IsActive: true, CreatedAt: later, UpdatedAt: later,
	}, &domain.ProviderMigration{ID: 9, OrgID: 42, FromProvider: "stripe", ToProvider: "xendit", Actor: "ops", CreatedAt: later}))

	binding, err := repo.FindActive(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, binding)
	assert.Equal(t, "xendit", binding.Provider)

	stripeOrgs, err := repo.ListActiveByProvider(ctx, "stripe")
	require.NoError(t, err)
	assert.Empty(t, stripeOrgs)

	var audits []domain.ProviderMigration
	require.NoError(t, db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, "stripe", audits[0].FromProvider)
}
