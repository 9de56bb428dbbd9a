package tiersync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []events.BillingChange
}

func (p *recordingPublisher) PublishBillingChange(_ context.Context, change events.BillingChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func setup(t *testing.T) (*Service, *gorm.DB, *recordingPublisher) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&TierChange{}, &OrgTier{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{}.WithPlans([]config.PlanConfig{
		{Name: "Pro Monthly", ProductTier: "Pro", Interval: "month", Amount: 2000, Currency: "USD"},
		{Name: "Team Monthly", ProductTier: "team", Interval: "month", Amount: 5000, Currency: "USD"},
	})
	pub := &recordingPublisher{}
	svc := New(Params{
		Log:       zap.NewNop(),
		Cfg:       cfg,
		DB:        gdb,
		GenID:     node,
		Clock:     clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		Publisher: pub,
	})
	return svc, gdb, pub
}

func TestChange_ReturnsPreviousAndNewTier(t *testing.T) {
	svc, _, pub := setup(t)
	ctx := context.Background()

	res, err := svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k1", Tier: "PRO"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTier, res.PreviousTier)
	assert.Equal(t, "pro", res.NewTier)
	assert.False(t, res.Duplicate)

	res, err = svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k2", Tier: "team"})
	require.NoError(t, err)
	assert.Equal(t, "pro", res.PreviousTier)
	assert.Equal(t, "team", res.NewTier)

	current, err := svc.Current(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "team", current)
	assert.Len(t, pub.changes, 2)
}

func TestChange_RepeatedKeyAppliesOnce(t *testing.T) {
	svc, gdb, pub := setup(t)
	ctx := context.Background()

	first, err := svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k1", Tier: "pro"})
	require.NoError(t, err)
	_, err = svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k2", Tier: "team"})
	require.NoError(t, err)

	again, err := svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k1", Tier: "pro"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.PreviousTier, again.PreviousTier)
	assert.Equal(t, first.NewTier, again.NewTier)

	current, err := svc.Current(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "team", current, "replaying an old key must not move the tier back")

	var count int64
	require.NoError(t, gdb.Model(&TierChange{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	assert.Len(t, pub.changes, 2)
}

func TestChange_KeyReusedForDifferentTier(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k1", Tier: "pro"})
	require.NoError(t, err)

	_, err = svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k1", Tier: "team"})
	require.ErrorIs(t, err, ErrKeyReused)

	_, err = svc.Change(ctx, ChangeRequest{OrgID: 10, IdempotencyKey: "k1", Tier: "pro"})
	require.ErrorIs(t, err, ErrKeyReused)
}

func TestChange_Validation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k1", Tier: "platinum"})
	require.ErrorIs(t, err, ErrUnknownTier)

	_, err = svc.Change(ctx, ChangeRequest{OrgID: 9, Tier: "pro"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Change(ctx, ChangeRequest{IdempotencyKey: "k1", Tier: "pro"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChange_SameTierIsRecorded(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	res, err := svc.Change(ctx, ChangeRequest{OrgID: 9, IdempotencyKey: "k1", Tier: DefaultTier})
	require.NoError(t, err)
	assert.Equal(t, DefaultTier, res.PreviousTier)
	assert.Equal(t, DefaultTier, res.NewTier)

	current, err := svc.Current(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, DefaultTier, current)
}
