package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubjects(t *testing.T) {
	bus := NewBus(nil, "", "workers", zap.NewNop())
	assert.Equal(t, "paygate.billing.invoice.paid", bus.BillingSubject("invoice.paid"))
	assert.Equal(t, "paygate.webhooks.reconcile", bus.ReconcileSubject())
}

func TestDisabledBus(t *testing.T) {
	bus := NewBus(nil, "pg", "workers", zap.NewNop())
	assert.False(t, bus.Enabled())

	require.NoError(t, bus.PublishBillingChange(context.Background(), BillingChange{Kind: "invoice.paid"}))
	require.ErrorIs(t, bus.PublishReconcile(context.Background(), ReconcileRequest{Provider: "stripe"}), ErrDisabled)

	_, err := bus.SubscribeReconcile(func(context.Context, ReconcileRequest) error { return nil })
	require.ErrorIs(t, err, ErrDisabled)
}
