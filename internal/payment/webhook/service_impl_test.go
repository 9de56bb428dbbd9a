package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	"github.com/railzwaylabs/paygate/internal/billing/reconciler"
	billingrepo "github.com/railzwaylabs/paygate/internal/billing/repository"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/events"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/repository"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"github.com/railzwaylabs/paygate/internal/security/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOrg    = snowflake.ID(11)
	testSecret = "whsec_test"
)

type memoryArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *memoryArchive) Put(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

type fixture struct {
	svc     *Service
	db      *gorm.DB
	ledger  domain.LedgerRepository
	archive *memoryArchive
	clock   *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.WebhookEvent{},
		&domain.BillingBinding{},
		&domain.ProviderMigration{},
		&billingdomain.Customer{},
		&billingdomain.PaymentMethod{},
		&billingdomain.Subscription{},
		&billingdomain.Invoice{},
		&billingdomain.Conflict{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	v, err := vault.NewAESVault("webhook-test-key")
	require.NoError(t, err)
	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	cfg := config.Config{}
	cfg.Webhook.MaxPayloadBytes = 1 << 20
	cfg.Scheduler.StuckAfter = 10 * time.Minute

	registry := adapters.NewRegistry(stripe.NewFactory(stripe.Options{Tolerance: time.Hour}))
	bindings := repository.NewBindingRepository(db)
	r := router.New(router.Params{
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Clock:    clk,
		GenID:    node,
		Registry: registry,
		Bindings: bindings,
		Vault:    v,
	})
	_, err = r.MigrateProvider(context.Background(), router.MigrateRequest{
		OrgID:    testOrg,
		Provider: stripe.ProviderName,
		Config:   map[string]any{"webhook_secret": testSecret},
		Actor:    "test",
	})
	require.NoError(t, err)

	ledger := repository.NewLedgerRepository(db)
	store := &memoryArchive{}
	svc := NewService(Params{
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Clock:    clk,
		GenID:    node,
		Adapters: registry,
		Router:   r,
		Bindings: bindings,
		Ledger:   ledger,
		Reconciler: reconciler.New(reconciler.Params{
			Log:       zap.NewNop(),
			Repo:      billingrepo.New(db),
			GenID:     node,
			Clock:     clk,
			Publisher: events.Nop{},
		}),
		Archive: store,
	})
	return &fixture{svc: svc, db: db, ledger: ledger, archive: store, clock: clk}
}

func signed(t *testing.T, payload []byte, secret string) http.Header {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	h := http.Header{}
	h.Set("Stripe-Signature", "t="+ts+",v1="+stripe.Sign(secret, ts, payload))
	return h
}

func invoicePayload(eventID, eventType, status string, created int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"created": %d,
		"data": {"object": {
			"id": "in_1",
			"subscription": "sub_1",
			"customer": "cus_1",
			"amount_due": 2000,
			"amount_paid": 2000,
			"currency": "usd",
			"status": %q,
			"attempt_count": 1
		}}
	}`, eventID, eventType, created, status))
}

func (f *fixture) invoice(t *testing.T) billingdomain.Invoice {
	t.Helper()
	var inv billingdomain.Invoice
	require.NoError(t, f.db.Where("provider_invoice_id = ?", "in_1").First(&inv).Error)
	return inv
}

func TestIngest_RedeliveryAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := invoicePayload("E1", "invoice.payment_succeeded", "paid", 100)

	res, err := f.svc.IngestWebhook(ctx, "stripe", payload, signed(t, payload, testSecret))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
	first := f.invoice(t)

	for i := 0; i < 4; i++ {
		res, err = f.svc.IngestWebhook(ctx, "Stripe", payload, signed(t, payload, testSecret))
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
	}

	inv := f.invoice(t)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, first.Version, inv.Version)

	var rows int64
	require.NoError(t, f.db.Model(&domain.WebhookEvent{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	stored, err := f.ledger.Get(ctx, "stripe", "E1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.ProcessedAt)
	assert.JSONEq(t, string(payload), string(stored.Payload))
	assert.Equal(t, []string{"webhooks/stripe/2024/05/01/E1.json"}, f.archive.keys)
}

func TestIngest_InvalidSignatureNeverMutates(t *testing.T) {
	f := newFixture(t)
	payload := invoicePayload("E1", "invoice.paid", "paid", 100)

	_, err := f.svc.IngestWebhook(context.Background(), "stripe", payload, signed(t, payload, "whsec_other"))
	require.ErrorIs(t, err, domain.ErrSignatureInvalid)

	_, err = f.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{})
	require.ErrorIs(t, err, domain.ErrSignatureInvalid)

	var events, invoices int64
	require.NoError(t, f.db.Model(&domain.WebhookEvent{}).Count(&events).Error)
	require.NoError(t, f.db.Model(&billingdomain.Invoice{}).Count(&invoices).Error)
	assert.Zero(t, events)
	assert.Zero(t, invoices)
	assert.Empty(t, f.archive.keys)
}

func TestIngest_RejectsUnknownProviderAndMalformedPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IngestWebhook(ctx, "paypal", []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)

	bad := []byte(`{"id": "E1"`)
	_, err = f.svc.IngestWebhook(ctx, "stripe", bad, signed(t, bad, testSecret))
	require.ErrorIs(t, err, domain.ErrInvalidPayload)

	noID := []byte(`{"type": "invoice.paid"}`)
	_, err = f.svc.IngestWebhook(ctx, "stripe", noID, signed(t, noID, testSecret))
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestIngest_UnsignedMalformedBodyFailsSignature(t *testing.T) {
	f := newFixture(t)
	bad := []byte(`{"id": "E1"`)

	_, err := f.svc.IngestWebhook(context.Background(), "stripe", bad, http.Header{})
	require.ErrorIs(t, err, domain.ErrSignatureInvalid)

	_, err = f.svc.IngestWebhook(context.Background(), "stripe", bad, signed(t, bad, "whsec_other"))
	require.ErrorIs(t, err, domain.ErrSignatureInvalid)

	var events int64
	require.NoError(t, f.db.Model(&domain.WebhookEvent{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestIngest_UnrecognizedEventMarkedProcessed(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id": "E9", "type": "charge.dispute.created", "created": 100, "data": {"object": {"id": "dp_1"}}}`)

	res, err := f.svc.IngestWebhook(context.Background(), "stripe", payload, signed(t, payload, testSecret))
	require.NoError(t, err)
	assert.True(t, res.Unrecognized)

	stored, err := f.ledger.Get(context.Background(), "stripe", "E9")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, stored.Status)
	assert.Contains(t, stored.LastError, "charge.dispute.created")
}

func TestIngest_ConflictMarkedFailedNotRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := invoicePayload("E1", "invoice.paid", "paid", 100)
	_, err := f.svc.IngestWebhook(ctx, "stripe", paid, signed(t, paid, testSecret))
	require.NoError(t, err)

	failed := invoicePayload("E2", "invoice.payment_failed", "open", 200)
	_, err = f.svc.IngestWebhook(ctx, "stripe", failed, signed(t, failed, testSecret))
	require.ErrorIs(t, err, billingdomain.ErrInvalidTransition)

	stored, err := f.ledger.Get(ctx, "stripe", "E2")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusFailed, stored.Status)
	assert.Equal(t, domain.FailureConflict, stored.FailureKind)
	assert.False(t, stored.Retryable())

	assert.Equal(t, domain.InvoiceStatusPaid, f.invoice(t).Status)
}

func TestIngest_LateCreationProcessedWithoutConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := invoicePayload("E1", "invoice.paid", "paid", 100)
	_, err := f.svc.IngestWebhook(ctx, "stripe", paid, signed(t, paid, testSecret))
	require.NoError(t, err)

	created := invoicePayload("E0", "invoice.created", "open", 100)
	_, err = f.svc.IngestWebhook(ctx, "stripe", created, signed(t, created, testSecret))
	require.NoError(t, err)

	stored, err := f.ledger.Get(ctx, "stripe", "E0")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, stored.Status)
	assert.Equal(t, domain.InvoiceStatusPaid, f.invoice(t).Status)
}

func TestReplay_TransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := invoicePayload("E5", "invoice.paid", "paid", 100)

	now := f.clock.Now(ctx)
	inserted, err := f.ledger.InsertIfAbsent(ctx, &domain.WebhookEvent{
		ID:              1,
		Provider:        "stripe",
		ProviderEventID: "E5",
		EventType:       "invoice.paid",
		OrgID:           testOrg,
		PayloadDigest:   digest(payload),
		Payload:         payload,
		Status:          domain.WebhookStatusFailed,
		FailureKind:     domain.FailureTransient,
		LastError:       "connection reset",
		Attempts:        1,
		ReceivedAt:      now,
		UpdatedAt:       now,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	res, err := f.svc.Replay(ctx, "stripe", "E5")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
	assert.Equal(t, domain.InvoiceStatusPaid, f.invoice(t).Status)

	stored, err := f.ledger.Get(ctx, "stripe", "E5")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	_, err = f.svc.Replay(ctx, "stripe", "E5")
	require.ErrorIs(t, err, domain.ErrEventNotReplayable)

	_, err = f.svc.Replay(ctx, "stripe", "missing")
	require.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestReplay_FreshProcessingEventIsNotReplayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := invoicePayload("E6", "invoice.paid", "paid", 100)

	now := f.clock.Now(ctx)
	_, err := f.ledger.InsertIfAbsent(ctx, &domain.WebhookEvent{
		ID:              2,
		Provider:        "stripe",
		ProviderEventID: "E6",
		EventType:       "invoice.paid",
		OrgID:           testOrg,
		PayloadDigest:   digest(payload),
		Payload:         payload,
		Status:          domain.WebhookStatusProcessing,
		Attempts:        1,
		ReceivedAt:      now,
		UpdatedAt:       now,
	})
	require.NoError(t, err)

	_, err = f.svc.Replay(ctx, "stripe", "E6")
	require.ErrorIs(t, err, domain.ErrEventNotReplayable)

	f.clock.Advance(11 * time.Minute)
	res, err := f.svc.Replay(ctx, "stripe", "E6")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
}

func TestMaskPayload(t *testing.T) {
	raw := `{"card": "4242", "user": {"billing_details": "secret"}, "items": [{"email": "a@b.c"}], "other": "ok"}`
	masked := maskPayload([]byte(raw))

	var output map[string]any
	require.NoError(t, json.Unmarshal(masked, &output))

	assert.Equal(t, "***", output["card"])
	assert.Equal(t, "ok", output["other"])

	user, _ := output["user"].(map[string]any)
	assert.Equal(t, "***", user["billing_details"])

	items, _ := output["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "***", items[0].(map[string]any)["email"])

	assert.Equal(t, "<unparseable>", string(maskPayload([]byte("not json"))))
}
