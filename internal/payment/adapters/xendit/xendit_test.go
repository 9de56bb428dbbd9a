package xendit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	adapter, err := NewFactory(Options{BaseURL: baseURL}).NewAdapter(paymentdomain.AdapterConfig{
		OrgID:    7,
		Provider: ProviderName,
		Config:   map[string]any{"webhook_secret": "cb-token", "api_key": "xnd_test"},
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func TestVerifySignature(t *testing.T) {
	adapter := newTestAdapter(t, "")

	headers := http.Header{}
	headers.Set("X-Callback-Token", "cb-token")
	require.NoError(t, adapter.VerifySignature(context.Background(), nil, headers))

	headers.Set("X-Callback-Token", "wrong")
	require.ErrorIs(t, adapter.VerifySignature(context.Background(), nil, headers), paymentdomain.ErrSignatureInvalid)

	require.ErrorIs(t, adapter.VerifySignature(context.Background(), nil, http.Header{}), paymentdomain.ErrSignatureInvalid)
}

func TestCapabilities_NoRefund(t *testing.T) {
	caps := NewFactory(Options{}).Capabilities()
	assert.False(t, caps.Supports(paymentdomain.TransactionRefund))
	assert.True(t, caps.Supports(paymentdomain.TransactionSubscriptionCreate))
	assert.True(t, caps.SupportsCurrency("idr"))
	assert.False(t, caps.SupportsCurrency("USD"))
}

func TestParseEvent_Cycle(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{
		"id": "whk_1",
		"event": "recurring.cycle.failed",
		"created": "2024-05-01T10:00:00Z",
		"data": {"id": "cyc_1", "plan_id": "repl_1", "customer_id": "cust_1", "currency": "IDR", "amount": 150000, "attempt_count": 2}
	}`)

	event, err := adapter.ParseEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindInvoicePaymentFailed, event.Kind)
	assert.EqualValues(t, 7, event.OrgID)
	require.NotNil(t, event.Invoice)
	assert.Equal(t, paymentdomain.InvoiceStatusPaymentFailed, event.Invoice.Status)
	assert.EqualValues(t, 150000, event.Invoice.AmountDue)
	assert.Equal(t, "repl_1", event.Invoice.ProviderSubscriptionID)
}

func TestParseEvent_PlanInactivated(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{"id":"whk_2","event":"recurring.plan.inactivated","created":"2024-05-01T10:00:00Z",
		"data":{"id":"repl_1","customer_id":"cust_1","status":"INACTIVE","schedule":{"interval":"MONTH"},"metadata":{"product_tier":"pro"}}}`)

	event, err := adapter.ParseEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindSubscriptionCanceled, event.Kind)
	assert.Equal(t, paymentdomain.SubscriptionStatusCanceled, event.Subscription.Status)
	assert.Equal(t, "pro", event.Subscription.ProductTier)
	require.NotNil(t, event.Subscription.CanceledAt)
}

func TestEnvelope_DerivesIDWhenMissing(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{"event":"payment_method.activated","created":"2024-05-01T10:00:00Z",
		"data":{"id":"pm-1","updated":"2024-05-01T09:59:00Z"}}`)

	env, err := adapter.Envelope(payload)
	require.NoError(t, err)
	assert.Equal(t, "payment_method.activated:pm-1:2024-05-01T09:59:00Z", env.ProviderEventID)

	again, err := adapter.Envelope(payload)
	require.NoError(t, err)
	assert.Equal(t, env.ProviderEventID, again.ProviderEventID)
}

func TestParseEvent_TimeFallsBackToObjectUpdate(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{"id":"whk_4","event":"recurring.cycle.succeeded",
		"data":{"id":"cyc_1","plan_id":"repl_1","currency":"IDR","amount":150000,"updated":"2024-05-01T10:05:00Z"}}`)

	event, err := adapter.ParseEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC), event.OccurredAt)

	env, err := adapter.Envelope(payload)
	require.NoError(t, err)
	assert.Equal(t, event.OccurredAt, env.OccurredAt)
}

func TestParseEvent_RejectsEventWithoutTime(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := []byte(`{"id":"whk_5","event":"recurring.cycle.succeeded",
		"data":{"id":"cyc_1","plan_id":"repl_1","currency":"IDR","amount":150000}}`)

	_, err := adapter.ParseEvent(context.Background(), payload)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
	_, err = adapter.Envelope(payload)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestParseEvent_Unrecognized(t *testing.T) {
	adapter := newTestAdapter(t, "")
	event, err := adapter.ParseEvent(context.Background(), []byte(`{"id":"whk_3","event":"payout.succeeded","data":{"id":"po_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindUnrecognized, event.Kind)
}

func TestCreateSubscription(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "xnd_test", user)
		assert.Equal(t, "/recurring/plans", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"repl_9","customer_id":"cust_1","status":"ACTIVE","currency":"IDR","amount":99000,"schedule":{"interval":"MONTH"},"metadata":{"plan_code":"pro-monthly","product_tier":"pro"}}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	sub, err := adapter.CreateSubscription(context.Background(), paymentdomain.CreateSubscriptionRequest{
		RequestID:          "req-1",
		ProviderCustomerID: "cust_1",
		PlanCode:           "pro-monthly",
		ProductTier:        "pro",
		Interval:           paymentdomain.IntervalMonth,
		Amount:             99000,
		Currency:           "IDR",
	})
	require.NoError(t, err)
	assert.Equal(t, "repl_9", sub.ProviderSubscriptionID)
	assert.Equal(t, paymentdomain.SubscriptionStatusActive, sub.Status)
	assert.EqualValues(t, 99000, body["amount"])
	assert.Equal(t, "PAYMENT", body["recurring_action"])
}

func TestRefundUnsupported(t *testing.T) {
	adapter := newTestAdapter(t, "")
	_, err := adapter.Refund(context.Background(), paymentdomain.RefundRequest{ProviderInvoiceID: "cyc_1"})
	require.ErrorIs(t, err, paymentdomain.ErrUnsupportedTransaction)
}
