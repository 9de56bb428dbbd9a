package stripe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T, baseURL string, now time.Time) *Adapter {
	t.Helper()
	factory := NewFactory(Options{
		BaseURL:   baseURL,
		Timeout:   time.Second,
		Tolerance: 5 * time.Minute,
		Now:       func() time.Time { return now },
	})
	adapter, err := factory.NewAdapter(paymentdomain.AdapterConfig{
		OrgID:    42,
		Provider: ProviderName,
		Config:   map[string]any{"webhook_secret": testSecret, "api_key": "sk_test"},
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func signedHeaders(payload []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, Sign(testSecret, ts, payload)))
	return headers
}

func TestNewAdapter_RequiresWebhookSecret(t *testing.T) {
	_, err := NewFactory(Options{}).NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{}})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := newTestAdapter(t, "", now)
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, adapter.VerifySignature(context.Background(), payload, signedHeaders(payload, now)))
	})

	t.Run("missing header", func(t *testing.T) {
		err := adapter.VerifySignature(context.Background(), payload, http.Header{})
		require.ErrorIs(t, err, paymentdomain.ErrSignatureInvalid)
	})

	t.Run("tampered payload", func(t *testing.T) {
		headers := signedHeaders(payload, now)
		err := adapter.VerifySignature(context.Background(), []byte(`{"id":"evt_2"}`), headers)
		require.ErrorIs(t, err, paymentdomain.ErrSignatureInvalid)
	})

	t.Run("outside tolerance", func(t *testing.T) {
		headers := signedHeaders(payload, now.Add(-10*time.Minute))
		err := adapter.VerifySignature(context.Background(), payload, headers)
		require.ErrorIs(t, err, paymentdomain.ErrSignatureInvalid)
	})

	t.Run("one of several signatures matches", func(t *testing.T) {
		ts := strconv.FormatInt(now.Unix(), 10)
		headers := http.Header{}
		headers.Set("Stripe-Signature", "t="+ts+",v1=deadbeef,v1="+Sign(testSecret, ts, payload))
		require.NoError(t, adapter.VerifySignature(context.Background(), payload, headers))
	})
}

func TestParseEvent_Subscription(t *testing.T) {
	adapter := newTestAdapter(t, "", time.Now())
	payload := []byte(`{
		"id": "evt_sub",
		"type": "customer.subscription.updated",
		"created": 1700000100,
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "past_due",
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"metadata": {"plan_code": "pro-monthly", "product_tier": "pro"},
			"items": {"data": [{"price": {"id": "price_1", "recurring": {"interval": "month"}}}]}
		}}
	}`)

	event, err := adapter.ParseEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindSubscriptionUpdated, event.Kind)
	assert.EqualValues(t, 42, event.OrgID)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), event.OccurredAt)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "sub_1", event.Subscription.ProviderSubscriptionID)
	assert.Equal(t, paymentdomain.SubscriptionStatusPastDue, event.Subscription.Status)
	assert.Equal(t, "pro", event.Subscription.ProductTier)
	assert.Equal(t, paymentdomain.IntervalMonth, event.Subscription.Interval)
}

func TestParseEvent_DeletedSubscriptionIsCanceled(t *testing.T) {
	adapter := newTestAdapter(t, "", time.Now())
	payload := []byte(`{"id":"evt_del","type":"customer.subscription.deleted","created":1700000100,
		"data":{"object":{"id":"sub_1","customer":"cus_1","status":"canceled","canceled_at":1700000050}}}`)

	event, err := adapter.ParseEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindSubscriptionCanceled, event.Kind)
	assert.Equal(t, paymentdomain.SubscriptionStatusCanceled, event.Subscription.Status)
	require.NotNil(t, event.Subscription.CanceledAt)
}

func TestParseEvent_InvoiceStatusFollowsKind(t *testing.T) {
	adapter := newTestAdapter(t, "", time.Now())
	cases := map[string]paymentdomain.InvoiceStatus{
		"invoice.paid":              paymentdomain.InvoiceStatusPaid,
		"invoice.payment_succeeded": paymentdomain.InvoiceStatusPaid,
		"invoice.payment_failed":    paymentdomain.InvoiceStatusPaymentFailed,
		"invoice.created":           paymentdomain.InvoiceStatusOpen,
	}
	for eventType, want := range cases {
		payload := []byte(fmt.Sprintf(`{"id":"evt","type":%q,"created":1,
			"data":{"object":{"id":"in_1","subscription":"sub_1","customer":"cus_1","amount_due":1000,"currency":"usd","status":"open"}}}`, eventType))
		event, err := adapter.ParseEvent(context.Background(), payload)
		require.NoError(t, err, eventType)
		assert.Equal(t, want, event.Invoice.Status, eventType)
		assert.Equal(t, "USD", event.Invoice.Currency)
	}
}

func TestParseEvent_PaymentMethod(t *testing.T) {
	adapter := newTestAdapter(t, "", time.Now())
	payload := []byte(`{"id":"evt_pm","type":"payment_method.attached","created":1,
		"data":{"object":{"id":"pm_1","customer":"cus_1","type":"card","card":{"brand":"visa","last4":"4242","exp_month":12,"exp_year":2030}}}}`)

	event, err := adapter.ParseEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindPaymentMethodAttached, event.Kind)
	assert.Equal(t, "4242", event.PaymentMethod.Last4)
	assert.Equal(t, paymentdomain.PaymentMethodCard, event.PaymentMethod.Type)
}

func TestParseEvent_UnknownTypeIsUnrecognized(t *testing.T) {
	adapter := newTestAdapter(t, "", time.Now())
	event, err := adapter.ParseEvent(context.Background(), []byte(`{"id":"evt_x","type":"charge.dispute.created","created":1,"data":{"object":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindUnrecognized, event.Kind)
	assert.Nil(t, event.Invoice)
}

func TestParseEvent_Malformed(t *testing.T) {
	adapter := newTestAdapter(t, "", time.Now())

	_, err := adapter.ParseEvent(context.Background(), []byte(`not json`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = adapter.ParseEvent(context.Background(), []byte(`{"type":"invoice.paid"}`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Envelope([]byte(`{"id":"evt_1"}`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestCreateCustomer_SendsIdempotencyKey(t *testing.T) {
	var keys []string
	var gotAuth string
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		_, _ = w.Write([]byte(`{"id":"cus_123","email":"a@example.com"}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, time.Now())
	customer, err := adapter.CreateCustomer(context.Background(), paymentdomain.CreateCustomerRequest{
		RequestID: "req-1",
		OrgID:     42,
		Email:     "a@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", customer.ProviderCustomerID)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "42", gotForm.Get("metadata[org_id]"))

	_, err = adapter.CreateCustomer(context.Background(), paymentdomain.CreateCustomerRequest{RequestID: "req-1", OrgID: 42})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
}

func TestProviderErrorsAreNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, time.Now())
	_, err := adapter.ChargeInvoice(context.Background(), paymentdomain.ChargeInvoiceRequest{RequestID: "r", ProviderInvoiceID: "in_1"})

	var perr *paymentdomain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "card_declined", perr.Code)
	assert.Equal(t, http.StatusPaymentRequired, perr.StatusCode)
	assert.False(t, perr.Retryable)
}

func TestServerErrorsAreRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, time.Now())
	_, err := adapter.CancelSubscription(context.Background(), paymentdomain.CancelSubscriptionRequest{RequestID: "r", ProviderSubscriptionID: "sub_1"})
	assert.True(t, paymentdomain.IsRetryable(err))
}
