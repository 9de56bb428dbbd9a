package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"github.com/railzwaylabs/paygate/internal/tiersync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) CreateCustomer(ctx context.Context, req billingdomain.CreateCustomerRequest) (*billingdomain.Customer, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*billingdomain.Customer)
	return out, args.Error(1)
}

func (m *MockBillingService) CreateSubscription(ctx context.Context, req billingdomain.CreateSubscriptionRequest) (*billingdomain.Subscription, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*billingdomain.Subscription)
	return out, args.Error(1)
}

func (m *MockBillingService) CancelSubscription(ctx context.Context, req billingdomain.CancelSubscriptionRequest) (*billingdomain.Subscription, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*billingdomain.Subscription)
	return out, args.Error(1)
}

func (m *MockBillingService) ResumeSubscription(ctx context.Context, req billingdomain.ResumeSubscriptionRequest) (*billingdomain.Subscription, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*billingdomain.Subscription)
	return out, args.Error(1)
}

func (m *MockBillingService) ListSubscriptions(ctx context.Context, orgID snowflake.ID) ([]*billingdomain.Subscription, error) {
	args := m.Called(ctx, orgID)
	out, _ := args.Get(0).([]*billingdomain.Subscription)
	return out, args.Error(1)
}

func (m *MockBillingService) AddPaymentMethod(ctx context.Context, req billingdomain.AddPaymentMethodRequest) (*billingdomain.PaymentMethod, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*billingdomain.PaymentMethod)
	return out, args.Error(1)
}

func (m *MockBillingService) SetDefaultPaymentMethod(ctx context.Context, orgID, paymentMethodID snowflake.ID) (*billingdomain.PaymentMethod, error) {
	args := m.Called(ctx, orgID, paymentMethodID)
	out, _ := args.Get(0).(*billingdomain.PaymentMethod)
	return out, args.Error(1)
}

func (m *MockBillingService) DetachPaymentMethod(ctx context.Context, req billingdomain.DetachPaymentMethodRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockBillingService) ListPaymentMethods(ctx context.Context, orgID snowflake.ID) ([]*billingdomain.PaymentMethod, error) {
	args := m.Called(ctx, orgID)
	out, _ := args.Get(0).([]*billingdomain.PaymentMethod)
	return out, args.Error(1)
}

func (m *MockBillingService) ListInvoices(ctx context.Context, req billingdomain.ListInvoicesRequest) (*billingdomain.ListInvoicesResponse, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*billingdomain.ListInvoicesResponse)
	return out, args.Error(1)
}

func (m *MockBillingService) PayInvoice(ctx context.Context, req billingdomain.PayInvoiceRequest) (*billingdomain.Invoice, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*billingdomain.Invoice)
	return out, args.Error(1)
}

func (m *MockBillingService) Refund(ctx context.Context, req billingdomain.RefundRequest) (*paymentdomain.RefundData, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*paymentdomain.RefundData)
	return out, args.Error(1)
}

func (m *MockBillingService) ListPlans(ctx context.Context) []billingdomain.Plan {
	out, _ := m.Called(ctx).Get(0).([]billingdomain.Plan)
	return out
}

type fakeWebhooks struct {
	result *paymentdomain.IngestResult
	err    error

	gotProvider string
	gotPayload  []byte
}

func (f *fakeWebhooks) IngestWebhook(_ context.Context, provider string, payload []byte, _ http.Header) (*paymentdomain.IngestResult, error) {
	f.gotProvider = provider
	f.gotPayload = payload
	return f.result, f.err
}

func (f *fakeWebhooks) Replay(_ context.Context, provider, providerEventID string) (*paymentdomain.IngestResult, error) {
	f.gotProvider = provider
	return f.result, f.err
}

type fakeSwitcher struct {
	got router.MigrateRequest
	err error
}

func (f *fakeSwitcher) MigrateProvider(_ context.Context, req router.MigrateRequest) (*paymentdomain.BillingBinding, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &paymentdomain.BillingBinding{OrgID: req.OrgID, Provider: req.Provider, IsActive: true}, nil
}

func (f *fakeSwitcher) SupportingProviders(currency string, _ paymentdomain.PaymentMethodType) []string {
	if currency == "IDR" {
		return []string{"stripe", "xendit"}
	}
	return []string{"stripe"}
}

type testServer struct {
	srv      *Server
	billing  *MockBillingService
	webhooks *fakeWebhooks
	switcher *fakeSwitcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&tiersync.TierChange{}, &tiersync.OrgTier{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tiers := tiersync.New(tiersync.Params{
		Log: zap.NewNop(),
		Cfg: config.Config{}.WithPlans([]config.PlanConfig{
			{Name: "Pro Monthly", ProductTier: "pro", Interval: "month", Amount: 2000, Currency: "USD"},
		}),
		DB:    gdb,
		GenID: node,
		Clock: clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
	})

	ts := &testServer{
		billing:  &MockBillingService{},
		webhooks: &fakeWebhooks{},
		switcher: &fakeSwitcher{},
	}
	ts.srv = &Server{
		log:             zap.NewNop(),
		maxPayloadBytes: 64,
		webhookSvc:      ts.webhooks,
		billingSvc:      ts.billing,
		providerSvc:     ts.switcher,
		tierSvc:         tiers,
		gatherer:        prometheus.NewRegistry(),
	}
	ts.srv.init()
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandleWebhook_Statuses(t *testing.T) {
	cases := []struct {
		name       string
		result     *paymentdomain.IngestResult
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "accepted", result: &paymentdomain.IngestResult{ProviderEventID: "evt_1", Status: paymentdomain.WebhookStatusProcessed}, wantStatus: http.StatusOK, wantBody: "accepted"},
		{name: "duplicate", result: &paymentdomain.IngestResult{ProviderEventID: "evt_1", Duplicate: true}, wantStatus: http.StatusOK, wantBody: "duplicate"},
		{name: "unrecognized", result: &paymentdomain.IngestResult{ProviderEventID: "evt_2", Unrecognized: true}, wantStatus: http.StatusOK, wantBody: "unrecognized"},
		{name: "deferred", result: &paymentdomain.IngestResult{ProviderEventID: "evt_3", Deferred: true}, wantStatus: http.StatusOK, wantBody: "deferred"},
		{name: "bad payload", err: fmt.Errorf("decode: %w", paymentdomain.ErrInvalidPayload), wantStatus: http.StatusBadRequest},
		{name: "bad signature", err: paymentdomain.ErrSignatureInvalid, wantStatus: http.StatusUnauthorized},
		{name: "unknown provider", err: paymentdomain.ErrProviderNotFound, wantStatus: http.StatusNotFound},
		{name: "conflict", err: billingdomain.ErrVersionConflict, wantStatus: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.webhooks.result = tc.result
			ts.webhooks.err = tc.err

			w := ts.do(http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, nil)
			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, "stripe", ts.webhooks.gotProvider)
			if tc.wantBody != "" {
				assert.Equal(t, tc.wantBody, decode(t, w)["status"])
			}
		})
	}
}

func TestHandleWebhook_OversizedBodyIsPassedTruncated(t *testing.T) {
	ts := newTestServer(t)
	ts.webhooks.err = paymentdomain.ErrInvalidPayload

	w := ts.do(http.MethodPost, "/webhooks/stripe", strings.Repeat("x", 500), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, ts.webhooks.gotPayload, 65)
}

func TestReplayWebhook(t *testing.T) {
	ts := newTestServer(t)
	ts.webhooks.result = &paymentdomain.IngestResult{ProviderEventID: "evt_9", Status: paymentdomain.WebhookStatusFailed}
	ts.webhooks.err = fmt.Errorf("reconcile: %w", billingdomain.ErrVersionConflict)

	w := ts.do(http.MethodPost, "/internal/webhooks/stripe/evt_9/replay", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "failed", data["status"])
	assert.NotEmpty(t, data["error"])

	ts.webhooks.result = nil
	ts.webhooks.err = paymentdomain.ErrEventNotReplayable
	w = ts.do(http.MethodPost, "/internal/webhooks/stripe/evt_9/replay", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOrgScope_RejectsInvalidOrg(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/orgs/not-a-number/subscriptions", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.billing.AssertNotCalled(t, "ListSubscriptions", mock.Anything, mock.Anything)
}

func TestCreateSubscription_IdempotencyKeyAndConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.On("CreateSubscription", mock.Anything, billingdomain.CreateSubscriptionRequest{
		OrgID:     42,
		RequestID: "req-abc",
		PlanCode:  "pro-monthly",
	}).Return(nil, billingdomain.ErrActiveSubscriptionExists).Once()

	w := ts.do(http.MethodPost, "/api/orgs/42/subscriptions", `{"plan_code":" pro-monthly "}`,
		map[string]string{"Idempotency-Key": "req-abc"})
	assert.Equal(t, http.StatusConflict, w.Code)
	errBody := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, billingdomain.ErrActiveSubscriptionExists.Error(), errBody["code"])
	ts.billing.AssertExpectations(t)
}

func TestRefund_UnsupportedProvider(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.On("Refund", mock.Anything, mock.MatchedBy(func(req billingdomain.RefundRequest) bool {
		return req.OrgID == 42 && req.InvoiceID == 7 && req.Amount == 500
	})).Return(nil, fmt.Errorf("xendit: %w", paymentdomain.ErrUnsupportedTransaction)).Once()

	w := ts.do(http.MethodPost, "/api/orgs/42/refunds", `{"invoice_id":"7","amount":500}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	ts.billing.AssertExpectations(t)
}

func TestProviderErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.On("PayInvoice", mock.Anything, mock.Anything).
		Return(nil, &paymentdomain.ProviderError{Provider: "stripe", Operation: "pay", StatusCode: 503, Retryable: true}).Once()
	ts.billing.On("PayInvoice", mock.Anything, mock.Anything).
		Return(nil, &paymentdomain.ProviderError{Provider: "stripe", Operation: "pay", StatusCode: 402}).Once()

	w := ts.do(http.MethodPost, "/api/orgs/42/invoices/7/pay", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = ts.do(http.MethodPost, "/api/orgs/42/invoices/7/pay", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestListInvoices_Query(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.On("ListInvoices", mock.Anything, billingdomain.ListInvoicesRequest{
		OrgID:     42,
		Status:    paymentdomain.InvoiceStatusOpen,
		PageSize:  10,
		PageToken: "abc",
	}).Return(&billingdomain.ListInvoicesResponse{
		Invoices:      []*billingdomain.Invoice{{ID: 1, OrgID: 42}},
		NextPageToken: "def",
	}, nil).Once()

	w := ts.do(http.MethodGet, "/api/orgs/42/invoices?status=OPEN&page_size=10&page_token=abc", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "def", body["next_page_token"])
	assert.Len(t, body["data"], 1)

	w = ts.do(http.MethodGet, "/api/orgs/42/invoices?page_size=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.billing.AssertExpectations(t)
}

func TestMigrateProvider(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPut, "/api/orgs/42/billing-provider",
		`{"provider":"xendit","config":{"api_key":"k","webhook_secret":"s"},"actor":"ops@example.com","reason":"region"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, snowflake.ID(42), ts.switcher.got.OrgID)
	assert.Equal(t, "xendit", ts.switcher.got.Provider)
	assert.Equal(t, "ops@example.com", ts.switcher.got.Actor)

	ts.switcher.err = paymentdomain.ErrProviderUnchanged
	w = ts.do(http.MethodPut, "/api/orgs/42/billing-provider",
		`{"provider":"xendit","config":{"api_key":"k"},"actor":"ops"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodPut, "/api/orgs/42/billing-provider", `{"provider":"xendit"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListProviders(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/providers?currency=idr&method_type=card", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"stripe", "xendit"}, decode(t, w)["data"])
}

func TestTierEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/internal/tiers", `{"org_id":"42","tier":"pro"}`,
		map[string]string{"Idempotency-Key": "tier-1"})
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, tiersync.DefaultTier, data["previous_tier"])
	assert.Equal(t, "pro", data["new_tier"])

	w = ts.do(http.MethodPost, "/internal/tiers", `{"org_id":"42","tier":"pro","idempotency_key":"tier-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["data"].(map[string]any)["duplicate"])

	w = ts.do(http.MethodPost, "/internal/tiers", `{"org_id":"42","tier":"platinum","idempotency_key":"tier-2"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(http.MethodGet, "/internal/tiers/42", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pro", decode(t, w)["data"].(map[string]any)["tier"])
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
