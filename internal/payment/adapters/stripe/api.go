package stripe

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

const formContentType = "application/x-www-form-urlencoded"

func (a *Adapter) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
}

func (a *Adapter) call(ctx context.Context, operation, method, path, requestID string, form url.Values, out any) error {
	if a.apiKey == "" {
		return &paymentdomain.ProviderError{
			Provider:  ProviderName,
			Operation: operation,
			Code:      "missing_api_key",
			Err:       paymentdomain.ErrInvalidConfig,
		}
	}
	req := adapters.Request{
		Operation: operation,
		Method:    method,
		Path:      path,
		Authorize: a.authorize,
	}
	if form != nil {
		req.Body = strings.NewReader(form.Encode())
		req.ContentType = formContentType
	}
	if requestID != "" && method != http.MethodGet {
		req.IdempotencyKey = adapters.IdempotencyKey(ProviderName, operation, requestID)
	}
	return a.transport.Do(ctx, req, out)
}

func (a *Adapter) CreateCustomer(ctx context.Context, req paymentdomain.CreateCustomerRequest) (*paymentdomain.CustomerData, error) {
	form := url.Values{}
	form.Set("email", req.Email)
	form.Set("metadata[org_id]", req.OrgID.String())
	if req.Country != "" {
		form.Set("address[country]", req.Country)
	}
	if req.Locale != "" {
		form.Set("preferred_locales[0]", req.Locale)
	}

	var out stripeCustomer
	if err := a.call(ctx, "create_customer", http.MethodPost, "/v1/customers", req.RequestID, form, &out); err != nil {
		return nil, err
	}
	data := &paymentdomain.CustomerData{
		OrgID:              req.OrgID,
		ProviderCustomerID: out.ID,
		Email:              out.Email,
		Country:            req.Country,
		Locale:             req.Locale,
	}
	return data, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.SubscriptionData, error) {
	if req.ProviderPriceID == "" {
		return nil, &paymentdomain.ProviderError{
			Provider:  ProviderName,
			Operation: "create_subscription",
			Code:      "missing_price",
			Message:   "plan " + req.PlanCode + " has no stripe price",
		}
	}
	form := url.Values{}
	form.Set("customer", req.ProviderCustomerID)
	form.Set("items[0][price]", req.ProviderPriceID)
	form.Set("metadata[plan_code]", req.PlanCode)
	form.Set("metadata[product_tier]", req.ProductTier)
	if req.TrialDays > 0 {
		form.Set("trial_period_days", strconv.Itoa(req.TrialDays))
	}
	return a.subscriptionCall(ctx, "create_subscription", http.MethodPost, "/v1/subscriptions", req.RequestID, form)
}

func (a *Adapter) CancelSubscription(ctx context.Context, req paymentdomain.CancelSubscriptionRequest) (*paymentdomain.SubscriptionData, error) {
	path := "/v1/subscriptions/" + url.PathEscape(req.ProviderSubscriptionID)
	if req.AtPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		return a.subscriptionCall(ctx, "cancel_subscription", http.MethodPost, path, req.RequestID, form)
	}
	return a.subscriptionCall(ctx, "cancel_subscription", http.MethodDelete, path, req.RequestID, nil)
}

func (a *Adapter) ResumeSubscription(ctx context.Context, req paymentdomain.ResumeSubscriptionRequest) (*paymentdomain.SubscriptionData, error) {
	form := url.Values{}
	form.Set("cancel_at_period_end", "false")
	path := "/v1/subscriptions/" + url.PathEscape(req.ProviderSubscriptionID)
	return a.subscriptionCall(ctx, "resume_subscription", http.MethodPost, path, req.RequestID, form)
}

func (a *Adapter) subscriptionCall(ctx context.Context, operation, method, path, requestID string, form url.Values) (*paymentdomain.SubscriptionData, error) {
	var out stripeSubscription
	if err := a.call(ctx, operation, method, path, requestID, form, &out); err != nil {
		return nil, err
	}
	return mapSubscription(out)
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, req paymentdomain.AttachPaymentMethodRequest) (*paymentdomain.PaymentMethodData, error) {
	form := url.Values{}
	form.Set("customer", req.ProviderCustomerID)
	path := "/v1/payment_methods/" + url.PathEscape(req.Token) + "/attach"

	var out stripePaymentMethod
	if err := a.call(ctx, "attach_payment_method", http.MethodPost, path, req.RequestID, form, &out); err != nil {
		return nil, err
	}
	return mapPaymentMethod(out)
}

func (a *Adapter) DetachPaymentMethod(ctx context.Context, req paymentdomain.DetachPaymentMethodRequest) error {
	path := "/v1/payment_methods/" + url.PathEscape(req.ProviderPaymentMethodID) + "/detach"
	return a.call(ctx, "detach_payment_method", http.MethodPost, path, req.RequestID, url.Values{}, nil)
}

func (a *Adapter) ChargeInvoice(ctx context.Context, req paymentdomain.ChargeInvoiceRequest) (*paymentdomain.InvoiceData, error) {
	form := url.Values{}
	if req.ProviderPaymentMethodID != "" {
		form.Set("payment_method", req.ProviderPaymentMethodID)
	}
	path := "/v1/invoices/" + url.PathEscape(req.ProviderInvoiceID) + "/pay"

	var out stripeInvoice
	if err := a.call(ctx, "charge_invoice", http.MethodPost, path, req.RequestID, form, &out); err != nil {
		return nil, err
	}
	return mapInvoice(out, paymentdomain.KindInvoiceCreated)
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundData, error) {
	var invoice struct {
		ID            string `json:"id"`
		Currency      string `json:"currency"`
		PaymentIntent string `json:"payment_intent"`
	}
	path := "/v1/invoices/" + url.PathEscape(req.ProviderInvoiceID)
	if err := a.call(ctx, "get_invoice", http.MethodGet, path, "", nil, &invoice); err != nil {
		return nil, err
	}
	if invoice.PaymentIntent == "" {
		return nil, &paymentdomain.ProviderError{
			Provider:  ProviderName,
			Operation: "refund",
			Code:      "invoice_not_charged",
			Message:   "invoice has no payment to refund",
		}
	}

	form := url.Values{}
	form.Set("payment_intent", invoice.PaymentIntent)
	if req.Amount > 0 {
		form.Set("amount", strconv.FormatInt(req.Amount, 10))
	}
	if req.Reason != "" {
		form.Set("reason", req.Reason)
	}
	form.Set("metadata[invoice_id]", req.ProviderInvoiceID)

	var out struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Status   string `json:"status"`
	}
	if err := a.call(ctx, "refund", http.MethodPost, "/v1/refunds", req.RequestID, form, &out); err != nil {
		return nil, err
	}
	return &paymentdomain.RefundData{
		ProviderRefundID:  out.ID,
		ProviderInvoiceID: req.ProviderInvoiceID,
		Amount:            out.Amount,
		Currency:          strings.ToUpper(out.Currency),
		Status:            out.Status,
	}, nil
}
