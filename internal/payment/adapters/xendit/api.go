package xendit

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

func (a *Adapter) authorize(req *http.Request) {
	req.SetBasicAuth(a.apiKey, "")
}

func (a *Adapter) call(ctx context.Context, operation, path, requestID string, body any, out any) error {
	req := adapters.Request{
		Operation:   operation,
		Method:      http.MethodPost,
		Path:        path,
		ContentType: "application/json",
		Authorize:   a.authorize,
	}
	if body != nil {
		reader, err := adapters.JSONBody(body)
		if err != nil {
			return err
		}
		req.Body = reader
	}
	if requestID != "" {
		req.IdempotencyKey = adapters.IdempotencyKey(ProviderName, operation, requestID)
	}
	return a.transport.Do(ctx, req, out)
}

func (a *Adapter) CreateCustomer(ctx context.Context, req paymentdomain.CreateCustomerRequest) (*paymentdomain.CustomerData, error) {
	body := map[string]any{
		"reference_id": "org_" + req.OrgID.String() + "_" + req.RequestID,
		"type":         "INDIVIDUAL",
		"email":        req.Email,
		"individual_detail": map[string]any{
			"given_names": strings.SplitN(req.Email, "@", 2)[0],
			"nationality": req.Country,
		},
	}

	var out struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := a.call(ctx, "create_customer", "/customers", req.RequestID, body, &out); err != nil {
		return nil, err
	}
	return &paymentdomain.CustomerData{
		OrgID:              req.OrgID,
		ProviderCustomerID: out.ID,
		Email:              out.Email,
		Country:            req.Country,
		Locale:             req.Locale,
	}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.SubscriptionData, error) {
	if !a.caps.SupportsCurrency(req.Currency) {
		return nil, paymentdomain.ErrUnsupportedTransaction
	}
	body := map[string]any{
		"reference_id":     req.RequestID,
		"customer_id":      req.ProviderCustomerID,
		"recurring_action": "PAYMENT",
		"currency":         strings.ToUpper(req.Currency),
		"amount":           majorUnits(req.Amount, req.Currency),
		"schedule": map[string]any{
			"reference_id":   req.RequestID,
			"interval":       strings.ToUpper(string(req.Interval)),
			"interval_count": 1,
		},
		"metadata": map[string]string{
			"plan_code":    req.PlanCode,
			"product_tier": req.ProductTier,
		},
	}

	var out xenditPlan
	if err := a.call(ctx, "create_subscription", "/recurring/plans", req.RequestID, body, &out); err != nil {
		return nil, err
	}
	return mapPlan(out)
}

// CancelSubscription deactivates the plan immediately. Xendit has no
// period-end cancellation.
func (a *Adapter) CancelSubscription(ctx context.Context, req paymentdomain.CancelSubscriptionRequest) (*paymentdomain.SubscriptionData, error) {
	path := "/recurring/plans/" + url.PathEscape(req.ProviderSubscriptionID) + "/deactivate"

	var out xenditPlan
	if err := a.call(ctx, "cancel_subscription", path, req.RequestID, nil, &out); err != nil {
		return nil, err
	}
	data, err := mapPlan(out)
	if err != nil {
		return nil, err
	}
	data.Status = paymentdomain.SubscriptionStatusCanceled
	return data, nil
}

// ResumeSubscription is unsupported: inactivated plans cannot be reactivated.
func (a *Adapter) ResumeSubscription(ctx context.Context, req paymentdomain.ResumeSubscriptionRequest) (*paymentdomain.SubscriptionData, error) {
	return nil, paymentdomain.ErrUnsupportedTransaction
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, req paymentdomain.AttachPaymentMethodRequest) (*paymentdomain.PaymentMethodData, error) {
	body := map[string]any{
		"type":        "CARD",
		"reusability": "MULTIPLE_USE",
		"customer_id": req.ProviderCustomerID,
		"card": map[string]any{
			"token_id": req.Token,
		},
	}

	var out xenditPaymentMethod
	if err := a.call(ctx, "attach_payment_method", "/v2/payment_methods", req.RequestID, body, &out); err != nil {
		return nil, err
	}
	return mapPaymentMethod(out)
}

func (a *Adapter) DetachPaymentMethod(ctx context.Context, req paymentdomain.DetachPaymentMethodRequest) error {
	path := "/v2/payment_methods/" + url.PathEscape(req.ProviderPaymentMethodID) + "/expire"
	return a.call(ctx, "detach_payment_method", path, req.RequestID, nil, nil)
}

func (a *Adapter) ChargeInvoice(ctx context.Context, req paymentdomain.ChargeInvoiceRequest) (*paymentdomain.InvoiceData, error) {
	return nil, paymentdomain.ErrUnsupportedTransaction
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundData, error) {
	return nil, paymentdomain.ErrUnsupportedTransaction
}
