package stripe

import (
	"context"
	"encoding/json"
	"strings"

	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID        string `json:"id"`
				LookupKey string `json:"lookup_key"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
	AmountDue    int64  `json:"amount_due"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
}

type stripePaymentMethod struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Type     string `json:"type"`
	Card     *struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type stripeCustomer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Address *struct {
		Country string `json:"country"`
	} `json:"address"`
	PreferredLocales []string `json:"preferred_locales"`
}

var eventKinds = map[string]paymentdomain.EventKind{
	"customer.subscription.created": paymentdomain.KindSubscriptionCreated,
	"customer.subscription.updated": paymentdomain.KindSubscriptionUpdated,
	"customer.subscription.deleted": paymentdomain.KindSubscriptionCanceled,
	"invoice.created":               paymentdomain.KindInvoiceCreated,
	"invoice.finalized":             paymentdomain.KindInvoiceCreated,
	"invoice.paid":                  paymentdomain.KindInvoicePaid,
	"invoice.payment_succeeded":     paymentdomain.KindInvoicePaid,
	"invoice.payment_failed":        paymentdomain.KindInvoicePaymentFailed,
	"payment_method.attached":       paymentdomain.KindPaymentMethodAttached,
	"payment_method.detached":       paymentdomain.KindPaymentMethodDetached,
	"customer.created":              paymentdomain.KindCustomerCreated,
	"customer.updated":              paymentdomain.KindCustomerUpdated,
	"customer.deleted":              paymentdomain.KindCustomerDeleted,
}

func (a *Adapter) Envelope(payload []byte) (paymentdomain.EventEnvelope, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return paymentdomain.EventEnvelope{}, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return paymentdomain.EventEnvelope{}, paymentdomain.ErrInvalidEvent
	}
	return paymentdomain.EventEnvelope{
		ProviderEventID: event.ID,
		ProviderType:    event.Type,
		OccurredAt:      timestamp(event.Created, 0),
	}, nil
}

func (a *Adapter) ParseEvent(ctx context.Context, payload []byte) (*paymentdomain.CanonicalEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.CanonicalEvent{
		Provider:        ProviderName,
		ProviderEventID: event.ID,
		ProviderType:    event.Type,
		Kind:            paymentdomain.KindUnrecognized,
		OrgID:           a.orgID,
		OccurredAt:      timestamp(event.Created, 0),
	}

	kind, ok := eventKinds[event.Type]
	if !ok {
		return out, nil
	}
	if len(event.Data.Object) == 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}
	out.Kind = kind

	var err error
	switch kind.Entity() {
	case "subscription":
		out.Subscription, err = parseSubscription(event.Data.Object)
		if err == nil && kind == paymentdomain.KindSubscriptionCanceled {
			out.Subscription.Status = paymentdomain.SubscriptionStatusCanceled
		}
	case "invoice":
		out.Invoice, err = parseInvoice(event.Data.Object, kind)
	case "payment_method":
		out.PaymentMethod, err = parsePaymentMethod(event.Data.Object)
	case "customer":
		out.Customer, err = parseCustomer(event.Data.Object)
		if err == nil {
			out.Customer.OrgID = a.orgID
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseSubscription(raw json.RawMessage) (*paymentdomain.SubscriptionData, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return mapSubscription(sub)
}

func mapSubscription(sub stripeSubscription) (*paymentdomain.SubscriptionData, error) {
	if sub.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	status, ok := subscriptionStatus(sub.Status)
	if !ok {
		return nil, paymentdomain.ErrInvalidEvent
	}

	data := &paymentdomain.SubscriptionData{
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     sub.Customer,
		PlanCode:               sub.Metadata["plan_code"],
		ProductTier:            sub.Metadata["product_tier"],
		Status:                 status,
		CurrentPeriodStart:     timestamp(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:       timestamp(sub.CurrentPeriodEnd, 0),
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		// newer API versions moved billing periods onto subscription items
		data.CurrentPeriodStart = timestamp(sub.CurrentPeriodStart, item.CurrentPeriodStart)
		data.CurrentPeriodEnd = timestamp(sub.CurrentPeriodEnd, item.CurrentPeriodEnd)
		if data.PlanCode == "" {
			data.PlanCode = item.Price.LookupKey
		}
		if item.Price.Recurring != nil {
			data.Interval = paymentdomain.BillingInterval(item.Price.Recurring.Interval)
		}
	}
	if sub.CanceledAt > 0 {
		canceledAt := timestamp(sub.CanceledAt, 0)
		data.CanceledAt = &canceledAt
	}
	return data, nil
}

func subscriptionStatus(status string) (paymentdomain.SubscriptionStatus, bool) {
	switch status {
	case "trialing":
		return paymentdomain.SubscriptionStatusTrialing, true
	case "active":
		return paymentdomain.SubscriptionStatusActive, true
	case "past_due", "unpaid", "incomplete", "paused":
		return paymentdomain.SubscriptionStatusPastDue, true
	case "canceled", "incomplete_expired":
		return paymentdomain.SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

func parseInvoice(raw json.RawMessage, kind paymentdomain.EventKind) (*paymentdomain.InvoiceData, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return mapInvoice(inv, kind)
}

func mapInvoice(inv stripeInvoice, kind paymentdomain.EventKind) (*paymentdomain.InvoiceData, error) {
	if inv.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	data := &paymentdomain.InvoiceData{
		ProviderInvoiceID:      inv.ID,
		ProviderSubscriptionID: inv.Subscription,
		ProviderCustomerID:     inv.Customer,
		AmountDue:              inv.AmountDue,
		AmountPaid:             inv.AmountPaid,
		Currency:               strings.ToUpper(inv.Currency),
		AttemptCount:           inv.AttemptCount,
	}
	switch kind {
	case paymentdomain.KindInvoicePaid:
		data.Status = paymentdomain.InvoiceStatusPaid
	case paymentdomain.KindInvoicePaymentFailed:
		data.Status = paymentdomain.InvoiceStatusPaymentFailed
	default:
		data.Status = invoiceStatus(inv.Status)
	}
	return data, nil
}

func invoiceStatus(status string) paymentdomain.InvoiceStatus {
	switch status {
	case "paid":
		return paymentdomain.InvoiceStatusPaid
	case "void", "uncollectible":
		return paymentdomain.InvoiceStatusVoid
	default:
		return paymentdomain.InvoiceStatusOpen
	}
}

func parsePaymentMethod(raw json.RawMessage) (*paymentdomain.PaymentMethodData, error) {
	var pm stripePaymentMethod
	if err := json.Unmarshal(raw, &pm); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return mapPaymentMethod(pm)
}

func mapPaymentMethod(pm stripePaymentMethod) (*paymentdomain.PaymentMethodData, error) {
	if pm.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	data := &paymentdomain.PaymentMethodData{
		ProviderPaymentMethodID: pm.ID,
		ProviderCustomerID:      pm.Customer,
		Type:                    paymentMethodType(pm.Type),
	}
	if pm.Card != nil {
		data.Brand = pm.Card.Brand
		data.Last4 = pm.Card.Last4
		data.ExpMonth = pm.Card.ExpMonth
		data.ExpYear = pm.Card.ExpYear
	}
	return data, nil
}

func paymentMethodType(t string) paymentdomain.PaymentMethodType {
	switch t {
	case "card":
		return paymentdomain.PaymentMethodCard
	case "us_bank_account", "sepa_debit", "bacs_debit", "au_becs_debit", "acss_debit":
		return paymentdomain.PaymentMethodBank
	default:
		return paymentdomain.PaymentMethodWallet
	}
}

func parseCustomer(raw json.RawMessage) (*paymentdomain.CustomerData, error) {
	var cust stripeCustomer
	if err := json.Unmarshal(raw, &cust); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if cust.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	data := &paymentdomain.CustomerData{
		ProviderCustomerID: cust.ID,
		Email:              cust.Email,
	}
	if cust.Address != nil {
		data.Country = cust.Address.Country
	}
	if len(cust.PreferredLocales) > 0 {
		data.Locale = cust.PreferredLocales[0]
	}
	return data, nil
}
