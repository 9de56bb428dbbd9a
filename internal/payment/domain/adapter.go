package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// Adapter translates between one payment provider and the canonical model.
// Adapters never persist anything.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	// Webhook handling. VerifySignature fails closed with ErrSignatureInvalid.
	VerifySignature(ctx context.Context, payload []byte, headers http.Header) error
	Envelope(payload []byte) (EventEnvelope, error)
	ParseEvent(ctx context.Context, payload []byte) (*CanonicalEvent, error)

	// Outbound operations. Every request carries a RequestID from which the
	// provider idempotency key is derived.
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*CustomerData, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionData, error)
	CancelSubscription(ctx context.Context, req CancelSubscriptionRequest) (*SubscriptionData, error)
	ResumeSubscription(ctx context.Context, req ResumeSubscriptionRequest) (*SubscriptionData, error)
	AttachPaymentMethod(ctx context.Context, req AttachPaymentMethodRequest) (*PaymentMethodData, error)
	DetachPaymentMethod(ctx context.Context, req DetachPaymentMethodRequest) error
	ChargeInvoice(ctx context.Context, req ChargeInvoiceRequest) (*InvoiceData, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundData, error)
}

type AdapterConfig struct {
	OrgID    snowflake.ID
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	Capabilities() Capabilities
	NewAdapter(config AdapterConfig) (Adapter, error)
}

type CreateCustomerRequest struct {
	RequestID string
	OrgID     snowflake.ID
	Email     string
	Country   string
	Locale    string
}

type CreateSubscriptionRequest struct {
	RequestID          string
	ProviderCustomerID string
	ProviderPriceID    string
	PlanCode           string
	ProductTier        string
	Interval           BillingInterval
	Amount             int64
	Currency           string
	TrialDays          int
}

type CancelSubscriptionRequest struct {
	RequestID              string
	ProviderSubscriptionID string
	AtPeriodEnd            bool
}

type ResumeSubscriptionRequest struct {
	RequestID              string
	ProviderSubscriptionID string
}

type AttachPaymentMethodRequest struct {
	RequestID          string
	ProviderCustomerID string
	Token              string
}

type DetachPaymentMethodRequest struct {
	RequestID               string
	ProviderPaymentMethodID string
}

type ChargeInvoiceRequest struct {
	RequestID               string
	ProviderInvoiceID       string
	ProviderPaymentMethodID string
}

type RefundRequest struct {
	RequestID         string
	ProviderInvoiceID string
	Amount            int64
	Reason            string
}
