package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

// RequestID fields double as the provider idempotency key source; callers
// pass the Idempotency-Key header through so retries reuse it.

type CreateCustomerRequest struct {
	OrgID     snowflake.ID `json:"-" validate:"required"`
	RequestID string       `json:"-"`
	Email     string       `json:"email" validate:"required,email"`
	Country   string       `json:"country,omitempty" validate:"omitempty,len=2"`
	Locale    string       `json:"locale,omitempty" validate:"omitempty,max=35"`
}

type CreateSubscriptionRequest struct {
	OrgID     snowflake.ID `json:"-" validate:"required"`
	RequestID string       `json:"-"`
	PlanCode  string       `json:"plan_code" validate:"required,max=100"`
	TrialDays int          `json:"trial_days,omitempty" validate:"gte=0,lte=730"`
}

type CancelSubscriptionRequest struct {
	OrgID          snowflake.ID `json:"-" validate:"required"`
	RequestID      string       `json:"-"`
	SubscriptionID snowflake.ID `json:"-" validate:"required"`
	AtPeriodEnd    bool         `json:"at_period_end"`
}

type ResumeSubscriptionRequest struct {
	OrgID          snowflake.ID `json:"-" validate:"required"`
	RequestID      string       `json:"-"`
	SubscriptionID snowflake.ID `json:"-" validate:"required"`
}

type AddPaymentMethodRequest struct {
	OrgID       snowflake.ID `json:"-" validate:"required"`
	RequestID   string       `json:"-"`
	Token       string       `json:"token" validate:"required,max=255"`
	MakeDefault bool         `json:"make_default"`
}

type DetachPaymentMethodRequest struct {
	OrgID           snowflake.ID `json:"-" validate:"required"`
	RequestID       string       `json:"-"`
	PaymentMethodID snowflake.ID `json:"-" validate:"required"`
}

type PayInvoiceRequest struct {
	OrgID           snowflake.ID `json:"-" validate:"required"`
	RequestID       string       `json:"-"`
	InvoiceID       snowflake.ID `json:"-" validate:"required"`
	PaymentMethodID string       `json:"payment_method_id,omitempty"`
}

type RefundRequest struct {
	OrgID     snowflake.ID `json:"-" validate:"required"`
	RequestID string       `json:"-"`
	InvoiceID snowflake.ID `json:"invoice_id" validate:"required"`
	Amount    int64        `json:"amount,omitempty" validate:"gte=0"`
	Reason    string       `json:"reason,omitempty" validate:"omitempty,max=255"`
}

type ListInvoicesRequest struct {
	OrgID     snowflake.ID                `validate:"required"`
	Status    paymentdomain.InvoiceStatus `validate:"omitempty,oneof=open paid payment_failed void"`
	PageSize  int                         `validate:"gte=0,lte=200"`
	PageToken string
}

type ListInvoicesResponse struct {
	Invoices      []*Invoice `json:"invoices"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

// Service is the outbound billing API. Provider results are folded in
// through the reconciler; webhooks stay the source of truth.
type Service interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	CancelSubscription(ctx context.Context, req CancelSubscriptionRequest) (*Subscription, error)
	ResumeSubscription(ctx context.Context, req ResumeSubscriptionRequest) (*Subscription, error)
	ListSubscriptions(ctx context.Context, orgID snowflake.ID) ([]*Subscription, error)
	AddPaymentMethod(ctx context.Context, req AddPaymentMethodRequest) (*PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, orgID, paymentMethodID snowflake.ID) (*PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, req DetachPaymentMethodRequest) error
	ListPaymentMethods(ctx context.Context, orgID snowflake.ID) ([]*PaymentMethod, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) (*ListInvoicesResponse, error)
	PayInvoice(ctx context.Context, req PayInvoiceRequest) (*Invoice, error)
	Refund(ctx context.Context, req RefundRequest) (*paymentdomain.RefundData, error)
	ListPlans(ctx context.Context) []Plan
}
