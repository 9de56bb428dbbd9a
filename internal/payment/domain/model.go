package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type InvoiceStatus string

const (
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusPaymentFailed InvoiceStatus = "payment_failed"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

type PaymentMethodType string

const (
	PaymentMethodCard   PaymentMethodType = "card"
	PaymentMethodBank   PaymentMethodType = "bank"
	PaymentMethodWallet PaymentMethodType = "wallet"
)

type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// CustomerData is the provider-agnostic view of a provider customer.
type CustomerData struct {
	OrgID              snowflake.ID
	ProviderCustomerID string
	Email              string
	Country            string
	Locale             string
}

// PaymentMethodData references a tokenized instrument. It never carries raw
// instrument data.
type PaymentMethodData struct {
	ProviderPaymentMethodID string
	ProviderCustomerID      string
	Type                    PaymentMethodType
	Brand                   string
	Last4                   string
	ExpMonth                int
	ExpYear                 int
}

type SubscriptionData struct {
	ProviderSubscriptionID string
	ProviderCustomerID     string
	PlanCode               string
	ProductTier            string
	Interval               BillingInterval
	Status                 SubscriptionStatus
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CanceledAt             *time.Time
}

type InvoiceData struct {
	ProviderInvoiceID      string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	AmountDue              int64
	AmountPaid             int64
	Currency               string
	Status                 InvoiceStatus
	AttemptCount           int
}

type RefundData struct {
	ProviderRefundID  string `json:"provider_refund_id"`
	ProviderInvoiceID string `json:"provider_invoice_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
}
