package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventKind is the closed set of canonical billing occurrences.
type EventKind string

const (
	KindSubscriptionCreated  EventKind = "subscription.created"
	KindSubscriptionUpdated  EventKind = "subscription.updated"
	KindSubscriptionCanceled EventKind = "subscription.canceled"

	KindInvoiceCreated       EventKind = "invoice.created"
	KindInvoicePaid          EventKind = "invoice.paid"
	KindInvoicePaymentFailed EventKind = "invoice.payment_failed"

	KindPaymentMethodAttached EventKind = "payment_method.attached"
	KindPaymentMethodDetached EventKind = "payment_method.detached"

	KindCustomerCreated EventKind = "customer.created"
	KindCustomerUpdated EventKind = "customer.updated"
	KindCustomerDeleted EventKind = "customer.deleted"

	KindUnrecognized EventKind = "unrecognized"
)

func (k EventKind) Entity() string {
	switch k {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionCanceled:
		return "subscription"
	case KindInvoiceCreated, KindInvoicePaid, KindInvoicePaymentFailed:
		return "invoice"
	case KindPaymentMethodAttached, KindPaymentMethodDetached:
		return "payment_method"
	case KindCustomerCreated, KindCustomerUpdated, KindCustomerDeleted:
		return "customer"
	default:
		return "unknown"
	}
}

// EventEnvelope is the minimum an adapter extracts before deduplication.
type EventEnvelope struct {
	ProviderEventID string
	ProviderType    string
	OccurredAt      time.Time
}

// CanonicalEvent is the provider-independent form of a webhook notification.
// Exactly one payload is set, matching Kind; none for KindUnrecognized.
type CanonicalEvent struct {
	Provider        string
	ProviderEventID string
	ProviderType    string
	Kind            EventKind
	OrgID           snowflake.ID
	OccurredAt      time.Time
	// FromAPI marks events synthesized by the billing API, which may carry
	// a zero OccurredAt for entities that do not exist yet.
	FromAPI bool

	Subscription  *SubscriptionData
	Invoice       *InvoiceData
	PaymentMethod *PaymentMethodData
	Customer      *CustomerData
}
