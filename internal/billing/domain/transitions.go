package domain

import paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"

// Outcome is the result of applying one canonical event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeStale   Outcome = "stale"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
)

var subscriptionTransitions = map[paymentdomain.SubscriptionStatus][]paymentdomain.SubscriptionStatus{
	paymentdomain.SubscriptionStatusTrialing: {
		paymentdomain.SubscriptionStatusActive,
		paymentdomain.SubscriptionStatusPastDue,
		paymentdomain.SubscriptionStatusCanceled,
	},
	paymentdomain.SubscriptionStatusActive: {
		paymentdomain.SubscriptionStatusPastDue,
		paymentdomain.SubscriptionStatusCanceled,
	},
	paymentdomain.SubscriptionStatusPastDue: {
		paymentdomain.SubscriptionStatusCanceled,
	},
}

var subscriptionRank = map[paymentdomain.SubscriptionStatus]int{
	paymentdomain.SubscriptionStatusTrialing: 0,
	paymentdomain.SubscriptionStatusActive:   1,
	paymentdomain.SubscriptionStatusPastDue:  2,
	paymentdomain.SubscriptionStatusCanceled: 3,
}

var invoiceTransitions = map[paymentdomain.InvoiceStatus][]paymentdomain.InvoiceStatus{
	paymentdomain.InvoiceStatusOpen: {
		paymentdomain.InvoiceStatusPaid,
		paymentdomain.InvoiceStatusPaymentFailed,
		paymentdomain.InvoiceStatusVoid,
	},
	paymentdomain.InvoiceStatusPaymentFailed: {
		paymentdomain.InvoiceStatusOpen,
		paymentdomain.InvoiceStatusPaid,
		paymentdomain.InvoiceStatusVoid,
	},
}

var invoiceRank = map[paymentdomain.InvoiceStatus]int{
	paymentdomain.InvoiceStatusOpen:          0,
	paymentdomain.InvoiceStatusPaymentFailed: 1,
	paymentdomain.InvoiceStatusPaid:          2,
	paymentdomain.InvoiceStatusVoid:          2,
}

// CanTransitionSubscription reports whether from -> to is allowed. Canceled
// is absorbing.
func CanTransitionSubscription(from, to paymentdomain.SubscriptionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range subscriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionInvoice reports whether from -> to is allowed. Paid and void
// are terminal.
func CanTransitionInvoice(from, to paymentdomain.InvoiceStatus) bool {
	if from == to {
		return true
	}
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func InvoiceTerminal(status paymentdomain.InvoiceStatus) bool {
	return status == paymentdomain.InvoiceStatusPaid || status == paymentdomain.InvoiceStatusVoid
}

// SubscriptionSuperseded reports whether incoming is the opening state of a
// subscription that stored has already moved past. Such an event is a late
// creation, not a contradiction.
func SubscriptionSuperseded(stored, incoming paymentdomain.SubscriptionStatus) bool {
	return subscriptionRank[incoming] == 0 && subscriptionRank[stored] > 0
}

// InvoiceSuperseded is SubscriptionSuperseded for invoices: an open invoice
// reported after it was paid, failed or voided.
func InvoiceSuperseded(stored, incoming paymentdomain.InvoiceStatus) bool {
	return invoiceRank[incoming] == 0 && invoiceRank[stored] > 0
}
