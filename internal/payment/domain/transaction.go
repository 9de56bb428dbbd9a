package domain

import (
	"slices"
	"strings"
)

// TransactionType tags the kind of money-moving operation for routing and audit.
type TransactionType string

const (
	TransactionCustomerCreate      TransactionType = "customer_create"
	TransactionSubscriptionCreate  TransactionType = "subscription_create"
	TransactionSubscriptionCancel  TransactionType = "subscription_cancel"
	TransactionPaymentMethodAttach TransactionType = "payment_method_attach"
	TransactionPayment             TransactionType = "payment"
	TransactionRefund              TransactionType = "refund"
	TransactionPayout              TransactionType = "payout"
)

// Capabilities describes what a provider adapter can do.
type Capabilities struct {
	Transactions       []TransactionType
	Currencies         []string // "*" matches every currency
	PaymentMethodTypes []PaymentMethodType
}

func (c Capabilities) Supports(t TransactionType) bool {
	return slices.Contains(c.Transactions, t)
}

func (c Capabilities) SupportsCurrency(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, cur := range c.Currencies {
		if cur == "*" || strings.EqualFold(cur, currency) {
			return true
		}
	}
	return false
}

func (c Capabilities) SupportsMethod(t PaymentMethodType) bool {
	return slices.Contains(c.PaymentMethodTypes, t)
}
