package domain

import "errors"

var (
	ErrInvalidTransition        = errors.New("invalid_transition")
	ErrVersionConflict          = errors.New("version_conflict")
	ErrInvalidOrganization      = errors.New("invalid_organization")
	ErrInvalidRequest           = errors.New("invalid_request")
	ErrCustomerNotFound         = errors.New("customer_not_found")
	ErrSubscriptionNotFound     = errors.New("subscription_not_found")
	ErrInvoiceNotFound          = errors.New("invoice_not_found")
	ErrPaymentMethodNotFound    = errors.New("payment_method_not_found")
	ErrPlanNotFound             = errors.New("plan_not_found")
	ErrPriceNotMapped           = errors.New("plan_price_not_mapped")
	ErrActiveSubscriptionExists = errors.New("active_subscription_exists")
)
