// Package domain holds the internal billing state. Every row carries the
// provider event time it reflects and an optimistic version counter.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

type Customer struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID              snowflake.ID `json:"org_id" gorm:"not null;index"`
	Provider           string       `json:"provider" gorm:"type:varchar(50);not null;uniqueIndex:ux_customers_provider_ref"`
	ProviderCustomerID string       `json:"provider_customer_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_customers_provider_ref"`
	Email              string       `json:"email" gorm:"type:varchar(320)"`
	Country            string       `json:"country,omitempty" gorm:"type:varchar(2)"`
	Locale             string       `json:"locale,omitempty" gorm:"type:varchar(35)"`
	Deleted            bool         `json:"deleted" gorm:"not null;default:false"`
	EventTime          time.Time    `json:"event_time"`
	Version            int64        `json:"version" gorm:"not null;default:1"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// PaymentMethod references a provider token; raw instrument data is never stored.
type PaymentMethod struct {
	ID                      snowflake.ID                    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID                   snowflake.ID                    `json:"org_id" gorm:"not null;index:ix_payment_methods_org_provider"`
	Provider                string                          `json:"provider" gorm:"type:varchar(50);not null;index:ix_payment_methods_org_provider;uniqueIndex:ux_payment_methods_provider_ref"`
	ProviderPaymentMethodID string                          `json:"provider_payment_method_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_methods_provider_ref"`
	ProviderCustomerID      string                          `json:"provider_customer_id" gorm:"type:varchar(255)"`
	Type                    paymentdomain.PaymentMethodType `json:"type" gorm:"type:varchar(20);not null"`
	Brand                   string                          `json:"brand,omitempty" gorm:"type:varchar(50)"`
	Last4                   string                          `json:"last4,omitempty" gorm:"type:varchar(4)"`
	ExpMonth                int                             `json:"exp_month,omitempty"`
	ExpYear                 int                             `json:"exp_year,omitempty"`
	IsDefault               bool                            `json:"is_default" gorm:"not null;default:false"`
	Detached                bool                            `json:"detached" gorm:"not null;default:false"`
	AttachedAt              time.Time                       `json:"attached_at"`
	EventTime               time.Time                       `json:"event_time"`
	Version                 int64                           `json:"version" gorm:"not null;default:1"`
	CreatedAt               time.Time                       `json:"created_at"`
	UpdatedAt               time.Time                       `json:"updated_at"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

type Subscription struct {
	ID                     snowflake.ID                     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID                  snowflake.ID                     `json:"org_id" gorm:"not null;index:ix_subscriptions_org_tier"`
	Provider               string                           `json:"provider" gorm:"type:varchar(50);not null;uniqueIndex:ux_subscriptions_provider_ref"`
	ProviderSubscriptionID string                           `json:"provider_subscription_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_subscriptions_provider_ref"`
	ProviderCustomerID     string                           `json:"provider_customer_id" gorm:"type:varchar(255)"`
	PlanCode               string                           `json:"plan_code" gorm:"type:varchar(100)"`
	ProductTier            string                           `json:"product_tier" gorm:"type:varchar(100);index:ix_subscriptions_org_tier"`
	Interval               paymentdomain.BillingInterval    `json:"interval" gorm:"type:varchar(10)"`
	Status                 paymentdomain.SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null"`
	CurrentPeriodStart     time.Time                        `json:"current_period_start"`
	CurrentPeriodEnd       time.Time                        `json:"current_period_end"`
	CanceledAt             *time.Time                       `json:"canceled_at,omitempty"`
	EventTime              time.Time                        `json:"event_time"`
	Version                int64                            `json:"version" gorm:"not null;default:1"`
	CreatedAt              time.Time                        `json:"created_at"`
	UpdatedAt              time.Time                        `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Live reports whether the subscription counts toward the one-per-tier limit.
func (s Subscription) Live() bool {
	return s.Status == paymentdomain.SubscriptionStatusActive || s.Status == paymentdomain.SubscriptionStatusTrialing
}

type Invoice struct {
	ID                     snowflake.ID                `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID                  snowflake.ID                `json:"org_id" gorm:"not null;index"`
	Provider               string                      `json:"provider" gorm:"type:varchar(50);not null;uniqueIndex:ux_invoices_provider_ref"`
	ProviderInvoiceID      string                      `json:"provider_invoice_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_invoices_provider_ref"`
	ProviderSubscriptionID string                      `json:"provider_subscription_id" gorm:"type:varchar(255);index"`
	ProviderCustomerID     string                      `json:"provider_customer_id" gorm:"type:varchar(255)"`
	AmountDue              int64                       `json:"amount_due" gorm:"not null"`
	AmountPaid             int64                       `json:"amount_paid" gorm:"not null"`
	Currency               string                      `json:"currency" gorm:"type:varchar(3);not null"`
	Status                 paymentdomain.InvoiceStatus `json:"status" gorm:"type:varchar(20);not null"`
	AttemptCount           int                         `json:"attempt_count"`
	PaidAt                 *time.Time                  `json:"paid_at,omitempty"`
	FailedAt               *time.Time                  `json:"failed_at,omitempty"`
	EventTime              time.Time                   `json:"event_time"`
	Version                int64                       `json:"version" gorm:"not null;default:1"`
	CreatedAt              time.Time                   `json:"created_at"`
	UpdatedAt              time.Time                   `json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// Conflict is an event that contradicts stored state. Conflicts are kept
// for manual review and never retried.
type Conflict struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID           snowflake.ID `json:"org_id" gorm:"not null;index"`
	Provider        string       `json:"provider" gorm:"type:varchar(50);not null"`
	Entity          string       `json:"entity" gorm:"type:varchar(30);not null"`
	EntityKey       string       `json:"entity_key" gorm:"type:varchar(255);not null"`
	ProviderEventID string       `json:"provider_event_id" gorm:"type:varchar(255);not null;index"`
	StoredStatus    string       `json:"stored_status" gorm:"type:varchar(30)"`
	IncomingStatus  string       `json:"incoming_status" gorm:"type:varchar(30)"`
	Reason          string       `json:"reason" gorm:"type:text;not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
}

func (Conflict) TableName() string { return "billing_conflicts" }

// Plan is a catalog entry loaded from configuration.
type Plan struct {
	Code           string                        `json:"code"`
	Name           string                        `json:"name"`
	ProductTier    string                        `json:"product_tier"`
	Interval       paymentdomain.BillingInterval `json:"interval"`
	Amount         int64                         `json:"amount"`
	Currency       string                        `json:"currency"`
	ProviderPrices map[string]string             `json:"provider_prices,omitempty"`
}
