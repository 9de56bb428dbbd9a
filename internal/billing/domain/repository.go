package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

type InvoiceFilter struct {
	Status    paymentdomain.InvoiceStatus
	PageSize  int
	PageToken string
}

// Repository persists billing state. Inserts are insert-if-absent on the
// provider reference; updates are conditional on the version the caller read
// and report false when another writer got there first.
type Repository interface {
	FindCustomer(ctx context.Context, provider, providerCustomerID string) (*Customer, error)
	FindCustomerByOrg(ctx context.Context, orgID snowflake.ID, provider string) (*Customer, error)
	InsertCustomer(ctx context.Context, customer *Customer) (bool, error)
	UpdateCustomer(ctx context.Context, customer *Customer, version int64) (bool, error)

	FindSubscription(ctx context.Context, provider, providerSubscriptionID string) (*Subscription, error)
	FindSubscriptionByID(ctx context.Context, orgID, id snowflake.ID) (*Subscription, error)
	FindLiveSubscriptionByTier(ctx context.Context, orgID snowflake.ID, tier string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, orgID snowflake.ID) ([]*Subscription, error)
	InsertSubscription(ctx context.Context, sub *Subscription) (bool, error)
	UpdateSubscription(ctx context.Context, sub *Subscription, version int64) (bool, error)

	FindInvoice(ctx context.Context, provider, providerInvoiceID string) (*Invoice, error)
	FindInvoiceByID(ctx context.Context, orgID, id snowflake.ID) (*Invoice, error)
	ListInvoices(ctx context.Context, orgID snowflake.ID, filter InvoiceFilter) ([]*Invoice, string, error)
	InsertInvoice(ctx context.Context, invoice *Invoice) (bool, error)
	UpdateInvoice(ctx context.Context, invoice *Invoice, version int64) (bool, error)

	FindPaymentMethod(ctx context.Context, provider, providerPaymentMethodID string) (*PaymentMethod, error)
	FindPaymentMethodByID(ctx context.Context, orgID, id snowflake.ID) (*PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, orgID snowflake.ID, provider string) ([]*PaymentMethod, error)
	InsertPaymentMethod(ctx context.Context, pm *PaymentMethod) (bool, error)
	UpdatePaymentMethod(ctx context.Context, pm *PaymentMethod, version int64) (bool, error)
	// EnsureDefault makes the most recently attached method the default when
	// the (org, provider) pair has none.
	EnsureDefault(ctx context.Context, orgID snowflake.ID, provider string) error
	// SetDefault moves the default flag to pm within one transaction.
	SetDefault(ctx context.Context, pm *PaymentMethod, version int64) (bool, error)

	InsertConflict(ctx context.Context, conflict *Conflict) error
}
