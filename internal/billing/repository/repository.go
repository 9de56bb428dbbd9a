package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/billing/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

var errLostRace = errors.New("lost_race")

func first[T any](ctx context.Context, db *gorm.DB, query string, args ...any) (*T, error) {
	var out T
	if err := db.WithContext(ctx).Where(query, args...).First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// updateVersioned writes every column of model if the stored version still
// equals version, bumping it by one.
func updateVersioned(ctx context.Context, tx *gorm.DB, model any, version int64) (bool, error) {
	res := tx.WithContext(ctx).
		Model(model).
		Where("version = ?", version).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindCustomer(ctx context.Context, provider, providerCustomerID string) (*domain.Customer, error) {
	return first[domain.Customer](ctx, r.db, "provider = ? AND provider_customer_id = ?", provider, providerCustomerID)
}

func (r *repo) FindCustomerByOrg(ctx context.Context, orgID snowflake.ID, provider string) (*domain.Customer, error) {
	return first[domain.Customer](ctx, r.db.Order("created_at ASC"), "org_id = ? AND provider = ? AND deleted = ?", orgID, provider, false)
}

func (r *repo) InsertCustomer(ctx context.Context, customer *domain.Customer) (bool, error) {
	return db.InsertIfAbsent(ctx, r.db, customer)
}

func (r *repo) UpdateCustomer(ctx context.Context, customer *domain.Customer, version int64) (bool, error) {
	customer.Version = version + 1
	return updateVersioned(ctx, r.db, customer, version)
}

func (r *repo) FindSubscription(ctx context.Context, provider, providerSubscriptionID string) (*domain.Subscription, error) {
	return first[domain.Subscription](ctx, r.db, "provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID)
}

func (r *repo) FindSubscriptionByID(ctx context.Context, orgID, id snowflake.ID) (*domain.Subscription, error) {
	return first[domain.Subscription](ctx, r.db, "org_id = ? AND id = ?", orgID, id)
}

func (r *repo) FindLiveSubscriptionByTier(ctx context.Context, orgID snowflake.ID, tier string) (*domain.Subscription, error) {
	return first[domain.Subscription](ctx, r.db.Order("event_time DESC"),
		"org_id = ? AND product_tier = ? AND status IN ?", orgID, tier,
		[]paymentdomain.SubscriptionStatus{paymentdomain.SubscriptionStatusActive, paymentdomain.SubscriptionStatusTrialing})
}

func (r *repo) ListSubscriptions(ctx context.Context, orgID snowflake.ID) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	err := r.db.WithContext(ctx).Where("org_id = ?", orgID).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (r *repo) InsertSubscription(ctx context.Context, sub *domain.Subscription) (bool, error) {
	return db.InsertIfAbsent(ctx, r.db, sub)
}

func (r *repo) UpdateSubscription(ctx context.Context, sub *domain.Subscription, version int64) (bool, error) {
	sub.Version = version + 1
	return updateVersioned(ctx, r.db, sub, version)
}

func (r *repo) FindInvoice(ctx context.Context, provider, providerInvoiceID string) (*domain.Invoice, error) {
	return first[domain.Invoice](ctx, r.db, "provider = ? AND provider_invoice_id = ?", provider, providerInvoiceID)
}

func (r *repo) FindInvoiceByID(ctx context.Context, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return first[domain.Invoice](ctx, r.db, "org_id = ? AND id = ?", orgID, id)
}

// ListInvoices pages by descending id; the page token is the last id returned.
func (r *repo) ListInvoices(ctx context.Context, orgID snowflake.ID, filter domain.InvoiceFilter) ([]*domain.Invoice, string, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	query := r.db.WithContext(ctx).Where("org_id = ?", orgID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PageToken != "" {
		cursor, err := strconv.ParseInt(filter.PageToken, 10, 64)
		if err != nil {
			return nil, "", domain.ErrInvalidRequest
		}
		query = query.Where("id < ?", cursor)
	}

	var out []*domain.Invoice
	if err := query.Order("id DESC").Limit(pageSize).Find(&out).Error; err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == pageSize {
		next = out[len(out)-1].ID.String()
	}
	return out, next, nil
}

func (r *repo) InsertInvoice(ctx context.Context, invoice *domain.Invoice) (bool, error) {
	return db.InsertIfAbsent(ctx, r.db, invoice)
}

func (r *repo) UpdateInvoice(ctx context.Context, invoice *domain.Invoice, version int64) (bool, error) {
	invoice.Version = version + 1
	return updateVersioned(ctx, r.db, invoice, version)
}

func (r *repo) FindPaymentMethod(ctx context.Context, provider, providerPaymentMethodID string) (*domain.PaymentMethod, error) {
	return first[domain.PaymentMethod](ctx, r.db, "provider = ? AND provider_payment_method_id = ?", provider, providerPaymentMethodID)
}

func (r *repo) FindPaymentMethodByID(ctx context.Context, orgID, id snowflake.ID) (*domain.PaymentMethod, error) {
	return first[domain.PaymentMethod](ctx, r.db, "org_id = ? AND id = ?", orgID, id)
}

func (r *repo) ListPaymentMethods(ctx context.Context, orgID snowflake.ID, provider string) ([]*domain.PaymentMethod, error) {
	query := r.db.WithContext(ctx).Where("org_id = ? AND detached = ?", orgID, false)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}
	var out []*domain.PaymentMethod
	err := query.Order("attached_at DESC, id DESC").Find(&out).Error
	return out, err
}

func (r *repo) InsertPaymentMethod(ctx context.Context, pm *domain.PaymentMethod) (bool, error) {
	return db.InsertIfAbsent(ctx, r.db, pm)
}

func (r *repo) UpdatePaymentMethod(ctx context.Context, pm *domain.PaymentMethod, version int64) (bool, error) {
	pm.Version = version + 1
	return updateVersioned(ctx, r.db, pm, version)
}

func (r *repo) EnsureDefault(ctx context.Context, orgID snowflake.ID, provider string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.PaymentMethod{}).
			Where("org_id = ? AND provider = ? AND is_default = ? AND detached = ?", orgID, provider, true, false).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		var candidate domain.PaymentMethod
		err := tx.Where("org_id = ? AND provider = ? AND detached = ?", orgID, provider, false).
			Order("attached_at DESC, id DESC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return tx.Model(&domain.PaymentMethod{}).
			Where("id = ?", candidate.ID).
			Updates(map[string]any{"is_default": true, "version": gorm.Expr("version + 1")}).Error
	})
}

func (r *repo) SetDefault(ctx context.Context, pm *domain.PaymentMethod, version int64) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.PaymentMethod{}).
			Where("org_id = ? AND provider = ? AND is_default = ? AND id <> ?", pm.OrgID, pm.Provider, true, pm.ID).
			Updates(map[string]any{"is_default": false, "version": gorm.Expr("version + 1")}).Error; err != nil {
			return err
		}

		res := tx.Model(&domain.PaymentMethod{}).
			Where("id = ? AND version = ? AND detached = ?", pm.ID, version, false).
			Updates(map[string]any{"is_default": true, "version": version + 1})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errLostRace
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	pm.IsDefault = true
	pm.Version = version + 1
	return true, nil
}

func (r *repo) InsertConflict(ctx context.Context, conflict *domain.Conflict) error {
	return r.db.WithContext(ctx).Create(conflict).Error
}
