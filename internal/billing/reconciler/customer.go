package reconciler

import (
	"context"
	"time"

	"github.com/railzwaylabs/paygate/internal/billing/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

func (r *Reconciler) applyCustomer(ctx context.Context, ev *paymentdomain.CanonicalEvent) (domain.Outcome, error) {
	data := ev.Customer
	if data == nil || data.ProviderCustomerID == "" {
		return "", missingPayload(ev)
	}
	deleted := ev.Kind == paymentdomain.KindCustomerDeleted

	existing, err := r.repo.FindCustomer(ctx, ev.Provider, data.ProviderCustomerID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		orgID := ev.OrgID
		if data.OrgID != 0 {
			orgID = data.OrgID
		}
		customer := &domain.Customer{
			ID:                 r.genID.Generate(),
			OrgID:              orgID,
			Provider:           ev.Provider,
			ProviderCustomerID: data.ProviderCustomerID,
			Deleted:            deleted,
			Version:            1,
		}
		mergeCustomer(customer, data, ev.OccurredAt)
		inserted, err := r.repo.InsertCustomer(ctx, customer)
		if err != nil {
			return "", err
		}
		if !inserted {
			return "", errLostRace
		}
		return domain.OutcomeApplied, nil
	}

	late := stale(ev.OccurredAt, existing.EventTime)
	if existing.Deleted && !deleted {
		if ev.Kind == paymentdomain.KindCustomerCreated && !ev.OccurredAt.After(existing.EventTime) {
			return domain.OutcomeStale, nil
		}
		if late {
			return r.discard(ctx, ev, "deleted", string(ev.Kind), "customer already deleted")
		}
		return "", r.conflict(ctx, ev, "deleted", string(ev.Kind), "customer already deleted")
	}
	if late {
		return domain.OutcomeStale, nil
	}
	if existing.Deleted {
		return domain.OutcomeNoop, nil
	}

	next := *existing
	mergeCustomer(&next, data, ev.OccurredAt)
	next.Deleted = deleted
	outcome := domain.OutcomeApplied
	if customerEqual(existing, &next) {
		if !ev.OccurredAt.After(existing.EventTime) {
			return domain.OutcomeNoop, nil
		}
		outcome = domain.OutcomeNoop
	}

	ok, err := r.repo.UpdateCustomer(ctx, &next, existing.Version)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errLostRace
	}
	return outcome, nil
}

// mergeCustomer never touches ProviderCustomerID: it is immutable once set.
func mergeCustomer(customer *domain.Customer, data *paymentdomain.CustomerData, at time.Time) {
	customer.EventTime = at
	if data.Email != "" {
		customer.Email = data.Email
	}
	if data.Country != "" {
		customer.Country = data.Country
	}
	if data.Locale != "" {
		customer.Locale = data.Locale
	}
}

func customerEqual(a, b *domain.Customer) bool {
	return a.Email == b.Email &&
		a.Country == b.Country &&
		a.Locale == b.Locale &&
		a.Deleted == b.Deleted
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
