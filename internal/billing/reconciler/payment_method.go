package reconciler

import (
	"context"

	"github.com/railzwaylabs/paygate/internal/billing/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

// applyAttach is idempotent on the provider token. The first live method of
// an (org, provider) pair becomes the default.
func (r *Reconciler) applyAttach(ctx context.Context, ev *paymentdomain.CanonicalEvent) (domain.Outcome, error) {
	data := ev.PaymentMethod
	if data == nil || data.ProviderPaymentMethodID == "" {
		return "", missingPayload(ev)
	}

	existing, err := r.repo.FindPaymentMethod(ctx, ev.Provider, data.ProviderPaymentMethodID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		pm := &domain.PaymentMethod{
			ID:                      r.genID.Generate(),
			OrgID:                   ev.OrgID,
			Provider:                ev.Provider,
			ProviderPaymentMethodID: data.ProviderPaymentMethodID,
			AttachedAt:              ev.OccurredAt,
			Version:                 1,
		}
		mergePaymentMethod(pm, data, ev)
		inserted, err := r.repo.InsertPaymentMethod(ctx, pm)
		if err != nil {
			return "", err
		}
		if !inserted {
			return "", errLostRace
		}
		if err := r.repo.EnsureDefault(ctx, pm.OrgID, pm.Provider); err != nil {
			return "", err
		}
		return domain.OutcomeApplied, nil
	}

	if stale(ev.OccurredAt, existing.EventTime) {
		return domain.OutcomeStale, nil
	}
	if !existing.Detached {
		return domain.OutcomeNoop, nil
	}

	// re-attached after a detach
	next := *existing
	mergePaymentMethod(&next, data, ev)
	next.Detached = false
	next.IsDefault = false
	next.AttachedAt = ev.OccurredAt
	ok, err := r.repo.UpdatePaymentMethod(ctx, &next, existing.Version)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errLostRace
	}
	if err := r.repo.EnsureDefault(ctx, next.OrgID, next.Provider); err != nil {
		return "", err
	}
	return domain.OutcomeApplied, nil
}

// applyDetach clears the method; if it was the default, the most recently
// attached remaining method takes over. A detach for an unknown token is
// stored as a tombstone so a late attach is recognized as stale.
func (r *Reconciler) applyDetach(ctx context.Context, ev *paymentdomain.CanonicalEvent) (domain.Outcome, error) {
	data := ev.PaymentMethod
	if data == nil || data.ProviderPaymentMethodID == "" {
		return "", missingPayload(ev)
	}

	existing, err := r.repo.FindPaymentMethod(ctx, ev.Provider, data.ProviderPaymentMethodID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		pm := &domain.PaymentMethod{
			ID:                      r.genID.Generate(),
			OrgID:                   ev.OrgID,
			Provider:                ev.Provider,
			ProviderPaymentMethodID: data.ProviderPaymentMethodID,
			Detached:                true,
			Version:                 1,
		}
		mergePaymentMethod(pm, data, ev)
		inserted, err := r.repo.InsertPaymentMethod(ctx, pm)
		if err != nil {
			return "", err
		}
		if !inserted {
			return "", errLostRace
		}
		return domain.OutcomeApplied, nil
	}

	if stale(ev.OccurredAt, existing.EventTime) {
		return domain.OutcomeStale, nil
	}
	if existing.Detached {
		return domain.OutcomeNoop, nil
	}

	next := *existing
	next.Detached = true
	next.IsDefault = false
	next.EventTime = ev.OccurredAt
	ok, err := r.repo.UpdatePaymentMethod(ctx, &next, existing.Version)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errLostRace
	}
	if existing.IsDefault {
		if err := r.repo.EnsureDefault(ctx, next.OrgID, next.Provider); err != nil {
			return "", err
		}
	}
	return domain.OutcomeApplied, nil
}

func mergePaymentMethod(pm *domain.PaymentMethod, data *paymentdomain.PaymentMethodData, ev *paymentdomain.CanonicalEvent) {
	pm.EventTime = ev.OccurredAt
	if data.ProviderCustomerID != "" {
		pm.ProviderCustomerID = data.ProviderCustomerID
	}
	if data.Type != "" {
		pm.Type = data.Type
	}
	if pm.Type == "" {
		pm.Type = paymentdomain.PaymentMethodCard
	}
	if data.Brand != "" {
		pm.Brand = data.Brand
	}
	if data.Last4 != "" {
		pm.Last4 = data.Last4
	}
	if data.ExpMonth > 0 {
		pm.ExpMonth = data.ExpMonth
	}
	if data.ExpYear > 0 {
		pm.ExpYear = data.ExpYear
	}
}
