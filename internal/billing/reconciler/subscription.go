package reconciler

import (
	"context"

	"github.com/railzwaylabs/paygate/internal/billing/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

func subscriptionStatus(ev *paymentdomain.CanonicalEvent) paymentdomain.SubscriptionStatus {
	if ev.Kind == paymentdomain.KindSubscriptionCanceled {
		return paymentdomain.SubscriptionStatusCanceled
	}
	return ev.Subscription.Status
}

func (r *Reconciler) applySubscription(ctx context.Context, ev *paymentdomain.CanonicalEvent) (domain.Outcome, error) {
	data := ev.Subscription
	if data == nil || data.ProviderSubscriptionID == "" {
		return "", missingPayload(ev)
	}
	status := subscriptionStatus(ev)

	existing, err := r.repo.FindSubscription(ctx, ev.Provider, data.ProviderSubscriptionID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		sub := &domain.Subscription{
			ID:                     r.genID.Generate(),
			OrgID:                  ev.OrgID,
			Provider:               ev.Provider,
			ProviderSubscriptionID: data.ProviderSubscriptionID,
			Version:                1,
		}
		mergeSubscription(sub, data, status, ev)
		if err := r.checkTier(ctx, ev, sub); err != nil {
			return "", err
		}
		inserted, err := r.repo.InsertSubscription(ctx, sub)
		if err != nil {
			return "", err
		}
		if !inserted {
			return "", errLostRace
		}
		return domain.OutcomeApplied, nil
	}

	late := stale(ev.OccurredAt, existing.EventTime)
	if !domain.CanTransitionSubscription(existing.Status, status) {
		if domain.SubscriptionSuperseded(existing.Status, status) && !ev.OccurredAt.After(existing.EventTime) {
			return domain.OutcomeStale, nil
		}
		reason := "transition not allowed"
		if existing.Status == paymentdomain.SubscriptionStatusCanceled {
			reason = "subscription already canceled"
		}
		if late {
			return r.discard(ctx, ev, string(existing.Status), string(status), reason)
		}
		return "", r.conflict(ctx, ev, string(existing.Status), string(status), reason)
	}
	if late {
		return domain.OutcomeStale, nil
	}

	next := *existing
	mergeSubscription(&next, data, status, ev)
	outcome := domain.OutcomeApplied
	if subscriptionEqual(existing, &next) {
		if !ev.OccurredAt.After(existing.EventTime) {
			return domain.OutcomeNoop, nil
		}
		// nothing changed, but later stale events must still lose
		outcome = domain.OutcomeNoop
	} else if next.Live() && !existing.Live() {
		if err := r.checkTier(ctx, ev, &next); err != nil {
			return "", err
		}
	}

	ok, err := r.repo.UpdateSubscription(ctx, &next, existing.Version)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errLostRace
	}
	return outcome, nil
}

// checkTier enforces at most one active or trialing subscription per
// (org, product tier).
func (r *Reconciler) checkTier(ctx context.Context, ev *paymentdomain.CanonicalEvent, sub *domain.Subscription) error {
	if !sub.Live() || sub.ProductTier == "" {
		return nil
	}
	other, err := r.repo.FindLiveSubscriptionByTier(ctx, sub.OrgID, sub.ProductTier)
	if err != nil {
		return err
	}
	if other == nil || (other.Provider == sub.Provider && other.ProviderSubscriptionID == sub.ProviderSubscriptionID) {
		return nil
	}
	return r.conflict(ctx, ev, string(other.Status), string(sub.Status),
		"tier "+sub.ProductTier+" already has live subscription "+other.ProviderSubscriptionID)
}

// mergeSubscription copies incoming fields, keeping stored values the
// provider left blank.
func mergeSubscription(sub *domain.Subscription, data *paymentdomain.SubscriptionData, status paymentdomain.SubscriptionStatus, ev *paymentdomain.CanonicalEvent) {
	sub.Status = status
	sub.EventTime = ev.OccurredAt
	if data.ProviderCustomerID != "" {
		sub.ProviderCustomerID = data.ProviderCustomerID
	}
	if data.PlanCode != "" {
		sub.PlanCode = data.PlanCode
	}
	if data.ProductTier != "" {
		sub.ProductTier = data.ProductTier
	}
	if data.Interval != "" {
		sub.Interval = data.Interval
	}
	if !data.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = data.CurrentPeriodStart
	}
	if !data.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = data.CurrentPeriodEnd
	}
	if status == paymentdomain.SubscriptionStatusCanceled && sub.CanceledAt == nil {
		canceledAt := ev.OccurredAt
		if data.CanceledAt != nil {
			canceledAt = *data.CanceledAt
		}
		sub.CanceledAt = &canceledAt
	}
}

// subscriptionEqual ignores EventTime: a newer event that changes nothing is a noop.
func subscriptionEqual(a, b *domain.Subscription) bool {
	return a.Status == b.Status &&
		a.ProviderCustomerID == b.ProviderCustomerID &&
		a.PlanCode == b.PlanCode &&
		a.ProductTier == b.ProductTier &&
		a.Interval == b.Interval &&
		a.CurrentPeriodStart.Equal(b.CurrentPeriodStart) &&
		a.CurrentPeriodEnd.Equal(b.CurrentPeriodEnd) &&
		timePtrEqual(a.CanceledAt, b.CanceledAt)
}
