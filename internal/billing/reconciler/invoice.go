package reconciler

import (
	"context"

	"github.com/railzwaylabs/paygate/internal/billing/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

func invoiceStatus(ev *paymentdomain.CanonicalEvent) paymentdomain.InvoiceStatus {
	switch ev.Kind {
	case paymentdomain.KindInvoicePaid:
		return paymentdomain.InvoiceStatusPaid
	case paymentdomain.KindInvoicePaymentFailed:
		return paymentdomain.InvoiceStatusPaymentFailed
	}
	if ev.Invoice.Status == "" {
		return paymentdomain.InvoiceStatusOpen
	}
	return ev.Invoice.Status
}

func (r *Reconciler) applyInvoice(ctx context.Context, ev *paymentdomain.CanonicalEvent) (domain.Outcome, error) {
	data := ev.Invoice
	if data == nil || data.ProviderInvoiceID == "" {
		return "", missingPayload(ev)
	}
	status := invoiceStatus(ev)

	existing, err := r.repo.FindInvoice(ctx, ev.Provider, data.ProviderInvoiceID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		invoice := &domain.Invoice{
			ID:                r.genID.Generate(),
			OrgID:             ev.OrgID,
			Provider:          ev.Provider,
			ProviderInvoiceID: data.ProviderInvoiceID,
			Version:           1,
		}
		mergeInvoice(invoice, data, status, ev)
		inserted, err := r.repo.InsertInvoice(ctx, invoice)
		if err != nil {
			return "", err
		}
		if !inserted {
			return "", errLostRace
		}
		return domain.OutcomeApplied, nil
	}

	late := stale(ev.OccurredAt, existing.EventTime)
	if !domain.CanTransitionInvoice(existing.Status, status) {
		if domain.InvoiceSuperseded(existing.Status, status) && !ev.OccurredAt.After(existing.EventTime) {
			// creation delivered after the invoice moved on
			return domain.OutcomeStale, nil
		}
		reason := "transition not allowed"
		if domain.InvoiceTerminal(existing.Status) {
			reason = "invoice already " + string(existing.Status)
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
	mergeInvoice(&next, data, status, ev)
	outcome := domain.OutcomeApplied
	if invoiceEqual(existing, &next) {
		if !ev.OccurredAt.After(existing.EventTime) {
			return domain.OutcomeNoop, nil
		}
		outcome = domain.OutcomeNoop
	}

	ok, err := r.repo.UpdateInvoice(ctx, &next, existing.Version)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errLostRace
	}
	return outcome, nil
}

func mergeInvoice(invoice *domain.Invoice, data *paymentdomain.InvoiceData, status paymentdomain.InvoiceStatus, ev *paymentdomain.CanonicalEvent) {
	invoice.Status = status
	invoice.EventTime = ev.OccurredAt
	if data.ProviderSubscriptionID != "" {
		invoice.ProviderSubscriptionID = data.ProviderSubscriptionID
	}
	if data.ProviderCustomerID != "" {
		invoice.ProviderCustomerID = data.ProviderCustomerID
	}
	if data.AmountDue > 0 {
		invoice.AmountDue = data.AmountDue
	}
	if data.AmountPaid > 0 {
		invoice.AmountPaid = data.AmountPaid
	}
	if data.Currency != "" {
		invoice.Currency = data.Currency
	}
	if data.AttemptCount > invoice.AttemptCount {
		invoice.AttemptCount = data.AttemptCount
	}

	at := ev.OccurredAt
	switch status {
	case paymentdomain.InvoiceStatusPaid:
		if invoice.PaidAt == nil {
			invoice.PaidAt = &at
		}
		if invoice.AmountPaid == 0 {
			invoice.AmountPaid = invoice.AmountDue
		}
	case paymentdomain.InvoiceStatusPaymentFailed:
		invoice.FailedAt = &at
	}
}

func invoiceEqual(a, b *domain.Invoice) bool {
	return a.Status == b.Status &&
		a.ProviderSubscriptionID == b.ProviderSubscriptionID &&
		a.ProviderCustomerID == b.ProviderCustomerID &&
		a.AmountDue == b.AmountDue &&
		a.AmountPaid == b.AmountPaid &&
		a.Currency == b.Currency &&
		a.AttemptCount == b.AttemptCount &&
		timePtrEqual(a.PaidAt, b.PaidAt)
}
