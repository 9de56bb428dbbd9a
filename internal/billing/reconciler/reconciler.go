package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/billing/domain"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/events"
	"github.com/railzwaylabs/paygate/internal/observability"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxWriteAttempts bounds reload-and-retry after losing an optimistic write.
const maxWriteAttempts = 5

var errLostRace = errors.New("lost_race")

type Params struct {
	fx.In

	Log       *zap.Logger
	Repo      domain.Repository
	GenID     *snowflake.Node
	Clock     clock.Clock
	Publisher events.Publisher
	Metrics   *observability.Metrics `optional:"true"`
}

// Reconciler is the only writer of customers, payment methods, subscriptions
// and invoices. It takes no locks: inserts are insert-if-absent and updates
// are conditional on the version that was read.
type Reconciler struct {
	log       *zap.Logger
	repo      domain.Repository
	genID     *snowflake.Node
	clock     clock.Clock
	publisher events.Publisher
	metrics   *observability.Metrics
}

func New(p Params) *Reconciler {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Reconciler{
		log:       p.Log.Named("billing.reconciler"),
		repo:      p.Repo,
		genID:     p.GenID,
		clock:     p.Clock,
		publisher: publisher,
		metrics:   p.Metrics,
	}
}

// Apply folds one canonical event into billing state. Events older than the
// stored state are stale. Contradictions are recorded as conflicts; a stale
// one is then discarded, a current one is returned as ErrInvalidTransition.
func (r *Reconciler) Apply(ctx context.Context, ev *paymentdomain.CanonicalEvent) (domain.Outcome, error) {
	if ev == nil {
		return "", domain.ErrInvalidRequest
	}
	entity := ev.Kind.Entity()
	if ev.Kind != paymentdomain.KindUnrecognized && !ev.FromAPI && ev.OccurredAt.IsZero() {
		// without a time the event would lose every ordering check
		err := fmt.Errorf("%w: %s %s without event time", paymentdomain.ErrInvalidEvent, ev.Kind, entityKey(ev))
		r.observe(entity, "", err)
		return "", err
	}

	var (
		outcome domain.Outcome
		err     error
	)
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		outcome, err = r.apply(ctx, ev)
		if !errors.Is(err, errLostRace) {
			break
		}
		r.log.Debug("optimistic write lost, reloading",
			zap.String("entity", entity),
			zap.String("provider_event_id", ev.ProviderEventID),
			zap.Int("attempt", attempt),
		)
	}
	if errors.Is(err, errLostRace) {
		err = fmt.Errorf("%w: %s %s", domain.ErrVersionConflict, entity, entityKey(ev))
	}

	r.observe(entity, outcome, err)
	if err != nil {
		return outcome, err
	}
	if outcome == domain.OutcomeApplied {
		r.notify(ctx, ev)
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, ev *paymentdomain.CanonicalEvent) (domain.Outcome, error) {
	switch ev.Kind {
	case paymentdomain.KindSubscriptionCreated, paymentdomain.KindSubscriptionUpdated, paymentdomain.KindSubscriptionCanceled:
		return r.applySubscription(ctx, ev)
	case paymentdomain.KindInvoiceCreated, paymentdomain.KindInvoicePaid, paymentdomain.KindInvoicePaymentFailed:
		return r.applyInvoice(ctx, ev)
	case paymentdomain.KindPaymentMethodAttached:
		return r.applyAttach(ctx, ev)
	case paymentdomain.KindPaymentMethodDetached:
		return r.applyDetach(ctx, ev)
	case paymentdomain.KindCustomerCreated, paymentdomain.KindCustomerUpdated, paymentdomain.KindCustomerDeleted:
		return r.applyCustomer(ctx, ev)
	default:
		return domain.OutcomeIgnored, nil
	}
}

// SetDefaultPaymentMethod moves the default flag for the method's
// (org, provider) pair.
func (r *Reconciler) SetDefaultPaymentMethod(ctx context.Context, orgID, id snowflake.ID) (*domain.PaymentMethod, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		pm, err := r.repo.FindPaymentMethodByID(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		if pm == nil || pm.Detached {
			return nil, domain.ErrPaymentMethodNotFound
		}
		if pm.IsDefault {
			return pm, nil
		}
		ok, err := r.repo.SetDefault(ctx, pm, pm.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			r.observe("payment_method", domain.OutcomeApplied, nil)
			return pm, nil
		}
	}
	return nil, domain.ErrVersionConflict
}

// stale reports whether an event predates the stored state.
func stale(eventTime, stored time.Time) bool {
	return eventTime.Before(stored)
}

// conflict records a contradiction and fails the event with ErrInvalidTransition.
func (r *Reconciler) conflict(ctx context.Context, ev *paymentdomain.CanonicalEvent, stored, incoming, reason string) error {
	if err := r.record(ctx, ev, stored, incoming, reason); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s %s -> %s: %s", domain.ErrInvalidTransition, ev.Kind.Entity(), entityKey(ev), stored, incoming, reason)
}

// discard records a contradiction that is already older than the stored
// state and drops the event as stale.
func (r *Reconciler) discard(ctx context.Context, ev *paymentdomain.CanonicalEvent, stored, incoming, reason string) (domain.Outcome, error) {
	if err := r.record(ctx, ev, stored, incoming, reason); err != nil {
		return "", err
	}
	return domain.OutcomeStale, nil
}

func (r *Reconciler) record(ctx context.Context, ev *paymentdomain.CanonicalEvent, stored, incoming, reason string) error {
	entity := ev.Kind.Entity()
	key := entityKey(ev)
	record := &domain.Conflict{
		ID:              r.genID.Generate(),
		OrgID:           ev.OrgID,
		Provider:        ev.Provider,
		Entity:          entity,
		EntityKey:       key,
		ProviderEventID: ev.ProviderEventID,
		StoredStatus:    stored,
		IncomingStatus:  incoming,
		Reason:          reason,
		CreatedAt:       r.clock.Now(ctx),
	}
	if err := r.repo.InsertConflict(ctx, record); err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}

	r.log.Warn("billing conflict recorded",
		zap.String("org_id", ev.OrgID.String()),
		zap.String("provider", ev.Provider),
		zap.String("entity", entity),
		zap.String("entity_key", key),
		zap.String("provider_event_id", ev.ProviderEventID),
		zap.String("stored_status", stored),
		zap.String("incoming_status", incoming),
		zap.String("reason", reason),
	)
	if r.metrics != nil {
		r.metrics.ConflictsRecorded.WithLabelValues(entity).Inc()
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, ev *paymentdomain.CanonicalEvent) {
	change := events.BillingChange{
		OrgID:           ev.OrgID,
		Provider:        ev.Provider,
		Entity:          ev.Kind.Entity(),
		Kind:            string(ev.Kind),
		EntityKey:       entityKey(ev),
		Status:          eventStatus(ev),
		ProviderEventID: ev.ProviderEventID,
		OccurredAt:      ev.OccurredAt,
	}
	if err := r.publisher.PublishBillingChange(ctx, change); err != nil {
		r.log.Warn("failed to publish billing change",
			zap.String("kind", change.Kind),
			zap.String("entity_key", change.EntityKey),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) observe(entity string, outcome domain.Outcome, err error) {
	if r.metrics == nil {
		return
	}
	label := string(outcome)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		label = "conflict"
	case err != nil:
		label = "error"
	}
	r.metrics.ReconcileOutcomes.WithLabelValues(entity, label).Inc()
}

func entityKey(ev *paymentdomain.CanonicalEvent) string {
	switch {
	case ev.Subscription != nil:
		return ev.Subscription.ProviderSubscriptionID
	case ev.Invoice != nil:
		return ev.Invoice.ProviderInvoiceID
	case ev.PaymentMethod != nil:
		return ev.PaymentMethod.ProviderPaymentMethodID
	case ev.Customer != nil:
		return ev.Customer.ProviderCustomerID
	default:
		return ""
	}
}

func eventStatus(ev *paymentdomain.CanonicalEvent) string {
	switch {
	case ev.Subscription != nil:
		return string(subscriptionStatus(ev))
	case ev.Invoice != nil:
		return string(invoiceStatus(ev))
	default:
		return ""
	}
}

func missingPayload(ev *paymentdomain.CanonicalEvent) error {
	return fmt.Errorf("%w: %s without payload", paymentdomain.ErrInvalidEvent, ev.Kind)
}
