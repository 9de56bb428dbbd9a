package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/archive"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	"github.com/railzwaylabs/paygate/internal/billing/reconciler"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/events"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Adapters   *adapters.Registry
	Router     *router.Router
	Bindings   paymentdomain.BindingRepository
	Ledger     paymentdomain.LedgerRepository
	Reconciler *reconciler.Reconciler
	Archive    archive.Store          `optional:"true"`
	Bus        *events.Bus            `optional:"true"`
	Metrics    *observability.Metrics `optional:"true"`
}

// Service verifies, deduplicates and reconciles provider webhooks. The
// insert-if-absent on (provider, provider_event_id) is the only mutual
// exclusion between concurrent deliveries.
type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	adapters   *adapters.Registry
	router     *router.Router
	bindings   paymentdomain.BindingRepository
	ledger     paymentdomain.LedgerRepository
	reconciler *reconciler.Reconciler
	archive    archive.Store
	bus        *events.Bus
	metrics    *observability.Metrics

	async           bool
	maxPayloadBytes int64
	stuckAfter      time.Duration
}

var _ paymentdomain.Service = (*Service)(nil)

func NewService(p Params) *Service {
	store := p.Archive
	if store == nil {
		store = archive.Nop{}
	}
	return &Service{
		log:             p.Log.Named("payment.webhook"),
		clock:           p.Clock,
		genID:           p.GenID,
		adapters:        p.Adapters,
		router:          p.Router,
		bindings:        p.Bindings,
		ledger:          p.Ledger,
		reconciler:      p.Reconciler,
		archive:         store,
		bus:             p.Bus,
		metrics:         p.Metrics,
		async:           p.Cfg.Webhook.Async && p.Bus.Enabled(),
		maxPayloadBytes: p.Cfg.Webhook.MaxPayloadBytes,
		stuckAfter:      p.Cfg.Scheduler.StuckAfter,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.IngestResult, error) {
	started := time.Now()
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	defer s.observeDuration(provider, started)

	if len(payload) == 0 || (s.maxPayloadBytes > 0 && int64(len(payload)) > s.maxPayloadBytes) {
		s.count(provider, "malformed")
		return nil, paymentdomain.ErrInvalidPayload
	}

	bindings, err := s.bindings.ListActiveByProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, paymentdomain.ErrProviderNotFound
	}

	adapter, binding, err := s.matchAdapter(ctx, payload, headers, bindings)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrSignatureInvalid) {
			s.log.Warn("webhook signature rejected",
				zap.String("provider", provider),
				zap.Int("payload_size", len(payload)),
				zap.Int("binding_count", len(bindings)),
				zap.ByteString("payload", maskPayload(payload)),
			)
			if s.metrics != nil {
				s.metrics.SignatureFailures.WithLabelValues(provider).Inc()
			}
			s.count(provider, "signature_invalid")
			return nil, err
		}
		s.log.Error("webhook adapter resolution failed", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}

	// body shape is only judged once the sender is authenticated
	if !json.Valid(payload) {
		s.count(provider, "malformed")
		return nil, paymentdomain.ErrInvalidPayload
	}

	envelope, err := adapter.Envelope(payload)
	if err != nil || strings.TrimSpace(envelope.ProviderEventID) == "" {
		s.count(provider, "malformed")
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}

	now := s.clock.Now(ctx)
	record := &paymentdomain.WebhookEvent{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: envelope.ProviderEventID,
		EventType:       envelope.ProviderType,
		OrgID:           binding.OrgID,
		PayloadDigest:   digest(payload),
		Payload:         payload,
		Status:          paymentdomain.WebhookStatusProcessing,
		Attempts:        1,
		OccurredAt:      envelope.OccurredAt,
		ReceivedAt:      now,
		UpdatedAt:       now,
	}
	inserted, err := s.ledger.InsertIfAbsent(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !inserted {
		return s.duplicate(ctx, provider, envelope.ProviderEventID, record.PayloadDigest)
	}

	s.log.Info("webhook accepted",
		zap.String("provider", provider),
		zap.String("provider_event_id", envelope.ProviderEventID),
		zap.String("event_type", envelope.ProviderType),
		zap.String("org_id", binding.OrgID.String()),
	)

	if err := s.archive.Put(ctx, archive.Key(provider, envelope.ProviderEventID, now), payload); err != nil {
		s.log.Warn("failed to archive webhook payload",
			zap.String("provider", provider),
			zap.String("provider_event_id", envelope.ProviderEventID),
			zap.Error(err),
		)
	}

	if s.async {
		err := s.bus.PublishReconcile(ctx, events.ReconcileRequest{
			ID:              record.ID.String(),
			Provider:        provider,
			ProviderEventID: envelope.ProviderEventID,
		})
		if err == nil {
			s.count(provider, "deferred")
			return &paymentdomain.IngestResult{
				Provider:        provider,
				ProviderEventID: envelope.ProviderEventID,
				Deferred:        true,
				Status:          paymentdomain.WebhookStatusProcessing,
			}, nil
		}
		s.log.Warn("failed to defer reconciliation, processing inline",
			zap.String("provider_event_id", envelope.ProviderEventID),
			zap.Error(err),
		)
	}

	return s.process(ctx, adapter, record, payload)
}

// Replay re-runs parsing and reconciliation for a failed event, or for one
// left in processing longer than the stuck threshold. The claim is a
// conditional update, so concurrent replays apply at most once.
func (s *Service) Replay(ctx context.Context, provider, providerEventID string) (*paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	record, err := s.ledger.Get(ctx, provider, providerEventID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, paymentdomain.ErrEventNotFound
	}

	now := s.clock.Now(ctx)
	switch record.Status {
	case paymentdomain.WebhookStatusFailed:
	case paymentdomain.WebhookStatusProcessing, paymentdomain.WebhookStatusReceived:
		if s.stuckAfter <= 0 || record.UpdatedAt.After(now.Add(-s.stuckAfter)) {
			return nil, paymentdomain.ErrEventNotReplayable
		}
	default:
		return nil, paymentdomain.ErrEventNotReplayable
	}

	adapter, err := s.adapterForOrg(ctx, record)
	if err != nil {
		return nil, err
	}

	claimed, err := s.ledger.Transition(ctx, provider, providerEventID, record.Status, paymentdomain.LedgerUpdate{
		FromAttempts: record.Attempts,
		Status:       paymentdomain.WebhookStatusProcessing,
		Attempted:    true,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, paymentdomain.ErrEventNotReplayable
	}
	record.Status = paymentdomain.WebhookStatusProcessing
	record.Attempts++

	s.log.Info("replaying webhook event",
		zap.String("provider", provider),
		zap.String("provider_event_id", providerEventID),
		zap.Int("attempt", record.Attempts),
	)
	return s.process(ctx, adapter, record, record.Payload)
}

// ProcessDeferred finishes an event accepted in async mode.
func (s *Service) ProcessDeferred(ctx context.Context, req events.ReconcileRequest) error {
	record, err := s.ledger.Get(ctx, req.Provider, req.ProviderEventID)
	if err != nil {
		return err
	}
	if record == nil {
		return paymentdomain.ErrEventNotFound
	}
	if record.Status != paymentdomain.WebhookStatusProcessing {
		// already finalized by an earlier delivery of this message
		return nil
	}
	adapter, err := s.adapterForOrg(ctx, record)
	if err != nil {
		return err
	}
	_, err = s.process(ctx, adapter, record, record.Payload)
	return err
}

func (s *Service) process(ctx context.Context, adapter paymentdomain.Adapter, record *paymentdomain.WebhookEvent, payload []byte) (*paymentdomain.IngestResult, error) {
	result := &paymentdomain.IngestResult{
		Provider:        record.Provider,
		ProviderEventID: record.ProviderEventID,
	}

	event, err := adapter.ParseEvent(ctx, payload)
	if err != nil {
		s.finalize(ctx, record, paymentdomain.FailureParse, err)
		s.count(record.Provider, "parse_failed")
		result.Status = paymentdomain.WebhookStatusFailed
		return result, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	event.Provider = record.Provider
	event.OrgID = record.OrgID

	if event.Kind == paymentdomain.KindUnrecognized {
		s.log.Debug("webhook event type not recognized",
			zap.String("provider", record.Provider),
			zap.String("event_type", event.ProviderType),
		)
		s.finalize(ctx, record, paymentdomain.FailureNone, fmt.Errorf("unrecognized event type %s", event.ProviderType))
		s.count(record.Provider, "unrecognized")
		result.Unrecognized = true
		result.Status = paymentdomain.WebhookStatusProcessed
		return result, nil
	}

	outcome, err := s.reconciler.Apply(ctx, event)
	if err != nil {
		kind := paymentdomain.FailureTransient
		switch {
		case errors.Is(err, billingdomain.ErrInvalidTransition):
			kind = paymentdomain.FailureConflict
		case errors.Is(err, paymentdomain.ErrInvalidEvent):
			kind = paymentdomain.FailureParse
		}
		s.log.Error("webhook reconciliation failed",
			zap.String("provider", record.Provider),
			zap.String("provider_event_id", record.ProviderEventID),
			zap.String("kind", string(event.Kind)),
			zap.String("failure_kind", string(kind)),
			zap.Error(err),
		)
		s.finalize(ctx, record, kind, err)
		s.count(record.Provider, "failed_"+string(kind))
		result.Status = paymentdomain.WebhookStatusFailed
		return result, err
	}

	s.finalize(ctx, record, paymentdomain.FailureNone, nil)
	s.count(record.Provider, string(outcome))
	result.Status = paymentdomain.WebhookStatusProcessed
	return result, nil
}

// finalize writes the terminal status once per attempt. FailureNone marks
// the event processed; cause, if any, is kept as LastError.
func (s *Service) finalize(ctx context.Context, record *paymentdomain.WebhookEvent, kind paymentdomain.FailureKind, cause error) {
	now := s.clock.Now(ctx)
	update := paymentdomain.LedgerUpdate{
		FromAttempts: record.Attempts,
		Status:       paymentdomain.WebhookStatusProcessed,
		UpdatedAt:    now,
	}
	if kind != paymentdomain.FailureNone {
		update.Status = paymentdomain.WebhookStatusFailed
		update.FailureKind = kind
	} else {
		update.ProcessedAt = &now
	}
	if cause != nil {
		update.LastError = cause.Error()
	}

	// a detached context so a canceled request still records the outcome
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	ok, err := s.ledger.Transition(writeCtx, record.Provider, record.ProviderEventID, paymentdomain.WebhookStatusProcessing, update)
	if err != nil {
		s.log.Error("failed to finalize webhook event",
			zap.String("provider", record.Provider),
			zap.String("provider_event_id", record.ProviderEventID),
			zap.String("status", string(update.Status)),
			zap.Error(err),
		)
		return
	}
	if !ok {
		s.log.Warn("webhook event finalized concurrently",
			zap.String("provider", record.Provider),
			zap.String("provider_event_id", record.ProviderEventID),
		)
		return
	}
	record.Status = update.Status
	record.FailureKind = update.FailureKind
}

func (s *Service) duplicate(ctx context.Context, provider, providerEventID, payloadDigest string) (*paymentdomain.IngestResult, error) {
	result := &paymentdomain.IngestResult{
		Provider:        provider,
		ProviderEventID: providerEventID,
		Duplicate:       true,
	}
	stored, err := s.ledger.Get(ctx, provider, providerEventID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		result.Status = stored.Status
		if stored.PayloadDigest != payloadDigest {
			s.log.Warn("redelivered webhook payload differs from the recorded one",
				zap.String("provider", provider),
				zap.String("provider_event_id", providerEventID),
			)
		}
	}
	s.log.Debug("duplicate webhook delivery",
		zap.String("provider", provider),
		zap.String("provider_event_id", providerEventID),
		zap.String("status", string(result.Status)),
	)
	s.count(provider, "duplicate")
	return result, nil
}

// matchAdapter returns the adapter of the first active binding whose secret
// verifies the payload.
func (s *Service) matchAdapter(
	ctx context.Context,
	payload []byte,
	headers http.Header,
	bindings []*paymentdomain.BillingBinding,
) (paymentdomain.Adapter, *paymentdomain.BillingBinding, error) {
	var configErr error
	for _, binding := range bindings {
		adapter, err := s.router.AdapterFor(binding)
		if err != nil {
			configErr = err
			continue
		}

		if err := adapter.VerifySignature(ctx, payload, headers); err != nil {
			if errors.Is(err, paymentdomain.ErrSignatureInvalid) {
				continue
			}
			return nil, nil, err
		}
		return adapter, binding, nil
	}

	if configErr != nil {
		s.log.Warn("some provider bindings could not be loaded", zap.Error(configErr))
	}
	return nil, nil, paymentdomain.ErrSignatureInvalid
}

func (s *Service) adapterForOrg(ctx context.Context, record *paymentdomain.WebhookEvent) (paymentdomain.Adapter, error) {
	bindings, err := s.bindings.ListActiveByProvider(ctx, record.Provider)
	if err != nil {
		return nil, err
	}
	for _, binding := range bindings {
		if binding.OrgID == record.OrgID {
			return s.router.AdapterFor(binding)
		}
	}
	return nil, paymentdomain.ErrNoProviderConfigured
}

func (s *Service) count(provider, result string) {
	if s.metrics != nil {
		s.metrics.WebhooksReceived.WithLabelValues(provider, result).Inc()
	}
}

func (s *Service) observeDuration(provider string, started time.Time) {
	if s.metrics != nil {
		s.metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
	}
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return []byte("<unparseable>")
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return []byte("<unparseable>")
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		switch strings.ToLower(k) {
		case "card", "billing_details", "shipping_details", "payment_method_details",
			"email", "card_number", "masked_card_number", "account_number", "mobile_number":
			m[k] = "***"
		default:
			if nested, ok := v.(map[string]any); ok {
				maskMap(nested)
			} else if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if itemMap, ok := item.(map[string]any); ok {
						maskMap(itemMap)
					}
				}
			}
		}
	}
}
