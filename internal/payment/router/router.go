package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/security/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	GenID    *snowflake.Node
	Registry *adapters.Registry
	Bindings domain.BindingRepository
	Vault    vault.Provider
}

// Router selects the adapter for an organization's authoritative provider.
// There is no cross-provider failover; switching providers goes through
// MigrateProvider.
type Router struct {
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	registry *adapters.Registry
	bindings domain.BindingRepository
	vault    vault.Provider

	maxTries     uint
	retryBackoff time.Duration

	mu    sync.RWMutex
	cache map[snowflake.ID]cachedAdapter
}

type cachedAdapter struct {
	provider  string
	updatedAt time.Time
	adapter   domain.Adapter
}

func New(p Params) *Router {
	maxTries := p.Cfg.Providers.MaxRetries + 1
	return &Router{
		log:          p.Log.Named("payment.router"),
		clock:        p.Clock,
		genID:        p.GenID,
		registry:     p.Registry,
		bindings:     p.Bindings,
		vault:        p.Vault,
		maxTries:     maxTries,
		retryBackoff: p.Cfg.Providers.RetryBackoff,
		cache:        make(map[snowflake.ID]cachedAdapter),
	}
}

// Route returns the adapter for the org's active binding, failing with
// ErrUnsupportedTransaction before any provider call when the provider
// lacks the capability.
func (r *Router) Route(ctx context.Context, orgID snowflake.ID, txType domain.TransactionType) (domain.Adapter, error) {
	binding, err := r.bindings.FindActive(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, domain.ErrNoProviderConfigured
	}

	adapter, err := r.AdapterFor(binding)
	if err != nil {
		return nil, err
	}
	if txType != "" && !adapter.Capabilities().Supports(txType) {
		return nil, domain.ErrUnsupportedTransaction
	}
	return adapter, nil
}

// AdapterFor builds (or reuses) the adapter for a binding. Configs are
// decrypted once per binding revision.
func (r *Router) AdapterFor(binding *domain.BillingBinding) (domain.Adapter, error) {
	r.mu.RLock()
	cached, ok := r.cache[binding.OrgID]
	r.mu.RUnlock()
	if ok && cached.provider == binding.Provider && cached.updatedAt.Equal(binding.UpdatedAt) {
		return cached.adapter, nil
	}

	cfg, err := r.decodeConfig(binding)
	if err != nil {
		return nil, err
	}
	adapter, err := r.registry.NewAdapter(binding.Provider, domain.AdapterConfig{
		OrgID:    binding.OrgID,
		Provider: binding.Provider,
		Config:   cfg,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[binding.OrgID] = cachedAdapter{provider: binding.Provider, updatedAt: binding.UpdatedAt, adapter: adapter}
	r.mu.Unlock()
	return adapter, nil
}

func (r *Router) decodeConfig(binding *domain.BillingBinding) (map[string]any, error) {
	raw, state, err := vault.Open(r.vault, binding.Config)
	if err != nil {
		r.log.Error("failed to decrypt provider config",
			zap.String("org_id", binding.OrgID.String()),
			zap.String("provider", binding.Provider),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if state == vault.StatePlaintext {
		r.log.Warn("provider config stored unencrypted",
			zap.String("org_id", binding.OrgID.String()),
			zap.String("provider", binding.Provider),
		)
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, domain.ErrInvalidConfig
	}
	return cfg, nil
}

// SupportingProviders lists registered providers able to accept the currency
// and payment method type.
func (r *Router) SupportingProviders(currency string, methodType domain.PaymentMethodType) []string {
	var out []string
	for _, name := range r.registry.Providers() {
		caps, _ := r.registry.Capabilities(name)
		if currency != "" && !caps.SupportsCurrency(currency) {
			continue
		}
		if methodType != "" && !caps.SupportsMethod(methodType) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Operation is one outbound provider command.
type Operation[T any] struct {
	OrgID    snowflake.ID
	Type     domain.TransactionType
	Name     string
	Currency string
	Run      func(ctx context.Context, adapter domain.Adapter) (T, error)
}

// Execute routes op and runs it, retrying retryable provider failures with
// exponential backoff. Non-retryable failures surface immediately.
func Execute[T any](ctx context.Context, r *Router, op Operation[T]) (T, error) {
	var zero T
	adapter, err := r.Route(ctx, op.OrgID, op.Type)
	if err != nil {
		return zero, err
	}
	if op.Currency != "" && !adapter.Capabilities().SupportsCurrency(op.Currency) {
		return zero, domain.ErrUnsupportedTransaction
	}

	attempt := 0
	run := func() (T, error) {
		attempt++
		result, err := op.Run(ctx, adapter)
		if err == nil {
			return result, nil
		}
		if domain.IsRetryable(err) {
			r.log.Warn("provider call failed, retrying",
				zap.String("org_id", op.OrgID.String()),
				zap.String("provider", adapter.Name()),
				zap.String("operation", op.Name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return zero, err
		}
		return zero, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	if r.retryBackoff > 0 {
		policy.InitialInterval = r.retryBackoff
	}
	maxTries := r.maxTries
	if maxTries == 0 {
		maxTries = 1
	}

	result, err := backoff.Retry(ctx, run,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		return zero, err
	}
	return result, nil
}

type MigrateRequest struct {
	OrgID    snowflake.ID
	Provider string
	Config   map[string]any
	Actor    string
	Reason   string
}

// MigrateProvider is the only way an org's authoritative provider changes.
// The new config is validated by building an adapter, encrypted, and stored
// together with an audit row.
func (r *Router) MigrateProvider(ctx context.Context, req MigrateRequest) (*domain.BillingBinding, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !r.registry.ProviderExists(provider) {
		return nil, domain.ErrProviderNotFound
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, domain.ErrInvalidConfig
	}
	if _, err := r.registry.NewAdapter(provider, domain.AdapterConfig{
		OrgID:    req.OrgID,
		Provider: provider,
		Config:   req.Config,
	}); err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(req.Config)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	current, err := r.bindings.FindActive(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Provider == provider {
		existing, err := r.decodeConfig(current)
		if err == nil && sameConfig(existing, req.Config) {
			return nil, domain.ErrProviderUnchanged
		}
	}

	sealed, err := r.vault.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now(ctx)
	binding := &domain.BillingBinding{
		OrgID:     req.OrgID,
		Provider:  provider,
		Config:    datatypes.JSON(sealed),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	audit := &domain.ProviderMigration{
		ID:         r.genID.Generate(),
		OrgID:      req.OrgID,
		ToProvider: provider,
		Actor:      req.Actor,
		Reason:     req.Reason,
		CreatedAt:  now,
	}
	if current != nil {
		audit.FromProvider = current.Provider
		binding.CreatedAt = current.CreatedAt
	}

	if err := r.bindings.Switch(ctx, binding, audit); err != nil {
		return nil, err
	}

	r.mu.Lock()
	delete(r.cache, req.OrgID)
	r.mu.Unlock()

	r.log.Info("billing provider switched",
		zap.String("org_id", req.OrgID.String()),
		zap.String("from", audit.FromProvider),
		zap.String("to", provider),
		zap.String("actor", req.Actor),
	)
	return binding, nil
}

func sameConfig(a, b map[string]any) bool {
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(left) == string(right)
}
