package adapters

import (
	"sort"
	"strings"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

// Registry maps provider names to adapter factories. It is built once in the
// composition root and is read-only afterwards.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		r.factories[strings.ToLower(f.Provider())] = f
	}
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.factories[strings.ToLower(provider)]
	return ok
}

func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Capabilities(provider string) (domain.Capabilities, bool) {
	f, ok := r.factories[strings.ToLower(provider)]
	if !ok {
		return domain.Capabilities{}, false
	}
	return f.Capabilities(), true
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	f, ok := r.factories[strings.ToLower(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return f.NewAdapter(cfg)
}
