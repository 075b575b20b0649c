// Package registry resolves the configured gateway for a tenant. The mapping
// is built once at process start and never mutated afterwards, so resolution
// is pure and stable for a given configuration snapshot.
package registry

import (
	"fmt"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/gateway"
)

type tenantEntry struct {
	gateways    []gateway.PaymentGateway
	defaultName string
}

type Registry struct {
	tenants map[string]*tenantEntry
}

// Builder accumulates tenant/gateway configuration and freezes it into a
// Registry.
type Builder struct {
	tenants map[string]*tenantEntry
}

func NewBuilder() *Builder {
	return &Builder{tenants: make(map[string]*tenantEntry)}
}

func (b *Builder) Register(tenantID string, gw gateway.PaymentGateway) *Builder {
	e, ok := b.tenants[tenantID]
	if !ok {
		e = &tenantEntry{}
		b.tenants[tenantID] = e
	}
	e.gateways = append(e.gateways, gw)
	return b
}

// SetDefault marks which of a tenant's gateways Resolve picks when more than
// one is configured.
func (b *Builder) SetDefault(tenantID, gatewayName string) *Builder {
	e, ok := b.tenants[tenantID]
	if !ok {
		e = &tenantEntry{}
		b.tenants[tenantID] = e
	}
	e.defaultName = gatewayName
	return b
}

func (b *Builder) Build() *Registry {
	return &Registry{tenants: b.tenants}
}

// Resolve returns the active gateway for tenantID. A tenant with no gateway
// fails with NoGatewayConfigured; a tenant with several and no explicit
// default fails with AmbiguousGateway.
func (r *Registry) Resolve(tenantID string) (gateway.PaymentGateway, error) {
	e, ok := r.tenants[tenantID]
	if !ok || len(e.gateways) == 0 {
		return nil, fmt.Errorf("Resolve: tenant %q: %w", tenantID, domain.ErrNoGatewayConfigured)
	}
	if len(e.gateways) == 1 {
		return e.gateways[0], nil
	}
	if e.defaultName == "" {
		detail := fmt.Sprintf("tenant %q has %d gateways and no default", tenantID, len(e.gateways))
		return nil, fmt.Errorf("Resolve: %w", domain.NewError(domain.KindAmbiguousGateway, detail))
	}
	for _, gw := range e.gateways {
		if gw.Name() == e.defaultName {
			return gw, nil
		}
	}
	detail := fmt.Sprintf("tenant %q default %q is not registered", tenantID, e.defaultName)
	return nil, fmt.Errorf("Resolve: %w", domain.NewError(domain.KindAmbiguousGateway, detail))
}

// ResolveProvider returns the tenant's gateway with the given provider name.
// Inbound webhook routing uses this: the provider is part of the callback URL
// so notifications reach the implementation that can authenticate them.
func (r *Registry) ResolveProvider(tenantID, providerName string) (gateway.PaymentGateway, error) {
	e, ok := r.tenants[tenantID]
	if !ok || len(e.gateways) == 0 {
		return nil, fmt.Errorf("ResolveProvider: tenant %q: %w", tenantID, domain.ErrNoGatewayConfigured)
	}
	for _, gw := range e.gateways {
		if gw.Name() == providerName {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("ResolveProvider: tenant %q provider %q: %w", tenantID, providerName, domain.ErrNoGatewayConfigured)
}
