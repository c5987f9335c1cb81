// Package adapters bridges the ledger's ports to concrete services.
package adapters

import (
	"context"

	ledgerservice "merit/internal/ledger/service"
	regservice "merit/internal/registry/service"
	id "merit/pkg/domain"
)

// RegistryResolver adapts the registry service to the ledger's
// IdentityResolver port.
type RegistryResolver struct {
	registry *regservice.Service
}

func NewRegistryResolver(registry *regservice.Service) *RegistryResolver {
	return &RegistryResolver{registry: registry}
}

func (a *RegistryResolver) ResolveLogin(ctx context.Context, login id.Login) (id.ParticipantKey, error) {
	return a.registry.ResolveLogin(ctx, login)
}

func (a *RegistryResolver) Get(ctx context.Context, rawKey string) (*ledgerservice.ParticipantRef, error) {
	p, err := a.registry.Get(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	return &ledgerservice.ParticipantRef{
		Key:              p.Key,
		ExternalIdentity: p.ExternalIdentity,
	}, nil
}
