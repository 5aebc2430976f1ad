package provider

import (
	"context"

	"github.com/pnpbots/pnptv-app-sub006/models"
)

// Resolver queries a provider for the current state of a transaction. It
// never returns an error: transport and provider failures come back as a
// Resolution with OK false.
type Resolver interface {
	Resolve(ctx context.Context, reference string) models.Resolution
}

// Registry maps reconcilable providers to their resolver.
type Registry map[models.Provider]Resolver

// For returns the resolver for p.
func (r Registry) For(p models.Provider) (Resolver, bool) {
	res, ok := r[p]
	return res, ok
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, reference string) models.Resolution

func (f ResolverFunc) Resolve(ctx context.Context, reference string) models.Resolution {
	return f(ctx, reference)
}
