package mfa

import (
	"context"
	"sort"

	"credential-lifecycle/backend/internal/mfa/domain"
)

// Provider is one second-factor channel. Adding a factor type means registering another Provider.
type Provider interface {
	// Name is the registry key; it equals the method type the provider serves.
	Name() string
	// Supports reports whether the subject has this factor enabled.
	Supports(s *domain.Subject) bool
	// Prepare issues and delivers a code for the subject.
	Prepare(ctx context.Context, s *domain.Subject) error
	// Validate reports whether code matches the subject's live code. Wrong or expired codes return false.
	Validate(s *domain.Subject, code string) bool
}

// Resender is implemented by providers that can re-deliver a live code.
type Resender interface {
	Resend(ctx context.Context, s *domain.Subject) error
}

// Redeemer is implemented by providers whose codes are single use. Redeem reports false when another
// caller already spent the code.
type Redeemer interface {
	Redeem(ctx context.Context, s *domain.Subject) (bool, error)
}

// Registry maps provider names to providers.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers ps by name. A later provider with the same name replaces an earlier one.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	return r
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Available returns the names of registered providers the subject can use.
func (r *Registry) Available(s *domain.Subject) []string {
	var out []string
	for _, n := range r.Names() {
		if r.providers[n].Supports(s) {
			out = append(out, n)
		}
	}
	return out
}
