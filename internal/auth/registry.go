package auth

import (
	"context"
	"fmt"

	"github.com/jun/docpick/internal/model"
)

// Registry maps each provider to its connector.
type Registry struct {
	connectors map[model.Provider]*Connector
}

func NewRegistry(connectors ...*Connector) *Registry {
	r := &Registry{connectors: make(map[model.Provider]*Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Provider()] = c
	}
	return r
}

// Get returns the connector for p.
func (r *Registry) Get(p model.Provider) (*Connector, error) {
	c, ok := r.connectors[p]
	if !ok {
		return nil, fmt.Errorf("provider %s is not configured", p)
	}
	return c, nil
}

// Complete dispatches a shared OAuth callback to the connector that issued state.
func (r *Registry) Complete(ctx context.Context, state, code, providerError string) (model.Provider, bool) {
	p, ok := ProviderFromState(state)
	if !ok {
		return "", false
	}
	c, err := r.Get(p)
	if err != nil {
		return p, false
	}
	return p, c.CompleteAuthorization(ctx, state, code, providerError)
}

// Status reports the state of every configured provider in display order.
func (r *Registry) Status(ctx context.Context, userID string) map[model.Provider]State {
	out := make(map[model.Provider]State, len(r.connectors))
	for _, p := range model.Providers {
		if c, ok := r.connectors[p]; ok {
			out[p] = c.Status(ctx, userID)
		}
	}
	return out
}

// Configured lists configured providers in display order.
func (r *Registry) Configured() []model.Provider {
	var out []model.Provider
	for _, p := range model.Providers {
		if _, ok := r.connectors[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
