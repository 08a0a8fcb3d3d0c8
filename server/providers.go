package server

import (
	"errors"
	"fmt"
	"sort"

	"dario.cat/mergo"
)

// ErrUnknownProvider is returned when a provider name is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Provider holds the OAuth endpoints of an upstream.
type Provider struct {
	Name         string `yaml:"-"`
	AuthorizeURL string `yaml:"authorize_url"`
	TokenURL     string `yaml:"token_url"`
}

// DefaultProviders returns the built-in upstreams.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:         "meo-dev",
			AuthorizeURL: "https://disco.dev.sapo.pt/oauth2/authorize",
			TokenURL:     "https://disco.dev.sapo.pt/oauth2/token",
		},
		{
			Name:         "meo",
			AuthorizeURL: "https://meocloud.pt/oauth2/authorize",
			TokenURL:     "https://meocloud.pt/oauth2/token",
		},
		{
			Name:         "dropbox",
			AuthorizeURL: "https://www.dropbox.com/1/oauth2/authorize",
			TokenURL:     "https://api.dropbox.com/1/oauth2/token",
		},
	}
}

// Registry is an immutable name to Provider table.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from providers. Later entries replace earlier
// ones with the same name.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name] = p
	}
	return r
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry merges configured overrides onto the built-in providers. An
// override only replaces the fields it sets; a new name must set both URLs.
func BuildRegistry(overrides map[string]Provider) (*Registry, error) {
	builtins := DefaultProviders()
	byName := make(map[string]Provider, len(builtins))
	for _, p := range builtins {
		byName[p.Name] = p
	}

	for name, override := range overrides {
		override.Name = name
		if base, ok := byName[name]; ok {
			if err := mergo.Merge(&override, base); err != nil {
				return nil, fmt.Errorf("merge provider %s: %w", name, err)
			}
		}
		if override.AuthorizeURL == "" || override.TokenURL == "" {
			return nil, fmt.Errorf("provider %s: authorize_url and token_url are required", name)
		}
		byName[name] = override
	}

	all := make([]Provider, 0, len(byName))
	for _, p := range byName {
		all = append(all, p)
	}
	return NewRegistry(all...), nil
}
