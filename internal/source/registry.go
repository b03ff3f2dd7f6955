package source

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ErrUnknownSource is returned when no provider handles a source kind.
var ErrUnknownSource = errors.New("unknown source")

// Registry maps source kinds to providers. It is built once at startup and
// read-only afterwards.
type Registry struct {
	providers map[Kind]Provider
	order     []Kind
}

// NewRegistry builds a registry from a fixed provider list.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[Kind]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		kind := p.Kind()
		if _, exists := r.providers[kind]; exists {
			return nil, fmt.Errorf("duplicate provider for %s", kind)
		}
		r.providers[kind] = p
		r.order = append(r.order, kind)
	}
	return r, nil
}

// Lookup returns the provider for kind.
func (r *Registry) Lookup(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
	return p, nil
}

// Kinds lists registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	return slices.Clone(r.order)
}

// NewConfig builds a default config for a band.
func (r *Registry) NewConfig(band Band) (*Config, error) {
	p, err := r.Lookup(band.Kind)
	if err != nil {
		return nil, err
	}
	return NewConfig(band, p.Profile(band)), nil
}

// DefaultConfig builds a default config on the provider's default band.
func (r *Registry) DefaultConfig(kind Kind) (*Config, error) {
	p, err := r.Lookup(kind)
	if err != nil {
		return nil, err
	}
	band := p.DefaultBand()
	return NewConfig(band, p.Profile(band)), nil
}

// Rebind moves cfg onto a new band, syncing its parameters.
func (r *Registry) Rebind(cfg *Config, band Band) error {
	p, err := r.Lookup(band.Kind)
	if err != nil {
		return err
	}
	cfg.SetBand(band, p.Profile(band))
	return nil
}

// NewManager constructs the manager for cfg's kind.
func (r *Registry) NewManager(cfg *Config, logger *slog.Logger) (Manager, error) {
	p, err := r.Lookup(cfg.Kind())
	if err != nil {
		return nil, err
	}
	return p.NewManager(cfg.Clone(), logger)
}
