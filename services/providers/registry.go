package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/upb/market-routes/models"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")

	// ErrReservedName is returned for names that collide with the fallback service
	ErrReservedName = errors.New("provider name is reserved")

	// ErrInvalidTier is returned for tiers outside 1..100
	ErrInvalidTier = errors.New("tier must be between 1 and 100")
)

// Registry keeps provider descriptors ordered by descending tier.
// Providers with equal tiers keep their registration order.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	names       map[string]struct{}
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]struct{}),
	}
}

// RegisterProvider registers a provider with its tier and per-call timeout
func (r *Registry) RegisterProvider(provider Provider, tier int, timeout time.Duration) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if name == models.FallbackService {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	if tier < 1 || tier > 100 {
		return fmt.Errorf("%w: %s=%d", ErrInvalidTier, name, tier)
	}
	if timeout < 0 {
		return fmt.Errorf("provider %s: timeout cannot be negative", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}

	r.names[name] = struct{}{}
	r.descriptors = append(r.descriptors, Descriptor{Provider: provider, Tier: tier, Timeout: timeout})
	sort.SliceStable(r.descriptors, func(i, j int) bool {
		return r.descriptors[i].Tier > r.descriptors[j].Tier
	})

	return nil
}

// UnregisterProvider removes a provider from the registry
func (r *Registry) UnregisterProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; !exists {
		return ErrProviderNotFound
	}

	delete(r.names, name)
	kept := r.descriptors[:0]
	for _, d := range r.descriptors {
		if d.Name() != name {
			kept = append(kept, d)
		}
	}
	r.descriptors = kept

	return nil
}

// GetDescriptor retrieves a descriptor by provider name
func (r *Registry) GetDescriptor(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.descriptors {
		if d.Name() == name {
			return d, nil
		}
	}
	return Descriptor{}, ErrProviderNotFound
}

// Descriptors returns a copy of the descriptors in attempt order
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// ListProviders returns the registered provider names in attempt order
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		names = append(names, d.Name())
	}
	return names
}

// GetProviderCount returns the number of registered providers
func (r *Registry) GetProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.descriptors)
}

// MinTier returns the lowest registered tier, or 0 when empty
func (r *Registry) MinTier() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.descriptors) == 0 {
		return 0
	}
	return r.descriptors[len(r.descriptors)-1].Tier
}

// ProviderBuilder is a function that creates a provider instance
type ProviderBuilder func(config ProviderConfig) (Provider, error)

// RegistryBuilder helps build a registry with multiple providers
type RegistryBuilder struct {
	registry *Registry
	builders map[string]ProviderBuilder
	order    []string
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		registry: NewRegistry(),
		builders: make(map[string]ProviderBuilder),
	}
}

// WithProviderBuilder registers a provider builder.
// Builders run in the order they were added.
func (rb *RegistryBuilder) WithProviderBuilder(name string, builder ProviderBuilder) *RegistryBuilder {
	if _, exists := rb.builders[name]; !exists {
		rb.order = append(rb.order, name)
	}
	rb.builders[name] = builder
	return rb
}

// Build creates the configured providers and returns the registry.
// Only names present in configs are built; each needs an entry in tiers.
func (rb *RegistryBuilder) Build(configs map[string]ProviderConfig, tiers TierTable) (*Registry, error) {
	for _, name := range rb.order {
		config, enabled := configs[name]
		if !enabled {
			continue
		}
		tier, ok := tiers[name]
		if !ok {
			return nil, fmt.Errorf("no tier configured for provider %s", name)
		}

		provider, err := rb.builders[name](config)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", name, err)
		}
		if err := rb.registry.RegisterProvider(provider, tier, config.Timeout); err != nil {
			return nil, fmt.Errorf("failed to register provider %s: %w", name, err)
		}
	}

	return rb.registry, nil
}
