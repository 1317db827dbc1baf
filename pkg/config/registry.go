package config

import (
	"fmt"
	"sort"
)

// ServiceRegistry holds the configured tool services keyed by name.
// Read-only after configuration load.
type ServiceRegistry struct {
	services map[string]*ServiceConfig
}

// NewServiceRegistry builds a registry, stamping each entry with its key.
func NewServiceRegistry(services map[string]*ServiceConfig) *ServiceRegistry {
	for name, svc := range services {
		svc.Name = name
	}
	return &ServiceRegistry{services: services}
}

// Get returns the configuration of one service.
func (r *ServiceRegistry) Get(name string) (*ServiceConfig, error) {
	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("service %q: %w", name, ErrNotRegistered)
	}
	return svc, nil
}

// Names returns the registered service names in stable order.
func (r *ServiceRegistry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered services keyed by name.
func (r *ServiceRegistry) All() map[string]*ServiceConfig {
	return r.services
}

// LLMProviderRegistry holds the configured model endpoints keyed by name.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
}

// NewLLMProviderRegistry builds a provider registry, stamping names.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	for name, p := range providers {
		p.Name = name
	}
	return &LLMProviderRegistry{providers: providers}
}

// Get returns one provider's configuration.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q: %w", name, ErrNotRegistered)
	}
	return p, nil
}

// Names returns the registered provider names in stable order.
func (r *LLMProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config is the fully-loaded, validated configuration.
type Config struct {
	configDir string

	Defaults         *Defaults
	System           *SystemConfig
	Services         *ServiceRegistry
	LLMProviders     *LLMProviderRegistry
	Prompts          map[string]*PromptConfig
	DefaultProvider  string
	AllowedWSOrigins []string
}

// GetPrompt returns a named prompt configuration.
func (c *Config) GetPrompt(name string) (*PromptConfig, error) {
	p, ok := c.Prompts[name]
	if !ok {
		return nil, fmt.Errorf("prompt %q: %w", name, ErrNotRegistered)
	}
	return p, nil
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Services     int
	LLMProviders int
	Prompts      int
}

// Stats returns counts of loaded configuration entries.
func (c *Config) Stats() Stats {
	return Stats{
		Services:     len(c.Services.All()),
		LLMProviders: len(c.LLMProviders.Names()),
		Prompts:      len(c.Prompts),
	}
}
