// Package kv provides a reference key-value module demonstrating how to
// build a loadable keel module.
//
// The module registers itself in the builtin table under the path key
// "kv.mod" and exposes:
//   - a "kv" provider type backed by an in-memory map
//   - a "kv" client type that requires exactly one "provider" dependency
//
// It can serve as a template for building real module implementations.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/keelworks/keel/pkg/registry"
)

func init() {
	registry.RegisterBuiltin("kv.mod", func(name string) registry.Module {
		return &Module{name: name}
	})
}

// Module is the kv module. One instance is created per load.
type Module struct {
	name string
}

// Name returns the name the module was loaded under.
func (m *Module) Name() string { return m.name }

// ProviderFactories returns the provider types supplied by the module.
func (m *Module) ProviderFactories() map[string]registry.ProviderFactory {
	return map[string]registry.ProviderFactory{
		"kv": providerFactory{},
	}
}

// ClientFactories returns the client types supplied by the module.
func (m *Module) ClientFactories() map[string]registry.ClientFactory {
	return map[string]registry.ClientFactory{
		"kv": clientFactory{},
	}
}

// providerConfig is the JSON configuration accepted by the kv provider.
type providerConfig struct {
	// Seed pre-populates the store.
	Seed map[string]string `json:"seed,omitempty"`
	// ReadOnly rejects Put calls.
	ReadOnly bool `json:"read_only,omitempty"`
}

type providerFactory struct{}

func (providerFactory) DependencySpecs() []registry.DependencySpec { return nil }

func (providerFactory) StartProvider(args registry.ProviderArgs) (registry.Component, error) {
	var cfg providerConfig
	if args.Config != "" {
		if err := json.Unmarshal([]byte(args.Config), &cfg); err != nil {
			return nil, fmt.Errorf("invalid kv provider config: %w", err)
		}
	}

	p := &Provider{
		name:       args.Name,
		providerID: args.ProviderID,
		pool:       args.Pool,
		readOnly:   cfg.ReadOnly,
		store:      make(map[string]string, len(cfg.Seed)),
	}
	for k, v := range cfg.Seed {
		p.store[k] = v
	}
	return p, nil
}

// Provider is an in-memory key-value store instance.
type Provider struct {
	mu         sync.RWMutex
	name       string
	providerID uint16
	pool       string
	readOnly   bool
	destroyed  bool
	store      map[string]string
}

// ErrReadOnly is returned by Put on a read-only provider.
var ErrReadOnly = errors.New("kv provider is read-only")

// ErrDestroyed is returned by operations on a destroyed component.
var ErrDestroyed = errors.New("kv component destroyed")

// Name returns the provider instance name.
func (p *Provider) Name() string { return p.name }

// ProviderID returns the provider id the instance was started with.
func (p *Provider) ProviderID() uint16 { return p.providerID }

// Pool returns the pool the provider was bound to.
func (p *Provider) Pool() string { return p.pool }

// Get returns the value for key.
func (p *Provider) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.destroyed {
		return "", false
	}
	v, ok := p.store[key]
	return v, ok
}

// Put stores value under key.
func (p *Provider) Put(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	if p.readOnly {
		return ErrReadOnly
	}
	p.store[key] = value
	return nil
}

// Len returns the number of stored keys.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.store)
}

// Destroy releases the store.
func (p *Provider) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	p.store = nil
	return nil
}

type clientFactory struct{}

func (clientFactory) DependencySpecs() []registry.DependencySpec {
	return []registry.DependencySpec{
		{Name: "provider", Type: "kv", Required: true},
	}
}

func (clientFactory) CreateClient(args registry.ClientArgs) (registry.Component, error) {
	deps := args.Dependencies["provider"]
	if len(deps) == 0 {
		return nil, errors.New("kv client requires a provider dependency")
	}

	c := &Client{name: args.Name, target: deps[0].Name}
	if deps[0].Instance != nil {
		p, ok := deps[0].Instance.(*Provider)
		if !ok {
			return nil, fmt.Errorf("kv client bound to non-kv component %q", deps[0].Name)
		}
		c.provider = p
	}
	return c, nil
}

// Client accesses a kv provider. When bound to a remote target the
// provider handle is nil and only the target name is recorded.
type Client struct {
	mu       sync.Mutex
	name     string
	target   string
	provider *Provider
	closed   bool
}

// Name returns the client instance name.
func (c *Client) Name() string { return c.name }

// Target returns the name of the bound provider.
func (c *Client) Target() string { return c.target }

// Get reads a key through the bound provider.
func (c *Client) Get(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false, ErrDestroyed
	}
	if c.provider == nil {
		return "", false, fmt.Errorf("kv client %q has no local provider", c.name)
	}
	v, ok := c.provider.Get(key)
	return v, ok, nil
}

// Put writes a key through the bound provider.
func (c *Client) Put(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDestroyed
	}
	if c.provider == nil {
		return fmt.Errorf("kv client %q has no local provider", c.name)
	}
	return c.provider.Put(key, value)
}

// Destroy releases the client.
func (c *Client) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.provider = nil
	return nil
}
