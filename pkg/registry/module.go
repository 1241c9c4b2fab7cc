package registry

// DependencySpec declares one dependency role in a component type's schema.
type DependencySpec struct {
	// Name of the role, as referenced in a caller's dependency map.
	Name string

	// Type the bound component(s) must have.
	Type string

	// Required indicates the role must be bound to at least one target.
	Required bool

	// Multiple indicates the role accepts more than one target. Roles
	// with Multiple false reject a second binding.
	Multiple bool
}

// ResolvedDependency is one target bound to a role after resolution.
type ResolvedDependency struct {
	// Name of the target component.
	Name string

	// Address of the remote process hosting the component; empty for
	// local targets.
	Address string

	// Instance is the constructed local component, nil for remote
	// targets.
	Instance Component
}

// ProviderArgs carries everything a provider factory needs to construct an
// instance.
type ProviderArgs struct {
	Name       string
	ProviderID uint16
	Pool       string
	Config     string

	// Dependencies maps role names to resolved targets, preserving the
	// caller's target order within each role.
	Dependencies map[string][]ResolvedDependency
}

// ClientArgs carries everything a client factory needs to construct an
// instance. Clients are not independently addressable, so there is no
// provider id or pool.
type ClientArgs struct {
	Name   string
	Config string

	Dependencies map[string][]ResolvedDependency
}

// Component is a constructed provider or client instance.
type Component interface {
	// Destroy releases the component's resources. Called at daemon
	// shutdown; components are never destroyed individually.
	Destroy() error
}

// ProviderFactory constructs providers of a single type.
type ProviderFactory interface {
	// DependencySpecs returns the type's declared dependency schema.
	DependencySpecs() []DependencySpec

	// StartProvider constructs a provider instance. An error aborts the
	// admission; its message is surfaced to the caller verbatim.
	StartProvider(args ProviderArgs) (Component, error)
}

// ClientFactory constructs client components of a single type.
type ClientFactory interface {
	// DependencySpecs returns the type's declared dependency schema.
	DependencySpecs() []DependencySpec

	// CreateClient constructs a client instance. An error aborts the
	// admission; its message is surfaced to the caller verbatim.
	CreateClient(args ClientArgs) (Component, error)
}

// Module supplies factories for one or more component types.
type Module interface {
	// Name returns the module's canonical name.
	Name() string

	// ProviderFactories returns the module's provider factories, keyed
	// by type name.
	ProviderFactories() map[string]ProviderFactory

	// ClientFactories returns the module's client factories, keyed by
	// type name.
	ClientFactories() map[string]ClientFactory
}
