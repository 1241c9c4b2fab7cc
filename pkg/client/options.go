package client

// componentOptions collects the optional arguments of StartProvider and
// CreateClient. Zero values match the daemon's defaults: provider id 0,
// the default pool, an empty config and no dependencies.
type componentOptions struct {
	providerID   uint16
	pool         string
	config       string
	dependencies map[string][]string
}

// Option customizes a StartProvider or CreateClient call.
type Option func(*componentOptions)

// WithProviderID sets the provider id a new provider is reachable under.
// Ignored by CreateClient.
func WithProviderID(id uint16) Option {
	return func(o *componentOptions) { o.providerID = id }
}

// WithPool binds a new provider to a named pool instead of the default.
// Ignored by CreateClient.
func WithPool(name string) Option {
	return func(o *componentOptions) { o.pool = name }
}

// WithConfig passes a JSON configuration document to the component's
// factory.
func WithConfig(jsonConfig string) Option {
	return func(o *componentOptions) { o.config = jsonConfig }
}

// WithDependency binds targets to a dependency role. Targets are local
// component names or remote "name@address" references; their order is
// preserved. Repeated calls for the same role append.
func WithDependency(role string, targets ...string) Option {
	return func(o *componentOptions) {
		if o.dependencies == nil {
			o.dependencies = make(map[string][]string)
		}
		o.dependencies[role] = append(o.dependencies[role], targets...)
	}
}

func applyOptions(opts []Option) componentOptions {
	var o componentOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
