package config

import (
	"encoding/json"
	"fmt"
)

// Default names used when a tree is created empty.
const (
	// DefaultPoolName is the pool every tree starts with; providers that
	// specify no pool run on it.
	DefaultPoolName = "__primary__"

	// DefaultXstreamName is the execution stream created at startup.
	DefaultXstreamName = "__primary__"
)

// Tree errors. The manager maps these onto wire status codes.
var (
	ErrNameConflict = fmt.Errorf("name already exists")
	ErrUnknownPool  = fmt.Errorf("pool not found")
)

// Tree is the daemon's configuration document of record.
//
// Every mutation is append-only: providers, clients, ABT-IO instances,
// libraries and SSG groups are added, never removed or reconfigured. The
// tree lives for the daemon process's lifetime.
type Tree struct {
	Margo     MargoConfig       `json:"margo"`
	Libraries map[string]string `json:"libraries"`
	Providers []ProviderEntry   `json:"providers"`
	Clients   []ClientEntry     `json:"clients"`
	ABTIO     []ABTIOEntry      `json:"abt_io"`
	SSG       []json.RawMessage `json:"ssg"`
}

// MargoConfig describes the communication and threading runtime.
type MargoConfig struct {
	Mercury  MercuryConfig  `json:"mercury"`
	Argobots ArgobotsConfig `json:"argobots"`
}

// MercuryConfig describes the network endpoint of the daemon.
type MercuryConfig struct {
	Address   string `json:"address"`
	Listening bool   `json:"listening"`
}

// ArgobotsConfig describes execution pools and streams.
type ArgobotsConfig struct {
	Pools    []PoolConfig    `json:"pools"`
	Xstreams []XstreamConfig `json:"xstreams"`
}

// PoolConfig describes a named execution pool.
type PoolConfig struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Access string `json:"access"`
}

// XstreamConfig describes an execution stream and its scheduler.
type XstreamConfig struct {
	Name      string          `json:"name"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// SchedulerConfig links an execution stream to the pools it drains.
// Pools are referenced by name.
type SchedulerConfig struct {
	Type  string   `json:"type"`
	Pools []string `json:"pools"`
}

// ProviderEntry records an admitted provider.
type ProviderEntry struct {
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	ProviderID   uint16          `json:"provider_id"`
	Pool         string          `json:"pool"`
	Config       json.RawMessage `json:"config"`
	Dependencies DependencyMap   `json:"dependencies,omitempty"`
}

// ClientEntry records an admitted client component.
type ClientEntry struct {
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Config       json.RawMessage `json:"config"`
	Dependencies DependencyMap   `json:"dependencies,omitempty"`
}

// ABTIOEntry records a named asynchronous I/O execution context.
type ABTIOEntry struct {
	Name   string          `json:"name"`
	Pool   string          `json:"pool"`
	Config json.RawMessage `json:"config"`
}

// New creates an empty tree with the default pool and execution stream.
func New(address string) *Tree {
	return &Tree{
		Margo: MargoConfig{
			Mercury: MercuryConfig{Address: address, Listening: true},
			Argobots: ArgobotsConfig{
				Pools: []PoolConfig{
					{Name: DefaultPoolName, Kind: "fifo_wait", Access: "mpmc"},
				},
				Xstreams: []XstreamConfig{
					{
						Name: DefaultXstreamName,
						Scheduler: SchedulerConfig{
							Type:  "basic_wait",
							Pools: []string{DefaultPoolName},
						},
					},
				},
			},
		},
		Libraries: make(map[string]string),
	}
}

// FromJSON parses and validates an initial process document, such as the
// configuration file a daemon is bootstrapped from.
func FromJSON(data []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse process config: %w", err)
	}
	if t.Libraries == nil {
		t.Libraries = make(map[string]string)
	}
	if len(t.Margo.Argobots.Pools) == 0 {
		t.Margo.Argobots.Pools = []PoolConfig{
			{Name: DefaultPoolName, Kind: "fifo_wait", Access: "mpmc"},
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Snapshot serializes the tree to its canonical JSON form. Callers must
// hold whatever lock guards the tree for the duration of the call.
func (t *Tree) Snapshot() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to serialize config tree: %w", err)
	}
	return string(data), nil
}

// Validate checks structural invariants: unique names per section and
// resolvable pool references.
func (t *Tree) Validate() error {
	seen := make(map[string]struct{})
	for _, p := range t.Margo.Argobots.Pools {
		if p.Name == "" {
			return fmt.Errorf("pool with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: pool %q", ErrNameConflict, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	for _, x := range t.Margo.Argobots.Xstreams {
		for _, ref := range x.Scheduler.Pools {
			if !t.HasPool(ref) {
				return fmt.Errorf("%w: %q referenced by xstream %q", ErrUnknownPool, ref, x.Name)
			}
		}
	}

	seen = make(map[string]struct{})
	for _, p := range t.Providers {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: provider %q", ErrNameConflict, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Pool != "" && !t.HasPool(p.Pool) {
			return fmt.Errorf("%w: %q used by provider %q", ErrUnknownPool, p.Pool, p.Name)
		}
	}

	seen = make(map[string]struct{})
	for _, c := range t.Clients {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: client %q", ErrNameConflict, c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	seen = make(map[string]struct{})
	for _, a := range t.ABTIO {
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: abt_io instance %q", ErrNameConflict, a.Name)
		}
		seen[a.Name] = struct{}{}
		if !t.HasPool(a.Pool) {
			return fmt.Errorf("%w: %q used by abt_io instance %q", ErrUnknownPool, a.Pool, a.Name)
		}
	}

	return nil
}

// HasPool reports whether a pool with the given name is registered.
func (t *Tree) HasPool(name string) bool {
	for _, p := range t.Margo.Argobots.Pools {
		if p.Name == name {
			return true
		}
	}
	return false
}

// DefaultPool returns the name of the pool used when a provider specifies
// none: the first registered pool.
func (t *Tree) DefaultPool() string {
	if len(t.Margo.Argobots.Pools) > 0 {
		return t.Margo.Argobots.Pools[0].Name
	}
	return DefaultPoolName
}

// FindProvider returns the provider entry with the given name, or nil.
func (t *Tree) FindProvider(name string) *ProviderEntry {
	for i := range t.Providers {
		if t.Providers[i].Name == name {
			return &t.Providers[i]
		}
	}
	return nil
}

// FindClient returns the client entry with the given name, or nil.
func (t *Tree) FindClient(name string) *ClientEntry {
	for i := range t.Clients {
		if t.Clients[i].Name == name {
			return &t.Clients[i]
		}
	}
	return nil
}

// HasComponent reports whether a provider or client with the given name
// exists. Dependency targets resolve against both sections.
func (t *Tree) HasComponent(name string) bool {
	return t.FindProvider(name) != nil || t.FindClient(name) != nil
}

// FindABTIO returns the ABT-IO entry with the given name, or nil.
func (t *Tree) FindABTIO(name string) *ABTIOEntry {
	for i := range t.ABTIO {
		if t.ABTIO[i].Name == name {
			return &t.ABTIO[i]
		}
	}
	return nil
}

// AddProvider appends a provider entry. The caller is expected to have
// performed admission checks; this enforces only name uniqueness.
func (t *Tree) AddProvider(entry ProviderEntry) error {
	if t.FindProvider(entry.Name) != nil {
		return fmt.Errorf("%w: provider %q", ErrNameConflict, entry.Name)
	}
	t.Providers = append(t.Providers, entry)
	return nil
}

// AddClient appends a client entry, enforcing name uniqueness.
func (t *Tree) AddClient(entry ClientEntry) error {
	if t.FindClient(entry.Name) != nil {
		return fmt.Errorf("%w: client %q", ErrNameConflict, entry.Name)
	}
	t.Clients = append(t.Clients, entry)
	return nil
}

// AddABTIO appends an ABT-IO entry, enforcing name uniqueness and pool
// existence.
func (t *Tree) AddABTIO(entry ABTIOEntry) error {
	if t.FindABTIO(entry.Name) != nil {
		return fmt.Errorf("%w: abt_io instance %q", ErrNameConflict, entry.Name)
	}
	if !t.HasPool(entry.Pool) {
		return fmt.Errorf("%w: %q", ErrUnknownPool, entry.Pool)
	}
	t.ABTIO = append(t.ABTIO, entry)
	return nil
}

// HasLibrary reports whether a library with the given name is recorded.
func (t *Tree) HasLibrary(name string) bool {
	_, ok := t.Libraries[name]
	return ok
}

// AddLibrary records a loaded module, enforcing name uniqueness.
func (t *Tree) AddLibrary(name, path string) error {
	if _, exists := t.Libraries[name]; exists {
		return fmt.Errorf("%w: library %q", ErrNameConflict, name)
	}
	t.Libraries[name] = path
	return nil
}

// AddSSGGroup appends a group configuration. Groups are appended, never
// merged; uniqueness is the membership layer's concern.
func (t *Tree) AddSSGGroup(group json.RawMessage) {
	t.SSG = append(t.SSG, group)
}
