package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keelworks/keel/pkg/config"
	"github.com/keelworks/keel/pkg/log"
	"github.com/keelworks/keel/pkg/registry"
	"github.com/keelworks/keel/pkg/wire"
)

// Options configures a Manager.
type Options struct {
	// Address is the daemon's listen address, recorded in the tree.
	Address string

	// ProviderIDs are the logical manager ids served at this address.
	// Empty means id 0 only.
	ProviderIDs []uint16

	// InitialConfig is an optional JSON process document the tree is
	// bootstrapped from instead of an empty tree.
	InitialConfig []byte

	// Registry holds loaded modules. Nil creates a fresh registry over
	// the builtin module table.
	Registry *registry.Registry

	// Query evaluates QueryConfig scripts. Nil uses PathEvaluator.
	Query QueryEvaluator

	// Membership forms SSG groups. Nil uses NoopMembership.
	Membership Membership

	// Auth verifies session tokens on mutating methods. Nil disables
	// verification.
	Auth *Authenticator

	// Logger receives manager-layer protocol events. Nil discards.
	Logger log.Logger
}

// Manager owns the configuration tree and serves the seven control
// methods. One lock serializes all mutations; admission is all-or-nothing.
type Manager struct {
	mu        sync.Mutex
	tree      *config.Tree
	registry  *registry.Registry
	query     QueryEvaluator
	member    Membership
	auth      *Authenticator
	logger    log.Logger
	serves    map[uint16]struct{}
	instances map[string]registry.Component

	// admitted preserves admission order for shutdown teardown.
	admitted []string
}

// New creates a manager from the given options.
func New(opts Options) (*Manager, error) {
	var tree *config.Tree
	if len(opts.InitialConfig) > 0 {
		t, err := config.FromJSON(opts.InitialConfig)
		if err != nil {
			return nil, err
		}
		if t.Margo.Mercury.Address == "" {
			t.Margo.Mercury.Address = opts.Address
		}
		tree = t
	} else {
		tree = config.New(opts.Address)
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.New(nil)
	}
	// Libraries named by the initial document must actually be loaded,
	// otherwise the tree would advertise types the registry cannot serve.
	for name, path := range tree.Libraries {
		if reg.Loaded(name) {
			continue
		}
		if err := reg.Load(name, path); err != nil {
			return nil, fmt.Errorf("failed to load library %q from initial config: %w", name, err)
		}
	}
	query := opts.Query
	if query == nil {
		query = PathEvaluator{}
	}
	member := opts.Membership
	if member == nil {
		member = NoopMembership{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	ids := opts.ProviderIDs
	if len(ids) == 0 {
		ids = []uint16{0}
	}
	serves := make(map[uint16]struct{}, len(ids))
	for _, id := range ids {
		serves[id] = struct{}{}
	}

	return &Manager{
		tree:      tree,
		registry:  reg,
		query:     query,
		member:    member,
		auth:      opts.Auth,
		logger:    logger,
		serves:    serves,
		instances: make(map[string]registry.Component),
	}, nil
}

// ServesProvider reports whether the manager serves the given provider id.
func (m *Manager) ServesProvider(id uint16) bool {
	_, ok := m.serves[id]
	return ok
}

// Dispatch routes a decoded request to its operation and builds the
// response. It never returns nil.
func (m *Manager) Dispatch(req *wire.Request) *wire.Response {
	start := time.Now()
	resp := m.dispatch(req)
	m.logResponse(req, resp, time.Since(start))
	return resp
}

func (m *Manager) dispatch(req *wire.Request) *wire.Response {
	if req == nil {
		return wire.NewErrorResponse(0, wire.StatusInvalidRequest, "empty request")
	}
	if err := req.Validate(); err != nil {
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}
	if !m.ServesProvider(req.ProviderID) {
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest,
			fmt.Sprintf("no manager with provider id %d at this address", req.ProviderID))
	}
	if req.Method.Mutates() && !m.auth.Verify(req.Token) {
		return wire.NewErrorResponse(req.MessageID, wire.StatusNotAuthorized,
			"missing or invalid session token")
	}

	switch req.Method {
	case wire.MethodGetConfig:
		doc, err := m.GetConfig()
		return m.configResponse(req.MessageID, doc, err)

	case wire.MethodQueryConfig:
		var p wire.QueryConfigRequest
		if err := decodePayload(req.Payload, &p); err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
		}
		doc, err := m.QueryConfig(p.Script)
		return m.configResponse(req.MessageID, doc, err)

	case wire.MethodAddSSGGroup:
		var p wire.AddSSGGroupRequest
		if err := decodePayload(req.Payload, &p); err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
		}
		return m.emptyResponse(req.MessageID, m.AddSSGGroup(p.Config))

	case wire.MethodCreateABTIOInstance:
		var p wire.CreateABTIOInstanceRequest
		if err := decodePayload(req.Payload, &p); err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
		}
		return m.emptyResponse(req.MessageID, m.CreateABTIOInstance(p.Name, p.Pool, p.Config))

	case wire.MethodLoadModule:
		var p wire.LoadModuleRequest
		if err := decodePayload(req.Payload, &p); err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
		}
		return m.emptyResponse(req.MessageID, m.LoadModule(p.Name, p.Path))

	case wire.MethodStartProvider:
		var p wire.StartProviderRequest
		if err := decodePayload(req.Payload, &p); err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
		}
		err := m.StartProvider(p.Name, p.Type, p.ProviderID, p.Pool, p.Config,
			config.DependencyMap(p.Dependencies))
		return m.emptyResponse(req.MessageID, err)

	case wire.MethodCreateClient:
		var p wire.CreateClientRequest
		if err := decodePayload(req.Payload, &p); err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
		}
		err := m.CreateClient(p.Name, p.Type, p.Config,
			config.DependencyMap(p.Dependencies))
		return m.emptyResponse(req.MessageID, err)

	default:
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest,
			fmt.Sprintf("unknown method %d", req.Method))
	}
}

func (m *Manager) configResponse(msgID uint32, doc string, err error) *wire.Response {
	if err != nil {
		return wire.NewErrorResponse(msgID, statusOf(err), err.Error())
	}
	resp, err := wire.NewSuccessResponse(msgID, wire.ConfigResult{Document: doc})
	if err != nil {
		return wire.NewErrorResponse(msgID, wire.StatusInvalidRequest, err.Error())
	}
	return resp
}

func (m *Manager) emptyResponse(msgID uint32, err error) *wire.Response {
	if err != nil {
		return wire.NewErrorResponse(msgID, statusOf(err), err.Error())
	}
	resp, rerr := wire.NewSuccessResponse(msgID, nil)
	if rerr != nil {
		return wire.NewErrorResponse(msgID, wire.StatusInvalidRequest, rerr.Error())
	}
	return resp
}

// GetConfig returns the current configuration snapshot as JSON.
func (m *Manager) GetConfig() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.tree.Snapshot()
	if err != nil {
		return "", errf(wire.StatusInvalidConfig, "%v", err)
	}
	return doc, nil
}

// QueryConfig evaluates a script against a snapshot of the tree. The
// evaluator runs outside the lock on a serialized copy, so it cannot
// observe or cause concurrent mutation.
func (m *Manager) QueryConfig(script string) (string, error) {
	doc, err := m.GetConfig()
	if err != nil {
		return "", err
	}

	result, err := m.query.Evaluate(script, doc)
	if err != nil {
		return "", errf(wire.StatusInvalidScript, "%v", err)
	}
	return result, nil
}

// ssgGroupDoc is the part of a group document the manager validates.
type ssgGroupDoc struct {
	Name string `json:"name"`
}

// AddSSGGroup validates a group document, delegates formation to the
// membership layer and appends the document to the tree.
func (m *Manager) AddSSGGroup(groupConfig string) error {
	var doc ssgGroupDoc
	if err := json.Unmarshal([]byte(groupConfig), &doc); err != nil {
		return errf(wire.StatusInvalidConfig, "group config is not valid JSON: %v", err)
	}
	if doc.Name == "" {
		return errf(wire.StatusInvalidConfig, "group config has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.member.CreateGroup(json.RawMessage(groupConfig)); err != nil {
		return errf(wire.StatusConstructionFailed, "%v", err)
	}
	m.tree.AddSSGGroup(json.RawMessage(groupConfig))
	m.logAdmission("ssg_group", doc.Name)
	return nil
}

// CreateABTIOInstance admits a named asynchronous I/O execution context
// bound to an existing pool. Unlike StartProvider, the pool is never
// defaulted; an instance without a registered pool has nowhere to run.
func (m *Manager) CreateABTIOInstance(name, pool, abtioConfig string) error {
	if name == "" {
		return errf(wire.StatusInvalidRequest, "instance name is empty")
	}
	if abtioConfig != "" && !json.Valid([]byte(abtioConfig)) {
		return errf(wire.StatusInvalidConfig, "instance config is not valid JSON")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.tree.AddABTIO(config.ABTIOEntry{
		Name:   name,
		Pool:   pool,
		Config: rawOrEmpty(abtioConfig),
	})
	if err != nil {
		return treeError(err)
	}
	m.logAdmission("abt_io", name)
	return nil
}

// LoadModule loads a module and records it in the tree's library map.
// Loading is not undoable.
func (m *Manager) LoadModule(name, path string) error {
	if name == "" || path == "" {
		return errf(wire.StatusInvalidRequest, "module name and path are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The tree check runs first: registry loads are irreversible, so a
	// rejected request must not leave the module behind.
	if m.tree.HasLibrary(name) {
		return errf(wire.StatusNameConflict, "library %q already exists", name)
	}
	if err := m.registry.Load(name, path); err != nil {
		switch {
		case errors.Is(err, registry.ErrModuleExists):
			return errf(wire.StatusNameConflict, "%v", err)
		default:
			return errf(wire.StatusLoadFailure, "%v", err)
		}
	}
	if err := m.tree.AddLibrary(name, path); err != nil {
		return treeError(err)
	}
	m.logAdmission("library", name)
	return nil
}

// StartProvider admits a provider through the full admission sequence:
// name uniqueness, type lookup, dependency resolution, pool resolution,
// construction, commit. Any failure leaves the tree untouched.
func (m *Manager) StartProvider(name, typeName string, providerID uint16, pool, providerConfig string, deps config.DependencyMap) error {
	if name == "" || typeName == "" {
		return errf(wire.StatusInvalidRequest, "provider name and type are required")
	}
	if providerConfig != "" && !json.Valid([]byte(providerConfig)) {
		return errf(wire.StatusInvalidConfig, "provider config is not valid JSON")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree.HasComponent(name) {
		return errf(wire.StatusNameConflict, "component %q already exists", name)
	}

	factory, ok := m.registry.FindProviderType(typeName)
	if !ok {
		return errf(wire.StatusUnknownType, "no loaded module supplies provider type %q", typeName)
	}

	resolved, err := resolveDependencies(m.tree, m.instances, factory.DependencySpecs(), deps)
	if err != nil {
		return err
	}

	if pool == "" {
		pool = m.tree.DefaultPool()
	} else if !m.tree.HasPool(pool) {
		return errf(wire.StatusUnknownPool, "pool %q is not registered", pool)
	}

	comp, err := factory.StartProvider(registry.ProviderArgs{
		Name:         name,
		ProviderID:   providerID,
		Pool:         pool,
		Config:       providerConfig,
		Dependencies: resolved,
	})
	if err != nil {
		return errf(wire.StatusConstructionFailed, "%v", err)
	}

	err = m.tree.AddProvider(config.ProviderEntry{
		Name:         name,
		Type:         typeName,
		ProviderID:   providerID,
		Pool:         pool,
		Config:       rawOrEmpty(providerConfig),
		Dependencies: deps,
	})
	if err != nil {
		_ = comp.Destroy()
		return treeError(err)
	}

	m.instances[name] = comp
	m.admitted = append(m.admitted, name)
	m.logAdmission("provider", name)
	return nil
}

// CreateClient admits a client component. Clients have no provider id or
// pool; the admission sequence is otherwise the same as StartProvider.
func (m *Manager) CreateClient(name, typeName, clientConfig string, deps config.DependencyMap) error {
	if name == "" || typeName == "" {
		return errf(wire.StatusInvalidRequest, "client name and type are required")
	}
	if clientConfig != "" && !json.Valid([]byte(clientConfig)) {
		return errf(wire.StatusInvalidConfig, "client config is not valid JSON")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree.HasComponent(name) {
		return errf(wire.StatusNameConflict, "component %q already exists", name)
	}

	factory, ok := m.registry.FindClientType(typeName)
	if !ok {
		return errf(wire.StatusUnknownType, "no loaded module supplies client type %q", typeName)
	}

	resolved, err := resolveDependencies(m.tree, m.instances, factory.DependencySpecs(), deps)
	if err != nil {
		return err
	}

	comp, err := factory.CreateClient(registry.ClientArgs{
		Name:         name,
		Config:       clientConfig,
		Dependencies: resolved,
	})
	if err != nil {
		return errf(wire.StatusConstructionFailed, "%v", err)
	}

	err = m.tree.AddClient(config.ClientEntry{
		Name:         name,
		Type:         typeName,
		Config:       rawOrEmpty(clientConfig),
		Dependencies: deps,
	})
	if err != nil {
		_ = comp.Destroy()
		return treeError(err)
	}

	m.instances[name] = comp
	m.admitted = append(m.admitted, name)
	m.logAdmission("client", name)
	return nil
}

// Component returns the live instance admitted under name, or nil.
func (m *Manager) Component(name string) registry.Component {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[name]
}

// Shutdown destroys all admitted components in reverse admission order.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := len(m.admitted) - 1; i >= 0; i-- {
		name := m.admitted[i]
		if comp := m.instances[name]; comp != nil {
			if err := comp.Destroy(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to destroy %q: %w", name, err)
			}
		}
		delete(m.instances, name)
	}
	m.admitted = nil
	return firstErr
}

// decodePayload decodes a method payload. An absent payload leaves the
// target zero-valued so defaults apply.
func decodePayload(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return wire.Unmarshal(data, v)
}

func rawOrEmpty(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

// treeError maps config tree sentinel errors onto wire statuses.
func treeError(err error) error {
	switch {
	case errors.Is(err, config.ErrNameConflict):
		return errf(wire.StatusNameConflict, "%v", err)
	case errors.Is(err, config.ErrUnknownPool):
		return errf(wire.StatusUnknownPool, "%v", err)
	default:
		return errf(wire.StatusInvalidConfig, "%v", err)
	}
}

func (m *Manager) logAdmission(kind, name string) {
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerManager,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityComponent,
			NewState: "admitted",
			Reason:   fmt.Sprintf("%s %q", kind, name),
		},
	})
}

func (m *Manager) logResponse(req *wire.Request, resp *wire.Response, elapsed time.Duration) {
	var method *wire.Method
	var providerID *uint16
	if req != nil {
		method = &req.Method
		providerID = &req.ProviderID
	}
	status := resp.Status
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerManager,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:           log.MessageTypeResponse,
			MessageID:      resp.MessageID,
			Method:         method,
			ProviderID:     providerID,
			Status:         &status,
			ProcessingTime: &elapsed,
		},
	})
}
