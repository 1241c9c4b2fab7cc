// Package client provides the handle side of the control protocol: a
// Client dials daemons and hands out ServiceHandles addressing one
// (address, provider id) pair each. Handles sharing an address share one
// connection; requests are correlated by message id so calls from
// multiple goroutines interleave on the same connection.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keelworks/keel/pkg/log"
	"github.com/keelworks/keel/pkg/transport"
	"github.com/keelworks/keel/pkg/wire"
)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithToken attaches a session token to every mutating request.
func WithToken(token []byte) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the protocol event logger.
func WithLogger(logger log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Client is a factory for service handles, bound to one transport
// client instance.
type Client struct {
	transport *transport.Client
	logger    log.Logger
	token     []byte

	mu     sync.Mutex
	conns  map[string]*managedConn
	closed bool
}

// New creates a client over the given transport.
func New(tc *transport.Client, opts ...ClientOption) *Client {
	c := &Client{
		transport: tc,
		logger:    log.NoopLogger{},
		conns:     make(map[string]*managedConn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateServiceHandle returns a handle addressing the manager with the
// given provider id at address. No I/O happens here; the connection is
// established by the first call on the handle.
func (c *Client) CreateServiceHandle(address string, providerID uint16) (*ServiceHandle, error) {
	if address == "" {
		return nil, fmt.Errorf("address is empty")
	}
	return &ServiceHandle{client: c, address: address, providerID: providerID}, nil
}

// Close closes all connections. Pending calls fail with ErrUnreachable.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := make([]*managedConn, 0, len(c.conns))
	for _, mc := range c.conns {
		conns = append(conns, mc)
	}
	c.conns = make(map[string]*managedConn)
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	for _, mc := range conns {
		if err := mc.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// getConn returns the shared connection for address, dialing if needed.
func (c *Client) getConn(ctx context.Context, address string) (*managedConn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: client closed", ErrUnreachable)
	}
	if mc, ok := c.conns[address]; ok && !mc.isClosed() {
		c.mu.Unlock()
		return mc, nil
	}
	c.mu.Unlock()

	tc, err := c.transport.Connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	mc := newManagedConn(tc, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		mc.close()
		return nil, fmt.Errorf("%w: client closed", ErrUnreachable)
	}
	// another goroutine may have connected meanwhile
	if existing, ok := c.conns[address]; ok && !existing.isClosed() {
		mc.close()
		return existing, nil
	}
	c.conns[address] = mc
	return mc, nil
}

// managedConn wraps one transport connection with message-id based
// request/response correlation.
type managedConn struct {
	conn   *transport.ClientConn
	logger log.Logger

	nextID atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan *wire.Response
	closed  bool
	failure error
}

func newManagedConn(conn *transport.ClientConn, logger log.Logger) *managedConn {
	mc := &managedConn{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint32]chan *wire.Response),
	}
	go mc.readLoop()
	return mc
}

func (mc *managedConn) isClosed() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.closed
}

func (mc *managedConn) close() error {
	mc.failAll(fmt.Errorf("%w: connection closed", ErrUnreachable))
	return mc.conn.Close()
}

// failAll marks the connection dead and unblocks every pending call.
func (mc *managedConn) failAll(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return
	}
	mc.closed = true
	mc.failure = err
	for id, ch := range mc.pending {
		close(ch)
		delete(mc.pending, id)
	}
}

func (mc *managedConn) readLoop() {
	for {
		data, err := mc.conn.Receive(0)
		if err != nil {
			mc.failAll(fmt.Errorf("%w: %v", ErrUnreachable, err))
			return
		}

		resp, err := wire.DecodeResponse(data)
		if err != nil {
			mc.logger.Log(log.Event{
				Timestamp: time.Now(),
				Direction: log.DirectionIn,
				Layer:     log.LayerWire,
				Category:  log.CategoryError,
				Error: &log.ErrorEventData{
					Layer:   log.LayerWire,
					Message: err.Error(),
					Context: "decode response",
				},
			})
			continue
		}

		mc.mu.Lock()
		ch, ok := mc.pending[resp.MessageID]
		if ok {
			delete(mc.pending, resp.MessageID)
		}
		mc.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// roundTrip sends one request and waits for its response or ctx.
func (mc *managedConn) roundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	ch := make(chan *wire.Response, 1)

	mc.mu.Lock()
	if mc.closed {
		err := mc.failure
		mc.mu.Unlock()
		return nil, err
	}
	mc.pending[req.MessageID] = ch
	mc.mu.Unlock()

	data, err := wire.EncodeRequest(req)
	if err != nil {
		mc.drop(req.MessageID)
		return nil, err
	}
	if err := mc.conn.Send(data); err != nil {
		mc.drop(req.MessageID)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			mc.mu.Lock()
			err := mc.failure
			mc.mu.Unlock()
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		mc.drop(req.MessageID)
		return nil, ctx.Err()
	}
}

func (mc *managedConn) drop(msgID uint32) {
	mc.mu.Lock()
	delete(mc.pending, msgID)
	mc.mu.Unlock()
}

// ServiceHandle addresses one manager: a daemon address plus the
// provider id of the manager instance at that address.
type ServiceHandle struct {
	client     *Client
	address    string
	providerID uint16
}

// Address returns the daemon address the handle points at.
func (h *ServiceHandle) Address() string { return h.address }

// ProviderID returns the manager instance id the handle points at.
func (h *ServiceHandle) ProviderID() uint16 { return h.providerID }

func (h *ServiceHandle) call(ctx context.Context, method wire.Method, payload any) (*wire.Response, error) {
	mc, err := h.client.getConn(ctx, h.address)
	if err != nil {
		return nil, err
	}

	msgID := mc.nextID.Add(1)
	req, err := wire.NewRequest(msgID, method, h.providerID, payload)
	if err != nil {
		return nil, err
	}
	if method.Mutates() {
		req.Token = h.client.token
	}

	resp, err := mc.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, responseError(resp)
	}
	return resp, nil
}

func (h *ServiceHandle) callConfig(ctx context.Context, method wire.Method, payload any) (string, error) {
	resp, err := h.call(ctx, method, payload)
	if err != nil {
		return "", err
	}
	var result wire.ConfigResult
	if err := wire.Unmarshal(resp.Payload, &result); err != nil {
		return "", fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return result.Document, nil
}

// GetConfig returns the daemon's configuration snapshot as JSON.
func (h *ServiceHandle) GetConfig(ctx context.Context) (string, error) {
	return h.callConfig(ctx, wire.MethodGetConfig, nil)
}

// QueryConfig evaluates a read-only script against the daemon's
// configuration and returns the serialized result.
func (h *ServiceHandle) QueryConfig(ctx context.Context, script string) (string, error) {
	return h.callConfig(ctx, wire.MethodQueryConfig, wire.QueryConfigRequest{Script: script})
}

// AddSSGGroup asks the daemon to form a process group from the given
// JSON group document.
func (h *ServiceHandle) AddSSGGroup(ctx context.Context, groupConfig string) error {
	_, err := h.call(ctx, wire.MethodAddSSGGroup, wire.AddSSGGroupRequest{Config: groupConfig})
	return err
}

// CreateABTIOInstance creates a named asynchronous I/O execution context
// on the daemon, bound to a registered pool.
func (h *ServiceHandle) CreateABTIOInstance(ctx context.Context, name, pool, jsonConfig string) error {
	_, err := h.call(ctx, wire.MethodCreateABTIOInstance, wire.CreateABTIOInstanceRequest{
		Name:   name,
		Pool:   pool,
		Config: jsonConfig,
	})
	return err
}

// LoadModule asks the daemon to load the module at path under name.
func (h *ServiceHandle) LoadModule(ctx context.Context, name, path string) error {
	_, err := h.call(ctx, wire.MethodLoadModule, wire.LoadModuleRequest{Name: name, Path: path})
	return err
}

// StartProvider admits a provider of the given type on the daemon.
func (h *ServiceHandle) StartProvider(ctx context.Context, name, typeName string, opts ...Option) error {
	o := applyOptions(opts)
	_, err := h.call(ctx, wire.MethodStartProvider, wire.StartProviderRequest{
		Name:         name,
		Type:         typeName,
		ProviderID:   o.providerID,
		Pool:         o.pool,
		Config:       o.config,
		Dependencies: o.dependencies,
	})
	return err
}

// CreateClient admits a client component of the given type on the
// daemon. Provider id and pool options are ignored.
func (h *ServiceHandle) CreateClient(ctx context.Context, name, typeName string, opts ...Option) error {
	o := applyOptions(opts)
	_, err := h.call(ctx, wire.MethodCreateClient, wire.CreateClientRequest{
		Name:         name,
		Type:         typeName,
		Config:       o.config,
		Dependencies: o.dependencies,
	})
	return err
}
