// Package daemon assembles a running keel daemon: the transport server,
// the service manager behind it and an optional mDNS advertisement.
package daemon

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/keelworks/keel/pkg/discovery"
	"github.com/keelworks/keel/pkg/log"
	"github.com/keelworks/keel/pkg/manager"
	"github.com/keelworks/keel/pkg/transport"
	"github.com/keelworks/keel/pkg/wire"
)

// Config configures a daemon.
type Config struct {
	// Address to listen on. Empty uses the default port on all
	// interfaces.
	Address string

	// TLS carries the server certificate and optional client CA.
	TLS *transport.TLSConfig

	// Manager serves the control methods. Required.
	Manager *manager.Manager

	// Logger receives protocol events. Nil discards.
	Logger log.Logger

	// MaxMessageSize caps frame sizes. Zero uses the transport default.
	MaxMessageSize uint32

	// Discovery, when non-nil, advertises the daemon over mDNS.
	Discovery *DiscoveryConfig
}

// DiscoveryConfig configures the daemon's mDNS advertisement.
type DiscoveryConfig struct {
	// InstanceName is the advertised instance name.
	InstanceName string

	// Interface selects one network interface. Empty means all.
	Interface string

	// ProviderIDs advertised in the TXT record.
	ProviderIDs []uint16
}

// Daemon is a running keel daemon.
type Daemon struct {
	config     Config
	logger     log.Logger
	server     *transport.Server
	advertiser *discovery.Advertiser
	running    atomic.Bool
}

// New creates a daemon. Call Start to begin serving.
func New(config Config) (*Daemon, error) {
	if config.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if config.TLS == nil {
		return nil, fmt.Errorf("TLS config is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	d := &Daemon{config: config, logger: logger}

	server, err := transport.NewServer(transport.ServerConfig{
		TLSConfig:      config.TLS,
		Address:        config.Address,
		MaxMessageSize: config.MaxMessageSize,
		Logger:         logger,
		OnMessage:      d.handleMessage,
		OnError:        d.handleError,
	})
	if err != nil {
		return nil, err
	}
	d.server = server
	return d, nil
}

// Start begins accepting control connections and, if configured,
// advertises the daemon over mDNS.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("daemon already started")
	}
	if err := d.server.Start(ctx); err != nil {
		d.running.Store(false)
		return err
	}

	if dc := d.config.Discovery; dc != nil {
		port, err := listenPort(d.server.Addr())
		if err != nil {
			d.server.Stop()
			d.running.Store(false)
			return err
		}
		d.advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Interface: dc.Interface,
		})
		err = d.advertiser.Advertise(&discovery.Instance{
			Name:        dc.InstanceName,
			Port:        port,
			ProviderIDs: dc.ProviderIDs,
		})
		if err != nil {
			d.server.Stop()
			d.running.Store(false)
			return err
		}
	}
	return nil
}

// Stop withdraws the advertisement, stops the server and destroys all
// admitted components.
func (d *Daemon) Stop() error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	if d.advertiser != nil {
		d.advertiser.Stop()
		d.advertiser = nil
	}
	if err := d.server.Stop(); err != nil {
		return err
	}
	return d.config.Manager.Shutdown()
}

// Addr returns the listen address, or nil before Start.
func (d *Daemon) Addr() net.Addr {
	return d.server.Addr()
}

func (d *Daemon) handleMessage(conn *transport.ServerConn, msg []byte) {
	req, err := wire.DecodeRequest(msg)
	if err != nil {
		resp := wire.NewErrorResponse(0, wire.StatusInvalidRequest, err.Error())
		d.send(conn, resp)
		return
	}

	resp := d.config.Manager.Dispatch(req)
	d.send(conn, resp)
}

func (d *Daemon) send(conn *transport.ServerConn, resp *wire.Response) {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		d.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: conn.ConnID(),
			Direction:    log.DirectionOut,
			Layer:        log.LayerWire,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerWire,
				Message: err.Error(),
				Context: "encode response",
			},
		})
		return
	}
	if err := conn.Send(data); err != nil {
		d.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: conn.ConnID(),
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerTransport,
				Message: err.Error(),
				Context: "send response",
			},
		})
	}
}

func (d *Daemon) handleError(conn *transport.ServerConn, err error) {
	connID := ""
	if conn != nil {
		connID = conn.ConnID()
	}
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
		},
	})
}

func listenPort(addr net.Addr) (int, error) {
	if addr == nil {
		return 0, fmt.Errorf("server has no listen address")
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("failed to parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse listen port %q: %w", portStr, err)
	}
	return port, nil
}
