package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface selects one network interface by name. Empty means all.
	Interface string

	// TTLSeconds is the DNS record TTL. Zero uses DefaultTTLSeconds.
	TTLSeconds uint32
}

// Advertiser announces a daemon instance over mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.TTLSeconds == 0 {
		config.TTLSeconds = DefaultTTLSeconds
	}
	return &Advertiser{config: config}
}

// Advertise registers the instance. A previous registration is replaced.
func (a *Advertiser) Advertise(inst *Instance) error {
	if inst.Name == "" {
		return fmt.Errorf("instance name is empty")
	}
	if inst.Port == 0 {
		return fmt.Errorf("instance port is zero")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	opts := []zeroconf.ServerOption{zeroconf.TTL(a.config.TTLSeconds)}

	server, err := zeroconf.Register(
		inst.Name,
		ServiceType,
		Domain,
		inst.Port,
		encodeTXT(inst),
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
