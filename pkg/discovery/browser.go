package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface selects one network interface by name. Empty means all.
	Interface string
}

// Browser searches for advertised daemons.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse streams discovered daemon instances until ctx is done.
// Instances seen on multiple interfaces are emitted once; their
// addresses are merged into the first entry.
func (b *Browser) Browse(ctx context.Context) (<-chan *Instance, error) {
	out := make(chan *Instance)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		seen := make(map[string]*Instance)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				inst := entryToInstance(entry)
				if inst == nil {
					continue
				}
				if existing, found := seen[inst.Name]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, inst.Addresses)
					continue
				}
				seen[inst.Name] = inst
				select {
				case out <- inst:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...)
	}()

	return out, nil
}

// Resolve finds the instance with the given name, waiting until ctx
// expires.
func (b *Browser) Resolve(ctx context.Context, name string) (*Instance, error) {
	instances, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case inst, ok := <-instances:
			if !ok {
				return nil, fmt.Errorf("daemon %q not found", name)
			}
			if inst.Name == name {
				return inst, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("daemon %q not found: %w", name, ctx.Err())
		}
	}
}

func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

func entryToInstance(entry *zeroconf.ServiceEntry) *Instance {
	ids, err := decodeTXT(entry.Text)
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)))
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)))
	}

	return &Instance{
		Name:        entry.Instance,
		Port:        entry.Port,
		ProviderIDs: ids,
		Addresses:   addrs,
	}
}

func mergeAddresses(existing, incoming []string) []string {
	have := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		have[a] = struct{}{}
	}
	for _, a := range incoming {
		if _, dup := have[a]; !dup {
			existing = append(existing, a)
		}
	}
	return existing
}
