// Package discovery advertises keel daemons over mDNS and browses for
// them, so handles can resolve a daemon by instance name instead of a
// hard-coded address.
package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// mDNS service parameters.
const (
	// ServiceType is the DNS-SD service type for keel daemons.
	ServiceType = "_keel._tcp"

	// Domain is the DNS-SD domain.
	Domain = "local."

	// DefaultTTLSeconds is the DNS record TTL.
	DefaultTTLSeconds = 120
)

// TXT record keys.
const (
	// txtKeyVersion is the protocol version key.
	txtKeyVersion = "v"

	// txtKeyProviderIDs lists the provider ids served at the address,
	// comma separated.
	txtKeyProviderIDs = "pids"
)

// protocolVersion is advertised in TXT records.
const protocolVersion = "1"

// Instance describes one advertised daemon.
type Instance struct {
	// Name is the mDNS instance name, unique per daemon.
	Name string

	// Port the daemon listens on.
	Port int

	// ProviderIDs are the manager instance ids served at the address.
	ProviderIDs []uint16

	// Addresses are the resolved host addresses (browse side only).
	Addresses []string
}

// encodeTXT builds the TXT records for an instance.
func encodeTXT(inst *Instance) []string {
	ids := make([]string, len(inst.ProviderIDs))
	for i, id := range inst.ProviderIDs {
		ids[i] = strconv.Itoa(int(id))
	}
	return []string{
		txtKeyVersion + "=" + protocolVersion,
		txtKeyProviderIDs + "=" + strings.Join(ids, ","),
	}
}

// decodeTXT extracts provider ids from TXT records. Records without a
// pids key yield an empty list.
func decodeTXT(txt []string) ([]uint16, error) {
	for _, record := range txt {
		key, value, ok := strings.Cut(record, "=")
		if !ok || key != txtKeyProviderIDs || value == "" {
			continue
		}
		parts := strings.Split(value, ",")
		ids := make([]uint16, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
			if err != nil {
				return nil, fmt.Errorf("bad provider id %q in TXT record: %w", p, err)
			}
			ids = append(ids, uint16(n))
		}
		return ids, nil
	}
	return nil, nil
}
