// Package version provides protocol version parsing, comparison, and ALPN
// helpers.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this module.
const Current = "1.0"

// Release is the keel release string, overridable at build time with
// -ldflags "-X github.com/keelworks/keel/pkg/version.Release=...".
var Release = "dev"

// Protocol represents a parsed "major.minor" protocol version.
type Protocol struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (Protocol, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Protocol{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return Protocol{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return Protocol{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return Protocol{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v Protocol) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
// Minor revisions only add optional behavior.
func (v Protocol) Compatible(other Protocol) bool {
	return v.Major == other.Major
}

// ALPNProtocol returns the ALPN protocol string for a major version:
// "keel/N".
func ALPNProtocol(major uint16) string {
	return fmt.Sprintf("keel/%d", major)
}

// MajorFromALPN extracts the major version from an ALPN protocol string.
func MajorFromALPN(alpn string) (uint16, error) {
	suffix, ok := strings.CutPrefix(alpn, "keel/")
	if !ok {
		return 0, fmt.Errorf("not a keel ALPN protocol: %q", alpn)
	}
	if suffix == "" {
		return 0, fmt.Errorf("empty major version in ALPN: %q", alpn)
	}

	major, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid major version in ALPN %q: %w", alpn, err)
	}
	return uint16(major), nil
}
