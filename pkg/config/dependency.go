package config

import (
	"fmt"
	"strings"
)

// DependencyMap maps a dependency role name to an ordered list of targets.
// Each target is either a local component name or a remote reference of the
// form "name@address". Target order within a role is caller-significant and
// preserved end to end.
type DependencyMap map[string][]string

// Target is a parsed dependency target.
type Target struct {
	// Name of the component.
	Name string

	// Address of the remote process hosting the component; empty for
	// local targets.
	Address string
}

// Remote reports whether the target lives in another process.
func (t Target) Remote() bool {
	return t.Address != ""
}

// String returns the wire form of the target.
func (t Target) String() string {
	if t.Address == "" {
		return t.Name
	}
	return t.Name + "@" + t.Address
}

// ParseTarget parses a dependency target. Local targets are bare component
// names; remote targets are "name@address". Remote targets are only
// format-validated: their existence cannot be checked locally.
func ParseTarget(s string) (Target, error) {
	if s == "" {
		return Target{}, fmt.Errorf("empty dependency target")
	}

	name, addr, remote := strings.Cut(s, "@")
	if !remote {
		return Target{Name: s}, nil
	}
	if name == "" {
		return Target{}, fmt.Errorf("remote dependency target %q has no component name", s)
	}
	if addr == "" {
		return Target{}, fmt.Errorf("remote dependency target %q has no address", s)
	}
	return Target{Name: name, Address: addr}, nil
}
