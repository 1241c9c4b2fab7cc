package manager

import "encoding/json"

// Membership performs group formation for SSG group requests. The group
// protocol itself is external; the manager only validates the group
// document, delegates formation, and records the document on success.
type Membership interface {
	// CreateGroup forms the group described by the document. An error
	// aborts the request; its message is surfaced to the caller.
	CreateGroup(group json.RawMessage) error
}

// NoopMembership accepts every group without forming anything. It is the
// default when no membership layer is configured.
type NoopMembership struct{}

// CreateGroup implements Membership.
func (NoopMembership) CreateGroup(json.RawMessage) error { return nil }
