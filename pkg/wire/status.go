package wire

// Status represents a response status code.
//
// Connectivity failures are never carried on the wire; they surface on the
// client side as transport errors. Every code other than StatusSuccess is
// terminal for the triggering call.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusInvalidRequest indicates the request could not be decoded or
	// was addressed to a provider id this manager does not serve.
	StatusInvalidRequest Status = 1

	// StatusNameConflict indicates the name already exists in the
	// relevant section of the configuration tree.
	StatusNameConflict Status = 2

	// StatusUnknownType indicates no loaded module supplies the type.
	StatusUnknownType Status = 3

	// StatusUnknownPool indicates the pool name is not registered.
	StatusUnknownPool Status = 4

	// StatusMissingDependency indicates a required dependency role was
	// given no target.
	StatusMissingDependency Status = 5

	// StatusUnresolvedDependency indicates a dependency target does not
	// resolve to a registered component, or the role is not declared by
	// the component's type.
	StatusUnresolvedDependency Status = 6

	// StatusDependencyArity indicates the number of targets bound to a
	// role violates the type's declared cardinality.
	StatusDependencyArity Status = 7

	// StatusConstructionFailed indicates the type's factory returned an
	// error; the message carries the factory's error text.
	StatusConstructionFailed Status = 8

	// StatusInvalidConfig indicates a malformed configuration payload.
	StatusInvalidConfig Status = 9

	// StatusInvalidScript indicates the query script could not be
	// evaluated.
	StatusInvalidScript Status = 10

	// StatusLoadFailure indicates the module path could not be resolved
	// or loaded.
	StatusLoadFailure Status = 11

	// StatusNotAuthorized indicates a mutating request arrived without a
	// valid session token while the manager requires one.
	StatusNotAuthorized Status = 12
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusNameConflict:
		return "NAME_CONFLICT"
	case StatusUnknownType:
		return "UNKNOWN_TYPE"
	case StatusUnknownPool:
		return "UNKNOWN_POOL"
	case StatusMissingDependency:
		return "MISSING_DEPENDENCY"
	case StatusUnresolvedDependency:
		return "UNRESOLVED_DEPENDENCY"
	case StatusDependencyArity:
		return "DEPENDENCY_ARITY"
	case StatusConstructionFailed:
		return "CONSTRUCTION_FAILED"
	case StatusInvalidConfig:
		return "INVALID_CONFIG"
	case StatusInvalidScript:
		return "INVALID_SCRIPT"
	case StatusLoadFailure:
		return "LOAD_FAILURE"
	case StatusNotAuthorized:
		return "NOT_AUTHORIZED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
