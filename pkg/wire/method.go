package wire

// Method identifies a control-protocol operation.
type Method uint8

const (
	// MethodGetConfig fetches the full serialized configuration snapshot.
	MethodGetConfig Method = 1

	// MethodQueryConfig evaluates a read-only script against the
	// configuration snapshot.
	MethodQueryConfig Method = 2

	// MethodAddSSGGroup submits a group-formation configuration.
	MethodAddSSGGroup Method = 3

	// MethodCreateABTIOInstance registers a named I/O execution context.
	MethodCreateABTIOInstance Method = 4

	// MethodLoadModule loads a named factory module.
	MethodLoadModule Method = 5

	// MethodStartProvider instantiates a named provider.
	MethodStartProvider Method = 6

	// MethodCreateClient instantiates a named client component.
	MethodCreateClient Method = 7
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodGetConfig:
		return "GetConfig"
	case MethodQueryConfig:
		return "QueryConfig"
	case MethodAddSSGGroup:
		return "AddSSGGroup"
	case MethodCreateABTIOInstance:
		return "CreateABTIOInstance"
	case MethodLoadModule:
		return "LoadModule"
	case MethodStartProvider:
		return "StartProvider"
	case MethodCreateClient:
		return "CreateClient"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the method is a known control-protocol method.
func (m Method) IsValid() bool {
	return m >= MethodGetConfig && m <= MethodCreateClient
}

// Mutates returns true if the method modifies the configuration tree.
func (m Method) Mutates() bool {
	switch m {
	case MethodGetConfig, MethodQueryConfig:
		return false
	default:
		return m.IsValid()
	}
}
