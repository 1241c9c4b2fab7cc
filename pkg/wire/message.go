package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys for message encoding.
const (
	// Request keys
	KeyMessageID  = 1
	KeyMethod     = 2
	KeyProviderID = 3
	KeyToken      = 4
	KeyPayload    = 5

	// Response keys
	KeyStatus = 2
)

// Request represents a control request from a service handle to a manager.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32, non-zero
//	  2: method,       // uint8, one of the seven methods
//	  3: providerId,   // uint16, logical manager instance at the address
//	  4: token,        // bytes, optional session token
//	  5: payload       // method-specific request payload
//	}
type Request struct {
	MessageID  uint32          `cbor:"1,keyasint"`
	Method     Method          `cbor:"2,keyasint"`
	ProviderID uint16          `cbor:"3,keyasint"`
	Token      []byte          `cbor:"4,keyasint,omitempty"`
	Payload    cbor.RawMessage `cbor:"5,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return fmt.Errorf("messageId 0 is reserved")
	}
	if !r.Method.IsValid() {
		return fmt.Errorf("invalid method: %d", r.Method)
	}
	return nil
}

// Response represents a control response from a manager to a service handle.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32: matches request
//	  2: status,       // uint8: 0=success, or error code
//	  5: payload       // result payload (success) or ErrorPayload (failure)
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"5,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// ErrorPayload carries a human-readable failure message alongside an error
// status code.
type ErrorPayload struct {
	Message string `cbor:"1,keyasint"`
}

// QueryConfigRequest is the payload for MethodQueryConfig.
type QueryConfigRequest struct {
	Script string `cbor:"1,keyasint"`
}

// AddSSGGroupRequest is the payload for MethodAddSSGGroup. Config is an
// opaque JSON group-formation document.
type AddSSGGroupRequest struct {
	Config string `cbor:"1,keyasint"`
}

// CreateABTIOInstanceRequest is the payload for MethodCreateABTIOInstance.
type CreateABTIOInstanceRequest struct {
	Name   string `cbor:"1,keyasint"`
	Pool   string `cbor:"2,keyasint"`
	Config string `cbor:"3,keyasint,omitempty"`
}

// LoadModuleRequest is the payload for MethodLoadModule.
type LoadModuleRequest struct {
	Name string `cbor:"1,keyasint"`
	Path string `cbor:"2,keyasint"`
}

// StartProviderRequest is the payload for MethodStartProvider.
//
// Dependencies maps a role name to an ordered list of targets; each target
// is a local component name or a remote "name@address" reference. Target
// order within a role is preserved end to end.
type StartProviderRequest struct {
	Name         string              `cbor:"1,keyasint"`
	Type         string              `cbor:"2,keyasint"`
	ProviderID   uint16              `cbor:"3,keyasint"`
	Pool         string              `cbor:"4,keyasint,omitempty"`
	Config       string              `cbor:"5,keyasint,omitempty"`
	Dependencies map[string][]string `cbor:"6,keyasint,omitempty"`
}

// CreateClientRequest is the payload for MethodCreateClient.
type CreateClientRequest struct {
	Name         string              `cbor:"1,keyasint"`
	Type         string              `cbor:"2,keyasint"`
	Config       string              `cbor:"3,keyasint,omitempty"`
	Dependencies map[string][]string `cbor:"4,keyasint,omitempty"`
}

// ConfigResult is the success payload for MethodGetConfig and
// MethodQueryConfig: a serialized JSON document.
type ConfigResult struct {
	Document string `cbor:"1,keyasint"`
}
