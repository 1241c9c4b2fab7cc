package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for control messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for control messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeRequest encodes a request message to CBOR bytes.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// DecodeRequest decodes CBOR bytes into a request message.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response message to CBOR bytes.
func EncodeResponse(resp *Response) ([]byte, error) {
	return Marshal(resp)
}

// DecodeResponse decodes CBOR bytes into a response message.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewRequest builds a request with an encoded payload. A nil payload
// produces a request with no payload field (GetConfig).
func NewRequest(msgID uint32, method Method, providerID uint16, payload any) (*Request, error) {
	req := &Request{
		MessageID:  msgID,
		Method:     method,
		ProviderID: providerID,
	}
	if payload != nil {
		raw, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
		}
		req.Payload = raw
	}
	return req, nil
}

// NewErrorResponse builds a failure response carrying a message.
func NewErrorResponse(msgID uint32, status Status, message string) *Response {
	raw, err := Marshal(&ErrorPayload{Message: message})
	if err != nil {
		// ErrorPayload contains a single string; encoding cannot fail.
		raw = nil
	}
	return &Response{MessageID: msgID, Status: status, Payload: raw}
}

// NewSuccessResponse builds a success response with an optional payload.
func NewSuccessResponse(msgID uint32, payload any) (*Response, error) {
	resp := &Response{MessageID: msgID, Status: StatusSuccess}
	if payload != nil {
		raw, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode response payload: %w", err)
		}
		resp.Payload = raw
	}
	return resp, nil
}

// ErrorMessage extracts the error message from a failure response payload.
// Returns the status name if the payload carries no message.
func ErrorMessage(resp *Response) string {
	if len(resp.Payload) > 0 {
		var ep ErrorPayload
		if err := Unmarshal(resp.Payload, &ep); err == nil && ep.Message != "" {
			return ep.Message
		}
	}
	return resp.Status.String()
}
