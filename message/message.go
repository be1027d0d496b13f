// Package message defines the envelope exchanged between a client and a device,
// and the outcome a remote call resolves to.
//
// RPCMessage is serialized by the codec layer and wrapped in a protocol frame for
// transmission. The request id does not live in the envelope; it travels in the
// frame header so responses can be matched without decoding the body.
package message

import (
	"shvattr/value"
)

// RequestID correlates a sent call with its response. Ids are assigned by the
// connection and never interpreted. Zero means "no request".
type RequestID uint64

// Outcome is the result of one remote call: exactly one of Result and Err is meaningful.
type Outcome struct {
	Result value.Value
	Err    *value.Error
}

// Success wraps a result value.
func Success(v value.Value) Outcome {
	if v == nil {
		v = value.Null{}
	}
	return Outcome{Result: v}
}

// Failure wraps an error value.
func Failure(err *value.Error) Outcome {
	return Outcome{Err: err}
}

// IsError reports whether the call failed.
func (o Outcome) IsError() bool {
	return o.Err != nil
}

// Value returns the outcome as a single structured value: the error or the result.
func (o Outcome) Value() value.Value {
	if o.Err != nil {
		return o.Err
	}
	return o.Result
}

// RPCMessage carries a single request or response.
//
//   - On request:  Path and Method name the target, Access is the caller's access level,
//     Payload holds the params in textual notation (empty for no params).
//   - On response: Payload holds the result in textual notation, ErrorCode/Error are set
//     if the call failed.
type RPCMessage struct {
	Path      string
	Method    string
	Access    byte
	ErrorCode int32
	Error     string
	Payload   []byte
}

// IsError reports whether the message is a failed response.
func (m *RPCMessage) IsError() bool {
	return m.Error != "" || m.ErrorCode != 0
}

// SetParams stores params in the payload. A nil value leaves the payload empty.
func (m *RPCMessage) SetParams(v value.Value) {
	m.Payload = nil
	if v != nil {
		m.Payload = []byte(value.Cpon(v))
	}
}

// Params decodes the request payload; an empty payload yields nil.
func (m *RPCMessage) Params() (value.Value, error) {
	if len(m.Payload) == 0 {
		return nil, nil
	}
	return value.Parse(string(m.Payload))
}

// SetOutcome fills the response fields from o.
func (m *RPCMessage) SetOutcome(o Outcome) {
	if o.Err != nil {
		m.ErrorCode = int32(o.Err.Code)
		m.Error = o.Err.Message
		m.Payload = nil
		return
	}
	m.ErrorCode = 0
	m.Error = ""
	m.Payload = []byte(value.Cpon(o.Result))
}

// Outcome decodes a response. A payload that does not parse becomes a ParseError outcome.
func (m *RPCMessage) Outcome() Outcome {
	if m.IsError() {
		code := value.ErrorCode(m.ErrorCode)
		if code == value.CodeUnknown {
			code = value.CodeMethodCallException
		}
		return Failure(&value.Error{Code: code, Message: m.Error})
	}
	if len(m.Payload) == 0 {
		return Success(value.Null{})
	}
	v, err := value.Parse(string(m.Payload))
	if err != nil {
		return Failure(value.NewError(value.CodeParseError, "invalid response payload: %v", err))
	}
	return Success(v)
}

// ErrorResponse builds a failed response to req.
func ErrorResponse(req *RPCMessage, err *value.Error) *RPCMessage {
	resp := &RPCMessage{Path: req.Path, Method: req.Method}
	resp.SetOutcome(Failure(err))
	return resp
}
