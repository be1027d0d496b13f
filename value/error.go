package value

import "fmt"

// ErrorCode is the numeric code of a remote call error.
type ErrorCode int

const (
	CodeUnknown             ErrorCode = 0
	CodeInvalidRequest      ErrorCode = 1
	CodeMethodNotFound      ErrorCode = 2
	CodeInvalidParams       ErrorCode = 3
	CodeInternalError       ErrorCode = 4
	CodeParseError          ErrorCode = 5
	CodeMethodCallTimeout   ErrorCode = 6
	CodeMethodCallCancelled ErrorCode = 7
	CodeMethodCallException ErrorCode = 8
	CodePermissionDenied    ErrorCode = 9
	CodeLoginRequired       ErrorCode = 10
	CodeUserIDRequired      ErrorCode = 11
	CodeNotImplemented      ErrorCode = 12
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:             "Unknown",
	CodeInvalidRequest:      "InvalidRequest",
	CodeMethodNotFound:      "MethodNotFound",
	CodeInvalidParams:       "InvalidParams",
	CodeInternalError:       "InternalError",
	CodeParseError:          "ParseError",
	CodeMethodCallTimeout:   "MethodCallTimeout",
	CodeMethodCallCancelled: "MethodCallCancelled",
	CodeMethodCallException: "MethodCallException",
	CodePermissionDenied:    "PermissionDenied",
	CodeLoginRequired:       "LoginRequired",
	CodeUserIDRequired:      "UserIDRequired",
	CodeNotImplemented:      "NotImplemented",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is the error variant of Value. It also implements the error interface,
// so a remote failure can travel through ordinary Go error returns.
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError builds an error value.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (*Error) Kind() Kind { return KindError }

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
