package larch

import (
	"errors"
	"fmt"
)

// ResultCode classifies the outcome of a directory operation. The numbering
// follows the LDAP result codes (RFC 4511 section 4.1.9) so that a protocol
// frontend can forward codes unchanged.
type ResultCode int

const (
	ResultSuccess                      ResultCode = 0
	ResultOperationsError              ResultCode = 1
	ResultProtocolError                ResultCode = 2
	ResultTimeLimitExceeded            ResultCode = 3
	ResultUnsupportedCriticalExtension ResultCode = 12
	ResultNoSuchAttribute              ResultCode = 16
	ResultAttributeOrValueExists       ResultCode = 20
	ResultInvalidAttributeSyntax       ResultCode = 21
	ResultNoSuchObject                 ResultCode = 32
	ResultInsufficientAccessRights     ResultCode = 50
	ResultBusy                         ResultCode = 51
	ResultEntryAlreadyExists           ResultCode = 68
	ResultOther                        ResultCode = 80
)

// String returns the RFC name of the code.
func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultOperationsError:
		return "operationsError"
	case ResultProtocolError:
		return "protocolError"
	case ResultTimeLimitExceeded:
		return "timeLimitExceeded"
	case ResultUnsupportedCriticalExtension:
		return "unavailableCriticalExtension"
	case ResultNoSuchAttribute:
		return "noSuchAttribute"
	case ResultAttributeOrValueExists:
		return "attributeOrValueExists"
	case ResultInvalidAttributeSyntax:
		return "invalidAttributeSyntax"
	case ResultNoSuchObject:
		return "noSuchObject"
	case ResultInsufficientAccessRights:
		return "insufficientAccessRights"
	case ResultBusy:
		return "busy"
	case ResultEntryAlreadyExists:
		return "entryAlreadyExists"
	default:
		return "other"
	}
}

// Error is a directory error: a result code plus a human-readable message.
type Error struct {
	Code ResultCode
	Msg  string
}

// Errf builds an Error with a formatted message.
func Errf(code ResultCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports code equality so that errors.Is(err, &Error{Code: c}) works
// against wrapped errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the result code from err. A nil error is success; an error
// without an embedded code is ResultOther.
func CodeOf(err error) ResultCode {
	if err == nil {
		return ResultSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ResultOther
}
