package commonerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCategory string

const (
	CategoryValidation   ErrorCategory = "VALIDATION"
	CategoryProtocol     ErrorCategory = "PROTOCOL"
	CategoryNotFound     ErrorCategory = "NOT_FOUND"
	CategoryConflict     ErrorCategory = "CONFLICT"
	CategoryUnauthorized ErrorCategory = "UNAUTHORIZED"
	CategoryInternal     ErrorCategory = "INTERNAL"
	CategoryExternal     ErrorCategory = "EXTERNAL"
)

type DomainError interface {
	error
	Code() string
	Category() ErrorCategory
	HTTPStatus() int
	Message() string
	Unwrap() error
	WithCause(cause error) DomainError
	WithMessage(message string) DomainError
}

type domainError struct {
	code     string
	category ErrorCategory
	status   int
	message  string
	cause    error
	// kind is the registered sentinel this error was derived from.
	kind *domainError
}

func (e *domainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *domainError) Code() string {
	return e.code
}

func (e *domainError) Category() ErrorCategory {
	return e.category
}

func (e *domainError) HTTPStatus() int {
	return e.status
}

func (e *domainError) Message() string {
	return e.message
}

func (e *domainError) Unwrap() error {
	return e.cause
}

// Is matches derived errors against the sentinel they came from.
func (e *domainError) Is(target error) bool {
	t, ok := target.(*domainError)
	if !ok {
		return false
	}
	return e.root() == t.root()
}

func (e *domainError) root() *domainError {
	if e.kind != nil {
		return e.kind
	}
	return e
}

func (e *domainError) WithCause(cause error) DomainError {
	return &domainError{
		code:     e.code,
		category: e.category,
		status:   e.status,
		message:  e.message,
		cause:    cause,
		kind:     e.root(),
	}
}

// WithMessage replaces the message text; Error() returns it verbatim when
// no cause is attached.
func (e *domainError) WithMessage(message string) DomainError {
	return &domainError{
		code:     e.code,
		category: e.category,
		status:   e.status,
		message:  message,
		cause:    e.cause,
		kind:     e.root(),
	}
}

func NewDomainError(code string, category ErrorCategory, status int, message string) DomainError {
	return &domainError{
		code:     code,
		category: category,
		status:   status,
		message:  message,
	}
}

func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

func AsDomainError(err error) (DomainError, bool) {
	var de DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

var (
	ErrInvalidMessage = NewDomainError(
		"INVALID_MESSAGE",
		CategoryProtocol,
		http.StatusBadRequest,
		"invalid message received",
	)

	ErrInvalidMethodRequest = NewDomainError(
		"INVALID_METHOD_REQUEST",
		CategoryProtocol,
		http.StatusBadRequest,
		"invalid method request received",
	)

	ErrMethodInvocationFault = NewDomainError(
		"METHOD_INVOCATION_FAULT",
		CategoryInternal,
		http.StatusInternalServerError,
		"hub method invocation failed",
	)

	ErrUnknownCorrelation = NewDomainError(
		"UNKNOWN_CORRELATION",
		CategoryNotFound,
		http.StatusNotFound,
		"no pending call for invocation result",
	)

	ErrActivationFault = NewDomainError(
		"ACTIVATION_FAULT",
		CategoryInternal,
		http.StatusInternalServerError,
		"hub activation failed",
	)

	ErrConnectionClosed = NewDomainError(
		"CONNECTION_CLOSED",
		CategoryExternal,
		http.StatusGone,
		"connection closed",
	)

	ErrCallCancelled = NewDomainError(
		"CALL_CANCELLED",
		CategoryExternal,
		http.StatusRequestTimeout,
		"call cancelled",
	)

	ErrDuplicateCallID = NewDomainError(
		"DUPLICATE_CALL_ID",
		CategoryConflict,
		http.StatusConflict,
		"call id already pending",
	)

	ErrRemoteFault = NewDomainError(
		"REMOTE_FAULT",
		CategoryExternal,
		http.StatusBadGateway,
		"remote peer returned an error",
	)

	ErrResultDecode = NewDomainError(
		"RESULT_DECODE_FAILED",
		CategoryProtocol,
		http.StatusBadRequest,
		"failed to decode invocation result",
	)

	ErrMarshalError = NewDomainError(
		"MARSHAL_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"failed to marshal data",
	)

	ErrSendTimeout = NewDomainError(
		"SEND_TIMEOUT",
		CategoryExternal,
		http.StatusRequestTimeout,
		"send operation timed out",
	)

	ErrInvalidHub = NewDomainError(
		"INVALID_HUB",
		CategoryValidation,
		http.StatusInternalServerError,
		"hub instance is not usable",
	)

	ErrInvalidToken = NewDomainError(
		"INVALID_TOKEN",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"token is not valid",
	)

	ErrMissingToken = NewDomainError(
		"MISSING_TOKEN",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"missing or invalid authorization",
	)

	ErrRateLimited = NewDomainError(
		"RATE_LIMITED",
		CategoryValidation,
		http.StatusTooManyRequests,
		"rate limit exceeded",
	)

	ErrInternalError = NewDomainError(
		"INTERNAL_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"internal server error",
	)
)
