// Package substrate holds the integration pattern shared by every subsystem:
// the stable error taxonomy, feature flags, and ordered subsystem lifecycle.
package substrate

import "fmt"

// Code is one of the stable error codes surfaced across every transport.
type Code string

const (
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeBoundaryViolation Code = "BOUNDARY_VIOLATION"
	CodeLocked           Code = "LOCKED"
	CodeSessionLimit     Code = "SESSION_LIMIT"

	CodeInvalidSubject    Code = "INVALID_SUBJECT"
	CodeAccessDenied      Code = "ACCESS_DENIED"
	CodeEndpointNotFound  Code = "ENDPOINT_NOT_FOUND"
	CodePublishFailed     Code = "PUBLISH_FAILED"
	CodeInboxReadFailed   Code = "INBOX_READ_FAILED"
	CodeRegistrationFailed Code = "REGISTRATION_FAILED"

	CodeBindingCreateFailed Code = "BINDING_CREATE_FAILED"
	CodeEnableFailed        Code = "ENABLE_FAILED"
	CodeDisableFailed       Code = "DISABLE_FAILED"
	CodeReloadFailed        Code = "RELOAD_FAILED"

	CodeMeshDisabled   Code = "MESH_DISABLED"
	CodeDiscoverFailed Code = "DISCOVER_FAILED"
	CodeRegisterFailed Code = "REGISTER_FAILED"
	CodeDenyFailed     Code = "DENY_FAILED"
	CodeUnregisterFailed Code = "UNREGISTER_FAILED"

	CodeRelayDisabled     Code = "RELAY_DISABLED"
	CodeTracingDisabled   Code = "TRACING_DISABLED"
	CodeBindingsDisabled  Code = "BINDINGS_DISABLED"
	CodeAdaptersDisabled  Code = "ADAPTERS_DISABLED"

	CodeTimeout   Code = "TIMEOUT"
	CodeCancelled Code = "CANCELLED"

	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is the concrete error type every subsystem returns for domain
// failures. It carries a stable code, a human message, and optional
// structured details (e.g. field-level validation failures).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an *Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details and returns the same error for
// chaining at the construction site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the stable code from err, defaulting to INTERNAL_ERROR for
// errors that don't originate from this package.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if asError(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// asError is a tiny errors.As wrapper kept local to avoid importing errors
// just for this one call site's signature noise.
func asError(err error, target **Error) bool {
	for err != nil {
		if de, ok := err.(*Error); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
