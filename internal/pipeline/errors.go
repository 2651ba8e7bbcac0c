package pipeline

import "net/http"

// ErrorKind is the exit taxonomy from §7, mapped 1:1 to an HTTP status.
type ErrorKind string

const (
	KindUnauthorized        ErrorKind = "UNAUTHORIZED"
	KindValidationError     ErrorKind = "VALIDATION_ERROR"
	KindPolicyDenied        ErrorKind = "POLICY_DENIED"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindUpstreamError       ErrorKind = "UPSTREAM_ERROR"
	KindInternal            ErrorKind = "INTERNAL"
)

// HTTPStatus maps an ErrorKind to its §7 status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidationError:
		return http.StatusBadRequest
	case KindPolicyDenied:
		return http.StatusForbidden
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CallError is the pipeline's terminal failure type, carrying enough
// structure for both the HTTP response and the audit log.
type CallError struct {
	Kind    ErrorKind
	Reason  string // policy reason, e.g. "kill_switch_active"
	Message string
	AuditID string
	Err     error
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *CallError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, message string, err error) *CallError {
	return &CallError{Kind: kind, Message: message, Err: err}
}

// withAudit attaches the call's audit ID, letting the HTTP layer surface it
// in the error envelope's details even on a failed call.
func (e *CallError) withAudit(auditID string) *CallError {
	e.AuditID = auditID
	return e
}
