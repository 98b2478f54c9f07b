package schemas

// ErrorKind classifies why a step or action failed. It is recorded on action
// results and in exported history, so values are part of the persisted format.
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindCapture          ErrorKind = "CAPTURE_ERROR"
	ErrKindDecisionParse    ErrorKind = "DECISION_PARSE_ERROR"
	ErrKindValidation       ErrorKind = "VALIDATION_ERROR"
	ErrKindDomainNotAllowed ErrorKind = "DOMAIN_NOT_ALLOWED"
	ErrKindStaleElement     ErrorKind = "STALE_ELEMENT"
	ErrKindTimeout          ErrorKind = "TIMEOUT_ERROR"
	ErrKindDriver           ErrorKind = "DRIVER_ERROR"
	ErrKindMaxSteps         ErrorKind = "MAX_STEPS_EXCEEDED"
	ErrKindModelUnavailable ErrorKind = "MODEL_UNAVAILABLE"
	ErrKindCancelled        ErrorKind = "CANCELLED"
	ErrKindInternal         ErrorKind = "INTERNAL_ERROR"
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string { return string(k) }

// Retryable reports whether the kind is produced by transient or race-induced
// failures that a bounded local retry may resolve.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindCapture, ErrKindTimeout, ErrKindModelUnavailable:
		return true
	default:
		return false
	}
}
