package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")

	// Webhook pipeline errors. Signature and staleness failures carry
	// distinct codes so that operators can tell a probing attacker from
	// clock skew in the logs. Ownership mismatches surface as rejection
	// outcomes, not errors; ErrCustomerRebind is the one error form the
	// transition engine returns for them.
	ErrSignatureInvalid = NewDomainError("SIGNATURE_INVALID", "Webhook signature verification failed")
	ErrStaleEvent       = NewDomainError("STALE_EVENT", "Event timestamp outside acceptance window")
	ErrMalformedPayload = NewDomainError("MALFORMED_PAYLOAD", "Webhook payload failed schema validation")
	ErrCustomerRebind   = NewDomainError("CUSTOMER_REBIND", "Tenant is already bound to a different provider customer")
	ErrDedupUnavailable = NewDomainError("DEDUP_UNAVAILABLE", "Dedup store unavailable, cannot process safely")
)
