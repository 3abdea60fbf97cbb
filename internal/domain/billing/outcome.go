package billing

// OutcomeStatus tags the result of processing a webhook delivery. Duplicates
// and unhandled kinds are successful no-ops, not errors; modeling them as a
// tagged result keeps callers from conflating "already processed" with
// "failed".
type OutcomeStatus string

const (
	// OutcomeApplied means the event produced a state transition
	OutcomeApplied OutcomeStatus = "applied"

	// OutcomeDuplicate means the event ID was already claimed; nothing ran
	OutcomeDuplicate OutcomeStatus = "duplicate"

	// OutcomeIgnored means the event was authentic but produced no state
	// change (unlisted kind, unknown customer, or already in target state)
	OutcomeIgnored OutcomeStatus = "ignored"

	// OutcomeRejected means the event failed a security or validity check
	// and must not be retried in a way that changes the result
	OutcomeRejected OutcomeStatus = "rejected"

	// OutcomeTransientFailure means infrastructure prevented safe
	// processing; the provider should redeliver with backoff
	OutcomeTransientFailure OutcomeStatus = "transient_failure"
)

// Rejection reason codes carried on rejected outcomes
const (
	RejectSignature = "SIGNATURE_INVALID"
	RejectStale     = "STALE_EVENT"
	RejectMalformed = "MALFORMED_PAYLOAD"
	RejectOwnership = "OWNERSHIP_MISMATCH"
)

// Outcome is the tagged result of a webhook pipeline run
type Outcome struct {
	Status OutcomeStatus

	// Reason carries the rejection code for OutcomeRejected and a short
	// human-readable note for the no-op outcomes
	Reason string

	// EventID and Kind are set once the payload has been verified
	EventID string
	Kind    EventKind
}

// Applied returns an applied outcome
func Applied(eventID string, kind EventKind) Outcome {
	return Outcome{Status: OutcomeApplied, EventID: eventID, Kind: kind}
}

// Duplicate returns a duplicate no-op outcome
func Duplicate(eventID string) Outcome {
	return Outcome{Status: OutcomeDuplicate, EventID: eventID}
}

// Ignored returns an accepted-but-unhandled outcome
func Ignored(eventID, reason string) Outcome {
	return Outcome{Status: OutcomeIgnored, EventID: eventID, Reason: reason}
}

// Rejected returns a hard-rejection outcome with a reason code
func Rejected(code string) Outcome {
	return Outcome{Status: OutcomeRejected, Reason: code}
}

// TransientFailure returns a retryable-failure outcome
func TransientFailure(reason string) Outcome {
	return Outcome{Status: OutcomeTransientFailure, Reason: reason}
}

// IsSuccess reports whether the provider should consider the delivery done
// (processed, deduplicated, or deliberately unhandled)
func (o Outcome) IsSuccess() bool {
	switch o.Status {
	case OutcomeApplied, OutcomeDuplicate, OutcomeIgnored:
		return true
	}
	return false
}

// IsRetryable reports whether the provider should redeliver later
func (o Outcome) IsRetryable() bool {
	return o.Status == OutcomeTransientFailure
}
