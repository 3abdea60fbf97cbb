package billing

import (
	"time"

	"github.com/planform/backend/internal/domain/billing"
)

// ProviderAdapter verifies a raw webhook delivery and translates it into
// the canonical event form. Verification always runs over the exact bytes
// received; the adapter must not parse the payload before the signature
// check passes.
type ProviderAdapter interface {
	Provider() billing.Provider

	// VerifyAndDecode authenticates the payload against the signature
	// header and decodes it. Errors wrap ErrSignatureInvalid, ErrStaleEvent
	// or ErrMalformedPayload so the pipeline can map them to outcomes.
	VerifyAndDecode(payload []byte, sigHeader string, now time.Time) (*billing.CanonicalEvent, error)
}
