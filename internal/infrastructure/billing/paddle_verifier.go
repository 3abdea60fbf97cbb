package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/planform/backend/internal/domain/shared"
)

// PaddleVerifier authenticates Paddle webhook deliveries. Paddle signs
// "{ts}:{rawBody}" with HMAC-SHA256 and sends the result in the
// Paddle-Signature header as "ts=<unix>;h1=<hex>".
type PaddleVerifier struct {
	config *PaddleConfig
}

// NewPaddleVerifier creates a verifier for the configured webhook secret
func NewPaddleVerifier(cfg *PaddleConfig) (*PaddleVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PaddleVerifier{config: cfg}, nil
}

// Verify checks the Paddle-Signature header against the raw payload. The
// HMAC is computed over the exact bytes received and compared with
// hmac.Equal, which is constant time regardless of where the buffers
// differ. The signature timestamp must fall within the freshness window;
// violations return ErrStaleEvent, distinct from ErrSignatureInvalid.
func (v *PaddleVerifier) Verify(payload []byte, sigHeader string, now time.Time) error {
	if sigHeader == "" {
		return fmt.Errorf("%w: missing Paddle-Signature header", shared.ErrSignatureInvalid)
	}

	ts, h1, err := parsePaddleSignature(sigHeader)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrSignatureInvalid, err)
	}

	signedAt := time.Unix(ts, 0)
	if drift := now.Sub(signedAt); drift > FreshnessWindow || drift < -FreshnessWindow {
		return fmt.Errorf("%w: signature timestamp %s outside ±%s window", shared.ErrStaleEvent, signedAt.UTC().Format(time.RFC3339), FreshnessWindow)
	}

	mac := hmac.New(sha256.New, []byte(v.config.WebhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(":"))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(h1)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid hex", shared.ErrSignatureInvalid)
	}

	if !hmac.Equal(expected, provided) {
		return shared.ErrSignatureInvalid
	}

	return nil
}

// parsePaddleSignature splits a "ts=...;h1=..." header into its parts
func parsePaddleSignature(header string) (int64, string, error) {
	var tsPart, h1Part string
	for _, part := range strings.Split(header, ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch key {
		case "ts":
			tsPart = value
		case "h1":
			h1Part = value
		}
	}

	if tsPart == "" || h1Part == "" {
		return 0, "", fmt.Errorf("header missing ts or h1 element")
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid ts element: %v", err)
	}

	return ts, h1Part, nil
}
