// Package payment talks to the external payment gateway: order creation on
// the outbound side and webhook signature verification on the inbound side.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// SignaturePolicy decides, once at deployment, how webhook signatures are
// handled. Per-request decisions based on header presence left a spoofing
// gap, so the policy is fixed in configuration.
type SignaturePolicy string

const (
	// SignatureRequired rejects any confirmation without a valid signature.
	SignatureRequired SignaturePolicy = "required"
	// SignatureOptional verifies a signature when one is present and treats
	// unsigned requests as lower trust but still processes them through the
	// same idempotent path (direct client confirmations are unsigned).
	SignatureOptional SignaturePolicy = "optional-if-absent"
	// SignatureDisabled skips verification entirely.
	SignatureDisabled SignaturePolicy = "disabled"
)

// Valid reports whether p is a known policy value.
func (p SignaturePolicy) Valid() bool {
	switch p {
	case SignatureRequired, SignatureOptional, SignatureDisabled:
		return true
	}
	return false
}

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret []byte
	policy SignaturePolicy
}

// NewVerifier builds a Verifier. A required or optional policy without a
// secret is a configuration error.
func NewVerifier(secret string, policy SignaturePolicy) (*Verifier, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown signature policy %q", policy)
	}
	if policy != SignatureDisabled && secret == "" {
		return nil, fmt.Errorf("signature policy %q requires a webhook secret", policy)
	}
	return &Verifier{secret: []byte(secret), policy: policy}, nil
}

// Policy returns the configured policy.
func (v *Verifier) Policy() SignaturePolicy {
	return v.policy
}

// Verify checks the hex-encoded HMAC-SHA256 signature over the raw payload.
// The returned trusted flag tells the caller whether the confirmation was
// authenticated; err is non-nil only when the request must be rejected.
func (v *Verifier) Verify(payload []byte, signature string) (trusted bool, err error) {
	switch v.policy {
	case SignatureDisabled:
		return false, nil
	case SignatureOptional:
		if signature == "" {
			return false, nil
		}
	case SignatureRequired:
		if signature == "" {
			return false, fmt.Errorf("missing webhook signature")
		}
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return false, fmt.Errorf("invalid webhook signature")
	}
	return true, nil
}
