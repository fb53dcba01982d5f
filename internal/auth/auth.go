// Package auth implements the signed-event admin authentication gate:
// signature verification, a freshness window as the only replay defense,
// and an exact-match identity allow-list.
package auth

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Scheme is the only Authorization scheme the gate accepts.
const Scheme = "Nostr"

// AuthEventKind is reserved for auth-only credentials (NIP-42 client
// authentication). The credential carries a ["challenge","admin-login"]
// tag; neither is required for admission, the conditions are signature,
// freshness and allow-list membership.
const (
	AuthEventKind = nostr.KindClientAuthentication
	ChallengeTag  = "admin-login"
)

// Reason identifies which check rejected a credential. Reasons are logged
// server-side only; clients always see a single uniform unauthorized
// outcome.
type Reason string

const (
	ReasonMissingHeader     Reason = "missing_or_malformed_header"
	ReasonUnsupportedScheme Reason = "unsupported_scheme"
	ReasonMalformedToken    Reason = "malformed_token"
	ReasonInvalidSignature  Reason = "invalid_signature"
	ReasonStaleToken        Reason = "stale_or_future_token"
	ReasonNotAuthorized     Reason = "identity_not_authorized"
)

// RejectedError carries the rejection reason for server-side logging.
type RejectedError struct {
	Reason Reason
}

func (e RejectedError) Error() string {
	return fmt.Sprintf("credential rejected: %s", e.Reason)
}

// Verifier reports whether a signed event carries a valid signature over
// its canonical serialization under its own pubkey. Implementations must
// treat malformed input as an invalid signature, never as an error.
type Verifier interface {
	Verify(ev nostr.Event) bool
}

// SchnorrVerifier verifies with the event's embedded Schnorr signature.
type SchnorrVerifier struct{}

func (SchnorrVerifier) Verify(ev nostr.Event) bool {
	ok, err := ev.CheckSignature()
	return err == nil && ok
}

// CheckFreshness validates a claimed creation time against the window.
// The boundary is inclusive: |now - createdAt| == maxSkew is accepted.
// Symmetric for past and future timestamps.
func CheckFreshness(createdAt, now time.Time, maxSkew time.Duration) error {
	d := now.Sub(createdAt)
	if d < 0 {
		d = -d
	}
	if d > maxSkew {
		return RejectedError{Reason: ReasonStaleToken}
	}
	return nil
}

// Allowlist is the configured set of admin identities. Membership is an
// exact, case-sensitive string match. An empty allow-list fails closed.
type Allowlist []string

func (a Allowlist) IsAdmin(pubkey string) bool {
	for _, entry := range a {
		if entry == pubkey {
			return true
		}
	}
	return false
}

// Gate composes verification, freshness and the allow-list into a single
// request-level decision. It is stateless: no session is created and every
// request is independently re-authenticated.
type Gate struct {
	Verifier  Verifier
	Allowlist Allowlist
	MaxSkew   time.Duration
	Now       func() time.Time
	Logger    *log.Logger
}

// NewGate builds a gate with the default Schnorr verifier.
func NewGate(allowlist []string, maxSkew time.Duration, logger *log.Logger) Gate {
	return Gate{
		Verifier:  SchnorrVerifier{},
		Allowlist: Allowlist(allowlist),
		MaxSkew:   maxSkew,
		Now:       time.Now,
		Logger:    logger,
	}
}

func (g Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Gate) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
	}
}

// Authenticate runs the full credential check over a raw Authorization
// header value and returns the verified admin pubkey. Checks run strictly
// in order and short-circuit on the first failure.
func (g Gate) Authenticate(rawHeader string) (string, error) {
	rawHeader = strings.TrimSpace(rawHeader)
	if rawHeader == "" {
		return "", RejectedError{Reason: ReasonMissingHeader}
	}
	scheme, token, found := strings.Cut(rawHeader, " ")
	if !found || strings.TrimSpace(token) == "" {
		return "", RejectedError{Reason: ReasonMissingHeader}
	}
	if scheme != Scheme {
		g.logf("auth: rejected scheme %q", scheme)
		return "", RejectedError{Reason: ReasonUnsupportedScheme}
	}
	var ev nostr.Event
	if err := json.Unmarshal([]byte(token), &ev); err != nil {
		g.logf("auth: malformed token: %v", err)
		return "", RejectedError{Reason: ReasonMalformedToken}
	}
	if !g.Verifier.Verify(ev) {
		g.logf("auth: invalid signature for pubkey %s", ev.PubKey)
		return "", RejectedError{Reason: ReasonInvalidSignature}
	}
	if err := CheckFreshness(ev.CreatedAt.Time(), g.now(), g.MaxSkew); err != nil {
		g.logf("auth: stale or future credential for pubkey %s (created_at=%d)", ev.PubKey, ev.CreatedAt)
		return "", err
	}
	if !g.Allowlist.IsAdmin(ev.PubKey) {
		g.logf("auth: pubkey %s not in admin allow-list", ev.PubKey)
		return "", RejectedError{Reason: ReasonNotAuthorized}
	}
	return ev.PubKey, nil
}
