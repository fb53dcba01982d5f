package auth_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrack/internal/auth"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func signedHeader(t *testing.T, sk string, createdAt time.Time) string {
	t.Helper()
	ev := nostr.Event{
		Kind:      auth.AuthEventKind,
		CreatedAt: nostr.Timestamp(createdAt.Unix()),
		Tags:      nostr.Tags{{"challenge", auth.ChallengeTag}},
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("sign event: %v", err)
	}
	token, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return auth.Scheme + " " + string(token)
}

func newKeypair(t *testing.T) (sk, pk string) {
	t.Helper()
	sk = nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("derive pubkey: %v", err)
	}
	return sk, pk
}

func newGate(pubkeys ...string) auth.Gate {
	g := auth.NewGate(pubkeys, 300*time.Second, nil)
	g.Now = func() time.Time { return testNow }
	return g
}

func TestAuthenticateValidCredential(t *testing.T) {
	sk, pk := newKeypair(t)
	g := newGate(pk)
	got, err := g.Authenticate(signedHeader(t, sk, testNow))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got != pk {
		t.Fatalf("pubkey = %s, want %s", got, pk)
	}
}

func TestFreshnessBoundaryInclusive(t *testing.T) {
	maxSkew := 300 * time.Second
	cases := []struct {
		name      string
		createdAt time.Time
		wantErr   bool
	}{
		{"exactly 300s old", testNow.Add(-300 * time.Second), false},
		{"exactly 300s ahead", testNow.Add(300 * time.Second), false},
		{"301s old", testNow.Add(-301 * time.Second), true},
		{"301s ahead", testNow.Add(301 * time.Second), true},
		{"current", testNow, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := auth.CheckFreshness(tc.createdAt, testNow, maxSkew)
			if tc.wantErr && err == nil {
				t.Fatalf("expected rejection")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
		})
	}
}

func TestGateRejectsStaleCredential(t *testing.T) {
	sk, pk := newKeypair(t)
	g := newGate(pk)
	if _, err := g.Authenticate(signedHeader(t, sk, testNow.Add(-301*time.Second))); err == nil {
		t.Fatalf("expected stale rejection")
	}
	if _, err := g.Authenticate(signedHeader(t, sk, testNow.Add(301*time.Second))); err == nil {
		t.Fatalf("expected future rejection")
	}
}

func TestGateRejectsUnknownPubkey(t *testing.T) {
	sk, _ := newKeypair(t)
	_, otherPK := newKeypair(t)
	g := newGate(otherPK)
	_, err := g.Authenticate(signedHeader(t, sk, testNow))
	var rej auth.RejectedError
	if !errors.As(err, &rej) || rej.Reason != auth.ReasonNotAuthorized {
		t.Fatalf("err = %v, want not_authorized rejection", err)
	}
}

func TestGateEmptyAllowlistFailsClosed(t *testing.T) {
	sk, _ := newKeypair(t)
	g := newGate()
	if _, err := g.Authenticate(signedHeader(t, sk, testNow)); err == nil {
		t.Fatalf("expected rejection with empty allow-list")
	}
}

func TestGateRejectsTamperedEvent(t *testing.T) {
	sk, pk := newKeypair(t)
	ev := nostr.Event{
		Kind:      auth.AuthEventKind,
		CreatedAt: nostr.Timestamp(testNow.Unix()),
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("sign: %v", err)
	}
	ev.Content = "tampered after signing"
	token, _ := json.Marshal(ev)
	g := newGate(pk)
	_, err := g.Authenticate(auth.Scheme + " " + string(token))
	var rej auth.RejectedError
	if !errors.As(err, &rej) || rej.Reason != auth.ReasonInvalidSignature {
		t.Fatalf("err = %v, want invalid_signature rejection", err)
	}
}

func TestGateRejectsForeignSignature(t *testing.T) {
	skA, _ := newKeypair(t)
	_, pkB := newKeypair(t)
	// Claim pkB's identity but sign with skA.
	ev := nostr.Event{
		Kind:      auth.AuthEventKind,
		CreatedAt: nostr.Timestamp(testNow.Unix()),
	}
	if err := ev.Sign(skA); err != nil {
		t.Fatalf("sign: %v", err)
	}
	ev.PubKey = pkB
	token, _ := json.Marshal(ev)
	g := newGate(pkB)
	if _, err := g.Authenticate(auth.Scheme + " " + string(token)); err == nil {
		t.Fatalf("expected signature rejection for substituted pubkey")
	}
}

func TestGateRejectsMalformedHeaders(t *testing.T) {
	sk, pk := newKeypair(t)
	g := newGate(pk)
	valid := signedHeader(t, sk, testNow)
	_, token, _ := splitHeader(valid)

	cases := []struct {
		name   string
		header string
		reason auth.Reason
	}{
		{"empty", "", auth.ReasonMissingHeader},
		{"scheme only", auth.Scheme, auth.ReasonMissingHeader},
		{"bearer scheme", "Bearer " + token, auth.ReasonUnsupportedScheme},
		{"lowercase scheme", "nostr " + token, auth.ReasonUnsupportedScheme},
		{"not json", auth.Scheme + " not-json", auth.ReasonMalformedToken},
		{"json array", auth.Scheme + " [1,2]", auth.ReasonMalformedToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Authenticate(tc.header)
			var rej auth.RejectedError
			if !errors.As(err, &rej) || rej.Reason != tc.reason {
				t.Fatalf("err = %v, want reason %s", err, tc.reason)
			}
		})
	}
}

func splitHeader(h string) (scheme, token string, ok bool) {
	for i := 0; i < len(h); i++ {
		if h[i] == ' ' {
			return h[:i], h[i+1:], true
		}
	}
	return h, "", false
}

func TestSchnorrVerifierMalformedEvent(t *testing.T) {
	v := auth.SchnorrVerifier{}
	if v.Verify(nostr.Event{}) {
		t.Fatalf("empty event must not verify")
	}
	if v.Verify(nostr.Event{PubKey: "zz", Sig: "not-hex"}) {
		t.Fatalf("garbage event must not verify")
	}
}

func TestAllowlistExactMatch(t *testing.T) {
	a := auth.Allowlist{"abc"}
	if !a.IsAdmin("abc") {
		t.Fatalf("exact match should pass")
	}
	if a.IsAdmin("ABC") {
		t.Fatalf("membership is case-sensitive")
	}
	if a.IsAdmin("abc ") {
		t.Fatalf("no normalization expected")
	}
}
