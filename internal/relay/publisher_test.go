package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrack/internal/relay"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeSender) Send(ctx context.Context, url string, ev nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return err
	}
	return nil
}

func signedEvent(t *testing.T) nostr.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	ev := nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   "hello",
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ev
}

func newPublisher(s relay.Sender) *relay.Publisher {
	p := relay.New(time.Second, nil)
	p.Sender = s
	return p
}

func TestPublishEmptyEndpointsIsNoop(t *testing.T) {
	sender := &fakeSender{}
	p := newPublisher(sender)
	res, err := p.Publish(context.Background(), signedEvent(t), nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.EventID != "" || res.Attempted != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("sender must not be invoked")
	}
}

func TestPublishRefusesUnverifiableEvent(t *testing.T) {
	sender := &fakeSender{}
	p := newPublisher(sender)
	ev := signedEvent(t)
	ev.Content = "tampered"
	_, err := p.Publish(context.Background(), ev, []string{"wss://a.example"})
	if !errors.Is(err, relay.ErrUnverifiable) {
		t.Fatalf("err = %v, want ErrUnverifiable", err)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("unverifiable event must never reach a relay")
	}
}

func TestPublishCountsPartialFailures(t *testing.T) {
	endpoints := []string{"wss://a.example", "wss://b.example", "wss://c.example"}
	sender := &fakeSender{fail: map[string]error{
		"wss://b.example": errors.New("connection refused"),
	}}
	p := newPublisher(sender)
	ev := signedEvent(t)
	res, err := p.Publish(context.Background(), ev, endpoints)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Attempted != 3 || res.Succeeded != 2 {
		t.Fatalf("result = %+v, want 2/3", res)
	}
	if res.EventID != ev.GetID() {
		t.Fatalf("event id = %s, want %s", res.EventID, ev.GetID())
	}
	if len(sender.calls) != 3 {
		t.Fatalf("every endpoint gets exactly one attempt, got %d", len(sender.calls))
	}
}

func TestPublishAllFailuresStillReturnsID(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{
		"wss://a.example": errors.New("down"),
		"wss://b.example": errors.New("down"),
	}}
	p := newPublisher(sender)
	ev := signedEvent(t)
	res, err := p.Publish(context.Background(), ev, []string{"wss://a.example", "wss://b.example"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Succeeded != 0 {
		t.Fatalf("succeeded = %d, want 0", res.Succeeded)
	}
	if res.EventID != ev.GetID() {
		t.Fatalf("attempted fan-out must still report the event id")
	}
}
