// Package relay implements best-effort fan-out publication of signed
// events to a set of independent relay endpoints.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrack/internal/auth"
)

const defaultPublishTimeout = 10 * time.Second

// ErrUnverifiable means the event to publish failed re-verification. The
// publisher never forwards unauthenticated content.
var ErrUnverifiable = errors.New("event signature does not verify")

// Sender delivers one event to one endpoint. The production sender dials
// the relay's websocket; tests substitute a fake.
type Sender interface {
	Send(ctx context.Context, url string, ev nostr.Event) error
}

// NostrSender publishes over go-nostr's relay client.
type NostrSender struct{}

func (NostrSender) Send(ctx context.Context, url string, ev nostr.Event) error {
	conn, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Publish(ctx, ev)
}

// Result aggregates one fan-out's outcome.
type Result struct {
	EventID   string
	Attempted int
	Succeeded int
}

// Publisher fans a pre-signed event out to relay endpoints. Each endpoint
// attempt is independent and bounded by Timeout; failures are logged and
// under-represent the event, they are never retried and never escalate to
// the caller.
type Publisher struct {
	Sender   Sender
	Verifier auth.Verifier
	Timeout  time.Duration
	Logger   *log.Logger
}

// New builds a publisher with the production sender and verifier.
func New(timeout time.Duration, logger *log.Logger) *Publisher {
	return &Publisher{
		Sender:   NostrSender{},
		Verifier: auth.SchnorrVerifier{},
		Timeout:  timeout,
		Logger:   logger,
	}
}

func (p *Publisher) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultPublishTimeout
}

func (p *Publisher) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// Publish re-verifies the event and sends it to every endpoint
// concurrently, waiting for all outcomes. An empty endpoint set is a no-op
// success with no identifier. The returned Result carries the event's own
// id whenever the fan-out was attempted, regardless of per-endpoint
// outcome; only an unverifiable event is a hard failure.
func (p *Publisher) Publish(ctx context.Context, ev nostr.Event, endpoints []string) (Result, error) {
	if len(endpoints) == 0 {
		p.logf("relay: no relays configured, skipping publish")
		return Result{}, nil
	}
	if p.Verifier == nil || !p.Verifier.Verify(ev) {
		p.logf("relay: refusing to publish unverifiable event")
		return Result{}, ErrUnverifiable
	}

	p.logf("relay: publishing event %s to %d relays", ev.GetID(), len(endpoints))

	var wg sync.WaitGroup
	outcomes := make([]error, len(endpoints))
	for i, url := range endpoints {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, p.timeout())
			defer cancel()
			outcomes[i] = p.Sender.Send(sendCtx, url, ev)
		}(i, url)
	}
	wg.Wait()

	res := Result{EventID: ev.GetID(), Attempted: len(endpoints)}
	for i, err := range outcomes {
		if err != nil {
			p.logf("relay: publish to %s failed: %v", endpoints[i], err)
			continue
		}
		res.Succeeded++
	}
	p.logf("relay: published event %s to %d/%d relays", res.EventID, res.Succeeded, res.Attempted)
	return res, nil
}
