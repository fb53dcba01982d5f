package config_test

import (
	"testing"
	"time"

	"nostrack/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if cfg.Listen == "" || cfg.BasePath != "/api" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxSkew() != 300*time.Second {
		t.Fatalf("max skew = %v, want 300s", cfg.MaxSkew())
	}
	if len(cfg.Nostr.Relays) != len(config.DefaultRelays) {
		t.Fatalf("relays = %v", cfg.Nostr.Relays)
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
listen: "0.0.0.0:9090"
admin:
  pubkeys:
    - "aaaa"
    - "bbbb"
  max_skew_seconds: 60
nostr:
  relays:
    - "wss://relay.example.com"
`)
	cfg, err := config.FromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9090" {
		t.Fatalf("listen = %s", cfg.Listen)
	}
	if len(cfg.Admin.Pubkeys) != 2 || cfg.Admin.Pubkeys[1] != "bbbb" {
		t.Fatalf("pubkeys = %v", cfg.Admin.Pubkeys)
	}
	if cfg.MaxSkew() != time.Minute {
		t.Fatalf("max skew = %v", cfg.MaxSkew())
	}
	if len(cfg.Nostr.Relays) != 1 {
		t.Fatalf("relays = %v", cfg.Nostr.Relays)
	}
}

func TestFromYAMLRejectsBadRelay(t *testing.T) {
	data := []byte(`
nostr:
  relays:
    - "https://not-a-relay"
`)
	if _, err := config.FromYAML(data); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRelays(t *testing.T) {
	cases := []struct {
		name    string
		relays  []string
		wantErr bool
	}{
		{"wss", []string{"wss://relay.damus.io"}, false},
		{"ws", []string{"ws://localhost:7777"}, false},
		{"empty entry", []string{""}, true},
		{"http scheme", []string{"http://x"}, true},
		{"no host", []string{"wss://"}, true},
		{"empty set ok", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := config.ValidateRelays(tc.relays)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParsePubkeys(t *testing.T) {
	got := config.ParsePubkeys(" aaa, bbb ,, ccc ")
	if len(got) != 3 || got[0] != "aaa" || got[2] != "ccc" {
		t.Fatalf("parsed = %v", got)
	}
	if got := config.ParsePubkeys(""); len(got) != 0 {
		t.Fatalf("empty input should parse to nothing, got %v", got)
	}
}
