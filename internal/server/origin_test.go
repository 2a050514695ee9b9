package server

import (
	"net/http/httptest"
	"testing"

	"github.com/Tyrowin/roomrelay/internal/logging"
)

func TestNormalizeOrigins(t *testing.T) {
	normalized, allowAll := normalizeOrigins([]string{
		" HTTP://Example.COM ",
		"",
		"not-a-url",
		"https://app.example:8443",
	}, logging.Discard())

	if allowAll {
		t.Error("allowAll set without a wildcard")
	}
	want := []string{"http://example.com", "https://app.example:8443"}
	if len(normalized) != len(want) {
		t.Fatalf("normalized = %v", normalized)
	}
	for i := range want {
		if normalized[i] != want[i] {
			t.Errorf("normalized[%d] = %q, want %q", i, normalized[i], want[i])
		}
	}

	if _, allowAll := normalizeOrigins([]string{"*"}, logging.Discard()); !allowAll {
		t.Error("wildcard did not allow all")
	}
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://example.com"}, logging.Discard())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "exact", origin: "http://example.com", want: true},
		{name: "case variation", origin: "HTTP://Example.Com", want: true},
		{name: "missing", origin: "", want: false},
		{name: "other host", origin: "http://evil.example", want: false},
		{name: "other scheme", origin: "https://example.com", want: false},
		{name: "malformed", origin: "javascript:alert(1)", want: false},
		{name: "no host", origin: "http://", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := policy.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOriginPolicyAllowAll(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, logging.Discard())

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://anything.example")
	if !policy.checkOrigin(req) {
		t.Error("wildcard policy rejected a valid origin")
	}

	req.Header.Set("Origin", "garbage")
	if policy.checkOrigin(req) {
		t.Error("wildcard policy accepted a malformed origin")
	}
}
