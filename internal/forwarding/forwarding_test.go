package forwarding

import (
	"net/http"
	"strings"
	"testing"
)

func TestApplyAppendsToExistingXFF(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", "198.51.100.2")
	b := Builder{}
	b.Apply(h, "203.0.113.9", "https", "api.example.com")

	if got := h.Get("X-Forwarded-For"); got != "198.51.100.2, 203.0.113.9" {
		t.Fatalf("expected appended xff chain, got %q", got)
	}
	if h.Get("X-Forwarded-Proto") != "https" {
		t.Fatalf("expected proto to be set, got %q", h.Get("X-Forwarded-Proto"))
	}
}

func TestApplyAddsRFC7239WhenEnabled(t *testing.T) {
	h := http.Header{}
	b := Builder{UseRFC7239: true}
	b.Apply(h, "203.0.113.9", "https", "api.example.com")

	fwd := h.Get("Forwarded")
	if fwd == "" {
		t.Fatal("expected Forwarded header to be set")
	}
	if !strings.Contains(fwd, "for=203.0.113.9") || !strings.Contains(fwd, "proto=https") {
		t.Fatalf("unexpected Forwarded header value: %q", fwd)
	}
}

func TestApplyOmitsRFC7239WhenDisabled(t *testing.T) {
	h := http.Header{}
	b := Builder{UseRFC7239: false}
	b.Apply(h, "203.0.113.9", "https", "api.example.com")

	if h.Get("Forwarded") != "" {
		t.Fatal("expected no Forwarded header when RFC7239 disabled")
	}
}

func TestApplyChainsVia(t *testing.T) {
	h := http.Header{}
	h.Set("Via", "1.1 upstream-proxy")
	b := Builder{}
	b.Apply(h, "203.0.113.9", "http", "api.example.com")

	via := h.Get("Via")
	if !strings.Contains(via, "upstream-proxy") || !strings.Contains(via, "aussie-gateway") {
		t.Fatalf("expected via chain to preserve prior hop and add our own, got %q", via)
	}
}

func TestWSSchemeOf(t *testing.T) {
	cases := map[string]string{"http": "ws", "https": "wss", "ws": "ws"}
	for in, want := range cases {
		if got := WSSchemeOf(in); got != want {
			t.Fatalf("scheme %q: expected %q, got %q", in, want, got)
		}
	}
}
