package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiegw/gateway/internal/config"
)

func TestClassifyFailure(t *testing.T) {
	cases := map[string]FailureClass{
		"dial tcp: connection refused":      FailureConnectionRefused,
		"read: connection reset by peer":    FailureConnectionReset,
		"dial tcp: network is unreachable":  FailureHostUnreachable,
		"dial tcp: lookup foo: no such host": FailureDNSResolution,
		"something else entirely":           FailureConnectionError,
	}
	for msg, want := range cases {
		got := ClassifyFailure(errors.New(msg))
		if got != want {
			t.Fatalf("message %q: expected %s, got %s", msg, want, got)
		}
	}
}

func TestClassifyFailureNilError(t *testing.T) {
	if got := ClassifyFailure(nil); got != "" {
		t.Fatalf("expected empty class for nil error, got %s", got)
	}
}

func transportCfg() config.TransportConfig {
	return config.TransportConfig{
		ConnectTimeout:      time.Second,
		RequestTimeout:      2 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			OpenTimeout:      50 * time.Millisecond,
		},
	}
}

func TestDispatcherDoSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(transportCfg())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := d.Do(srv.URL, req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDispatcherTripsOpenAfterConsecutiveBadGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(transportCfg())

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if _, err := d.Do(srv.URL, req); err != nil {
			t.Fatalf("unexpected dispatch error on attempt %d: %v", i, err)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := d.Do(srv.URL, req)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open after consecutive bad gateway responses, got %v", err)
	}
}

func TestDispatcherDisabledBypassesBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := transportCfg()
	cfg.CircuitBreaker.Enabled = false
	d := NewDispatcher(cfg)

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := d.Do(srv.URL, req)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("attempt %d: expected 502 passthrough, got %d", i, resp.StatusCode)
		}
	}
}

func TestProblemForDispatchErrorCircuitOpen(t *testing.T) {
	p := ProblemForDispatchError(context.Background(), ErrCircuitOpen)
	if p.Status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", p.Status)
	}
}

func TestProblemForDispatchErrorDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	p := ProblemForDispatchError(ctx, errors.New("context deadline exceeded"))
	if p.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", p.Status)
	}
}
