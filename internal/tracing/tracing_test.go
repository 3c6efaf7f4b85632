package tracing

import (
	"context"
	"testing"

	"github.com/aussiegw/gateway/internal/config"
	"github.com/aussiegw/gateway/internal/ports"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tr, err := New(config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, span := tr.StartSpan(context.Background(), "test", ports.SpanKindClient)
	if ctx == nil || span == nil {
		t.Fatal("expected a usable no-op span even when tracing is disabled")
	}
	span.SetAttribute("k", "v")
	span.End()

	headers := map[string][]string{}
	tr.InjectHTTPHeaders(ctx, headers)
	if len(headers) != 0 {
		t.Fatalf("disabled tracer should not inject headers, got %v", headers)
	}
}

func TestEnabledTracerInjectsTraceparent(t *testing.T) {
	tr, err := New(config.TracingConfig{Enabled: true, ServiceName: "test-gateway", SampleRatio: 1.0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tr.Close()

	ctx, span := tr.StartSpan(context.Background(), "HTTP GET", ports.SpanKindClient)
	defer span.End()

	headers := map[string][]string{}
	tr.InjectHTTPHeaders(ctx, headers)

	if _, ok := headers["Traceparent"]; !ok {
		t.Fatalf("expected a Traceparent header to be injected, got %v", headers)
	}
}
