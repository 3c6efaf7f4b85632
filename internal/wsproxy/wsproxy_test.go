package wsproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/aussiegw/gateway/internal/config"
	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/forwarding"
	"github.com/aussiegw/gateway/internal/ports"
	"github.com/aussiegw/gateway/internal/prepare"
	"github.com/aussiegw/gateway/internal/trustedproxy"
)

func TestIsUpgradeRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	if !IsUpgradeRequest(req) {
		t.Fatal("expected upgrade request detected")
	}

	plain := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if IsUpgradeRequest(plain) {
		t.Fatal("expected non-upgrade request rejected")
	}
}

func TestTableCloseByIdentity(t *testing.T) {
	table := NewTable()
	var closedCode int
	var closedReason string
	table.register(&session{
		id: "s1", userID: "u1", authSessionID: "as1",
		close: func(code int, reason string) { closedCode = code; closedReason = reason },
	})
	table.register(&session{id: "s2", userID: "u2"})

	n := table.CloseByIdentity("u1", "", 1000, "Session logged out")
	if n != 1 {
		t.Fatalf("expected exactly one session matched, got %d", n)
	}
	if closedCode != 1000 || closedReason != "Session logged out" {
		t.Fatalf("expected close invoked with logout params, got %d %q", closedCode, closedReason)
	}
}

func echoBackend(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
}

func TestHandleUpgradeRelaysEcho(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()
	backendWSURL := "ws" + strings.TrimPrefix(backend.URL, "http")

	pipeline := New(
		config.WebSocketConfig{MaxConnections: 10, DialTimeout: 2 * time.Second, IdleTimeout: time.Minute, MaxLifetime: time.Hour},
		prepare.Builder{Forwarding: forwarding.Builder{}, TrustedProxy: trustedproxy.Resolver{}},
		nil, nil, nil,
	)

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match := domain.RouteMatch{
			Service:              domain.Service{ServiceID: "echo", BaseURL: backendWSURL},
			Endpoint:             domain.Endpoint{ID: "echo-ep"},
			MatchedPathOnService: "/",
		}
		pipeline.HandleUpgrade(w, r, match, ports.Identity{Subject: "u1"}, "")
	}))
	defer gateway.Close()

	clientURL := "ws" + strings.TrimPrefix(gateway.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, clientURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected echoed message, got %q", data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pipeline.Sessions().Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pipeline.Sessions().Len() != 1 {
		t.Fatal("expected one active session registered during relay")
	}
}

func TestHandleUpgradeRejectsAtCapacity(t *testing.T) {
	pipeline := New(config.WebSocketConfig{MaxConnections: 0}, prepare.Builder{}, nil, nil, nil)
	pipeline.cfg.MaxConnections = 1
	pipeline.activeCount.Store(1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	match := domain.RouteMatch{Service: domain.Service{ServiceID: "x", BaseURL: "http://example.invalid"}}

	pipeline.HandleUpgrade(rec, req, match, ports.Identity{}, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 at capacity, got %d", rec.Code)
	}
}
