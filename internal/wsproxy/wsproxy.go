// Package wsproxy implements the WebSocket gateway pipeline (§4.7): the
// upgrade-side state machine RECEIVE_UPGRADE → RESOLVE → AUTHZ → CAPACITY →
// DIAL_BACKEND → UPGRADE_CLIENT → RUNNING → CLOSING, and the twin-socket
// relay that runs for the lifetime of an accepted connection.
//
// Grounded on the teacher's internal/websocket/proxy.go Proxy (buffer/timer
// defaults, IsUpgradeRequest, hijack-and-relay shape), generalized from its
// raw-TCP-hijack relay to a frame-aware relay over github.com/coder/websocket
// so individual messages can be rate-limited and close codes/reasons mirrored
// between sides, and with the dial-before-accept ordering §4.7 requires (the
// teacher dials only after already owning the hijacked client connection).
package wsproxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/aussiegw/gateway/internal/config"
	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/forwarding"
	"github.com/aussiegw/gateway/internal/ports"
	"github.com/aussiegw/gateway/internal/prepare"
	"github.com/aussiegw/gateway/internal/problem"
	"github.com/aussiegw/gateway/internal/ratelimit"
)

// IsUpgradeRequest reports whether r is asking to switch to the WebSocket
// protocol, by the Connection/Upgrade header pair RFC 6455 requires.
func IsUpgradeRequest(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))
	return strings.Contains(connection, "upgrade") && upgrade == "websocket"
}

// Pipeline runs the WS upgrade state machine and owns the session table.
type Pipeline struct {
	cfg          config.WebSocketConfig
	prepare      prepare.Builder
	connLimiter  *ratelimit.Engine
	msgLimiter   *ratelimit.Engine
	metrics      ports.Metrics
	sessions     *Table
	nextID       atomic.Uint64
	activeCount  atomic.Int64
}

// New builds a Pipeline. connLimiter gates new connections (RateLimitWSConn
// keys); msgLimiter gates individual relayed messages (RateLimitWSMsg
// keys). Either may be nil to skip that layer.
func New(cfg config.WebSocketConfig, prepareBuilder prepare.Builder, connLimiter, msgLimiter *ratelimit.Engine, metrics ports.Metrics) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		prepare:     prepareBuilder,
		connLimiter: connLimiter,
		msgLimiter:  msgLimiter,
		metrics:     metrics,
		sessions:    NewTable(),
	}
}

// Sessions exposes the session table so the logout subscriber (run
// separately, see Watch) and admin surfaces can enumerate/close sessions.
func (p *Pipeline) Sessions() *Table { return p.sessions }

// Watch subscribes to session-invalidation events and closes matching
// sessions with code 1000, reason "Session logged out" — §4.7's logout
// propagation. It blocks until ctx is done or the event channel closes.
func (p *Pipeline) Watch(ctx context.Context, events ports.SessionEvents) error {
	ch, err := events.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			p.sessions.CloseByIdentity(ev.UserID, ev.AuthSessionID, int(websocket.StatusNormalClosure), "Session logged out")
		}
	}
}

// HandleUpgrade runs the full upgrade state machine for one request that
// has already matched a route and passed HTTP-level authn/authz. identity
// is the resolved caller (zero value if the endpoint is public).
func (p *Pipeline) HandleUpgrade(w http.ResponseWriter, r *http.Request, match domain.RouteMatch, identity ports.Identity, downstreamToken string) {
	ctx := r.Context()

	// CAPACITY
	if p.cfg.MaxConnections > 0 && p.activeCount.Load() >= int64(p.cfg.MaxConnections) {
		problem.New(problem.KindUpstreamUnavailable, "maximum websocket connections reached").WriteJSON(w)
		return
	}

	if p.connLimiter != nil {
		key := domain.RateLimitKey{Type: domain.RateLimitWSConn, ServiceID: match.Service.ServiceID, EndpointID: match.Endpoint.ID, ClientID: identity.Subject}
		limit := p.connLimiter.Effective(match.Service, match.Endpoint)
		decision, err := p.connLimiter.Check(ctx, key, limit)
		if err == nil && !decision.Allowed {
			problem.New(problem.KindRateLimited, "too many new websocket connections").WriteJSON(w)
			return
		}
	}

	// DIAL_BACKEND
	prepared, err := p.prepare.Build(r, match, downstreamToken)
	if err != nil {
		problem.New(problem.KindInternal, "failed to derive upstream target").WriteJSON(w)
		return
	}
	wsURL := *prepared.Request.URL
	wsURL.Scheme = forwarding.WSSchemeOf(wsURL.Scheme)

	dialTimeout := p.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	backendConn, _, err := websocket.Dial(dialCtx, wsURL.String(), &websocket.DialOptions{
		HTTPHeader: prepared.Request.Header,
	})
	if err != nil {
		problem.New(problem.KindBadGateway, "failed to dial upstream websocket").WriteJSON(w)
		return
	}

	// UPGRADE_CLIENT — only attempted after the backend dial succeeded.
	clientConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		backendConn.Close(websocket.StatusAbnormalClosure, "client upgrade failed")
		return
	}

	if p.cfg.ReadLimitBytes > 0 {
		clientConn.SetReadLimit(p.cfg.ReadLimitBytes)
		backendConn.SetReadLimit(p.cfg.ReadLimitBytes)
	}

	p.runSession(r.Context(), clientConn, backendConn, match, identity)
}

// runSession owns one session's RUNNING and CLOSING states end to end.
func (p *Pipeline) runSession(parent context.Context, client, backend *websocket.Conn, match domain.RouteMatch, identity ports.Identity) {
	id := strconv.FormatUint(p.nextID.Add(1), 10)
	p.activeCount.Add(1)
	if p.metrics != nil {
		p.metrics.SetActiveWSSessions(int(p.activeCount.Load()))
	}

	ctx, cancel := context.WithCancel(parent)
	var closeOnce sync.Once
	closeFn := func(code int, reason string) {
		closeOnce.Do(func() {
			client.Close(websocket.StatusCode(code), reason)
			backend.Close(websocket.StatusCode(code), reason)
			cancel()
		})
	}

	sess := &session{id: id, userID: identity.Subject, authSessionID: identity.AuthSessionID, close: closeFn}
	p.sessions.register(sess)

	defer func() {
		p.sessions.remove(id)
		p.activeCount.Add(-1)
		if p.metrics != nil {
			p.metrics.SetActiveWSSessions(int(p.activeCount.Load()))
		}
		if p.connLimiter != nil {
			_ = p.connLimiter.ReleaseConnection(context.Background(), id)
		}
		if p.msgLimiter != nil {
			_ = p.msgLimiter.ReleaseConnection(context.Background(), id)
		}
		cancel()
	}()

	idleTimeout := p.cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	maxLifetime := p.cfg.MaxLifetime
	if maxLifetime <= 0 {
		maxLifetime = 24 * time.Hour
	}

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	lifetimeTimer := time.NewTimer(maxLifetime)
	defer lifetimeTimer.Stop()
	idleTicker := time.NewTicker(idleTimeout / 4)
	defer idleTicker.Stop()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		p.relay(ctx, client, backend, id, match, identity, &lastActivity, closeFn)
	}()

	for {
		select {
		case <-relayDone:
			return
		case <-lifetimeTimer.C:
			closeFn(int(websocket.StatusNormalClosure), "max lifetime reached")
		case <-idleTicker.C:
			if time.Since(time.Unix(0, lastActivity.Load())) > idleTimeout {
				closeFn(int(websocket.StatusNormalClosure), "idle timeout")
			}
		}
	}
}

// relay runs the twin unbuffered-pipe forward: two goroutines, each reading
// from one side and writing to the other, until either closes or errors.
// Each forwarded message passes the per-session message rate limiter first.
func (p *Pipeline) relay(ctx context.Context, client, backend *websocket.Conn, sessionID string, match domain.RouteMatch, identity ports.Identity, lastActivity *atomic.Int64, closeFn func(int, string)) {
	var wg sync.WaitGroup
	wg.Add(2)

	forward := func(from, to *websocket.Conn) {
		defer wg.Done()
		for {
			typ, data, err := from.Read(ctx)
			if err != nil {
				code := websocket.CloseStatus(err)
				if code == -1 {
					code = websocket.StatusAbnormalClosure
				}
				reason := "relay closed"
				var ce websocket.CloseError
				if errors.As(err, &ce) {
					reason = ce.Reason
				}
				closeFn(int(code), reason)
				return
			}
			lastActivity.Store(time.Now().UnixNano())

			if p.msgLimiter != nil {
				key := domain.RateLimitKey{Type: domain.RateLimitWSMsg, ServiceID: match.Service.ServiceID, EndpointID: match.Endpoint.ID, ClientID: identity.Subject, WSConnectionID: sessionID}
				limit := p.msgLimiter.Effective(match.Service, match.Endpoint)
				decision, err := p.msgLimiter.Check(ctx, key, limit)
				if err == nil && !decision.Allowed {
					closeFn(problem.WSCloseRateLimited, "message rate limit exceeded")
					return
				}
			}

			if err := to.Write(ctx, typ, data); err != nil {
				closeFn(int(websocket.StatusAbnormalClosure), "relay write failed")
				return
			}
		}
	}

	go forward(client, backend)
	go forward(backend, client)
	wg.Wait()
}
