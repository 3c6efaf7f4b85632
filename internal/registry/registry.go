// Package registry implements the service registry of spec §4.2: an
// immutable, periodically refreshed snapshot of registered services and
// their compiled endpoint lookup structures, sourced from a
// ports.ServiceRegistrationRepository.
//
// Grounded on the teacher's internal/registry/registry.go Registry
// interface (Register/Deregister/Discover/Watch over a pluggable backend)
// and internal/registry/memory/memory.go's in-memory map shape, adapted
// from service-discovery semantics (health, tags) to this spec's CRUD +
// TTL-snapshot semantics. The bounded LRU and backoff-before-stale-fallback
// behavior are new, added to satisfy §4.2's Failure and Performance notes.
package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/pathmatch"
	"github.com/aussiegw/gateway/internal/ports"
)

// compiledEndpoint pairs one endpoint with its compiled path pattern and
// owning service, ready for ordered matching.
type compiledEndpoint struct {
	service    domain.Service
	endpoint   domain.Endpoint
	pattern    *pathmatch.Pattern
	specificity int
}

// snapshot is the immutable view swapped in atomically on each refresh.
type snapshot struct {
	services  map[string]domain.Service // serviceID -> service, pass-through lookup
	gatewayEndpoints []compiledEndpoint  // sorted: specificity desc, registration order asc
	loadedAt  time.Time
}

// Logger is the minimal logging seam the registry needs; internal/logging
// provides the zap-backed implementation.
type Logger interface {
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Registry.
type Options struct {
	// RefreshInterval is how often the background loop pulls from the
	// repository and re-compiles the snapshot.
	RefreshInterval time.Duration
	// MaxLocalEntries bounds the per-serviceID LRU cache used for
	// pass-through lookups between full-snapshot refreshes.
	MaxLocalEntries int
	Logger          Logger
}

// Registry holds the current compiled snapshot and serves lookups from it
// without touching the repository on the request path.
type Registry struct {
	repo  ports.ServiceRegistrationRepository
	cache ports.ConfigurationCache // optional second-level cache, may be nil

	interval time.Duration
	logger   Logger

	snap atomic.Pointer[snapshot]
	lru  *lru.Cache[string, domain.Service]

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Registry and performs an initial synchronous load. The
// caller should then call Start to begin the background refresh loop.
func New(repo ports.ServiceRegistrationRepository, cache ports.ConfigurationCache, opts Options) (*Registry, error) {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	if opts.MaxLocalEntries <= 0 {
		opts.MaxLocalEntries = 10000
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	l, err := lru.New[string, domain.Service](opts.MaxLocalEntries)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		repo:     repo,
		cache:    cache,
		interval: opts.RefreshInterval,
		logger:   opts.Logger,
		lru:      l,
		stopCh:   make(chan struct{}),
	}

	if err := r.refresh(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the background refresh loop. It returns immediately; call
// Stop to end it during graceful shutdown (§5).
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval)
				if err := r.refresh(ctx); err != nil {
					r.logger.Warn("registry refresh failed, serving stale snapshot", "error", err)
				}
				cancel()
			}
		}
	}()
}

// Stop ends the background refresh loop and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// refresh pulls the full service list from the repository (with bounded
// backoff) and recompiles the snapshot. On failure it leaves the current
// snapshot in place and returns ports.ErrStorageUnavailable, per §4.2's
// "stale snapshot on storage failure" behavior; when no snapshot has been
// loaded yet it returns the repository's own error.
func (r *Registry) refresh(ctx context.Context) error {
	var services []domain.Service

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	op := func() error {
		svcs, err := r.repo.List(ctx)
		if err != nil {
			return err
		}
		services = svcs
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		if r.snap.Load() != nil {
			// A prior good snapshot exists: keep serving it.
			return ports.ErrStorageUnavailable
		}
		return err
	}

	snap := compile(services, r.logger)
	r.snap.Store(snap)

	r.lru.Purge()
	for id, svc := range snap.services {
		r.lru.Add(id, svc)
	}

	if r.cache != nil {
		_ = r.cache.SetServices(ctx, services, r.interval)
	}
	return nil
}

// compile builds a snapshot from a flat service list: validates each
// service, rejects reserved service IDs, assigns registration order, and
// sorts gateway-mode endpoints by specificity then registration order.
func compile(services []domain.Service, logger Logger) *snapshot {
	s := &snapshot{
		services: make(map[string]domain.Service, len(services)),
		loadedAt: time.Now(),
	}

	order := 0
	for _, svc := range services {
		if domain.ReservedServiceIDs[svc.ServiceID] {
			logger.Warn("skipping service with reserved id", "service_id", svc.ServiceID)
			continue
		}
		if err := svc.Validate(); err != nil {
			logger.Warn("skipping invalid service", "service_id", svc.ServiceID, "error", err)
			continue
		}

		endpoints := make([]domain.Endpoint, len(svc.Endpoints))
		for i, ep := range svc.Endpoints {
			endpoints[i] = ep.WithRegistrationOrder(order)
			order++

			pat := pathmatch.Compile(ep.Path)
			s.gatewayEndpoints = append(s.gatewayEndpoints, compiledEndpoint{
				service:     svc,
				endpoint:    endpoints[i],
				pattern:     pat,
				specificity: pathmatch.Specificity(pat),
			})
		}
		svc.Endpoints = endpoints
		s.services[svc.ServiceID] = svc
	}

	sort.SliceStable(s.gatewayEndpoints, func(i, j int) bool {
		a, b := s.gatewayEndpoints[i], s.gatewayEndpoints[j]
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		return a.endpoint.RegistrationOrder() < b.endpoint.RegistrationOrder()
	})

	return s
}

// LookupService returns the registered service for a serviceID, used by the
// pass-through routing mode (SPEC_FULL Part D.2).
func (r *Registry) LookupService(serviceID string) (domain.Service, bool) {
	if svc, ok := r.lru.Get(serviceID); ok {
		return svc, true
	}
	snap := r.snap.Load()
	if snap == nil {
		return domain.Service{}, false
	}
	svc, ok := snap.services[serviceID]
	return svc, ok
}

// Match resolves a gateway-mode path and method against the compiled
// endpoint list (the HTTP pipeline passes the request path with its leading
// "/gateway" segment removed, so endpoint patterns are written without it),
// in specificity order, returning the first endpoint
// that matches the path AND allows the method. A path match with no method
// match still counts as "found" for the caller to distinguish 404 from 405,
// so Match also reports whether any endpoint matched the path alone.
func (r *Registry) Match(path, method string) (domain.RouteMatch, MatchStatus) {
	snap := r.snap.Load()
	if snap == nil {
		return domain.RouteMatch{}, StatusNoMatch
	}

	pathMatchedAnyMethod := false
	for _, ce := range snap.gatewayEndpoints {
		res := pathmatch.Match(ce.pattern, path)
		if !res.Matched {
			continue
		}
		pathMatchedAnyMethod = true
		if !ce.endpoint.AllowsMethod(method) {
			continue
		}
		return domain.RouteMatch{
			Service:              ce.service,
			Endpoint:             ce.endpoint,
			MatchedPathOnService: ce.endpoint.Path,
			PathVariables:        res.Variables,
		}, StatusMatched
	}

	if pathMatchedAnyMethod {
		return domain.RouteMatch{}, StatusMethodNotAllowed
	}
	return domain.RouteMatch{}, StatusNoMatch
}

// MatchStatus distinguishes "no route at all" from "route exists but method
// not allowed", so the HTTP pipeline can return 404 vs 405 (§4.6).
type MatchStatus int

const (
	StatusNoMatch MatchStatus = iota
	StatusMethodNotAllowed
	StatusMatched
)

// Services returns every currently registered service, for admin/diagnostic
// use.
func (r *Registry) Services() []domain.Service {
	snap := r.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]domain.Service, 0, len(snap.services))
	for _, svc := range snap.services {
		out = append(out, svc)
	}
	return out
}
