// Package memstore provides minimal in-memory implementations of the
// persistence ports (internal/ports) the core pipeline depends on but does
// not implement itself: service registration, API keys, roles, groups, and
// sessions are all owned by the out-of-scope admin REST surface and OIDC
// provider (spec §1). These map-backed adapters exist only so cmd/gateway
// produces a runnable binary without that external surface; a real
// deployment replaces them with Cassandra/Redis/Postgres-backed
// implementations of the same ports.Service*Repository interfaces, same as
// the teacher's own registry package treats consul/etcd/kubernetes as
// pluggable backends behind one interface.
package memstore

import (
	"context"
	"sync"

	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/ports"
)

// ServiceStore is a map-backed ports.ServiceRegistrationRepository.
type ServiceStore struct {
	mu       sync.RWMutex
	services map[string]domain.Service
}

// NewServiceStore builds a ServiceStore, optionally pre-seeded with
// services (e.g. loaded from a static YAML file at startup).
func NewServiceStore(seed ...domain.Service) *ServiceStore {
	s := &ServiceStore{services: make(map[string]domain.Service, len(seed))}
	for _, svc := range seed {
		s.services[svc.ServiceID] = svc
	}
	return s
}

func (s *ServiceStore) Get(_ context.Context, serviceID string) (domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return domain.Service{}, ports.ErrNotFound
	}
	return svc, nil
}

func (s *ServiceStore) List(_ context.Context) ([]domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out, nil
}

func (s *ServiceStore) Put(_ context.Context, svc domain.Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ServiceID] = svc
	return nil
}

func (s *ServiceStore) Delete(_ context.Context, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, serviceID)
	return nil
}

// APIKeyStore is a map-backed ports.ApiKeyRepository, keyed by the SHA-256
// hash of the plaintext key.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]ports.ApiKeyRecord
}

func NewAPIKeyStore(seed ...ports.ApiKeyRecord) *APIKeyStore {
	s := &APIKeyStore{keys: make(map[string]ports.ApiKeyRecord, len(seed))}
	for _, rec := range seed {
		s.keys[rec.KeyHash] = rec
	}
	return s
}

func (s *APIKeyStore) FindByHash(_ context.Context, hash string) (ports.ApiKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[hash]
	if !ok {
		return ports.ApiKeyRecord{}, ports.ErrNotFound
	}
	return rec, nil
}

// RoleStore is a map-backed ports.RoleRepository.
type RoleStore struct {
	mu    sync.RWMutex
	roles map[string][]string
}

func NewRoleStore(seed map[string][]string) *RoleStore {
	if seed == nil {
		seed = map[string][]string{}
	}
	return &RoleStore{roles: seed}
}

func (s *RoleStore) PermissionsForRole(_ context.Context, role string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[role], nil
}

// GroupStore is a map-backed ports.GroupRepository.
type GroupStore struct {
	mu     sync.RWMutex
	groups map[string][]string
}

func NewGroupStore(seed map[string][]string) *GroupStore {
	if seed == nil {
		seed = map[string][]string{}
	}
	return &GroupStore{groups: seed}
}

func (s *GroupStore) RolesForGroup(_ context.Context, group string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[group], nil
}

// SessionStore is a map-backed ports.SessionRepository and ports.SessionEvents:
// Invalidate both removes the session and publishes a SessionInvalidated
// event to every subscriber, which is how the WS gateway's logout
// propagation (§4.7) is driven in the absence of a real OIDC session store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]ports.SessionRecord
	subs     []chan ports.SessionInvalidated
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]ports.SessionRecord)}
}

func (s *SessionStore) Find(_ context.Context, sessionID string) (ports.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ports.SessionRecord{}, ports.ErrNotFound
	}
	return rec, nil
}

func (s *SessionStore) Put(sessionID string, rec ports.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = rec
}

// Invalidate removes sessionID and notifies subscribers.
func (s *SessionStore) Invalidate(sessionID string) {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	subs := make([]chan ports.SessionInvalidated, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if !ok {
		return
	}
	evt := ports.SessionInvalidated{UserID: rec.UserID, AuthSessionID: rec.AuthSessionID}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe implements ports.SessionEvents.
func (s *SessionStore) Subscribe(ctx context.Context) (<-chan ports.SessionInvalidated, error) {
	ch := make(chan ports.SessionInvalidated, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}
