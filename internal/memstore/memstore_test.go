package memstore

import (
	"context"
	"testing"

	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/ports"
)

func testService(id string) domain.Service {
	return domain.Service{
		ServiceID: id,
		BaseURL:   "http://localhost:9000",
		Endpoints: []domain.Endpoint{{ID: "root", Methods: map[string]bool{"GET": true}, Path: "/"}},
	}
}

func TestServiceStorePutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store := NewServiceStore()

	if err := store.Put(ctx, testService("users")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	svc, err := store.Get(ctx, "users")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if svc.ServiceID != "users" {
		t.Errorf("expected users, got %s", svc.ServiceID)
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v %d", err, len(list))
	}

	if err := store.Delete(ctx, "users"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "users"); err != ports.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestServiceStorePutRejectsReservedID(t *testing.T) {
	store := NewServiceStore()
	if err := store.Put(context.Background(), testService("admin")); err == nil {
		t.Fatal("expected an error registering a reserved service id")
	}
}

func TestServiceStoreSeed(t *testing.T) {
	store := NewServiceStore(testService("orders"))
	if _, err := store.Get(context.Background(), "orders"); err != nil {
		t.Fatalf("expected seeded service to be present: %v", err)
	}
}

func TestAPIKeyStoreFindByHash(t *testing.T) {
	store := NewAPIKeyStore(ports.ApiKeyRecord{KeyHash: "abc", ClientID: "client-1", Roles: []string{"reader"}})

	rec, err := store.FindByHash(context.Background(), "abc")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if rec.ClientID != "client-1" {
		t.Errorf("expected client-1, got %s", rec.ClientID)
	}

	if _, err := store.FindByHash(context.Background(), "missing"); err != ports.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoleAndGroupStores(t *testing.T) {
	roles := NewRoleStore(map[string][]string{"admin": {"users:admin", "users:read"}})
	perms, err := roles.PermissionsForRole(context.Background(), "admin")
	if err != nil || len(perms) != 2 {
		t.Fatalf("PermissionsForRole: %v %v", err, perms)
	}

	groups := NewGroupStore(map[string][]string{"platform-team": {"admin"}})
	rolesForGroup, err := groups.RolesForGroup(context.Background(), "platform-team")
	if err != nil || len(rolesForGroup) != 1 {
		t.Fatalf("RolesForGroup: %v %v", err, rolesForGroup)
	}
}

func TestSessionStoreFindAndInvalidatePublishesEvent(t *testing.T) {
	store := NewSessionStore()
	store.Put("sess-1", ports.SessionRecord{AuthSessionID: "sess-1", UserID: "u1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	store.Invalidate("sess-1")

	select {
	case evt := <-ch:
		if evt.UserID != "u1" {
			t.Errorf("expected user u1, got %s", evt.UserID)
		}
	default:
		t.Fatal("expected an invalidation event to be published synchronously")
	}

	if _, err := store.Find(context.Background(), "sess-1"); err != ports.ErrNotFound {
		t.Fatalf("expected session removed after invalidate, got %v", err)
	}
}
