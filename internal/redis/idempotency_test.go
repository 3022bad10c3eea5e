package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return Wrap(rdb, "", zap.NewNop()), mr
}

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())

	result, err := svc.CheckOrReserve(context.Background(), "announcements", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_DuplicateInFlight(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "announcements", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := svc.CheckOrReserve(ctx, "announcements", "key-1"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_ReserveThenStore(t *testing.T) {
	client, mr := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	reserved, err := svc.Reserve(ctx, "announcements", "key-1")
	if err != nil || !reserved {
		t.Fatalf("reserve failed: %v, reserved: %v", err, reserved)
	}

	if err := svc.Store(ctx, "announcements", "key-1", &IdempotencyResult{
		AnnouncementID: 12,
		Slug:           "maria-silva",
		StatusCode:     201,
	}, IdempotencyTTL); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	cached, err := svc.CheckOrReserve(ctx, "announcements", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if cached == nil || cached.Slug != "maria-silva" || cached.AnnouncementID != 12 || cached.CreatedAt == 0 {
		t.Fatalf("unexpected cached result: %+v", cached)
	}
	if ttl := mr.TTL("necrologia:idempotency:announcements:key-1"); ttl != IdempotencyTTL {
		t.Errorf("ttl = %s, want %s", ttl, IdempotencyTTL)
	}
}

func TestIdempotencyService_ScopeIsolation(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "announcements", "same-key"); err != nil {
		t.Fatalf("first scope failed: %v", err)
	}
	result, err := svc.CheckOrReserve(ctx, "checkout", "same-key")
	if err != nil || result != nil {
		t.Fatalf("other scope should reserve freshly, got %+v, %v", result, err)
	}
}

func TestIdempotencyService_Release(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "announcements", "k"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.Release(ctx, "announcements", "k"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if result, err := svc.CheckOrReserve(ctx, "announcements", "k"); err != nil || result != nil {
		t.Fatalf("released key should be reservable again, got %+v, %v", result, err)
	}

	if err := svc.Store(ctx, "announcements", "done", &IdempotencyResult{Slug: "x"}, time.Hour); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := svc.Release(ctx, "announcements", "done"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if cached, _ := svc.Check(ctx, "announcements", "done"); cached == nil {
		t.Fatal("release must not drop a stored result")
	}
}

func TestLocker_TryLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "checkout:7", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock should succeed: %v %v", ok, err)
	}

	if _, ok, err := locker.TryLock(ctx, "checkout:7", time.Minute); err != nil || ok {
		t.Fatalf("second lock should fail without error: %v %v", ok, err)
	}
	if _, ok, _ := locker.TryLock(ctx, "checkout:8", time.Minute); !ok {
		t.Fatal("different names should not contend")
	}

	unlock(ctx)
	if mr.Exists("necrologia:lock:checkout:7") {
		t.Fatal("unlock should delete the key")
	}
	if _, ok, _ := locker.TryLock(ctx, "checkout:7", time.Minute); !ok {
		t.Fatal("lock should be free after unlock")
	}
}

func TestLocker_StaleUnlockKeepsNewOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	unlock, ok, _ := locker.TryLock(ctx, "checkout:1", time.Second)
	if !ok {
		t.Fatal("expected lock")
	}
	mr.FastForward(2 * time.Second)

	if _, ok, _ := locker.TryLock(ctx, "checkout:1", time.Minute); !ok {
		t.Fatal("expired lock should be re-acquirable")
	}
	unlock(ctx)
	if !mr.Exists("necrologia:lock:checkout:1") {
		t.Fatal("stale unlock must not release the new owner's lock")
	}
}
