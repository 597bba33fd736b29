package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestNewRedisStore_ConfigErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := NewRedisStore(ctx, ""); err == nil {
		t.Error("empty url must be a construction error, not a silent default")
	}
	if _, err := NewRedisStore(ctx, "::not-a-url"); err == nil {
		t.Error("malformed url must fail")
	}
}

func TestRedisStore_AppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, v := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, "batch:u1", v); err != nil {
			t.Fatal(err)
		}
	}

	last, err := s.ReadLast(ctx, "batch:u1")
	if err != nil {
		t.Fatal(err)
	}
	if last != "c" {
		t.Errorf("ReadLast = %q, want c", last)
	}

	all, err := s.ReadAll(ctx, "batch:u1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(all, []string{"a", "b", "c"}) {
		t.Errorf("ReadAll = %v, want insertion order", all)
	}
}

func TestRedisStore_ReadMisses(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if _, err := s.ReadLast(ctx, "absent"); !errors.Is(err, ErrMiss) {
		t.Errorf("ReadLast: err = %v, want ErrMiss", err)
	}
	if _, err := s.Get(ctx, "absent"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get: err = %v, want ErrMiss", err)
	}
	all, err := s.ReadAll(ctx, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("ReadAll on absent list = %v, want empty", all)
	}
}

func TestRedisStore_SetNXElection(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	won, err := s.SetNX(ctx, "lock", "1", time.Second)
	if err != nil || !won {
		t.Fatalf("first SetNX: won=%v err=%v", won, err)
	}
	won, err = s.SetNX(ctx, "lock", "2", time.Second)
	if err != nil || won {
		t.Fatalf("contended SetNX: won=%v err=%v, exactly one winner expected", won, err)
	}

	// TTL expiry frees the lock for the next election.
	mr.FastForward(2 * time.Second)
	won, err = s.SetNX(ctx, "lock", "3", time.Second)
	if err != nil || !won {
		t.Errorf("SetNX after TTL: won=%v err=%v, want win", won, err)
	}
}

func TestRedisStore_SetExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	if err := s.Append(ctx, "batch:u1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetExpiry(ctx, "batch:u1", time.Second); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := s.ReadLast(ctx, "batch:u1"); !errors.Is(err, ErrMiss) {
		t.Errorf("list should have expired, err = %v", err)
	}

	// Refreshing an absent key is a no-op, not an error.
	if err := s.SetExpiry(ctx, "ghost", time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestRedisStore_DeleteMultiple(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.Append(ctx, "batch:u1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetNX(ctx, "batch:u1:lock", "1", time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "batch:u1", "batch:u1:lock"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadLast(ctx, "batch:u1"); !errors.Is(err, ErrMiss) {
		t.Error("list survived delete")
	}
	if _, err := s.Get(ctx, "batch:u1:lock"); !errors.Is(err, ErrMiss) {
		t.Error("lock survived delete")
	}

	if err := s.Delete(ctx); err != nil {
		t.Errorf("Delete with no keys: %v", err)
	}
}
