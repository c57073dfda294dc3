package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/streamgw/internal/domain/repository"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestStore_SetGet(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	s := New(client)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}
}

func TestStore_GetMiss(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	s := New(client)
	_, err := s.Get(context.Background(), "missing")
	if err != repository.ErrNotFound {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	s := New(client)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != repository.ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteNonExistent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	s := New(client)
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("Delete non-existent key should not error: %v", err)
	}
}
