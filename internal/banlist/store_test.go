package banlist

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), BanPrefix+"*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
		client.Close()
	})

	return NewStore(client)
}

func TestStore_RecordAndLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, 100, 200, "forbidden_word", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}

	banned, reason, err := s.IsBanned(ctx, 100, 200)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if !banned || reason != "forbidden_word" {
		t.Errorf("IsBanned = (%v, %q), want (true, forbidden_word)", banned, reason)
	}
}

func TestStore_NotBanned(t *testing.T) {
	s := testStore(t)

	banned, reason, err := s.IsBanned(context.Background(), 100, 999)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if banned || reason != "" {
		t.Errorf("IsBanned = (%v, %q), want (false, \"\")", banned, reason)
	}
}

func TestStore_Remove(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, 100, 201, "url", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Remove(ctx, 100, 201); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	banned, _, err := s.IsBanned(ctx, 100, 201)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if banned {
		t.Error("still banned after Remove")
	}
}

func TestStore_RecordOverwritesReason(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Record(ctx, 100, 202, "url", 0)
	s.Record(ctx, 100, 202, "mention", 0)

	_, reason, err := s.IsBanned(ctx, 100, 202)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if reason != "mention" {
		t.Errorf("reason = %q, want mention", reason)
	}
}
