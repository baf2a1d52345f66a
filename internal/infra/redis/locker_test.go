package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/domain"
)

func TestLockerSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client, time.Minute, zerolog.Nop())

	unlock, err := locker.Lock(context.Background(), "user:u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("lock:user:u1") {
		t.Fatalf("expected redis key to be set")
	}

	unlock()
	if mr.Exists("lock:user:u1") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestLockerTimesOutWhileHeld(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	first := NewLocker(client, time.Minute, zerolog.Nop())
	second := NewLocker(client, time.Minute, zerolog.Nop())

	unlock, err := first.Lock(context.Background(), "user:u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(ctx, "user:u1"); !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestLockerDoesNotReleaseForeignLock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client, time.Second, zerolog.Nop())

	unlock, err := locker.Lock(context.Background(), "user:u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// the lock expires and another holder takes it
	mr.FastForward(2 * time.Second)
	if err := mr.Set("lock:user:u1", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}

	unlock()
	if got, _ := mr.Get("lock:user:u1"); got != "someone-else" {
		t.Fatalf("stale holder removed a foreign lock, value %q", got)
	}
}
