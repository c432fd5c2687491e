package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewFixedWindow(rdb, "rl:", 3, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "fp-1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	ok, err := l.Allow(ctx, "fp-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatalf("fourth hit should be rejected")
	}

	ok, _ = l.Allow(ctx, "fp-2")
	if !ok {
		t.Fatalf("other keys have their own window")
	}

	mr.FastForward(time.Minute + time.Second)
	ok, _ = l.Allow(ctx, "fp-1")
	if !ok {
		t.Fatalf("expected a fresh window after expiry")
	}
}

func TestFixedWindowDisabled(t *testing.T) {
	l := NewFixedWindow(nil, "rl:", 0, time.Minute)
	ok, err := l.Allow(context.Background(), "x")
	if err != nil || !ok {
		t.Fatalf("expected disabled limiter to allow, got %v %v", ok, err)
	}
}
