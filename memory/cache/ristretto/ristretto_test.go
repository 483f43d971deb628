package ristretto_test

import (
	"context"
	"testing"
	"time"

	"github.com/jarvisbrain/brain-go-sdk/memory/cache/ristretto"
)

func newCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	c, err := ristretto.New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGetDelete(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "mem:a:k"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	if !c.Set(ctx, "mem:a:k", []byte(`{"v":1}`), time.Minute) {
		t.Fatal("Set failed")
	}
	data, ok := c.Get(ctx, "mem:a:k")
	if !ok || string(data) != `{"v":1}` {
		t.Fatalf("Get after Set: ok=%v data=%s", ok, data)
	}

	if !c.Delete(ctx, "mem:a:k") {
		t.Fatal("Delete failed")
	}
	if _, ok := c.Get(ctx, "mem:a:k"); ok {
		t.Fatal("hit after delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	c.Set(ctx, "mem:a:short", []byte("x"), 50*time.Millisecond)
	if _, ok := c.Get(ctx, "mem:a:short"); !ok {
		t.Fatal("entry should be live before TTL")
	}

	time.Sleep(150 * time.Millisecond)
	if _, ok := c.Get(ctx, "mem:a:short"); ok {
		t.Fatal("entry should have expired")
	}
}

func TestOverwrite(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	c.Set(ctx, "mem:a:k", []byte("old"), time.Minute)
	c.Set(ctx, "mem:a:k", []byte("new"), time.Minute)

	data, ok := c.Get(ctx, "mem:a:k")
	if !ok || string(data) != "new" {
		t.Fatalf("expected overwritten value, got ok=%v data=%s", ok, data)
	}
}
