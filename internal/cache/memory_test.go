package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_TTL(t *testing.T) {
	c := NewMemoryStore(0)
	clock := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return clock }

	ctx := context.Background()
	key := "TeX:abc::svg"

	if err := c.Set(ctx, key, []byte("PHN2Zz4="), 20*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit immediately after Set")
	}
	if string(got) != "PHN2Zz4=" {
		t.Fatalf("unexpected value %q", got)
	}

	clock = clock.Add(20 * time.Second)

	_, hit, err = c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after TTL failed: %v", err)
	}
	if hit {
		t.Fatalf("expected miss after TTL expiry")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on read, len=%d", c.Len())
	}
}

func TestMemoryStore_NonPositiveTTLDeletes(t *testing.T) {
	c := NewMemoryStore(0)

	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	_ = c.Set(ctx, "k", []byte("v"), 0)

	if c.Len() != 0 {
		t.Fatalf("expected key to be removed, len=%d", c.Len())
	}
}

func TestMemoryStore_CopiesValue(t *testing.T) {
	c := NewMemoryStore(0)

	ctx := context.Background()
	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'x'

	got, _, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryStore(3)
	ctx := context.Background()

	for i := range 3 {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}
	// touch k0 so k1 becomes the oldest
	if _, hit, _ := c.Get(ctx, "k0"); !hit {
		t.Fatalf("expected k0 hit")
	}
	_ = c.Set(ctx, "k3", []byte("v"), time.Minute)

	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if _, hit, _ := c.Get(ctx, "k1"); hit {
		t.Fatalf("k1 should have been evicted")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if _, hit, _ := c.Get(ctx, k); !hit {
			t.Fatalf("%s should still be cached", k)
		}
	}
}

func TestMemoryStore_OverwriteRefreshes(t *testing.T) {
	c := NewMemoryStore(0)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("old"), time.Minute)
	_ = c.Set(ctx, "k", []byte("new"), time.Minute)

	got, hit, _ := c.Get(ctx, "k")
	if !hit || string(got) != "new" || c.Len() != 1 {
		t.Fatalf("got %q hit=%v len=%d", got, hit, c.Len())
	}
}
