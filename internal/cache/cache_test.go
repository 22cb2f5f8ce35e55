package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUSetGet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected value1, got %s", val)
	}
}

func TestLRUMiss(t *testing.T) {
	c := NewLRUCache(10)

	val, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil on miss, got %s", val)
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	val, _ := c.Get(ctx, "short")
	if val != nil {
		t.Error("expected expired entry to miss")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprintf("key%d", i), []byte("v"), time.Minute)
	}

	size, capacity := c.Stats()
	if size > capacity {
		t.Errorf("size %d exceeds capacity %d", size, capacity)
	}

	// Oldest entries are gone.
	if val, _ := c.Get(ctx, "key0"); val != nil {
		t.Error("expected key0 to be evicted")
	}
	if val, _ := c.Get(ctx, "key4"); val == nil {
		t.Error("expected key4 to survive")
	}
}

func TestLRUDelete(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "key1", []byte("v"), time.Minute)
	c.Delete(ctx, "key1")

	if val, _ := c.Get(ctx, "key1"); val != nil {
		t.Error("expected deleted entry to miss")
	}
}

func TestSetIfAbsent(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	ok, err := c.SetIfAbsent(ctx, "claim", []byte("1"), time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if !ok {
		t.Error("first claim should succeed")
	}

	ok, _ = c.SetIfAbsent(ctx, "claim", []byte("2"), time.Minute)
	if ok {
		t.Error("second claim should fail")
	}

	// The original value survives the failed claim.
	val, _ := c.Get(ctx, "claim")
	if string(val) != "1" {
		t.Errorf("expected original value, got %s", val)
	}
}

func TestSetIfAbsentAfterExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.SetIfAbsent(ctx, "claim", []byte("1"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	ok, _ := c.SetIfAbsent(ctx, "claim", []byte("2"), time.Minute)
	if !ok {
		t.Error("claim on expired key should succeed")
	}
}

func TestSetIfAbsentConcurrent(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	const n = 32
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := c.SetIfAbsent(ctx, "contested", []byte("x"), time.Minute)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestIncrementCounter(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

func TestIncrementCounterWindowReset(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.IncrementCounter(ctx, "counter", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	got, _ := c.IncrementCounter(ctx, "counter", time.Minute)
	if got != 1 {
		t.Errorf("expected counter to reset after window, got %d", got)
	}
}

func TestFactoryMemory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected LRUCache, got %T", c)
	}
}

func TestFactoryUnknownType(t *testing.T) {
	if _, err := New(domain.CacheConfig{Type: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown cache type")
	}
}
