package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestGetMiss(t *testing.T) {
	c := New[string, int](4, StringHasher, nil)
	if _, ok := c.Get("absent"); ok {
		t.Error("Get on empty cache should miss")
	}
	if st := c.Stats(); st.Misses != 1 || st.Hits != 0 {
		t.Errorf("Stats = %+v, want 1 miss", st)
	}
}

func TestGetOrCreate(t *testing.T) {
	c := New[string, int](4, StringHasher, nil)

	calls := 0
	create := func() (int, error) {
		calls++
		return 42, nil
	}

	v, err := c.GetOrCreate("k", create)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if v != 42 {
		t.Errorf("value = %d, want 42", v)
	}

	v, err = c.GetOrCreate("k", create)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 || calls != 1 {
		t.Errorf("second call: value = %d, calls = %d, want cached 42 with 1 call", v, calls)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit 1 miss", st)
	}
}

func TestGetOrCreateErrorNotCached(t *testing.T) {
	c := New[string, int](4, StringHasher, nil)

	boom := errors.New("boom")
	if _, err := c.GetOrCreate("k", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Error("failed create must not be cached")
	}

	// The next call retries.
	v, err := c.GetOrCreate("k", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("retry = (%d, %v), want (7, nil)", v, err)
	}
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	c := New[string, int](4, StringHasher, nil)

	var calls int
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrCreate("k", func() (int, error) {
				calls++ // shard lock held, no race
				return 1, nil
			})
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Errorf("create ran %d times, want 1", calls)
	}
}

func TestDeleteRunsEvictHook(t *testing.T) {
	var evicted []string
	c := New[string, int](4, StringHasher, func(k string, _ int) {
		evicted = append(evicted, k)
	})

	if _, err := c.GetOrCreate("k", func() (int, error) { return 1, nil }); err != nil {
		t.Fatal(err)
	}
	if !c.Delete("k") {
		t.Fatal("Delete should report the entry existed")
	}
	if c.Delete("k") {
		t.Error("second Delete should report absence")
	}
	if len(evicted) != 1 || evicted[0] != "k" {
		t.Errorf("evicted = %v, want [k]", evicted)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	evicted := make(map[string]bool)
	c := New[string, int](2, StringHasher, func(k string, _ int) {
		evicted[k] = true
	})

	// Keys that land in the same shard overflow it; with per-shard
	// capacity 2, three same-shard inserts evict the oldest.
	keys := sameShardKeys(c.hasher, 3)
	for i, k := range keys {
		if _, err := c.GetOrCreate(k, func() (int, error) { return i, nil }); err != nil {
			t.Fatal(err)
		}
	}
	if !evicted[keys[0]] {
		t.Errorf("oldest key %q was not evicted (evicted: %v)", keys[0], evicted)
	}
	if evicted[keys[2]] {
		t.Error("newest key must survive")
	}
	if st := c.Stats(); st.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", st.Evictions)
	}
}

func TestClear(t *testing.T) {
	count := 0
	c := New[string, int](8, StringHasher, func(string, int) { count++ })

	for i := range 5 {
		k := fmt.Sprintf("k%d", i)
		if _, err := c.GetOrCreate(k, func() (int, error) { return i, nil }); err != nil {
			t.Fatal(err)
		}
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
	if count != 5 {
		t.Errorf("eviction hook ran %d times, want 5", count)
	}
}

// sameShardKeys generates n distinct keys hashing to one shard.
func sameShardKeys(h Hasher[string], n int) []string {
	want := h("seed") & shardMask
	keys := []string{"seed"}
	for i := 0; len(keys) < n; i++ {
		k := fmt.Sprintf("key-%d", i)
		if h(k)&shardMask == want {
			keys = append(keys, k)
		}
	}
	return keys
}
