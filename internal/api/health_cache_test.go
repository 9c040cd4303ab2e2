package api

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHealthCache_InitialState(t *testing.T) {
	cache := NewHealthCache(30 * time.Second)

	up, valid := cache.Get("database")
	if valid {
		t.Error("new cache should return valid=false")
	}
	if up {
		t.Error("new cache should return up=false")
	}
	if cache.TTL() != 30*time.Second {
		t.Errorf("TTL() = %v, want 30s", cache.TTL())
	}
}

func TestHealthCache_CheckCachesResult(t *testing.T) {
	cache := NewHealthCache(time.Minute)
	calls := 0
	check := func() error {
		calls++
		return nil
	}

	for i := 0; i < 3; i++ {
		if !cache.Check("database", check) {
			t.Error("Check() = false, want true")
		}
	}
	if calls != 1 {
		t.Errorf("check calls = %d, want 1", calls)
	}

	cache.Invalidate("database")
	cache.Check("database", check)
	if calls != 2 {
		t.Errorf("check calls after Invalidate = %d, want 2", calls)
	}
}

func TestHealthCache_CheckFailure(t *testing.T) {
	cache := NewHealthCache(time.Minute)

	if cache.Check("redis", func() error { return errors.New("connection refused") }) {
		t.Error("Check() = true for a failing check")
	}
	up, valid := cache.Get("redis")
	if up || !valid {
		t.Errorf("Get() = (%v, %v), want (false, true)", up, valid)
	}
}

func TestHealthCache_TTLExpiration(t *testing.T) {
	cache := NewHealthCache(50 * time.Millisecond)
	cache.Set("database", true)

	if _, valid := cache.Get("database"); !valid {
		t.Error("entry should be valid immediately after Set")
	}

	time.Sleep(60 * time.Millisecond)

	if _, valid := cache.Get("database"); valid {
		t.Error("entry should be invalid after TTL expires")
	}
}

func TestHealthCache_ZeroTTL(t *testing.T) {
	cache := NewHealthCache(0)
	calls := 0

	cache.Check("database", func() error { calls++; return nil })
	cache.Check("database", func() error { calls++; return nil })

	if calls != 2 {
		t.Errorf("check calls = %d, want 2 with caching disabled", calls)
	}
}

func TestHealthCache_Concurrency(t *testing.T) {
	cache := NewHealthCache(time.Second)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cache.Set("database", i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			cache.Check("database", func() error { return nil })
		}()
	}
	wg.Wait()
}
