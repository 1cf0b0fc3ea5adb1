package storage

import (
	"sort"
	"testing"
	"time"
)

func TestQueryCache_SetGetDelete(t *testing.T) {
	c := NewQueryCache(time.Minute)

	if _, ok := c.Get("job:j1"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Set("job:j1", "running")
	v, ok := c.Get("job:j1")
	if !ok || v.(string) != "running" {
		t.Fatalf("Get() = %v, %v", v, ok)
	}

	c.Set("job:j1", "done")
	if v, _ := c.Get("job:j1"); v.(string) != "done" {
		t.Errorf("overwrite not visible: %v", v)
	}

	c.Delete("job:j1")
	if _, ok := c.Get("job:j1"); ok {
		t.Error("value survived Delete")
	}
	c.Delete("missing")
}

func TestQueryCache_Expiry(t *testing.T) {
	c := NewQueryCache(20 * time.Millisecond)
	c.Set("settings", true)
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("settings"); ok {
		t.Error("entry did not expire")
	}
}

func TestQueryCache_DefaultTTL(t *testing.T) {
	c := NewQueryCache(0)
	c.Set("k", 1)
	if _, ok := c.Get("k"); !ok {
		t.Error("zero ttl should fall back to the default, not expire immediately")
	}
}

func TestQueryCache_Keys(t *testing.T) {
	c := NewQueryCache(time.Minute)
	c.Set("job:a", 1)
	c.Set("agent-poll:s1", 2)
	c.Set("settings", 3)

	keys := c.Keys()
	sort.Strings(keys)
	want := []string{"agent-poll:s1", "job:a", "settings"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
