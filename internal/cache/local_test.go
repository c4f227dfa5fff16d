package cache

import (
	"testing"
	"time"
)

func TestLocalGetSet(t *testing.T) {
	c := NewLocal(time.Minute, 0)
	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v.(int) != 1 {
		t.Fatalf("expected (1,true), got (%v,%v)", v, ok)
	}
}

func TestLocalExpiry(t *testing.T) {
	c := NewLocal(time.Millisecond, 0)
	c.Set("a", 1)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestLocalBoundedEvictsOldestFirst(t *testing.T) {
	c := NewLocal(time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry 'a' to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected 'b' to still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected 'c' to still be present")
	}
}

func TestLocalDelete(t *testing.T) {
	c := NewLocal(time.Minute, 0)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected deleted entry to miss")
	}
}

func TestLocalDeleteMissingKeyIsNoOp(t *testing.T) {
	c := NewLocal(time.Minute, 0)
	c.Delete("nonexistent")
}

func TestLocalCleanupExpired(t *testing.T) {
	c := NewLocal(time.Millisecond, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(5 * time.Millisecond)
	removed := c.CleanupExpired()
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache after cleanup, got len %d", c.Len())
	}
}
