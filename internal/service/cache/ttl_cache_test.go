package cache

import (
	"testing"
	"time"
)

func TestSetGetAndExpiry(t *testing.T) {
	c := NewTTLCache()

	c.Set("k", 42, time.Hour)
	if v, ok := c.Get("k"); !ok || v.(int) != 42 {
		t.Fatalf("got %v %v", v, ok)
	}

	c.Set("gone", "x", time.Nanosecond)
	time.Sleep(time.Millisecond)
	if _, ok := c.Get("gone"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestInvalidate(t *testing.T) {
	c := NewTTLCache()
	c.Set("k", "v", 0)
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("invalidated entry still served")
	}
}
