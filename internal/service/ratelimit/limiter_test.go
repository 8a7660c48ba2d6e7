package ratelimit

import "testing"

func TestAllowConsumesCapacity(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1", 3, 0.001) {
			t.Fatalf("request %d denied within capacity", i+1)
		}
	}
	if l.Allow("10.0.0.1", 3, 0.001) {
		t.Fatal("request allowed past capacity before refill")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 0.001) {
		t.Fatal("first key denied")
	}
	if l.Allow("a", 1, 0.001) {
		t.Fatal("first key not exhausted")
	}
	if !l.Allow("b", 1, 0.001) {
		t.Fatal("second key affected by first")
	}
}
