package ratelimit

import (
	"testing"
	"time"
)

func TestAllowUnderLimit(t *testing.T) {
	l := NewLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		ok, remaining, _ := l.Allow("user-1")
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if want := 3 - (i + 1); remaining != want {
			t.Errorf("remaining = %d, want %d", remaining, want)
		}
	}
}

func TestDenyOverLimit(t *testing.T) {
	l := NewLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		l.Allow("user-1")
	}
	ok, remaining, reset := l.Allow("user-1")
	if ok {
		t.Fatal("4th request should be denied")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if !reset.After(time.Now()) {
		t.Errorf("reset %v should be in the future", reset)
	}
}

func TestDifferentKeysIndependent(t *testing.T) {
	l := NewLimiter(2, time.Hour)

	l.Allow("user-1")
	l.Allow("user-1")

	if ok, _, _ := l.Allow("user-1"); ok {
		t.Fatal("user-1 should be denied")
	}
	if ok, _, _ := l.Allow("user-2"); !ok {
		t.Fatal("user-2 should be allowed")
	}
}

func TestExpiredEntriesPruned(t *testing.T) {
	l := NewLimiter(2, 50*time.Millisecond)

	l.Allow("1.2.3.4")
	l.Allow("1.2.3.4")

	if ok, _, _ := l.Allow("1.2.3.4"); ok {
		t.Fatal("should be denied before window expires")
	}

	time.Sleep(60 * time.Millisecond)

	if ok, _, _ := l.Allow("1.2.3.4"); !ok {
		t.Fatal("should be allowed after window expires")
	}
}
