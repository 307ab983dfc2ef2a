package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_BurstThenDeny(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("caller") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.Allow("caller") {
		t.Error("request beyond burst should be denied")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("first request for a should pass")
	}
	if !l.Allow("b") {
		t.Error("b should not share a's bucket")
	}
	if l.Allow("a") {
		t.Error("a's bucket should be exhausted")
	}
}

func TestAllow_Refills(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 6000, // 100/s so the test refills quickly
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	if !l.Allow("caller") {
		t.Fatal("first request should pass")
	}
	if l.Allow("caller") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)
	if !l.Allow("caller") {
		t.Error("bucket should have refilled")
	}
}
