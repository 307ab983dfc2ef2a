package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "job_a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	unlock()

	// Re-acquire after unlock must succeed immediately.
	unlock2, err := m.Lock(ctx, "job_a")
	if err != nil {
		t.Fatalf("re-Lock failed: %v", err)
	}
	unlock2()
}

func TestKeyedMutex_ContendedKeyTimesOut(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "job_a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Lock(ctx, "job_a"); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded on contended key, got %v", err)
	}
}

func TestKeyedMutex_SerializesCriticalSection(t *testing.T) {
	m := NewKeyedMutex()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "shared")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50 (lost update under lock)", counter)
	}
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "job_a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Pick a key that provably lands on a different shard.
	other := "job_b"
	for i := 0; m.shardIdx(other) == m.shardIdx("job_a"); i++ {
		other = "job_b" + string(rune('0'+i))
	}

	u, err := m.Lock(ctx, other)
	if err != nil {
		t.Fatalf("Lock(%s) failed: %v", other, err)
	}
	u()
}
