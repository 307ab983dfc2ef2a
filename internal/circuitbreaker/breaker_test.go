package circuitbreaker

import (
	"testing"
	"time"
)

func TestAllowsUnknownKey(t *testing.T) {
	b := New(3, time.Minute)
	if !b.Allow("wh_sub1") {
		t.Error("a key with no history should be allowed")
	}
	if b.State("wh_sub1") != StateClosed {
		t.Errorf("state = %v, want closed", b.State("wh_sub1"))
	}
}

func TestTripsAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("wh_sub1")
	b.RecordFailure("wh_sub1")
	if !b.Allow("wh_sub1") {
		t.Error("below threshold should still allow")
	}

	b.RecordFailure("wh_sub1")
	if b.Allow("wh_sub1") {
		t.Error("at threshold the circuit should be open")
	}
	if b.State("wh_sub1") != StateOpen {
		t.Errorf("state = %v, want open", b.State("wh_sub1"))
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)

	b.RecordFailure("wh_flaky")
	if b.Allow("wh_flaky") {
		t.Error("failing endpoint should be open")
	}
	if !b.Allow("wh_healthy") {
		t.Error("one endpoint's failures must not affect another")
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("wh_sub1")
	b.RecordFailure("wh_sub1")
	b.RecordSuccess("wh_sub1")
	b.RecordFailure("wh_sub1")
	b.RecordFailure("wh_sub1")
	if !b.Allow("wh_sub1") {
		t.Error("success should reset the consecutive failure count")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("wh_sub1")
	if b.Allow("wh_sub1") {
		t.Fatal("circuit should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow("wh_sub1") {
		t.Fatal("after the open window one probe should be allowed")
	}
	if b.State("wh_sub1") != StateHalfOpen {
		t.Errorf("state = %v, want half_open", b.State("wh_sub1"))
	}
	if b.Allow("wh_sub1") {
		t.Error("only one probe may be in flight")
	}

	b.RecordSuccess("wh_sub1")
	if b.State("wh_sub1") != StateClosed {
		t.Errorf("successful probe should close the circuit, state = %v", b.State("wh_sub1"))
	}
	if !b.Allow("wh_sub1") {
		t.Error("closed circuit should allow deliveries")
	}
}

func TestFailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("wh_sub1")
	time.Sleep(20 * time.Millisecond)
	if !b.Allow("wh_sub1") {
		t.Fatal("probe should be allowed")
	}

	b.RecordFailure("wh_sub1")
	if b.State("wh_sub1") != StateOpen {
		t.Errorf("failed probe should reopen, state = %v", b.State("wh_sub1"))
	}
	if b.Allow("wh_sub1") {
		t.Error("reopened circuit should reject")
	}
}

func TestTransitionCallback(t *testing.T) {
	b := New(1, time.Minute)

	// Callbacks fire on a separate goroutine.
	got := make(chan string, 1)
	b.OnTransition(func(key string, from, to State) {
		got <- key + ":" + from.String() + "->" + to.String()
	})

	b.RecordFailure("wh_sub1")
	select {
	case tr := <-got:
		if tr != "wh_sub1:closed->open" {
			t.Errorf("transition = %q", tr)
		}
	case <-time.After(time.Second):
		t.Fatal("transition callback never fired")
	}
}
