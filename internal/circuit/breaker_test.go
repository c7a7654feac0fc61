package circuit

import (
	"testing"
	"time"
)

// TestBreakerTripsOnStreak tests that consecutive failures open the breaker.
func TestBreakerTripsOnStreak(t *testing.T) {
	b := NewBreaker(&BreakerConfig{Enabled: true, MaxFailures: 3, Cooldown: time.Minute})

	var trippedWith int
	b.OnTrip(func(failures int) { trippedWith = failures })

	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Error("Breaker should stay closed below the failure limit")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("Breaker should open after 3 consecutive failures")
	}
	if b.State() != StateOpen {
		t.Errorf("Expected open state, got %s", b.State())
	}
	if trippedWith != 3 {
		t.Errorf("Trip callback should see the streak, got %d", trippedWith)
	}
}

// TestBreakerSuccessResetsStreak tests that a success interrupts the streak.
func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker(&BreakerConfig{Enabled: true, MaxFailures: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if !b.Allow() {
		t.Error("Interrupted streaks should not trip the breaker")
	}
}

// TestBreakerHalfOpenProbe tests recovery through a half-open probe.
func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(&BreakerConfig{Enabled: true, MaxFailures: 1, Cooldown: 10 * time.Millisecond})

	recovered := false
	b.OnReset(func() { recovered = true })

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("Breaker should be open right after tripping")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("Cooldown elapsed, breaker should allow a probe")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("Expected half-open during probe, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("Successful probe should close the breaker, got %s", b.State())
	}
	if !recovered {
		t.Error("Reset callback should fire on recovery")
	}
}

// TestBreakerFailedProbeReopens tests that a failed probe reopens at once.
func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(&BreakerConfig{Enabled: true, MaxFailures: 2, Cooldown: 10 * time.Millisecond})

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("Expected a probe after cooldown")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("A failed probe should reopen the breaker immediately")
	}
}

// TestBreakerDisabled tests that a disabled breaker never blocks.
func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker(&BreakerConfig{Enabled: false, MaxFailures: 1, Cooldown: time.Minute})

	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Error("Disabled breaker should always allow calls")
	}
}
