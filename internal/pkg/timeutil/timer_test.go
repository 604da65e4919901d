package timeutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFires(t *testing.T) {
	var fired atomic.Int32
	tm := NewTimer()
	tm.Start(5*time.Millisecond, func() { fired.Add(1) })

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timer never fired")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCancelPreventsCallback(t *testing.T) {
	var fired atomic.Int32
	tm := NewTimer()
	tm.Start(10*time.Millisecond, func() { fired.Add(1) })
	tm.Cancel()

	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("canceled timer fired %d times", got)
	}
}

func TestRestartSupersedesPreviousArming(t *testing.T) {
	var first, second atomic.Int32
	tm := NewTimer()
	tm.Start(10*time.Millisecond, func() { first.Add(1) })
	tm.Start(5*time.Millisecond, func() { second.Add(1) })

	time.Sleep(40 * time.Millisecond)
	if got := first.Load(); got != 0 {
		t.Fatalf("superseded callback fired %d times", got)
	}
	if got := second.Load(); got != 1 {
		t.Fatalf("replacement callback fired %d times, want 1", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	tm := NewTimer()
	tm.Cancel()
	tm.Start(time.Millisecond, func() {})
	tm.Cancel()
	tm.Cancel()
}
