package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	start := clock.Now()
	if clock.Since(start) < 0 {
		t.Error("Since should not be negative")
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestRunClock_Elapsed(t *testing.T) {
	start := time.Date(2025, 10, 10, 13, 29, 22, 0, time.UTC)
	mock := NewMockClock(start)
	rc := NewRunClock(mock)

	if rc.Elapsed() != 0 {
		t.Errorf("Elapsed() = %v, want 0", rc.Elapsed())
	}
	mock.Advance(1500 * time.Millisecond)
	if rc.Elapsed() != 1.5 {
		t.Errorf("Elapsed() = %v, want 1.5", rc.Elapsed())
	}
	if !rc.Start().Equal(start) {
		t.Errorf("Start() = %v, want %v", rc.Start(), start)
	}
}

func TestRunClock_NilUsesRealClock(t *testing.T) {
	rc := NewRunClock(nil)
	if _, ok := rc.Clock().(RealClock); !ok {
		t.Errorf("expected RealClock, got %T", rc.Clock())
	}
}

func TestMockClock_After(t *testing.T) {
	mock := NewMockClock(time.Unix(0, 0))
	ch := mock.After(time.Second)

	mock.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}

	mock.Advance(500 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at deadline")
	}
}

func TestMockClock_Ticker(t *testing.T) {
	mock := NewMockClock(time.Unix(0, 0))
	ticker := mock.NewTicker(250 * time.Millisecond)

	mock.Advance(250 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire")
	}

	ticker.Stop()
	mock.Advance(250 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	mock := NewMockClock(time.Unix(0, 0))
	ticker := mock.NewTicker(time.Hour).(*MockTicker)
	now := time.Unix(42, 0)
	ticker.Trigger(now)
	if got := <-ticker.C(); !got.Equal(now) {
		t.Errorf("Trigger delivered %v, want %v", got, now)
	}
}
