package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestRealClockTimerFires(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(5 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(250 * time.Millisecond):
		t.Error("timer did not fire")
	}
}

func TestRealClockTickerFires(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(250 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClockSetAndNow(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	later := start.Add(2 * time.Hour)
	clock.Set(later)
	if got := clock.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClockAdvanceFiresTimer(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(10 * time.Second)

	clock.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestMockClockAdvanceFiresTicker(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Minute)

	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	// A stopped ticker stays quiet.
	ticker.Stop()
	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTimerStopPreventsFire(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on an active timer should report true")
	}
	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockTickerTrigger(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Hour).(*MockTicker)

	at := clock.Now()
	ticker.Trigger(at)
	select {
	case got := <-ticker.C():
		if !got.Equal(at) {
			t.Errorf("tick carried %v, want %v", got, at)
		}
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}

func TestMockClockSleepIsRecorded(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	clock.Sleep(250 * time.Millisecond)
	clock.Sleep(500 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("recorded %d sleeps, want 2", len(sleeps))
	}
	if sleeps[0] != 250*time.Millisecond || sleeps[1] != 500*time.Millisecond {
		t.Errorf("recorded sleeps %v, want [250ms 500ms]", sleeps)
	}
}

func TestMockClockAfter(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	ch := clock.After(time.Second)

	clock.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After channel did not receive once the duration elapsed")
	}
}
