package idle

import (
	"testing"
	"time"
)

func TestTimerFiresWhenQuiet(t *testing.T) {
	tearDown := make(chan struct{})
	timer := NewTimer(100*time.Millisecond, tearDown)
	timer.Start()

	select {
	case <-tearDown:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the idle timer to fire")
	}
}

func TestTimerResetDelaysTearDown(t *testing.T) {
	tearDown := make(chan struct{})
	timer := NewTimer(300*time.Millisecond, tearDown)
	timer.Start()
	defer timer.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-tearDown:
			t.Fatal("Timer fired despite recent activity")
		case <-time.After(100 * time.Millisecond):
			timer.ResetTimer()
		}
	}

	select {
	case <-tearDown:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the idle timer to fire once requests stopped")
	}
}

func TestTimerStop(t *testing.T) {
	tearDown := make(chan struct{}, 1)
	timer := NewTimer(100*time.Millisecond, tearDown)
	timer.Start()
	timer.Stop()
	timer.Stop()

	select {
	case <-tearDown:
		t.Fatal("A stopped timer must not fire")
	case <-time.After(400 * time.Millisecond):
	}
}
