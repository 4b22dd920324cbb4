// Package idle shuts a process down after a period without requests.
package idle

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer sends a single value on its notification channel once no request
// has been seen for the configured timeout.
type Timer struct {
	timeout time.Duration
	notify  chan<- struct{}

	// Unix nanoseconds of the most recent request.
	last atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTimer returns a Timer that notifies tearDown after timeout of
// inactivity. It does nothing until Start is called.
func NewTimer(timeout time.Duration, tearDown chan<- struct{}) *Timer {
	t := &Timer{
		timeout: timeout,
		notify:  tearDown,
		stop:    make(chan struct{}),
	}
	t.last.Store(time.Now().UnixNano())
	return t
}

// Start runs the countdown in a new goroutine.
func (t *Timer) Start() {
	go t.run()
}

func (t *Timer) run() {
	wait := time.NewTimer(t.timeout)
	defer wait.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-wait.C:
		}

		quiet := time.Since(time.Unix(0, t.last.Load()))
		if quiet < t.timeout {
			wait.Reset(t.timeout - quiet)
			continue
		}

		select {
		case t.notify <- struct{}{}:
		case <-t.stop:
		}
		return
	}
}

// Stop cancels the countdown. No notification is sent afterwards.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// ResetTimer records request activity and restarts the countdown.
func (t *Timer) ResetTimer() {
	t.last.Store(time.Now().UnixNano())
}
