package typing

import (
	"sync"
	"time"

	"github.com/cory-johannsen/barlink/internal/chat/room"
)

// Scheduler runs a function once after a delay and reports the current time.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) room.Timer
	Now() time.Time
}

// WallClock is the Scheduler backed by the runtime timer.
type WallClock struct{}

// AfterFunc schedules fn on its own goroutine after d.
func (WallClock) AfterFunc(d time.Duration, fn func()) room.Timer {
	return newExpiryTimer(d, fn)
}

// Now returns the wall-clock time.
func (WallClock) Now() time.Time { return time.Now() }

// expiryTimer fires a callback after a duration unless stopped.
// It is safe for concurrent use.
type expiryTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fired   bool
}

// newExpiryTimer creates and starts a timer that calls onFire after d.
//
// Precondition: d > 0; onFire must not be nil.
// Postcondition: onFire will be called once unless Stop is called first.
func newExpiryTimer(d time.Duration, onFire func()) *expiryTimer {
	et := &expiryTimer{}
	et.mu.Lock()
	defer et.mu.Unlock()
	et.timer = time.AfterFunc(d, func() {
		et.mu.Lock()
		if et.stopped {
			et.mu.Unlock()
			return
		}
		et.fired = true
		et.mu.Unlock()
		onFire()
	})
	return et
}

// Stop prevents the callback from firing. Safe to call multiple times.
//
// Postcondition: Returns true if the callback had neither fired nor been stopped.
func (et *expiryTimer) Stop() bool {
	et.mu.Lock()
	defer et.mu.Unlock()
	if et.stopped || et.fired {
		return false
	}
	et.stopped = true
	et.timer.Stop()
	return true
}
