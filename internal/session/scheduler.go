package session

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Handle cancels a scheduled task. Stop is safe to call more than once.
type Handle interface {
	Stop()
}

// Scheduler runs a task repeatedly.
type Scheduler interface {
	// Every runs task once per interval until the returned handle is stopped.
	Every(interval time.Duration, task func()) Handle
}

// TickerScheduler runs tasks on a time.Ticker. Firings of one task never
// overlap: a tick that arrives while the task is still running is dropped.
type TickerScheduler struct{}

// NewTickerScheduler creates a TickerScheduler.
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

func (TickerScheduler) Every(interval time.Duration, task func()) Handle {
	h := &tickerHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer close(h.done)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				select {
				case <-h.stop:
					return
				default:
				}
				task()
			}
		}
	}()
	return h
}

type tickerHandle struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Stop prevents future firings. A firing already in progress completes.
func (h *tickerHandle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// Done is closed once the scheduling goroutine has exited.
func (h *tickerHandle) Done() <-chan struct{} {
	return h.done
}
