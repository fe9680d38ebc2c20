package p2p

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type TimerID = uuid.UUID

// Timers schedules repeating callbacks. A callback may cancel its own timer.
type Timers interface {
	AddTimer(interval time.Duration, fn func()) TimerID
	CancelTimer(id TimerID)
}

type tickerTimer struct {
	stop      chan struct{}
	stopOnce  sync.Once
	flush     chan struct{}
	flushOnce sync.Once
}

func (t *tickerTimer) cancel() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// finish asks the timer goroutine to fire one last time and exit.
func (t *tickerTimer) finish() {
	t.flushOnce.Do(func() { close(t.flush) })
}

// tickerTimers runs every timer in a goroutine tracked by the pending arena.
type tickerTimers struct {
	timers  *MutexMap[TimerID, *tickerTimer]
	pending *pendingRequests
}

func newTickerTimers(pending *pendingRequests) *tickerTimers {
	return &tickerTimers{
		timers:  NewMutexMap[TimerID, *tickerTimer](),
		pending: pending,
	}
}

func (tt *tickerTimers) AddTimer(interval time.Duration, fn func()) TimerID {
	id := uuid.New()
	t := &tickerTimer{stop: make(chan struct{}), flush: make(chan struct{})}
	tt.timers.setValue(id, t)
	tt.pending.track("timer", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-t.flush:
				select {
				case <-t.stop:
				default:
					fn()
				}
				return
			case <-ticker.C:
				// a cancel may race with the tick
				select {
				case <-t.stop:
					return
				default:
				}
				fn()
			}
		}
	})
	return id
}

func (tt *tickerTimers) CancelTimer(id TimerID) {
	if t, found := tt.timers.getValue(id); found {
		t.cancel()
		tt.timers.deleteValue(id)
	}
}

// finishAll fires every live timer one final time and stops it. Callbacks that watch the shutdown
// flag get to answer instead of being dropped.
func (tt *tickerTimers) finishAll() {
	tt.timers.deleteIf(func(_ TimerID, t *tickerTimer) bool {
		t.finish()
		return true
	})
}
