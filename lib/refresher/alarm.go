package refresher

import (
	"context"
	"time"
)

type Event interface {
	Timestamp() time.Time
}

type event struct{ timestamp time.Time }

func (e event) Timestamp() time.Time { return e.timestamp }

type refreshWakeupEvent struct {
	event
}

type alarmClock struct {
	cancel      func()
	wakeupTimer *time.Ticker
	C           chan Event
}

func NewAlarmClock(wakeupInterval time.Duration) *alarmClock {
	return &alarmClock{
		wakeupTimer: time.NewTicker(wakeupInterval),
		C:           make(chan Event),
	}
}

func (a *alarmClock) Start(ctx context.Context) <-chan Event {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// The producer owns the channel: it closes C on exit, so Stop never
	// races a pending send with the close.
	go func() {
		defer close(a.C)

		// One immediate wakeup at startup, then the ticker cadence.
		if !a.send(ctx, refreshWakeupEvent{event{time.Now()}}) {
			return
		}

		for {
			select {
			case t := <-a.wakeupTimer.C:
				if !a.send(ctx, refreshWakeupEvent{event{t}}) {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return a.C
}

// send delivers evt unless shutdown wins first.
func (a *alarmClock) send(ctx context.Context, evt Event) bool {
	select {
	case a.C <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *alarmClock) Stop() {
	a.cancel()
	a.wakeupTimer.Stop()
}
