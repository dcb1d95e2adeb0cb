package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleepCap = 60 * time.Second

// Scheduler manages pending timer events using a min-heap. It runs a single
// background goroutine that sleeps until the next event's trigger time, then
// invokes the onTrigger callback. All mutation of the heap happens on that
// goroutine, so no locking is needed.
type Scheduler struct {
	addChan    chan Event
	removeChan chan string
	clearChan  chan struct{}
	ctx        context.Context
}

// New creates and starts a Scheduler. onTrigger is invoked on the scheduler
// goroutine when an event fires. The goroutine exits when ctx is cancelled,
// discarding every pending event.
func New(ctx context.Context, onTrigger func(Event)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan Event, 64),
		removeChan: make(chan string, 64),
		clearChan:  make(chan struct{}, 1),
		ctx:        ctx,
	}
	go s.run(onTrigger)
	return s
}

// Add enqueues a new event.
func (s *Scheduler) Add(event Event) {
	select {
	case s.addChan <- event:
	case <-s.ctx.Done():
	}
}

// Remove cancels a pending event by handle. Unknown handles are a no-op.
func (s *Scheduler) Remove(handle string) {
	select {
	case s.removeChan <- handle:
	case <-s.ctx.Done():
	}
}

// CancelAll drops every pending event without firing it.
func (s *Scheduler) CancelAll() {
	select {
	case s.clearChan <- struct{}{}:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) run(onTrigger func(Event)) {
	h := &eventHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			// No events, block indefinitely on channels.
			return nil
		}
		next := (*h)[0].TriggerAt
		dur := time.Until(next)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-s.addChan:
			heapPush(h, event)
			timerCh = resetTimer()

		case handle := <-s.removeChan:
			heapRemoveByHandle(h, handle)
			timerCh = resetTimer()

		case <-s.clearChan:
			*h = (*h)[:0]
			timerCh = resetTimer()

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				event := heapPop(h)
				onTrigger(event)
				if event.CronExpr != "" {
					next, err := nextOccurrence(event.CronExpr, time.Now(), event.MinInterval)
					if err == nil {
						event.TriggerAt = next
						heapPush(h, event)
					}
				}
			}
			timerCh = resetTimer()
		}
	}
}

// nextOccurrence returns the next cron occurrence strictly after start,
// pushed out to start+floor if it would come sooner. This is the
// minimum-interval floor applied to periodic checks.
func nextOccurrence(expr string, start time.Time, floor time.Duration) (time.Time, error) {
	next, err := gronx.NextTickAfter(expr, start, false)
	if err != nil {
		return time.Time{}, err
	}
	if floor > 0 {
		if min := start.Add(floor); next.Before(min) {
			next = min
		}
	}
	return next, nil
}
