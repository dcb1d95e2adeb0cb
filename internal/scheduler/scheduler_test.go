package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	fired []Event
}

func (r *recorder) onTrigger(e Event) {
	r.mu.Lock()
	r.fired = append(r.fired, e)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func TestScheduler_AddAndFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(ctx, rec.onTrigger)

	s.Add(Event{
		Handle:    "h1",
		AlarmID:   "a1",
		Tag:       "alarm-snooze",
		TriggerAt: time.Now().Add(100 * time.Millisecond),
	})

	time.Sleep(300 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fired) != 1 {
		t.Fatalf("fired %d events, want 1", len(rec.fired))
	}
	if rec.fired[0].AlarmID != "a1" || rec.fired[0].Tag != "alarm-snooze" {
		t.Errorf("fired event = %+v", rec.fired[0])
	}
}

func TestScheduler_RemoveBeforeFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(ctx, rec.onTrigger)

	s.Add(Event{Handle: "h2", TriggerAt: time.Now().Add(2 * time.Second)})
	time.Sleep(100 * time.Millisecond)
	s.Remove("h2")
	time.Sleep(200 * time.Millisecond)

	if rec.count() != 0 {
		t.Fatal("removed event still fired")
	}
}

func TestScheduler_CancelAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(ctx, rec.onTrigger)

	s.Add(Event{Handle: "h3", TriggerAt: time.Now().Add(150 * time.Millisecond)})
	s.Add(Event{Handle: "h4", TriggerAt: time.Now().Add(150 * time.Millisecond)})
	time.Sleep(50 * time.Millisecond)
	s.CancelAll()
	time.Sleep(300 * time.Millisecond)

	if rec.count() != 0 {
		t.Fatalf("fired %d events after CancelAll", rec.count())
	}
}

func TestScheduler_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	s := New(ctx, rec.onTrigger)
	s.Add(Event{Handle: "h5", TriggerAt: time.Now().Add(150 * time.Millisecond)})
	cancel()
	time.Sleep(300 * time.Millisecond)

	if rec.count() != 0 {
		t.Fatal("event fired after context cancellation")
	}
	// Add after cancel must not block.
	done := make(chan struct{})
	go func() {
		s.Add(Event{Handle: "h6", TriggerAt: time.Now()})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Add blocked after context cancellation")
	}
}

func TestNextOccurrence_Floor(t *testing.T) {
	start := time.Date(2026, 8, 24, 7, 0, 30, 0, time.UTC)

	// Every-minute cron would fire 30s out; a 5m floor pushes it to start+5m.
	next, err := nextOccurrence("* * * * *", start, 5*time.Minute)
	if err != nil {
		t.Fatalf("nextOccurrence: %v", err)
	}
	if want := start.Add(5 * time.Minute); !next.Equal(want) {
		t.Errorf("floored next = %v, want %v", next, want)
	}

	// Without a floor, the cron result stands.
	next, err = nextOccurrence("* * * * *", start, 0)
	if err != nil {
		t.Fatalf("nextOccurrence: %v", err)
	}
	if !next.After(start) || next.Sub(start) > time.Minute {
		t.Errorf("unfloored next = %v, want within a minute after %v", next, start)
	}

	if _, err := nextOccurrence("bogus", start, 0); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
