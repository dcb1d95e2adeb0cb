package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Coolhgg/alarmd/common"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

// fakeDispatcher records triggers and stamps lastTriggered the way the real
// dispatcher does.
type fakeDispatcher struct {
	mu        sync.Mutex
	snap      *Snapshot
	triggered []string
}

func (d *fakeDispatcher) Trigger(a *common.Alarm, at time.Time) {
	d.mu.Lock()
	d.triggered = append(d.triggered, a.ID)
	d.mu.Unlock()
	d.snap.StampTriggered(a.ID, at)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.triggered)
}

// monday0700 is a Monday at 07:00 local time.
var monday0700 = time.Date(2026, 8, 24, 7, 0, 0, 0, time.Local)

// dormantAlarm never matches a tick (empty day set) but sits in the snapshot
// for snooze lookups.
func dormantAlarm(id string) *common.Alarm {
	return &common.Alarm{ID: id, Time: "07:00", Label: "Wake up", Enabled: true}
}

func weekdayAlarm(id string) *common.Alarm {
	return &common.Alarm{
		ID:      id,
		Time:    "07:00",
		Label:   "Wake up",
		Enabled: true,
		Days:    []int{1, 2, 3, 4, 5},
	}
}

// startEngine builds and starts an engine with a fixed clock and a long tick
// interval so only explicit Evaluate calls run.
func startEngine(t *testing.T, now func() time.Time, alarms ...*common.Alarm) (*Engine, *fakeDispatcher) {
	t.Helper()
	snap := NewSnapshot()
	snap.Replace(alarms)
	e := New(Params{
		Log:          logger.NewNopLogger(),
		Snapshot:     snap,
		EvalInterval: time.Hour,
		Now:          now,
		OpWait:       time.Second,
	})
	d := &fakeDispatcher{snap: snap}
	e.Bind(d)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Cleanup)
	return e, d
}

func TestEvaluate_MondayMorningScenario(t *testing.T) {
	// Start runs one immediate evaluation: exactly one trigger for a1.
	e, d := startEngine(t, func() time.Time { return monday0700 }, weekdayAlarm("a1"))
	if d.count() != 1 {
		t.Fatalf("triggered %d times on start, want 1", d.count())
	}

	// Re-evaluating with the clock unchanged must not fire again.
	if n := e.Evaluate(monday0700); n != 0 {
		t.Errorf("second evaluation triggered %d alarms, want 0", n)
	}
	if d.count() != 1 {
		t.Errorf("total triggers = %d, want 1", d.count())
	}
}

func TestEvaluate_SkipsNonMatching(t *testing.T) {
	disabled := weekdayAlarm("off")
	disabled.Enabled = false

	weekendOnly := weekdayAlarm("weekend")
	weekendOnly.Days = []int{0, 6}

	laterTime := weekdayAlarm("later")
	laterTime.Time = "07:01"

	_, d := startEngine(t, func() time.Time { return monday0700 }, disabled, weekendOnly, laterTime)
	if d.count() != 0 {
		t.Errorf("triggered %d alarms, want 0 (none match)", d.count())
	}
}

func TestEvaluate_DedupeWindow(t *testing.T) {
	recent := weekdayAlarm("recent")
	ts := monday0700.Add(-21 * time.Hour)
	recent.LastTriggered = &ts

	stale := weekdayAlarm("stale")
	ts2 := monday0700.Add(-23 * time.Hour)
	stale.LastTriggered = &ts2

	_, d := startEngine(t, func() time.Time { return monday0700 }, recent, stale)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.triggered) != 1 || d.triggered[0] != "stale" {
		t.Errorf("triggered = %v, want only the >22h-old alarm", d.triggered)
	}
}

func TestEvaluate_NotRunning(t *testing.T) {
	snap := NewSnapshot()
	snap.Replace([]*common.Alarm{weekdayAlarm("a1")})
	e := New(Params{Snapshot: snap})
	e.Bind(&fakeDispatcher{snap: snap})

	if n := e.Evaluate(monday0700); n != 0 {
		t.Errorf("evaluation before Start triggered %d alarms", n)
	}
}

func TestSnooze_ReTriggers(t *testing.T) {
	e, d := startEngine(t, time.Now, dormantAlarm("a1"))
	e.snoozeDelay = 100 * time.Millisecond

	handle, ok := e.Snooze("a1")
	if !ok || handle == "" {
		t.Fatalf("Snooze = (%q, %v)", handle, ok)
	}
	if e.PendingTimers() != 1 {
		t.Fatalf("pending timers = %d, want 1", e.PendingTimers())
	}

	time.Sleep(300 * time.Millisecond)

	if d.count() != 1 {
		t.Errorf("re-triggers = %d, want exactly 1", d.count())
	}
	if e.PendingTimers() != 0 {
		t.Errorf("handle not deregistered after firing, %d pending", e.PendingTimers())
	}
}

func TestSnooze_CleanupPreventsReTrigger(t *testing.T) {
	e, d := startEngine(t, time.Now, dormantAlarm("a1"))
	e.snoozeDelay = 200 * time.Millisecond

	if _, ok := e.Snooze("a1"); !ok {
		t.Fatal("Snooze refused while running")
	}
	e.Cleanup()
	time.Sleep(400 * time.Millisecond)

	if d.count() != 0 {
		t.Errorf("re-trigger fired after cleanup, count = %d", d.count())
	}
	if e.PendingTimers() != 0 {
		t.Errorf("timers left registered after cleanup: %d", e.PendingTimers())
	}
}

func TestSnooze_MissingAlarmIsSilentNoOp(t *testing.T) {
	e, d := startEngine(t, time.Now, dormantAlarm("a1"))
	e.snoozeDelay = 100 * time.Millisecond

	if _, ok := e.Snooze("a1"); !ok {
		t.Fatal("Snooze refused while running")
	}
	// The alarm disappears before the snooze elapses.
	e.ReplaceSnapshot(nil)
	time.Sleep(300 * time.Millisecond)

	if d.count() != 0 {
		t.Errorf("snooze fired for an alarm no longer in the snapshot")
	}
}

func TestCleanup_IdempotentAndStops(t *testing.T) {
	e, _ := startEngine(t, time.Now)
	if e.State() != StateRunning {
		t.Fatalf("state after start = %v", e.State())
	}

	e.Cleanup()
	if e.State() != StateStopped {
		t.Fatalf("state after cleanup = %v", e.State())
	}
	e.Cleanup() // second call must be a no-op
	if e.State() != StateStopped {
		t.Errorf("state after repeated cleanup = %v", e.State())
	}

	if _, ok := e.Snooze("a1"); ok {
		t.Error("Snooze permitted after cleanup")
	}
	if e.Snapshot().Len() != 0 {
		t.Error("snapshot survived cleanup")
	}
}

func TestStart_Twice(t *testing.T) {
	e, _ := startEngine(t, time.Now)
	if err := e.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestRequestSync_OnlineFlow(t *testing.T) {
	var mu sync.Mutex
	var events []common.EventType
	snap := NewSnapshot()
	e := New(Params{
		Snapshot: snap,
		Broadcast: func(ev common.EventType, _ any) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		Online:       func() bool { return true },
		EvalInterval: time.Hour,
		OpWait:       time.Second,
	})
	e.Bind(&fakeDispatcher{snap: snap})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Cleanup()

	e.RequestSync()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != common.EventSyncStart || events[1] != common.EventSyncComplete {
		t.Errorf("events = %v, want [sync_start sync_complete]", events)
	}
}

func TestRequestSync_DeferredWhileOffline(t *testing.T) {
	var mu sync.Mutex
	var events []common.EventType
	snap := NewSnapshot()
	e := New(Params{
		Snapshot: snap,
		Broadcast: func(ev common.EventType, _ any) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		Online:         func() bool { return false },
		EvalInterval:   time.Hour,
		SyncRetryDelay: time.Hour,
		OpWait:         time.Second,
	})
	e.Bind(&fakeDispatcher{snap: snap})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Cleanup()

	e.RequestSync()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := append([]common.EventType(nil), events...)
	mu.Unlock()
	if len(got) != 1 || got[0] != common.EventSyncStart {
		t.Errorf("events = %v, want only sync_start while offline", got)
	}
	if e.PendingTimers() != 1 {
		t.Errorf("pending timers = %d, want 1 deferred sync retry", e.PendingTimers())
	}
}

func TestRequestSync_NotRunning(t *testing.T) {
	var mu sync.Mutex
	var events []common.EventType
	e := New(Params{
		Broadcast: func(ev common.EventType, _ any) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})

	e.RequestSync()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != common.EventSyncError {
		t.Errorf("events = %v, want [sync_error]", events)
	}
}

func TestTrack_RecoversPanics(t *testing.T) {
	log := logger.NewMockLogger()
	e := New(Params{Log: log, OpWait: time.Second})

	e.Track("explode", func() { panic("boom") })
	time.Sleep(100 * time.Millisecond)

	if e.Faults() != 1 {
		t.Errorf("Faults = %d, want 1", e.Faults())
	}
	if len(log.ErrorCalls) == 0 {
		t.Error("panic was not logged")
	}
}
