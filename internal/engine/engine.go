// Package engine owns the alarm evaluation loop, the snooze timer registry,
// and the lifecycle state machine of the background process. It holds no
// durable state: the alarm snapshot is volatile and the foreground must
// resupply it after a restart.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/Coolhgg/alarmd/common"
	"github.com/Coolhgg/alarmd/internal/scheduler"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

// State is the engine lifecycle. Only Running permits new timers and
// notifications; the transition to Terminating is checked at the top of
// every scheduled callback.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned by Start when the engine left the
// Initializing state before.
var ErrAlreadyStarted = errors.New("engine: already started")

// Dispatcher renders and broadcasts an alarm trigger. Implemented by
// notify.Dispatcher; an interface here so the engine stays free of the
// notification package.
type Dispatcher interface {
	Trigger(alarm *common.Alarm, at time.Time)
}

// Params configures a new Engine. Zero fields take package defaults.
type Params struct {
	Log      logger.Logger
	Snapshot *Snapshot
	// Broadcast pushes an event to all connected clients. May be nil.
	Broadcast func(event common.EventType, payload any)
	// Online reports current network state for sync deferral. May be nil
	// (treated as online).
	Online func() bool

	EvalInterval   time.Duration
	SnoozeDelay    time.Duration
	SyncRetryDelay time.Duration
	// CheckCron schedules the recurring alarm-check evaluation; empty
	// disables it.
	CheckCron string
	// Now is the clock source, injectable for tests.
	Now func() time.Time

	// OpWait bounds how long Cleanup waits for in-flight tracked work.
	OpWait time.Duration
}

// Engine is the stateful core of the background process. A single mutex
// serializes evaluation ticks, timer fires, and registry mutation; async
// work spawned from a tick is tracked but never awaited by the tick itself.
type Engine struct {
	log       logger.Logger
	snap      *Snapshot
	broadcast func(event common.EventType, payload any)
	online    func() bool

	evalInterval time.Duration
	snoozeDelay  time.Duration
	syncRetry    time.Duration
	checkCron    string
	now          func() time.Time
	opWait       time.Duration

	state  atomic.Int32
	mu     sync.Mutex
	timers map[string]string // handle -> alarm id
	disp   Dispatcher
	sched  *scheduler.Scheduler
	cancel context.CancelFunc

	ops    sync.WaitGroup
	faults atomic.Int64
}

// New creates an Engine in the Initializing state.
func New(p Params) *Engine {
	if p.Log == nil {
		p.Log = logger.NewNopLogger()
	}
	if p.Snapshot == nil {
		p.Snapshot = NewSnapshot()
	}
	if p.EvalInterval <= 0 {
		p.EvalInterval = common.DefEvalInterval
	}
	if p.SnoozeDelay <= 0 {
		p.SnoozeDelay = common.DefSnoozeDelay
	}
	if p.SyncRetryDelay <= 0 {
		p.SyncRetryDelay = common.DefSyncRetryDelay
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.OpWait <= 0 {
		p.OpWait = 5 * time.Second
	}
	return &Engine{
		log:          p.Log,
		snap:         p.Snapshot,
		broadcast:    p.Broadcast,
		online:       p.Online,
		evalInterval: p.EvalInterval,
		snoozeDelay:  p.SnoozeDelay,
		syncRetry:    p.SyncRetryDelay,
		checkCron:    p.CheckCron,
		now:          p.Now,
		opWait:       p.OpWait,
		timers:       make(map[string]string),
	}
}

// Bind attaches the dispatcher. Must be called before Start; split from New
// because the dispatcher needs the engine as its snooze target.
func (e *Engine) Bind(d Dispatcher) {
	e.disp = d
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Running reports whether new timers and notifications may be created.
func (e *Engine) Running() bool {
	return e.State() == StateRunning
}

// Faults returns the number of recovered panics in tracked work. The
// captured-rejection diagnostic: nonzero means something crashed and was
// contained.
func (e *Engine) Faults() int64 {
	return e.faults.Load()
}

// Snapshot returns the alarm snapshot store.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap
}

// Start moves the engine to Running: it launches the timer service and the
// evaluation loop, arms the periodic alarm-check, and runs one immediate
// evaluation.
func (e *Engine) Start(ctx context.Context) error {
	if e.disp == nil {
		return errors.New("engine: no dispatcher bound")
	}
	if !e.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.sched = scheduler.New(ctx, e.onTimer)

	if e.checkCron != "" {
		if next, err := gronx.NextTickAfter(e.checkCron, e.now(), false); err == nil {
			e.sched.Add(scheduler.Event{
				Handle:      common.TagPeriodicCheck,
				Tag:         common.TagPeriodicCheck,
				TriggerAt:   next,
				CronExpr:    e.checkCron,
				MinInterval: common.MinCheckInterval,
			})
		} else {
			e.log.Warning("periodic check disabled, bad cron %q: %v", e.checkCron, err)
		}
	}

	e.log.Info("engine started, evaluating every %s", e.evalInterval)
	e.Evaluate(e.now())

	go func() {
		t := time.NewTicker(e.evalInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				e.Evaluate(e.now())
			}
		}
	}()
	return nil
}

// Evaluate runs one evaluation tick against the snapshot at the given clock
// reading and returns how many alarms were triggered. Ticks run their
// synchronous part to completion under the engine mutex; work the dispatcher
// spawns is tracked, not awaited.
func (e *Engine) Evaluate(now time.Time) int {
	if !e.Running() {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for _, a := range e.snap.All() {
		if !e.matches(a, now) {
			continue
		}
		e.log.Info("alarm %s matched at %s", a.ID, now.Format("15:04"))
		e.disp.Trigger(a, now)
		n++
	}
	return n
}

// matches applies the trigger condition: enabled, weekday in the day set,
// exact HH:MM equality, and the dedupe guard.
func (e *Engine) matches(a *common.Alarm, now time.Time) bool {
	if !a.Enabled {
		return false
	}
	weekday := int(now.Weekday())
	var today bool
	for _, d := range a.Days {
		if d == weekday {
			today = true
			break
		}
	}
	if !today {
		return false
	}
	if a.Time != now.Format("15:04") {
		return false
	}
	// Dedupe guard: fire at most once per rolling window.
	if a.LastTriggered != nil && now.Sub(*a.LastTriggered) <= common.DedupeWindow {
		return false
	}
	return true
}

// ReplaceSnapshot swaps in the alarm list pushed by a foreground client.
func (e *Engine) ReplaceSnapshot(alarms []*common.Alarm) {
	e.snap.Replace(alarms)
	e.log.Info("snapshot replaced, %d alarms", e.snap.Len())
}

// Snooze arms a re-trigger for the alarm after the snooze delay and
// registers its handle in the cancellation registry. Returns false when the
// engine is not Running.
func (e *Engine) Snooze(alarmID string) (string, bool) {
	if !e.Running() {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	handle := uuid.NewString()
	e.timers[handle] = alarmID
	e.sched.Add(scheduler.Event{
		Handle:    handle,
		AlarmID:   alarmID,
		Tag:       common.TagSnooze,
		TriggerAt: e.now().Add(e.snoozeDelay),
	})
	e.log.Info("alarm %s snoozed for %s (handle %s)", alarmID, e.snoozeDelay, handle)
	return handle, true
}

// PendingTimers returns the number of registered timer handles.
func (e *Engine) PendingTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// onTimer handles a fired scheduler event. Runs on the scheduler goroutine.
func (e *Engine) onTimer(ev scheduler.Event) {
	switch ev.Tag {
	case common.TagSnooze:
		e.mu.Lock()
		delete(e.timers, ev.Handle)
		e.mu.Unlock()
		if !e.Running() {
			return
		}
		a := e.snap.Get(ev.AlarmID)
		if a == nil {
			// Alarm deleted or snapshot replaced since the snooze: no-op.
			return
		}
		e.disp.Trigger(a, e.now())

	case common.TagPeriodicCheck:
		e.Evaluate(e.now())

	case common.TagSync:
		e.mu.Lock()
		delete(e.timers, ev.Handle)
		e.mu.Unlock()
		e.RequestSync()
	}
}

// RequestSync runs the alarm re-sync flow: broadcast sync_start (the cue for
// clients to resupply the snapshot), then sync_complete. While the network
// is offline a one-shot retry is armed instead.
func (e *Engine) RequestSync() {
	if !e.Running() {
		e.emit(common.EventSyncError, common.SyncEvent{Tag: common.TagSync, Error: "engine " + e.State().String()})
		return
	}
	e.emit(common.EventSyncStart, common.SyncEvent{Tag: common.TagSync})

	if e.online != nil && !e.online() {
		e.mu.Lock()
		handle := uuid.NewString()
		e.timers[handle] = ""
		e.sched.Add(scheduler.Event{
			Handle:    handle,
			Tag:       common.TagSync,
			TriggerAt: e.now().Add(e.syncRetry),
		})
		e.mu.Unlock()
		e.log.Info("sync deferred while offline, retry in %s", e.syncRetry)
		return
	}

	e.Track("sync-complete", func() {
		e.emit(common.EventSyncComplete, common.SyncEvent{Tag: common.TagSync})
	})
}

func (e *Engine) emit(event common.EventType, payload any) {
	if e.broadcast != nil {
		e.broadcast(event, payload)
	}
}

// Track runs fn on a tracked goroutine: the pending-operation token that
// keeps Cleanup from declaring the engine stopped while spawned async work
// is still in flight. Panics are recovered, logged, and counted instead of
// crashing the process.
func (e *Engine) Track(name string, fn func()) {
	e.ops.Add(1)
	go func() {
		defer e.ops.Done()
		defer func() {
			if r := recover(); r != nil {
				e.faults.Add(1)
				e.log.Error("PANIC [%s]: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// Cleanup terminates the engine: no new timers or notifications after it
// begins, every registered timer is cancelled, the snapshot is discarded,
// and in-flight tracked work is awaited (bounded). Idempotent.
func (e *Engine) Cleanup() {
	for {
		s := e.State()
		if s == StateTerminating || s == StateStopped {
			return
		}
		if e.state.CompareAndSwap(int32(s), int32(StateTerminating)) {
			break
		}
	}
	e.log.Info("engine terminating")

	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	e.timers = make(map[string]string)
	e.mu.Unlock()
	e.snap.Clear()

	done := make(chan struct{})
	go func() {
		e.ops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.opWait):
		e.log.Warning("cleanup: tracked operations still in flight after %s", e.opWait)
	}

	e.state.Store(int32(StateStopped))
	e.log.Info("engine stopped")
}
