package scheduler

import "time"

// Event is one pending timer in the scheduler heap.
type Event struct {
	// Handle uniquely identifies the event for cancellation.
	Handle string
	// AlarmID is the alarm this event concerns, empty for non-alarm events.
	AlarmID string
	// Tag says what firing means (snooze re-trigger, sync retry, periodic
	// check). The engine branches on it in the trigger callback.
	Tag string
	// TriggerAt is the wall-clock time the event fires.
	TriggerAt time.Time
	// CronExpr, when non-empty, makes the event recurring: after firing, the
	// next occurrence is computed and the event re-armed.
	CronExpr string
	// MinInterval floors the spacing of recurring occurrences. Zero means no
	// floor.
	MinInterval time.Duration
}
