// Package scheduler provides the timer service behind snooze re-triggers,
// deferred sync retries, and the periodic alarm-check. It runs a single
// goroutine over a min-heap of events sorted by trigger time, sleeping with a
// 60-second max-sleep-cap to handle NTP steps, DST transitions, and host
// suspension (monotonic clock pause on some platforms).
//
// Events are in-memory only; every handle created is removed either by
// firing or by cancellation, and cancelling the context drops the whole
// registry. Recurring events carry a cron expression and are re-armed after
// firing, with occurrences clamped to a minimum interval floor.
package scheduler
