package common

import "time"

// Alarm is the engine's transient, trigger-authoritative copy of one user
// alarm. The durable source of truth lives in the foreground app; the
// snapshot held here is replaced wholesale on every alarm.replaceSnapshot
// and is lost on daemon restart.
type Alarm struct {
	ID      string `json:"id"`
	Time    string `json:"time"` // "HH:MM", 24-hour
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
	// Days holds weekday ordinals with Sunday=0, matching both time.Weekday
	// and the foreground's Date.getDay().
	Days          []int      `json:"days"`
	VoiceMood     string     `json:"voiceMood,omitempty"`
	LastTriggered *time.Time `json:"lastTriggered,omitempty"`
}

// SnapshotParams is the input for alarm.replaceSnapshot.
type SnapshotParams struct {
	Alarms []*Alarm `json:"alarms"`
}

// TriggerParams is the input for alarm.trigger.
type TriggerParams struct {
	Alarm *Alarm `json:"alarm"`
}

// ActionParams is the input for notification.action.
type ActionParams struct {
	AlarmID string `json:"alarmId"`
	Action  string `json:"action,omitempty"`
}

// CacheStats summarizes the cache generation store for probe replies.
type CacheStats struct {
	Static  int `json:"static"`
	Dynamic int `json:"dynamic"`
	// PrecacheFailures counts shell assets that could not be populated at
	// install time. Startup still succeeds; this is the observable signal
	// that the shell cache is incomplete.
	PrecacheFailures int `json:"precacheFailures"`
}

// ProbeResult is the directed reply to system.probe.
type ProbeResult struct {
	Pong      bool       `json:"pong"`
	Timestamp time.Time  `json:"timestamp"`
	Online    bool       `json:"online"`
	Caches    CacheStats `json:"caches"`
}

// OfflineStatusResult is the directed reply to network.status.
type OfflineStatusResult struct {
	Online bool       `json:"online"`
	Caches CacheStats `json:"caches"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}

// TriggeredEvent is the payload of alarm_triggered.
type TriggeredEvent struct {
	Alarm     *Alarm    `json:"alarm"`
	Timestamp time.Time `json:"timestamp"`
}

// DismissedEvent is the payload of alarm_dismissed.
type DismissedEvent struct {
	AlarmID string `json:"alarmId"`
	Method  string `json:"method"`
}

// SnoozedEvent is the payload of alarm_snoozed.
type SnoozedEvent struct {
	AlarmID string `json:"alarmId"`
	Minutes int    `json:"minutes"`
}

// NetworkStatusEvent is the payload of network_status.
type NetworkStatusEvent struct {
	Online bool `json:"isOnline"`
}

// SyncEvent is the payload of sync_start, sync_complete and sync_error.
type SyncEvent struct {
	Tag   string `json:"tag"`
	Error string `json:"error,omitempty"`
}

// NotificationData rides inside a notification and is forwarded back with
// focus_client so the foreground can route the user to the firing alarm.
type NotificationData struct {
	AlarmID   string    `json:"alarmId"`
	VoiceMood string    `json:"voiceMood,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationAction is one button on a rendered notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification describes one visible notification. Tag carries the alarm id:
// the platform replaces a visible notification sharing the tag instead of
// stacking a second one.
type Notification struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon,omitempty"`
	Badge              string               `json:"badge,omitempty"`
	Tag                string               `json:"tag"`
	Actions            []NotificationAction `json:"actions"`
	RequireInteraction bool                 `json:"requireInteraction"`
	Vibrate            []int                `json:"vibrate,omitempty"`
	Data               NotificationData     `json:"data"`
}

// CloseEvent is the payload of notification_close.
type CloseEvent struct {
	Tag string `json:"tag"`
}

// FocusEvent is the payload of focus_client: a request that the foreground
// focus an existing window or open a new one, carrying the trigger payload.
type FocusEvent struct {
	Data NotificationData `json:"data"`
}
