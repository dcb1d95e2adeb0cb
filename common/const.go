package common

import "time"

// EventType identifies an outbound event broadcast to foreground clients.
type EventType string

const (
	EventAlarmTriggered    EventType = "alarm_triggered"
	EventAlarmDismissed    EventType = "alarm_dismissed"
	EventAlarmSnoozed      EventType = "alarm_snoozed"
	EventNetworkStatus     EventType = "network_status"
	EventSyncStart         EventType = "sync_start"
	EventSyncComplete      EventType = "sync_complete"
	EventSyncError         EventType = "sync_error"
	EventNotificationShow  EventType = "notification_show"
	EventNotificationClose EventType = "notification_close"
	EventFocusClient       EventType = "focus_client"
)

// Inbound control methods accepted by the message bus.
const (
	MethodReplaceSnapshot    = "alarm.replaceSnapshot"
	MethodManualTrigger      = "alarm.trigger"
	MethodNotificationAction = "notification.action"
	MethodProbe              = "system.probe"
	MethodCleanup            = "system.cleanup"
	MethodClearCaches        = "cache.clearAll"
	MethodRequestSync        = "sync.request"
	MethodOfflineStatus      = "network.status"
)

// Notification action identifiers.
const (
	ActionDismiss = "dismiss"
	ActionSnooze  = "snooze"
)

const (
	// DefEvalInterval is the period of the alarm evaluation loop. The host
	// may be suspended between ticks, so exact wall-clock scheduling is
	// unreliable; polling trades up-to-30s skew for resilience.
	DefEvalInterval = 30 * time.Second

	// DefSnoozeDelay is the fixed delay before a snoozed alarm re-triggers.
	DefSnoozeDelay = 5 * time.Minute

	// DedupeWindow is the minimum wall-clock distance between two firings of
	// the same alarm. 22h rather than 24h so a delayed tick from the previous
	// cycle never suppresses the legitimate next-day firing. Evaluated with
	// time.Since, so a DST back-shift errs toward suppression and a
	// forward-shift can fire early by the shift amount.
	DedupeWindow = 22 * time.Hour

	// DefSyncRetryDelay is how long a deferred sync waits before retrying
	// while the network is offline.
	DefSyncRetryDelay = 2 * time.Minute

	// MinCheckInterval is the floor applied to the periodic alarm-check
	// schedule regardless of the configured cron expression.
	MinCheckInterval = time.Minute
)

// Timer tags distinguishing what a fired scheduler event means.
const (
	TagSnooze        = "alarm-snooze"
	TagSync          = "alarm-sync"
	TagPeriodicCheck = "alarm-check"
)

// Cache generation names. Only these survive activation; every other
// generation found in the store is purged.
const (
	StaticCacheName  = "relife-static-v2"
	DynamicCacheName = "relife-dynamic-v2"
)

// CacheAllowList is the set of generations kept across an activation.
func CacheAllowList() []string {
	return []string{StaticCacheName, DynamicCacheName}
}
