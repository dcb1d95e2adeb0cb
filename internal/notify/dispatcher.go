// Package notify renders alarm notifications, enforces tag-based replace
// (one visible notification per alarm id), and routes user actions coming
// back through the message bus.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/Coolhgg/alarmd/common"
	"github.com/Coolhgg/alarmd/internal/engine"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

// Broadcaster pushes an event to every connected foreground client.
type Broadcaster interface {
	Broadcast(event common.EventType, payload any)
}

// Sink is the platform notification surface. The default implementation
// forwards render/close requests to foreground clients, which own the OS
// notification API.
type Sink interface {
	Show(n common.Notification) error
	Close(tag string)
}

// Snoozer is the engine-side contract the dispatcher needs: arming snooze
// timers and the Running gate.
type Snoozer interface {
	Snooze(alarmID string) (string, bool)
	Running() bool
}

// Tracker runs fn asynchronously under the engine's pending-operation
// accounting. A nil Tracker runs fn inline (used in tests).
type Tracker func(name string, fn func())

// Params configures a Dispatcher.
type Params struct {
	Log           logger.Logger
	Sink          Sink
	Bus           Broadcaster
	Snapshot      *engine.Snapshot
	Engine        Snoozer
	Track         Tracker
	SnoozeMinutes int
	Now           func() time.Time
}

// Dispatcher owns the notification lifecycle for triggered alarms.
type Dispatcher struct {
	log           logger.Logger
	sink          Sink
	bus           Broadcaster
	snap          *engine.Snapshot
	eng           Snoozer
	track         Tracker
	snoozeMinutes int
	now           func() time.Time

	mu      sync.Mutex
	visible map[string]common.Notification // tag (= alarm id) -> notification
}

// New creates a Dispatcher.
func New(p Params) *Dispatcher {
	if p.Log == nil {
		p.Log = logger.NewNopLogger()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.SnoozeMinutes <= 0 {
		p.SnoozeMinutes = int(common.DefSnoozeDelay / time.Minute)
	}
	if p.Track == nil {
		p.Track = func(_ string, fn func()) { fn() }
	}
	return &Dispatcher{
		log:           p.Log,
		sink:          p.Sink,
		bus:           p.Bus,
		snap:          p.Snapshot,
		eng:           p.Engine,
		track:         p.Track,
		snoozeMinutes: p.SnoozeMinutes,
		now:           p.Now,
		visible:       make(map[string]common.Notification),
	}
}

// render builds the notification for an alarm trigger.
func render(a *common.Alarm, at time.Time) common.Notification {
	title := a.Label
	if title == "" {
		title = "Alarm"
	}
	return common.Notification{
		Title: title,
		Body:  fmt.Sprintf("It's %s, time to wake up!", a.Time),
		Icon:  "/icons/icon-192.png",
		Badge: "/icons/badge-72.png",
		Tag:   a.ID,
		Actions: []common.NotificationAction{
			{Action: common.ActionDismiss, Title: "Dismiss"},
			{Action: common.ActionSnooze, Title: "Snooze"},
		},
		RequireInteraction: true,
		Vibrate:            []int{200, 100, 200, 100, 200},
		Data: common.NotificationData{
			AlarmID:   a.ID,
			VoiceMood: a.VoiceMood,
			Timestamp: at,
		},
	}
}

// Trigger shows the alarm's notification (replacing any visible one sharing
// the tag), broadcasts alarm_triggered, and stamps lastTriggered on the
// snapshot entry. The show and broadcast run as tracked async work so slow
// I/O never delays the evaluation tick; the stamp is synchronous so the
// dedupe guard sees it immediately. No-op unless the engine is Running.
func (d *Dispatcher) Trigger(a *common.Alarm, at time.Time) {
	if !d.eng.Running() {
		return
	}
	n := render(a, at)

	d.mu.Lock()
	d.visible[n.Tag] = n
	d.mu.Unlock()

	d.track("trigger-"+a.ID, func() {
		if err := d.sink.Show(n); err != nil {
			d.log.Warning("notification show failed for %s: %v", a.ID, err)
		}
		d.bus.Broadcast(common.EventAlarmTriggered, common.TriggeredEvent{Alarm: a, Timestamp: at})
	})

	d.snap.StampTriggered(a.ID, at)
}

// HandleAction routes a user's notification action. Everything here is
// best-effort: an unknown alarm or zero connected clients is not an error.
func (d *Dispatcher) HandleAction(alarmID, action string) {
	switch action {
	case common.ActionDismiss:
		if d.snap.Get(alarmID) == nil {
			// Stale action for an alarm no longer in the snapshot.
			return
		}
		d.closeVisible(alarmID)
		d.track("dismiss-"+alarmID, func() {
			d.sink.Close(alarmID)
			d.bus.Broadcast(common.EventAlarmDismissed, common.DismissedEvent{
				AlarmID: alarmID,
				Method:  "notification",
			})
		})

	case common.ActionSnooze:
		if _, ok := d.eng.Snooze(alarmID); !ok {
			return
		}
		d.closeVisible(alarmID)
		d.track("snooze-"+alarmID, func() {
			d.sink.Close(alarmID)
			d.bus.Broadcast(common.EventAlarmSnoozed, common.SnoozedEvent{
				AlarmID: alarmID,
				Minutes: d.snoozeMinutes,
			})
		})

	default:
		// Body click or unknown action: ask the foreground to focus an open
		// window (or open one) and forward the trigger payload.
		data := common.NotificationData{AlarmID: alarmID, Timestamp: d.now()}
		if a := d.snap.Get(alarmID); a != nil {
			data.VoiceMood = a.VoiceMood
		}
		d.track("focus-"+alarmID, func() {
			d.bus.Broadcast(common.EventFocusClient, common.FocusEvent{Data: data})
		})
	}
}

func (d *Dispatcher) closeVisible(tag string) {
	d.mu.Lock()
	delete(d.visible, tag)
	d.mu.Unlock()
}

// Visible reports whether a notification with the tag is currently shown.
func (d *Dispatcher) Visible(tag string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.visible[tag]
	return ok
}

// VisibleCount returns the number of visible notifications.
func (d *Dispatcher) VisibleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.visible)
}

// BroadcastSink forwards notification rendering to foreground clients over
// the bus.
type BroadcastSink struct {
	Bus Broadcaster
}

// Show broadcasts notification_show.
func (s *BroadcastSink) Show(n common.Notification) error {
	s.Bus.Broadcast(common.EventNotificationShow, n)
	return nil
}

// Close broadcasts notification_close for the tag.
func (s *BroadcastSink) Close(tag string) {
	s.Bus.Broadcast(common.EventNotificationClose, common.CloseEvent{Tag: tag})
}

var _ Sink = (*BroadcastSink)(nil)
