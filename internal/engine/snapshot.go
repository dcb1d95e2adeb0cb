package engine

import (
	"sync"
	"time"

	"github.com/Coolhgg/alarmd/common"
)

// Snapshot holds the engine's transient copy of the user's alarm list. It is
// replaced wholesale on every inbound update (no incremental merge) and lost
// on restart; until the foreground resupplies it the engine cannot trigger
// anything. All accessors copy, so callers never share alarm structs with
// the store.
type Snapshot struct {
	mu     sync.RWMutex
	alarms map[string]*common.Alarm
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{alarms: make(map[string]*common.Alarm)}
}

func cloneAlarm(a *common.Alarm) *common.Alarm {
	c := *a
	c.Days = append([]int(nil), a.Days...)
	if a.LastTriggered != nil {
		t := *a.LastTriggered
		c.LastTriggered = &t
	}
	return &c
}

// Replace swaps in a new alarm list, discarding the previous one entirely.
// Alarms without an ID are dropped.
func (s *Snapshot) Replace(alarms []*common.Alarm) {
	next := make(map[string]*common.Alarm, len(alarms))
	for _, a := range alarms {
		if a == nil || a.ID == "" {
			continue
		}
		next[a.ID] = cloneAlarm(a)
	}
	s.mu.Lock()
	s.alarms = next
	s.mu.Unlock()
}

// Get returns a copy of the alarm with the given id, or nil.
func (s *Snapshot) Get(id string) *common.Alarm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alarms[id]
	if !ok {
		return nil
	}
	return cloneAlarm(a)
}

// All returns copies of every alarm in the snapshot.
func (s *Snapshot) All() []*common.Alarm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*common.Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		out = append(out, cloneAlarm(a))
	}
	return out
}

// StampTriggered sets lastTriggered on the stored entry. In-memory only; the
// durable alarm list lives in the foreground. Returns false if the alarm is
// no longer in the snapshot.
func (s *Snapshot) StampTriggered(id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[id]
	if !ok {
		return false
	}
	t := at
	a.LastTriggered = &t
	return true
}

// Len returns the number of alarms held.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alarms)
}

// Clear discards the snapshot.
func (s *Snapshot) Clear() {
	s.mu.Lock()
	s.alarms = make(map[string]*common.Alarm)
	s.mu.Unlock()
}
