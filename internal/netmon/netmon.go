// Package netmon derives online/offline state purely from fetch outcomes.
// There is no independent probe: a successful network-first fetch marks the
// state online, a failed one marks it offline. Concurrent requests with
// divergent outcomes can flap the reported state; that imprecision is
// accepted, not treated as a defect.
package netmon

import (
	"sync/atomic"

	"github.com/Coolhgg/alarmd/pkg/logger"
)

// Monitor holds the single global network state. Last-writer-wins.
type Monitor struct {
	log logger.Logger
	// offline so the zero value of the atomic maps to the online start state.
	offline  atomic.Bool
	onChange func(online bool)
}

// New creates a Monitor starting in the online state. onChange is invoked
// once per transition (not per report) and may be nil.
func New(log logger.Logger, onChange func(online bool)) *Monitor {
	return &Monitor{log: log, onChange: onChange}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	return !m.offline.Load()
}

// MarkOnline records a successful network fetch.
func (m *Monitor) MarkOnline() {
	m.set(false)
}

// MarkOffline records a failed network fetch.
func (m *Monitor) MarkOffline() {
	m.set(true)
}

func (m *Monitor) set(offline bool) {
	prev := m.offline.Swap(offline)
	if prev == offline {
		return
	}
	if offline {
		m.log.Warning("network transition: offline")
	} else {
		m.log.Info("network transition: online")
	}
	if m.onChange != nil {
		m.onChange(!offline)
	}
}
