package netmon

import (
	"testing"

	"github.com/Coolhgg/alarmd/pkg/logger"
)

func TestMonitor_StartsOnline(t *testing.T) {
	m := New(logger.NewNopLogger(), nil)
	if !m.Online() {
		t.Error("expected initial state online")
	}
}

func TestMonitor_TransitionsFireOnce(t *testing.T) {
	var calls []bool
	m := New(logger.NewNopLogger(), func(online bool) {
		calls = append(calls, online)
	})

	m.MarkOnline() // already online, no transition
	m.MarkOffline()
	m.MarkOffline() // repeated report, no transition
	m.MarkOnline()

	want := []bool{false, true}
	if len(calls) != len(want) {
		t.Fatalf("got %d transitions %v, want %v", len(calls), calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestMonitor_LastWriterWins(t *testing.T) {
	m := New(logger.NewNopLogger(), nil)
	m.MarkOffline()
	m.MarkOnline()
	m.MarkOffline()
	if m.Online() {
		t.Error("expected offline after final MarkOffline")
	}
}
