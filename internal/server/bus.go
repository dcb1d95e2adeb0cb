// Package server exposes the daemon's control surface: a WebSocket JSON-RPC
// endpoint carrying inbound control methods and outbound event pushes, with
// the fetch gateway mounted beside it on the same listener.
package server

import (
	"context"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/Coolhgg/alarmd/common"
	"github.com/Coolhgg/alarmd/internal/cache"
	"github.com/Coolhgg/alarmd/internal/engine"
	"github.com/Coolhgg/alarmd/internal/netmon"
	"github.com/Coolhgg/alarmd/internal/notify"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

// Custom JSON-RPC error codes for control operations.
const (
	codeInvalidParams = jrpc2.Code(-32602)
	codeInternal      = jrpc2.Code(-32603)
)

// BusParams configures a Bus.
type BusParams struct {
	Log        logger.Logger
	Engine     *engine.Engine
	Dispatcher *notify.Dispatcher
	Store      *cache.Store
	Mon        *netmon.Monitor
	Now        func() time.Time
}

// Bus implements the inbound control methods. One Bus serves every
// connection; per-client state lives in the jrpc2 session, not here.
type Bus struct {
	log   logger.Logger
	eng   *engine.Engine
	disp  *notify.Dispatcher
	store *cache.Store
	mon   *netmon.Monitor
	now   func() time.Time
}

// NewBus creates a Bus.
func NewBus(p BusParams) *Bus {
	if p.Log == nil {
		p.Log = logger.NewNopLogger()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Bus{
		log:   p.Log,
		eng:   p.Engine,
		disp:  p.Dispatcher,
		store: p.Store,
		mon:   p.Mon,
		now:   p.Now,
	}
}

// Methods returns the control method table served to every client session.
func (b *Bus) Methods() handler.Map {
	return handler.Map{
		common.MethodReplaceSnapshot:    handler.New(b.replaceSnapshot),
		common.MethodManualTrigger:      handler.New(b.manualTrigger),
		common.MethodNotificationAction: handler.New(b.notificationAction),
		common.MethodProbe:              handler.New(b.probe),
		common.MethodCleanup:            handler.New(b.cleanup),
		common.MethodClearCaches:        handler.New(b.clearCaches),
		common.MethodRequestSync:        handler.New(b.requestSync),
		common.MethodOfflineStatus:      handler.New(b.offlineStatus),
	}
}

// replaceSnapshot swaps the engine's alarm snapshot wholesale. An empty list
// is valid and clears it.
func (b *Bus) replaceSnapshot(_ context.Context, p *common.SnapshotParams) (*common.EmptyResult, error) {
	b.eng.ReplaceSnapshot(p.Alarms)
	return &common.EmptyResult{}, nil
}

// manualTrigger fires a notification for the given alarm immediately,
// bypassing the match condition. Used by the foreground's test-alarm flow.
func (b *Bus) manualTrigger(_ context.Context, p *common.TriggerParams) (*common.EmptyResult, error) {
	if p.Alarm == nil || p.Alarm.ID == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: alarm"}
	}
	b.disp.Trigger(p.Alarm, b.now())
	return &common.EmptyResult{}, nil
}

// notificationAction routes a user's notification interaction.
func (b *Bus) notificationAction(_ context.Context, p *common.ActionParams) (*common.EmptyResult, error) {
	if p.AlarmID == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: alarmId"}
	}
	b.disp.HandleAction(p.AlarmID, p.Action)
	return &common.EmptyResult{}, nil
}

// probe is the liveness check: a directed pong with network state and cache
// occupancy.
func (b *Bus) probe(_ context.Context) (*common.ProbeResult, error) {
	return &common.ProbeResult{
		Pong:      true,
		Timestamp: b.now(),
		Online:    b.mon.Online(),
		Caches:    b.store.Stats(),
	}, nil
}

// cleanup terminates the engine. The reply is sent after termination
// completes, so callers can treat it as an acknowledged shutdown.
func (b *Bus) cleanup(_ context.Context) (*common.EmptyResult, error) {
	b.eng.Cleanup()
	return &common.EmptyResult{}, nil
}

// clearCaches drops every cache generation, static included. The next
// startup re-populates the shell via precache.
func (b *Bus) clearCaches(_ context.Context) (*common.EmptyResult, error) {
	if err := b.store.ClearAll(); err != nil {
		return nil, &jrpc2.Error{Code: codeInternal, Message: err.Error()}
	}
	b.log.Info("all cache generations cleared by client request")
	return &common.EmptyResult{}, nil
}

// requestSync runs the alarm re-sync flow.
func (b *Bus) requestSync(_ context.Context) (*common.EmptyResult, error) {
	b.eng.RequestSync()
	return &common.EmptyResult{}, nil
}

// offlineStatus reports current network state and cache occupancy.
func (b *Bus) offlineStatus(_ context.Context) (*common.OfflineStatusResult, error) {
	return &common.OfflineStatusResult{
		Online: b.mon.Online(),
		Caches: b.store.Stats(),
	}, nil
}
