package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/Coolhgg/alarmd/common"
	"github.com/Coolhgg/alarmd/internal/cache"
	"github.com/Coolhgg/alarmd/internal/config"
	"github.com/Coolhgg/alarmd/internal/engine"
	"github.com/Coolhgg/alarmd/internal/gateway"
	"github.com/Coolhgg/alarmd/internal/netmon"
	"github.com/Coolhgg/alarmd/internal/notify"
	"github.com/Coolhgg/alarmd/internal/server"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

// DaemonComponents holds all initialized daemon components so startup and
// shutdown run through one place regardless of how the daemon was invoked.
type DaemonComponents struct {
	Store    *cache.Store
	Monitor  *netmon.Monitor
	Gateway  *gateway.Gateway
	Engine   *engine.Engine
	Notifier *server.Notifier
	Server   *server.Server
	log      logger.Logger
}

// initDaemonComponents wires the full daemon. On error, any partially
// initialized components are released before returning.
func initDaemonComponents(log logger.Logger, cfg *config.Config) (*DaemonComponents, error) {
	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		log.Error("cache store initialization failed: %v", err)
		return nil, err
	}

	notifier := server.NewNotifier(log)
	mon := netmon.New(log, func(online bool) {
		notifier.Broadcast(common.EventNetworkStatus, common.NetworkStatusEvent{Online: online})
	})

	var shellFs afero.Fs
	if cfg.ShellDir != "" {
		shellFs = afero.NewBasePathFs(afero.NewOsFs(), cfg.ShellDir)
	} else {
		// No deployed shell: precache falls back to failure counting and the
		// offline page to the built-in document.
		shellFs = afero.NewMemMapFs()
	}
	shell := gateway.NewShell(shellFs, nil)

	gw := gateway.New(gateway.Params{
		Log:        log,
		Store:      store,
		Mon:        mon,
		Origin:     cfg.OriginURL(),
		Shell:      shell,
		NavTimeout: cfg.NavTimeout.Std(),
		APITimeout: cfg.APITimeout.Std(),
	})

	snap := engine.NewSnapshot()
	eng := engine.New(engine.Params{
		Log:            log,
		Snapshot:       snap,
		Broadcast:      notifier.Broadcast,
		Online:         mon.Online,
		EvalInterval:   cfg.EvalInterval.Std(),
		SnoozeDelay:    cfg.SnoozeDelay.Std(),
		SyncRetryDelay: cfg.SyncRetryDelay.Std(),
		CheckCron:      cfg.CheckCron,
	})
	disp := notify.New(notify.Params{
		Log:      log,
		Sink:     &notify.BroadcastSink{Bus: notifier},
		Bus:      notifier,
		Snapshot: snap,
		Engine:   eng,
		Track:    eng.Track,
	})
	eng.Bind(disp)

	bus := server.NewBus(server.BusParams{
		Log:        log,
		Engine:     eng,
		Dispatcher: disp,
		Store:      store,
		Mon:        mon,
	})
	srv := server.New(server.Params{
		Log:            log,
		Addr:           cfg.Addr,
		Bus:            bus,
		Notifier:       notifier,
		Gateway:        gw,
		OriginPatterns: []string{cfg.OriginURL().Host},
	})

	return &DaemonComponents{
		Store:    store,
		Monitor:  mon,
		Gateway:  gw,
		Engine:   eng,
		Notifier: notifier,
		Server:   srv,
		log:      log,
	}, nil
}

// Activate runs the install/activate sequence: precache the shell, purge
// stale cache generations, start the engine. The bus only starts serving
// after this returns, so no client ever talks to a half-activated daemon.
func (c *DaemonComponents) Activate(ctx context.Context) error {
	c.Gateway.Precache()
	if err := c.Gateway.Activate(); err != nil {
		return fmt.Errorf("cache activation: %w", err)
	}
	if err := c.Engine.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	return nil
}

// Close releases all daemon component resources in reverse order of
// initialization.
func (c *DaemonComponents) Close() {
	if c.log != nil {
		c.log.Info("shutting down daemon")
	}
	if c.Engine != nil {
		c.Engine.Cleanup()
	}
	if c.Gateway != nil {
		c.Gateway.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.log != nil {
		c.log.Info("daemon stopped")
	}
}
