package server

import (
	"context"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/Coolhgg/alarmd/common"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

// Notifier maintains the set of connected client sessions and fans outbound
// events to all of them as JSON-RPC push notifications. Zero connected
// clients is not an error; the event is simply unobserved.
type Notifier struct {
	log     logger.Logger
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
}

// NewNotifier creates an empty Notifier.
func NewNotifier(log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Notifier{
		log:     log,
		servers: make(map[*jrpc2.Server]struct{}),
	}
}

// Register adds a client session to the broadcast set.
func (n *Notifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a client session from the broadcast set.
func (n *Notifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast pushes an event to every connected client. Sessions whose push
// fails are dropped from the set.
func (n *Notifier) Broadcast(event common.EventType, payload any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(context.Background(), string(event), payload); err != nil {
			n.log.Warning("push %s failed, dropping client: %v", event, err)
			failed = append(failed, srv)
		}
	}

	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
}

// Count returns the number of connected client sessions.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}
