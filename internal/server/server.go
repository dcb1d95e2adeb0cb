package server

import (
	"context"
	"net/http"
	"sync"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/go-chi/chi/v5"

	"github.com/Coolhgg/alarmd/pkg/logger"
)

// Params configures a Server.
type Params struct {
	Log      logger.Logger
	Addr     string
	Bus      *Bus
	Notifier *Notifier
	// Gateway handles every non-WebSocket request. May be nil.
	Gateway http.Handler
	// OriginPatterns restricts WebSocket upgrades to the app origin.
	// Empty means same-host only.
	OriginPatterns []string
}

// Server is the daemon's listener: /ws upgrades to the JSON-RPC message bus,
// everything else goes through the fetch gateway.
type Server struct {
	log      logger.Logger
	bus      *Bus
	notifier *Notifier
	origins  []string

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server listening on addr once started.
func New(p Params) *Server {
	if p.Log == nil {
		p.Log = logger.NewNopLogger()
	}
	s := &Server{
		log:      p.Log,
		bus:      p.Bus,
		notifier: p.Notifier,
		origins:  p.OriginPatterns,
	}
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	if p.Gateway != nil {
		r.Handle("/*", p.Gateway)
	}
	s.server = &http.Server{Addr: p.Addr, Handler: r}
	return s
}

// Handler exposes the router, used by tests to mount the server under
// httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the listener until Shutdown. http.ErrServerClosed is the
// expected shutdown outcome and is not reported as an error.
func (s *Server) Start() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	s.log.Info("listening on %s", srv.Addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleWS upgrades the connection and runs a dedicated jrpc2 session over
// it. The session is registered for event pushes for as long as it lives.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, &cws.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warning("websocket upgrade failed: %v", err)
		return
	}

	ch := &wsChannel{conn: conn, ctx: r.Context()}
	srv := jrpc2.NewServer(s.bus.Methods(), &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(ch)

	s.notifier.Register(srv)
	s.log.Info("client connected (%d total)", s.notifier.Count())

	// Block until the client disconnects; the handler returning would cancel
	// the channel context.
	_ = srv.Wait()

	s.notifier.Unregister(srv)
	s.log.Info("client disconnected (%d total)", s.notifier.Count())
}
