package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"

	"github.com/Coolhgg/alarmd/common"
)

func newTestServer(t *testing.T) (*Server, *Notifier, *busHarness, string) {
	t.Helper()
	h := newBusHarness(t)
	notifier := NewNotifier(nil)
	s := New(Params{
		Bus:            h.bus,
		Notifier:       notifier,
		OriginPatterns: []string{"*"},
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return s, notifier, h, wsURL
}

func wsClient(t *testing.T, wsURL string, onNotify func(*jrpc2.Request)) *jrpc2.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	conn, _, err := cws.Dial(ctx, wsURL, nil)
	if err != nil {
		cancel()
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	cli := jrpc2.NewClient(&wsChannel{conn: conn, ctx: ctx}, &jrpc2.ClientOptions{OnNotify: onNotify})
	t.Cleanup(func() {
		cli.Close()
		cancel()
	})
	return cli
}

func waitCount(t *testing.T, n *Notifier, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notifier count = %d, want %d", n.Count(), want)
}

func TestServer_ProbeOverWebSocket(t *testing.T) {
	_, notifier, _, wsURL := newTestServer(t)
	cli := wsClient(t, wsURL, nil)
	waitCount(t, notifier, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rsp, err := cli.Call(ctx, common.MethodProbe, nil)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	var pr common.ProbeResult
	if err := rsp.UnmarshalResult(&pr); err != nil {
		t.Fatal(err)
	}
	if !pr.Pong {
		t.Errorf("probe result = %+v", pr)
	}
}

func TestServer_PushReachesConnectedClient(t *testing.T) {
	_, notifier, _, wsURL := newTestServer(t)

	got := make(chan string, 4)
	wsClient(t, wsURL, func(req *jrpc2.Request) {
		got <- req.Method()
	})
	waitCount(t, notifier, 1)

	notifier.Broadcast(common.EventNetworkStatus, common.NetworkStatusEvent{Online: false})

	select {
	case method := <-got:
		if method != string(common.EventNetworkStatus) {
			t.Errorf("push method = %q", method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push never reached the client")
	}
}

func TestServer_DisconnectUnregisters(t *testing.T) {
	_, notifier, _, wsURL := newTestServer(t)
	cli := wsClient(t, wsURL, nil)
	waitCount(t, notifier, 1)

	cli.Close()
	waitCount(t, notifier, 0)
}

func TestServer_EngineEventsReachClient(t *testing.T) {
	_, notifier, h, wsURL := newTestServer(t)

	got := make(chan string, 8)
	cli := wsClient(t, wsURL, func(req *jrpc2.Request) {
		got <- req.Method()
	})
	waitCount(t, notifier, 1)

	// Drive a manual trigger through the bus; the harness broadcaster is the
	// recording one, so relay its event through the notifier the way the
	// daemon wiring does.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	params := common.TriggerParams{Alarm: &common.Alarm{ID: "a1", Time: "07:00"}}
	if _, err := cli.Call(ctx, common.MethodManualTrigger, params); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	h.rec.waitFor(t, common.EventAlarmTriggered)
	notifier.Broadcast(common.EventAlarmTriggered, common.TriggeredEvent{Alarm: params.Alarm, Timestamp: time.Now()})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case method := <-got:
			if method == string(common.EventAlarmTriggered) {
				return
			}
		case <-deadline:
			t.Fatal("alarm_triggered never reached the client")
		}
	}
}
