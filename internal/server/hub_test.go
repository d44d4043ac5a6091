package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/zodiacchat/internal/metrics"
	"github.com/Tyrowin/zodiacchat/internal/registry"
)

type countingDispatcher struct {
	mu          sync.Mutex
	frames      [][]byte
	disconnects []string
}

func (d *countingDispatcher) Dispatch(_ context.Context, _ registry.Conn, raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, raw)
}

func (d *countingDispatcher) Disconnect(ctx context.Context, conn registry.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() == nil {
		d.disconnects = append(d.disconnects, conn.ID())
	}
}

// track adds a connection-less client straight to the hub so queueing can be
// tested without pumps.
func track(h *Hub, c *Client) {
	h.mutex.Lock()
	h.clients[c] = true
	h.mutex.Unlock()
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil, nil)

	if hub.clients == nil || hub.register == nil || hub.unregister == nil {
		t.Fatal("NewHub should initialize its maps and channels")
	}
	if hub.log == nil {
		t.Error("NewHub should fall back to a no-op logger")
	}
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount: got %d, want 0", got)
	}
}

func TestNewClient(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t), nil)
	cfg := DefaultConfig()
	cfg.SendBufferSize = 4

	a := NewClient(nil, hub, "127.0.0.1:1", cfg)
	b := NewClient(nil, hub, "127.0.0.1:2", cfg)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("clients need distinct ids, got %q and %q", a.ID(), b.ID())
	}
	if cap(a.send) != 4 {
		t.Errorf("send buffer: got %d, want 4", cap(a.send))
	}
	if a.GetSendChan() == nil {
		t.Error("GetSendChan returned nil")
	}
}

func TestSafeSendUnknownClient(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t), nil)
	c := NewClient(nil, hub, "addr", DefaultConfig())

	if err := c.Send([]byte("x")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Send to untracked client: got %v, want ErrClientClosed", err)
	}
}

func TestSafeSendQueuesFrames(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t), nil)
	c := NewClient(nil, hub, "addr", DefaultConfig())
	track(hub, c)

	if err := c.Send([]byte("one")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case got := <-c.GetSendChan():
		if string(got) != "one" {
			t.Errorf("queued frame: got %q", got)
		}
	default:
		t.Fatal("frame was not queued")
	}
}

func TestSafeSendDropsSlowClient(t *testing.T) {
	m := metrics.New()
	hub := NewHub(nil, zaptest.NewLogger(t), m)
	cfg := DefaultConfig()
	cfg.SendBufferSize = 1
	c := NewClient(nil, hub, "addr", cfg)
	track(hub, c)

	if err := c.Send([]byte("fits")); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if err := c.Send([]byte("overflow")); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("second Send: got %v, want ErrSendBufferFull", err)
	}

	if hub.ClientCount() != 0 {
		t.Error("slow client should have been removed")
	}
	if got := testutil.ToFloat64(m.DroppedClients); got != 1 {
		t.Errorf("dropped clients metric: got %v, want 1", got)
	}

	// The queue is closed after the buffered frame drains.
	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if err := c.Send([]byte("late")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Send after drop: got %v, want ErrClientClosed", err)
	}
}

func TestRemoveClientIsIdempotent(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t), nil)
	c := NewClient(nil, hub, "addr", DefaultConfig())
	track(hub, c)

	if !hub.removeClient(c, "test") {
		t.Fatal("first removal should report true")
	}
	if hub.removeClient(c, "test") {
		t.Error("second removal should be a no-op")
	}
}

func TestHubRunAndShutdown(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t), nil)
	go hub.Run()

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	c := NewClient(nil, hub, "addr", DefaultConfig())
	if hub.Register(c) {
		t.Error("Register after shutdown should report false")
	}
}

func TestHubLeaveAfterShutdown(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t), nil)
	go hub.Run()
	c := NewClient(nil, hub, "addr", DefaultConfig())
	track(hub, c)

	// Run's shutdown closes connections but only the read pump removes
	// clients, so c is still tracked here.
	hub.cancel()
	<-hub.done

	done := make(chan struct{})
	go func() {
		hub.leave(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("leave blocked after shutdown")
	}
	if hub.ClientCount() != 0 {
		t.Error("leave should remove the client directly once the loop is gone")
	}
}

func TestHubDispatchAndDisconnect(t *testing.T) {
	d := &countingDispatcher{}
	hub := NewHub(d, zaptest.NewLogger(t), nil)
	c := NewClient(nil, hub, "addr", DefaultConfig())

	hub.dispatch(c, []byte(`{"type":"get_users"}`))
	hub.cancel()
	hub.disconnect(c)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) != 1 {
		t.Errorf("dispatched frames: got %d, want 1", len(d.frames))
	}
	if len(d.disconnects) != 1 || d.disconnects[0] != c.ID() {
		t.Errorf("disconnect should run with a live context after cancel, got %v", d.disconnects)
	}
}
