// Package server coordinates client registration, outbound queueing and
// connection cleanup for the WebSocket relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/metrics"
)

// disconnectTimeout bounds the store work done when a connection ends,
// including during shutdown after the hub context is cancelled.
const disconnectTimeout = 5 * time.Second

// Hub owns the set of live clients. It starts their pumps on registration,
// closes their outbound queues on removal and hands inbound frames to the
// Dispatcher.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	dispatcher Dispatcher
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a Hub that routes inbound frames to dispatcher. Call Run in
// its own goroutine before registering clients.
func NewHub(dispatcher Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		dispatcher: dispatcher,
		log:        logger,
		metrics:    m,
	}
}

// Register hands a new client to the hub. It returns false if the hub is
// shutting down, in which case the caller owns the connection.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// safeSend enqueues message for client without blocking. A full queue drops
// the client.
func (h *Hub) safeSend(client *Client, message []byte) error {
	h.mutex.RLock()
	if _, exists := h.clients[client]; !exists || client.closed {
		h.mutex.RUnlock()
		return ErrClientClosed
	}
	select {
	case client.send <- message:
		h.mutex.RUnlock()
		return nil
	default:
	}
	h.mutex.RUnlock()

	h.removeFailedClients([]*Client{client})
	return ErrSendBufferFull
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.metrics.ConnectionOpened()
			h.log.Info("client registered",
				zap.String("conn", client.id),
				zap.String("addr", client.addr),
				zap.Int("clients", clientCount))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client, "unregistered")
		}
	}
}

// removeClient forgets client and closes its queue, which stops its write
// pump. It is a no-op for clients already removed.
func (h *Hub) removeClient(client *Client, reason string) bool {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.metrics.ConnectionClosed()
	h.log.Info("client "+reason,
		zap.String("conn", client.id),
		zap.String("addr", client.addr),
		zap.Int("clients", clientCount))
	return true
}

// removeFailedClients drops clients whose send buffer overflowed.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	for _, client := range clientsToRemove {
		if h.removeClient(client, "removed due to full send buffer") {
			h.metrics.ClientDropped()
		}
	}
}

// dispatch runs the dispatcher under the hub context.
func (h *Hub) dispatch(client *Client, raw []byte) {
	if h.dispatcher == nil {
		return
	}
	h.dispatcher.Dispatch(h.ctx, client, raw)
}

// disconnect tells the dispatcher that client is gone. It uses a context
// detached from hub cancellation so bindings are still released during
// shutdown.
func (h *Hub) disconnect(client *Client) {
	if h.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), disconnectTimeout)
	defer cancel()
	h.dispatcher.Disconnect(ctx, client)
}

// leave unregisters client from its read pump. After shutdown the hub loop is
// gone, so the client is removed directly.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.removeClient(client, "unregistered during shutdown")
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every client connection, which ends their pumps.
func (h *Hub) shutdownClients() {
	clients := h.getClientSnapshot()
	h.log.Info("shutting down client connections", zap.Int("clients", len(clients)))

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("error closing client connection",
				zap.String("addr", client.addr),
				zap.Error(err))
		}
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
