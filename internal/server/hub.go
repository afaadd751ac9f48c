// Package server coordinates client registration, message broadcast, and
// connection cleanup for the Flockcast WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub is the per-process connection registry. Clients are keyed by their peer
// address, which makes registration and unregistration idempotent per
// identity. All mutation happens on the run loop; broadcast iterates a
// snapshot so one slow client never blocks delivery to the rest.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary
// channels and the client map. The returned Hub is ready to manage WebSocket
// connections once Run is started.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Broadcast queues a message for delivery to every registered client. It is
// safe to call from any goroutine; the send is dropped if the hub has already
// shut down.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.ctx.Done():
	}
}

// Count returns the number of currently registered clients. The value is read
// under the registry lock, so it reflects the state at call time.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	registered, exists := h.clients[client.addr]
	if !exists || registered != client || client.closed {
		return false
	}

	// Try to send the message (channel might be closed, so we need to recover from panic)
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and message broadcasting. This method should be called in a
// separate goroutine as it runs until Shutdown cancels it.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case message := <-h.broadcast:
			h.handleBroadcast(message)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		zap.S().Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	if _, exists := h.clients[client.addr]; exists {
		// Duplicate identity: registration is a no-op.
		h.mutex.Unlock()
		zap.S().Infof("Client %s already registered; ignoring duplicate", client.addr)
		return
	}
	client.closed = false
	h.clients[client.addr] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	connectedClients.Inc()
	zap.S().Infof("Client registered from %s. Total clients: %d", client.addr, clientCount)

	// Clients constructed without a live connection (tests) get no pumps.
	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	h.handleBroadcast([]byte(connectNotice(client.addr)))
}

func (h *Hub) handleUnregister(client *Client) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	registered, ok := h.clients[client.addr]
	if !ok || registered != client {
		// Unregistering an absent identity is not an error.
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.addr)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	connectedClients.Dec()
	zap.S().Infof("Client unregistered from %s. Total clients: %d", client.addr, clientCount)

	h.handleBroadcast([]byte(disconnectNotice(client.addr)))
}

// handleBroadcast delivers a message to every registered client. Delivery
// failures are isolated per connection: the failed client is removed and the
// broadcast continues for the rest.
func (h *Hub) handleBroadcast(message []byte) {
	clients := h.getClientSnapshot()
	broadcastsTotal.Inc()

	var clientsToRemove []*Client
	for _, client := range clients {
		if !h.safeSend(client, message) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var removed []*Client
	for _, client := range clientsToRemove {
		if registered, exists := h.clients[client.addr]; exists && registered == client {
			delete(h.clients, client.addr)
			client.closed = true
			removed = append(removed, client)
			zap.S().Infof("Client from %s removed due to full send buffer", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, client := range removed {
		close(client.send)
		connectedClients.Dec()
		broadcastFailures.Inc()
	}

	for _, client := range removed {
		h.handleBroadcast([]byte(disconnectNotice(client.addr)))
	}
}

// closeAllClients forcibly closes all active client connections.
func (h *Hub) closeAllClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					zap.S().Warnf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	zap.S().Infof("Closed %d client connections", len(clients))
}

// CloseAll forcibly closes every remaining connection. The shutdown
// coordinator invokes it when the drain deadline is exceeded; the read pumps
// observe the closed sockets and unregister through the normal path.
func (h *Hub) CloseAll() {
	zap.S().Info("Forcibly closing all remaining client connections")
	h.closeAllClients()
}

// Shutdown initiates shutdown of the hub and waits for all goroutines to
// complete. It returns after all client connections are closed and goroutines
// have finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	zap.S().Info("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.S().Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		zap.S().Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
