// Package wsbridge streams execution-logger records (spec §4.4) to
// connected UI clients over a websocket, so a workflow editor can show
// live node-by-node progress of a run it started through internal/api.
//
// Grounded on the teacher's internal/infrastructure/websocket package
// (Hub/Client/Handler/Authenticator), trimmed from its
// workflow-id-and-execution-id subscription model to execution-id-only:
// the execution core has no standing notion of "subscribe before the
// run exists" the way the teacher's long-lived REST server does — a
// caller only learns an execution id after internal/api.Service.Execute
// returns one.
package wsbridge

import (
	"sync"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
)

// broadcastMsg is one event queued for fan-out to subscribed clients.
type broadcastMsg struct {
	executionID string
	event       *Event
}

// Hub tracks connected clients and their execution-id subscriptions,
// and fans events out to the ones that match.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg

	byExecutionID map[string]map[*Client]bool

	logger *logging.Logger
	mu     sync.RWMutex
}

// NewHub builds a Hub that logs its own lifecycle events through logger
// (execution id left blank — these are bridge-level events, not a
// particular run's).
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *broadcastMsg, 256),
		byExecutionID: make(map[string]map[*Client]bool),
		logger:        logger,
	}
}

// Run is the hub's event loop; call it in a goroutine for the lifetime
// of the process.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.broadcast:
			h.broadcastEvent(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.logger.Emit("", "", logging.LevelDebug, logging.CategoryInfo, "wsbridge client registered", map[string]any{"client_id": client.id, "total_clients": len(h.clients)})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	client.subs.mu.RLock()
	for execID := range client.subs.executions {
		if clients, ok := h.byExecutionID[execID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byExecutionID, execID)
			}
		}
	}
	client.subs.mu.RUnlock()

	h.logger.Emit("", "", logging.LevelDebug, logging.CategoryInfo, "wsbridge client unregistered", map[string]any{"client_id": client.id, "total_clients": len(h.clients)})
}

// Broadcast queues event for delivery to every client subscribed to
// executionID. It is the delivery side of BridgeHandler (see
// bridge_handler.go).
func (h *Hub) Broadcast(executionID string, event *Event) {
	select {
	case h.broadcast <- &broadcastMsg{executionID: executionID, event: event}:
	default:
		h.logger.Emit("", "", logging.LevelWarn, logging.CategoryInfo, "wsbridge broadcast queue full, dropping event", map[string]any{"execution_id": executionID, "event_type": event.Type})
	}
}

func (h *Hub) broadcastEvent(msg *broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.byExecutionID[msg.executionID]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- msg.event:
		default:
			h.logger.Emit("", "", logging.LevelWarn, logging.CategoryInfo, "wsbridge client buffer full, dropping event", map[string]any{"client_id": client.id, "event_type": msg.event.Type})
		}
	}
}

// Subscribe registers client for events on executionID.
func (h *Hub) Subscribe(client *Client, executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	client.subs.executions[executionID] = true
	if h.byExecutionID[executionID] == nil {
		h.byExecutionID[executionID] = make(map[*Client]bool)
	}
	h.byExecutionID[executionID][client] = true
}

// Unsubscribe removes client's subscription to executionID.
func (h *Hub) Unsubscribe(client *Client, executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	delete(client.subs.executions, executionID)
	if clients, ok := h.byExecutionID[executionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.byExecutionID, executionID)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
