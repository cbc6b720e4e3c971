package wsbridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

// Canceller is the narrow slice of internal/api.Service a client needs
// to honor a "cancel" command without wsbridge importing internal/api
// (which would otherwise import internal/scheduler -> internal/logging
// -> ... back into this package's dependents).
type Canceller interface {
	Cancel(executionID string)
}

type subscriptions struct {
	executions map[string]bool
	mu         sync.RWMutex
}

func newSubscriptions() *subscriptions {
	return &subscriptions{executions: make(map[string]bool)}
}

// Client is one connected UI websocket.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	cancel Canceller
	send   chan *Event

	id     string
	userID string
	subs   *subscriptions
}

// NewClient builds a Client bound to conn and registered under hub.
func NewClient(id, userID string, hub *Hub, conn *websocket.Conn, cancel Canceller) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		cancel: cancel,
		send:   make(chan *Event, sendBufferSize),
		id:     id,
		userID: userID,
		subs:   newSubscriptions(),
	}
}

// readPump pumps commands from the websocket into the client's command
// handling; it also drives the connection's read deadline/pong handling.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendResponse(newErrorResponse("error", "invalid command format"))
			continue
		}
		c.handleCommand(&cmd)
	}
}

// writePump pumps queued events to the websocket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleCommand(cmd *Command) {
	switch cmd.Action {
	case CmdSubscribe:
		if cmd.ExecutionID == "" {
			c.sendResponse(newErrorResponse(CmdSubscribe, "execution_id required"))
			return
		}
		c.hub.Subscribe(c, cmd.ExecutionID)
		c.sendResponse(newSuccessResponse(CmdSubscribe, "subscribed to execution: "+cmd.ExecutionID))

	case CmdUnsubscribe:
		if cmd.ExecutionID == "" {
			c.sendResponse(newErrorResponse(CmdUnsubscribe, "execution_id required"))
			return
		}
		c.hub.Unsubscribe(c, cmd.ExecutionID)
		c.sendResponse(newSuccessResponse(CmdUnsubscribe, "unsubscribed from execution: "+cmd.ExecutionID))

	case CmdCancel:
		if cmd.ExecutionID == "" {
			c.sendResponse(newErrorResponse(CmdCancel, "execution_id required"))
			return
		}
		c.cancel.Cancel(cmd.ExecutionID)
		c.sendResponse(newSuccessResponse(CmdCancel, "cancellation requested for: "+cmd.ExecutionID))

	default:
		c.sendResponse(newErrorResponse("error", "unknown command: "+cmd.Action))
	}
}

func (c *Client) sendResponse(resp *Response) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteJSON(resp)
}
