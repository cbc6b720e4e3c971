package wsbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
)

func TestEventTypeMapsCategoryAndLevel(t *testing.T) {
	cases := []struct {
		name     string
		rec      logging.Record
		expected string
	}{
		{"execution start", logging.Record{Category: logging.CategoryExecutionStart}, EventExecutionStarted},
		{"execution end success", logging.Record{Category: logging.CategoryExecutionEnd, Level: logging.LevelInfo}, EventExecutionCompleted},
		{"execution end failure", logging.Record{Category: logging.CategoryExecutionEnd, Level: logging.LevelError}, EventExecutionFailed},
		{"node start", logging.Record{Category: logging.CategoryNodeStart}, EventNodeStarted},
		{"node end success", logging.Record{Category: logging.CategoryNodeEnd, Level: logging.LevelInfo}, EventNodeCompleted},
		{"node end failure", logging.Record{Category: logging.CategoryNodeEnd, Level: logging.LevelError}, EventNodeFailed},
		{"retry", logging.Record{Category: logging.CategoryRetry}, EventNodeRetrying},
		{"branch falls back to log", logging.Record{Category: logging.CategoryBranch}, EventLog},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, eventType(tc.rec))
		})
	}
}

func TestBridgeHandlerForwardsToSubscribedClient(t *testing.T) {
	log := logging.New()
	hub := NewHub(log)
	go hub.Run()

	client := &Client{send: make(chan *Event, 1), subs: newSubscriptions()}
	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()
	hub.Subscribe(client, "exec-1")

	handler := NewBridgeHandler("wsbridge", logging.LevelInfo, hub)
	log.AddHandler(handler)

	log.Emit("exec-1", "n1", logging.LevelInfo, logging.CategoryNodeStart, "node started", nil)

	select {
	case evt := <-client.send:
		assert.Equal(t, EventNodeStarted, evt.Type)
		assert.Equal(t, "exec-1", evt.ExecutionID)
		assert.Equal(t, "n1", evt.NodeID)
	case <-time.After(time.Second):
		t.Fatal("expected client to receive forwarded event")
	}
}

func TestBridgeHandlerDoesNotLeakToOtherExecutions(t *testing.T) {
	log := logging.New()
	hub := NewHub(log)
	go hub.Run()

	client := &Client{send: make(chan *Event, 1), subs: newSubscriptions()}
	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()
	hub.Subscribe(client, "exec-1")

	handler := NewBridgeHandler("wsbridge", logging.LevelInfo, hub)
	log.AddHandler(handler)

	log.Emit("exec-2", "", logging.LevelInfo, logging.CategoryExecutionStart, "execution started", nil)

	select {
	case evt := <-client.send:
		t.Fatalf("unexpected event for unsubscribed execution: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	log := logging.New()
	hub := NewHub(log)
	go hub.Run()

	client := &Client{send: make(chan *Event, 1), subs: newSubscriptions()}
	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()
	hub.Subscribe(client, "exec-1")
	hub.Unsubscribe(client, "exec-1")

	hub.Broadcast("exec-1", &Event{Type: EventLog})

	select {
	case evt := <-client.send:
		t.Fatalf("unexpected event after unsubscribe: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientCountTracksRegistration(t *testing.T) {
	log := logging.New()
	hub := NewHub(log)
	go hub.Run()

	client := NewClient("c1", "user-1", hub, nil, noopCanceller{})
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.unregister <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

type noopCanceller struct{}

func (noopCanceller) Cancel(executionID string) {}
