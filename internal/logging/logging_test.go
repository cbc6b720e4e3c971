package logging

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitInvokesAllHandlersAtOrAboveMinLevel(t *testing.T) {
	var gotInfo, gotWarn []Record
	var mu sync.Mutex

	infoHandler := &funcHandler{name: "info", min: LevelInfo, fn: func(r Record) {
		mu.Lock()
		defer mu.Unlock()
		gotInfo = append(gotInfo, r)
	}}
	warnHandler := &funcHandler{name: "warn", min: LevelWarn, fn: func(r Record) {
		mu.Lock()
		defer mu.Unlock()
		gotWarn = append(gotWarn, r)
	}}

	l := New()
	l.AddHandler(infoHandler)
	l.AddHandler(warnHandler)

	l.Emit("exec1", "node1", LevelInfo, CategoryNodeStart, "starting", nil)

	mu.Lock()
	assert.Len(t, gotInfo, 1)
	assert.Empty(t, gotWarn)
	mu.Unlock()

	l.Emit("exec1", "node1", LevelError, CategoryError, "boom", nil)

	mu.Lock()
	assert.Len(t, gotInfo, 2)
	assert.Len(t, gotWarn, 1)
	mu.Unlock()
}

func TestEmitRedactsMarkedSecret(t *testing.T) {
	var got Record
	h := &funcHandler{name: "h", min: LevelInfo, fn: func(r Record) { got = r }}

	l := New()
	l.AddHandler(h)
	l.MarkSecret("sk-live-123")

	l.Emit("exec1", "node1", LevelInfo, CategoryCredential, "resolved credential", map[string]any{
		"authHeader": "Bearer sk-live-123",
		"count":      3,
	})

	assert.Equal(t, "Bearer [redacted]", got.Context["authHeader"])
	assert.Equal(t, 3, got.Context["count"])
}

func TestRemoveHandler(t *testing.T) {
	l := New()
	h := &funcHandler{name: "h", min: LevelInfo}
	l.AddHandler(h)
	l.RemoveHandler("h")
	assert.Empty(t, l.snapshot())
}

func TestConsoleHandlerWritesLine(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(ConsoleHandlerConfig{Writer: &buf, MinLevel: LevelInfo})
	h.Handle(Record{
		Timestamp:   time.Now(),
		ExecutionID: "exec1",
		NodeID:      "node1",
		Level:       LevelInfo,
		Category:    CategoryNodeStart,
		Message:     "starting node",
	})
	assert.Contains(t, buf.String(), "starting node")
	assert.Contains(t, buf.String(), "exec1")
}

type blockingObserver struct {
	releaseOnce chan struct{}
	got         chan Record
}

func (o *blockingObserver) ObserveLogRecord(r Record) {
	<-o.releaseOnce
	o.got <- r
}

func TestUIBridgeHandlerDropsOldestOnBackpressure(t *testing.T) {
	obs := &blockingObserver{releaseOnce: make(chan struct{}), got: make(chan Record, 16)}
	h := NewUIBridgeHandler(obs, 2, LevelInfo)
	defer h.Close()

	h.Handle(Record{Message: "first"})
	// Give the pump a moment to pick up "first" and block in ObserveLogRecord.
	time.Sleep(20 * time.Millisecond)

	h.Handle(Record{Message: "second"})
	h.Handle(Record{Message: "third"})
	h.Handle(Record{Message: "fourth"}) // ring cap 2: "second" should be dropped

	require.Eventually(t, func() bool { return h.Dropped() >= 1 }, time.Second, 5*time.Millisecond)

	close(obs.releaseOnce)
	<-obs.got // unblock the pump so Close doesn't race a send
}

type funcHandler struct {
	name string
	min  Level
	fn   func(Record)
}

func (f *funcHandler) Name() string    { return f.name }
func (f *funcHandler) MinLevel() Level { return f.min }
func (f *funcHandler) Handle(r Record) {
	if f.fn != nil {
		f.fn(r)
	}
}
