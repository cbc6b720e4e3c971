package wsbridge

import "github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"

// BridgeHandler is a logging.Handler that forwards every record to Hub
// as an Event, keyed by the record's execution id. Attach one per run
// (internal/scheduler emits per-execution, not globally) via
// Logger.AddHandler before Scheduler.Start and RemoveHandler once the
// caller has drained the result, mirroring the teacher's
// SocketObserver registered on monitoring.ObserverManager per request.
type BridgeHandler struct {
	name     string
	minLevel logging.Level
	hub      *Hub
}

// NewBridgeHandler builds a BridgeHandler named name (for
// Logger.RemoveHandler) that only forwards records at or above
// minLevel.
func NewBridgeHandler(name string, minLevel logging.Level, hub *Hub) *BridgeHandler {
	return &BridgeHandler{name: name, minLevel: minLevel, hub: hub}
}

func (h *BridgeHandler) Name() string            { return h.name }
func (h *BridgeHandler) MinLevel() logging.Level { return h.minLevel }

func (h *BridgeHandler) Handle(r logging.Record) {
	h.hub.Broadcast(r.ExecutionID, &Event{
		Type:        eventType(r),
		Timestamp:   r.Timestamp,
		ExecutionID: r.ExecutionID,
		NodeID:      r.NodeID,
		Category:    string(r.Category),
		Message:     r.Message,
		Context:     r.Context,
	})
}

// eventType maps a record's category (and, for the ambiguous end
// categories, its level) to the wire event type a UI client switches
// on.
func eventType(r logging.Record) string {
	switch r.Category {
	case logging.CategoryExecutionStart:
		return EventExecutionStarted
	case logging.CategoryExecutionEnd:
		if r.Level == logging.LevelError {
			return EventExecutionFailed
		}
		return EventExecutionCompleted
	case logging.CategoryNodeStart:
		return EventNodeStarted
	case logging.CategoryNodeEnd:
		if r.Level == logging.LevelError {
			return EventNodeFailed
		}
		return EventNodeCompleted
	case logging.CategoryRetry:
		return EventNodeRetrying
	default:
		return EventLog
	}
}
