package domain

import "time"

// Execution is one run of a workflow.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   int64           `json:"workflowId"`
	Status       ExecutionStatus `json:"status"`
	TriggerKind  TriggerKind     `json:"triggerType"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	DurationMs   int64           `json:"durationMs,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ErrorNodeID  string          `json:"errorNodeId,omitempty"`
	Output       map[string]Envelope `json:"output,omitempty"`
}

// Finish transitions the execution to a terminal status and stamps
// timing, enforcing §3's "finishedAt set iff status ∈ terminal" and
// "durationMs = finishedAt − startedAt" invariants.
func (e *Execution) Finish(status ExecutionStatus, errMsg, errNodeID string) {
	if !status.IsTerminal() {
		return
	}
	now := time.Now()
	e.FinishedAt = &now
	e.DurationMs = now.Sub(e.StartedAt).Milliseconds()
	e.Status = status
	e.ErrorMessage = errMsg
	e.ErrorNodeID = errNodeID
}

// NodeExecutionRecord is the per-node run record of §3. LoopIteration is
// non-nil when the node ran inside a loop; iterations of the same node
// are recorded separately rather than overwriting one another.
type NodeExecutionRecord struct {
	ExecutionID   string       `json:"executionId"`
	NodeID        string       `json:"nodeId"`
	LoopIteration *int         `json:"loopIteration,omitempty"`
	State         NodeRunState `json:"state"`
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    *time.Time   `json:"finishedAt,omitempty"`
	Error         string       `json:"error,omitempty"`
	Input         Envelope     `json:"input,omitempty"`
	Output        Envelope     `json:"output,omitempty"`
}

// ExecutionDTO is the user-visible view returned by status(executionId):
// final status, timing, and on failure the originating node id and a
// one-line message. Full stack/context lives only in the log stream.
type ExecutionDTO struct {
	ID           string          `json:"id"`
	WorkflowID   int64           `json:"workflowId"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	DurationMs   int64           `json:"durationMs,omitempty"`
	ErrorNodeID  string          `json:"errorNodeId,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ToDTO projects an Execution to its user-visible view.
func (e *Execution) ToDTO() ExecutionDTO {
	return ExecutionDTO{
		ID:           e.ID,
		WorkflowID:   e.WorkflowID,
		Status:       e.Status,
		StartedAt:    e.StartedAt,
		FinishedAt:   e.FinishedAt,
		DurationMs:   e.DurationMs,
		ErrorNodeID:  e.ErrorNodeID,
		ErrorMessage: e.ErrorMessage,
	}
}
