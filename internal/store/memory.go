// Package store provides domain.WorkflowStore / domain.ExecutionStore
// implementations: an in-memory store for tests and single-shot CLI runs,
// and a bun/Postgres-backed store (see bun.go) for durable deployments.
//
// Grounded on the teacher's internal/infrastructure/storage/memory.go
// (map-backed store guarded by a single sync.RWMutex), generalized from
// the teacher's six entity kinds (workflow/execution/event/node/edge/
// trigger) down to the two domain.WorkflowStore/domain.ExecutionStore
// interfaces §6 defines, since workflows here are flat Workflow structs
// rather than separately-stored node/edge aggregates.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
)

// MemoryWorkflowStore is a process-local domain.WorkflowStore.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[int64]*domain.Workflow
}

func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[int64]*domain.Workflow)}
}

func (s *MemoryWorkflowStore) FindByID(ctx context.Context, id int64) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %d not found", id)
	}
	cloned := *w
	return &cloned, nil
}

func (s *MemoryWorkflowStore) ListAll(ctx context.Context) ([]*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		cloned := *w
		out = append(out, &cloned)
	}
	return out, nil
}

func (s *MemoryWorkflowStore) Save(ctx context.Context, w *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *w
	s.workflows[w.ID] = &cloned
	return nil
}

func (s *MemoryWorkflowStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

// MemoryExecutionStore is a process-local domain.ExecutionStore.
type MemoryExecutionStore struct {
	mu          sync.RWMutex
	executions  map[string]*domain.Execution
	nodeRecords map[string][]*domain.NodeExecutionRecord
}

func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions:  make(map[string]*domain.Execution),
		nodeRecords: make(map[string][]*domain.NodeExecutionRecord),
	}
}

func (s *MemoryExecutionStore) Save(ctx context.Context, e *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *e
	s.executions[e.ID] = &cloned
	return nil
}

func (s *MemoryExecutionStore) SaveNodeRecord(ctx context.Context, r *domain.NodeExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *r
	s.nodeRecords[r.ExecutionID] = append(s.nodeRecords[r.ExecutionID], &cloned)
	return nil
}

func (s *MemoryExecutionStore) FindByWorkflow(ctx context.Context, workflowID int64) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Execution, 0)
	for _, e := range s.executions {
		if e.WorkflowID == workflowID {
			cloned := *e
			out = append(out, &cloned)
		}
	}
	return out, nil
}

func (s *MemoryExecutionStore) FindByID(ctx context.Context, id string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %q not found", id)
	}
	cloned := *e
	return &cloned, nil
}

func (s *MemoryExecutionStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = make(map[string]*domain.Execution)
	s.nodeRecords = make(map[string][]*domain.NodeExecutionRecord)
	return nil
}

// NodeRecordsFor returns the recorded per-node runs of an execution, in
// the order they were saved. Exposed for CLI/debug inspection; not part
// of domain.ExecutionStore.
func (s *MemoryExecutionStore) NodeRecordsFor(executionID string) []*domain.NodeExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.NodeExecutionRecord, len(s.nodeRecords[executionID]))
	copy(out, s.nodeRecords[executionID])
	return out
}
