// Package api is the Execution API of spec §6 — execute/executeSync/
// cancel/status — wiring internal/scheduler to internal/store so a REST
// handler, CLI, or trigger collaborator never touches the scheduler
// directly.
//
// Grounded on the teacher's internal/application/executor.WorkflowEngine.
// ExecuteWorkflow (generate an execution id, run, persist the result),
// generalized from the teacher's synchronous single-phase call into
// execute/executeSync/cancel/status so a caller can either fire-and-poll
// or block for a deadline, and so a running execution can be cancelled.
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/execctx"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/scheduler"
)

// Service implements the core's Execution API.
type Service struct {
	Workflows  domain.WorkflowStore
	Executions domain.ExecutionStore
	Scheduler  *scheduler.Scheduler

	mu      sync.Mutex
	running map[string]*execctx.Context
}

func New(workflows domain.WorkflowStore, executions domain.ExecutionStore, sched *scheduler.Scheduler) *Service {
	return &Service{
		Workflows:  workflows,
		Executions: executions,
		Scheduler:  sched,
		running:    make(map[string]*execctx.Context),
	}
}

// ExecutionResult is what executeSync returns: the caller's DTO plus the
// final per-handle output envelopes of the terminal nodes.
type ExecutionResult struct {
	domain.ExecutionDTO
	Output map[string]domain.Envelope
}

// Execute starts workflowId asynchronously and returns its execution id
// immediately; the run continues in the background and is persisted to
// ExecutionStore once it finishes.
func (s *Service) Execute(ctx context.Context, workflowID int64, trigger domain.TriggerKind, payload domain.Envelope) (string, error) {
	wf, err := s.Workflows.FindByID(ctx, workflowID)
	if err != nil {
		return "", xerrors.NewConfigError("", "workflowId", fmt.Sprintf("workflow %d: %v", workflowID, err))
	}
	if err := wf.Validate(s.Scheduler.Registry.SupportsLooping); err != nil {
		return "", xerrors.NewConfigError("", "workflow", err.Error())
	}

	executionID := uuid.NewString()
	ec, resultCh := s.Scheduler.Start(ctx, wf, executionID, trigger, payload)

	s.mu.Lock()
	s.running[executionID] = ec
	s.mu.Unlock()

	go func() {
		exec := <-resultCh
		s.mu.Lock()
		delete(s.running, executionID)
		s.mu.Unlock()
		if exec == nil {
			return
		}
		s.persist(context.Background(), exec, ec)
	}()

	return executionID, nil
}

// ExecuteSync runs workflowId and blocks until it finishes or deadline
// elapses, whichever comes first. On deadline elapse the execution keeps
// running in the background (as Execute would leave it) and ExecuteSync
// returns a context.DeadlineExceeded error.
func (s *Service) ExecuteSync(ctx context.Context, workflowID int64, trigger domain.TriggerKind, payload domain.Envelope, deadline time.Time) (ExecutionResult, error) {
	wf, err := s.Workflows.FindByID(ctx, workflowID)
	if err != nil {
		return ExecutionResult{}, xerrors.NewConfigError("", "workflowId", fmt.Sprintf("workflow %d: %v", workflowID, err))
	}
	if err := wf.Validate(s.Scheduler.Registry.SupportsLooping); err != nil {
		return ExecutionResult{}, xerrors.NewConfigError("", "workflow", err.Error())
	}

	executionID := uuid.NewString()
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ec, resultCh := s.Scheduler.Start(ctx, wf, executionID, trigger, payload)
	s.mu.Lock()
	s.running[executionID] = ec
	s.mu.Unlock()

	select {
	case exec := <-resultCh:
		s.mu.Lock()
		delete(s.running, executionID)
		s.mu.Unlock()
		if exec == nil {
			return ExecutionResult{}, fmt.Errorf("executeSync: workflow %d produced no execution", workflowID)
		}
		s.persist(context.Background(), exec, ec)
		return ExecutionResult{ExecutionDTO: exec.ToDTO(), Output: exec.Output}, nil
	case <-waitCtx.Done():
		go func() {
			exec := <-resultCh
			s.mu.Lock()
			delete(s.running, executionID)
			s.mu.Unlock()
			if exec != nil {
				s.persist(context.Background(), exec, ec)
			}
		}()
		return ExecutionResult{}, waitCtx.Err()
	}
}

// Cancel requests cooperative cancellation of a running execution. It is
// a no-op (not an error) if the execution is unknown or already finished,
// matching the "cancel races with completion" case of spec §4.5.
func (s *Service) Cancel(executionID string) {
	s.mu.Lock()
	ec, ok := s.running[executionID]
	s.mu.Unlock()
	if ok {
		scheduler.Cancel(ec)
	}
}

// Status returns the persisted view of an execution.
func (s *Service) Status(ctx context.Context, executionID string) (domain.ExecutionDTO, error) {
	exec, err := s.Executions.FindByID(ctx, executionID)
	if err != nil {
		return domain.ExecutionDTO{}, err
	}
	return exec.ToDTO(), nil
}

func (s *Service) persist(ctx context.Context, exec *domain.Execution, ec *execctx.Context) {
	_ = s.Executions.Save(ctx, exec)
	for _, r := range ec.Records() {
		_ = s.Executions.SaveNodeRecord(ctx, r)
	}
}
