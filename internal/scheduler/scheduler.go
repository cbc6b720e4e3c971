// Package scheduler is the graph-traversal engine (spec §4.5): given a
// workflow snapshot and a trigger envelope, it identifies entry nodes,
// dispatches executors in handle-aware topological order, and honours
// branching, merge, loop, parallel, retry, rate-limit and try/catch
// semantics.
//
// Grounded on the teacher's WorkflowEngine.executeWaves/executeWave
// (semaphore-bounded worker pool) and shouldExecuteNode (conditional-
// edge check), generalized from "one wave per topological layer" to a
// handle-aware dispatch-unit queue with dead-connection detection.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/execctx"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/interp"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// Scheduler runs workflows against a fixed registry, vault, logger and
// settings. A single Scheduler is reused across many executions; all
// per-run state lives in a run (see run.go).
type Scheduler struct {
	Registry *registry.Registry
	Vault    execctx.Vault
	Logger   *logging.Logger
	Settings domain.Settings
}

// New builds a Scheduler from its collaborators.
func New(reg *registry.Registry, vault execctx.Vault, logger *logging.Logger, settings domain.Settings) *Scheduler {
	return &Scheduler{Registry: reg, Vault: vault, Logger: logger, Settings: settings}
}

// dispatchUnit is the traversal's unit of work: a node id plus the
// input it was handed on one or more target handles.
type dispatchUnit struct {
	nodeID        string
	inputByHandle map[string]domain.Envelope
}

// Run executes wf once, starting from trigger's matching entry nodes
// with initial delivered on their main output, and returns the
// completed Execution. The returned error is non-nil only for
// structural failures that prevent the run from starting (e.g. no
// entry node); in-run node failures are reflected in the returned
// Execution's status/error fields, not in the error return.
func (s *Scheduler) Run(ctx context.Context, wf *domain.Workflow, executionID string, trigger domain.TriggerKind, initial domain.Envelope) (*domain.Execution, error) {
	ec := execctx.New(ctx, executionID, wf, s.Vault, s.Logger, s.Settings.ExecutionDefaultTimeout(), s.Settings.ExecutionRetryAttempts(), s.Settings.ExecutionRetryDelay())
	return s.RunWithContext(ctx, wf, executionID, trigger, initial, ec)
}

// Start begins a run in the background and returns its execctx.Context
// immediately (so a caller can Cancel it before it completes) alongside a
// channel that receives the single completed Execution. Grounded on the
// teacher's ExecuteWorkflow, split into a prepare/run pair because the
// teacher's synchronous entry point gives the caller no handle to cancel
// a run already in flight — the Execution API's cancel(executionId)
// (spec §6) needs exactly that handle.
func (s *Scheduler) Start(ctx context.Context, wf *domain.Workflow, executionID string, trigger domain.TriggerKind, initial domain.Envelope) (*execctx.Context, <-chan *domain.Execution) {
	ec := execctx.New(ctx, executionID, wf, s.Vault, s.Logger, s.Settings.ExecutionDefaultTimeout(), s.Settings.ExecutionRetryAttempts(), s.Settings.ExecutionRetryDelay())
	resultCh := make(chan *domain.Execution, 1)
	go func() {
		exec, _ := s.RunWithContext(ctx, wf, executionID, trigger, initial, ec)
		resultCh <- exec
	}()
	return ec, resultCh
}

// RunWithContext is Run against a caller-supplied execctx.Context, so
// Start can hand the caller a cancellable handle before the run finishes.
func (s *Scheduler) RunWithContext(ctx context.Context, wf *domain.Workflow, executionID string, trigger domain.TriggerKind, initial domain.Envelope, ec *execctx.Context) (*domain.Execution, error) {
	exec := &domain.Execution{
		ID:          executionID,
		WorkflowID:  wf.ID,
		Status:      domain.ExecutionRunning,
		TriggerKind: trigger,
		StartedAt:   time.Now(),
	}

	r := newRun(s, wf, ec)

	entryNodes := r.entryNodes()
	if len(entryNodes) == 0 {
		return nil, fmt.Errorf("scheduler: workflow %d has no entry (trigger) node", wf.ID)
	}

	ec.Log("", "info", string(logging.CategoryExecutionStart), fmt.Sprintf("execution started: workflow=%d trigger=%s", wf.ID, trigger), nil)

	for _, n := range entryNodes {
		r.enqueue(dispatchUnit{nodeID: n.ID, inputByHandle: map[string]domain.Envelope{domain.HandleMain: initial}})
	}

	r.drain()

	status := domain.ExecutionSuccess
	errMsg, errNodeID := "", ""
	if ec.IsCancelled() && r.failureErr == nil {
		status = domain.ExecutionCancelled
		ec.Log("", "info", string(logging.CategoryCancel), "execution cancelled", nil)
	} else if r.failureErr != nil {
		status = domain.ExecutionFailed
		errMsg = r.failureErr.Error()
		errNodeID = r.failureNodeID
	}

	exec.Finish(status, errMsg, errNodeID)
	exec.Output = r.finalOutputs()

	if status == domain.ExecutionSuccess {
		ec.Log("", "info", string(logging.CategoryExecutionEnd), fmt.Sprintf("execution completed: duration=%dms", exec.DurationMs), nil)
	} else if status == domain.ExecutionFailed {
		ec.Log(errNodeID, "error", string(logging.CategoryExecutionEnd), fmt.Sprintf("execution failed: %s", errMsg), nil)
	}

	return exec, nil
}

// Cancel requests cooperative cancellation of the execution owning ec.
// Callers hold onto the *execctx.Context that Start returns (internal/api
// keeps one per running execution id).
func Cancel(ec *execctx.Context) { ec.Cancel() }

// entryNodes returns every node whose registered executor is a trigger.
// A node whose type is unregistered is never an entry node; Validate does
// not check types against the registry, so such a node is simply not
// eligible to start the run.
func (r *run) entryNodes() []domain.Node {
	var out []domain.Node
	for _, n := range r.wf.Nodes {
		if n.Disabled {
			continue
		}
		exec, ok := r.sched.Registry.Lookup(n.Type)
		if ok && exec.IsTrigger() {
			out = append(out, n)
		}
	}
	return out
}

// runNode executes one node type against a merged input and returns its
// per-handle outputs, wrapping registry/flow-control failures uniformly.
func (r *run) runNode(ctx context.Context, node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	if handled, outputs, err := r.runFlowControlNode(ctx, node, input); handled {
		return outputs, err
	}

	exec, ok := r.sched.Registry.Lookup(node.Type)
	if !ok {
		return nil, xerrors.NewConfigError(node.ID, "type", fmt.Sprintf("no executor registered for node type %q", node.Type))
	}

	for field, raw := range node.Parameters {
		if s, ok := raw.(string); ok {
			if err := interp.ValidateTemplate(node.ID, field, s); err != nil {
				return nil, err
			}
		}
	}

	result, err := exec.Execute(ctx, r.ec, registry.ExecRequest{Node: node, InputByHandle: input})
	if err != nil {
		return nil, err
	}
	for _, fu := range result.FollowUps {
		r.handleFollowUp(node, fu)
	}
	return result.Outputs, nil
}

// handleFollowUp processes a side-effect an executor reported alongside
// its outputs. None of the internal/builtin executors report any; each
// follow-up that an executor does report is logged and not otherwise
// acted on.
func (r *run) handleFollowUp(node domain.Node, fu registry.FollowUp) {
	r.ec.Log(node.ID, "info", string(logging.CategoryExecutionStart), fmt.Sprintf("follow-up reported: kind=%s", fu.Kind), fu.Data)
}
