// Package execctx holds the per-run mutable state the scheduler builds
// once at execution start and threads through every executor call
// (spec §4.3). It owns the output cache and node-record list; executors
// receive it read-mostly and may only append log records and claim
// their own output slot.
package execctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/interp"
)

// Logger is the narrow surface execctx needs from internal/logging,
// expressed locally so this package never imports logging (which in
// turn never imports execctx — no cycle either direction).
type Logger interface {
	Log(executionID, nodeID, level, category, message string, fields map[string]any)
	// MarkSecret flags a resolved credential's plaintext so every future
	// log record has it scrubbed before reaching a handler.
	MarkSecret(value string)
}

// Vault is the narrow surface execctx needs from
// domain.CredentialVault: lookup by id or by name, each taking a context.
type Vault interface {
	GetByID(ctx context.Context, id int64) (domain.Secret, error)
	GetByName(ctx context.Context, name string) (domain.Secret, error)
}

// Context is one execution's mutable state. All exported methods are
// safe for concurrent use by the scheduler's worker pool.
type Context struct {
	ExecutionID string
	WorkflowID  int64
	Workflow    *domain.Workflow

	StartedAt time.Time
	Deadline  time.Time // zero means no workflow-level deadline

	RetryDefaultAttempts int
	RetryDefaultDelay    time.Duration

	vault    Vault
	logger   Logger
	cancelFn context.CancelFunc
	ctx      context.Context

	mu          sync.Mutex
	outputs     map[string]domain.Envelope            // last output per nodeID, HandleMain view
	outputsFull map[string]map[string]domain.Envelope // nodeID -> handle -> envelope
	records     []*domain.NodeExecutionRecord

	execVars    map[string]any
	workflowVars map[string]any
	globalVars  map[string]any
}

// New constructs a Context for one run of workflow, derived from parent.
// It is cancelled by its Cancel method, by parent's cancellation, or when
// deadline (if positive) elapses.
func New(parent context.Context, executionID string, wf *domain.Workflow, vault Vault, logger Logger, deadline time.Duration, retryAttempts int, retryDelay time.Duration) *Context {
	cctx := parent
	var cancel context.CancelFunc
	if deadline > 0 {
		cctx, cancel = context.WithTimeout(parent, deadline)
	} else {
		cctx, cancel = context.WithCancel(parent)
	}

	c := &Context{
		ExecutionID:          executionID,
		WorkflowID:           wf.ID,
		Workflow:             wf,
		StartedAt:            time.Now(),
		vault:                vault,
		logger:               logger,
		cancelFn:             cancel,
		ctx:                  cctx,
		outputs:              make(map[string]domain.Envelope),
		outputsFull:          make(map[string]map[string]domain.Envelope),
		execVars:             make(map[string]any),
		workflowVars:         make(map[string]any),
		globalVars:           make(map[string]any),
		RetryDefaultAttempts: retryAttempts,
		RetryDefaultDelay:    retryDelay,
	}
	if deadline > 0 {
		c.Deadline = c.StartedAt.Add(deadline)
	}
	return c
}

// Done returns the underlying context's cancellation channel, closed on
// cancel() or workflow-deadline expiry.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Cancel triggers cooperative cancellation.
func (c *Context) Cancel() { c.cancelFn() }

// IsCancelled reports whether Cancel has been called or the deadline
// has elapsed.
func (c *Context) IsCancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// NodeTimeout returns a child context bounded by the node's own timeout
// parameter (if any, via timeoutMs > 0) intersected with the workflow
// deadline already carried by c.ctx.
func (c *Context) NodeTimeout(timeoutMs int) (context.Context, context.CancelFunc) {
	if timeoutMs <= 0 {
		return context.WithCancel(c.ctx)
	}
	return context.WithTimeout(c.ctx, time.Duration(timeoutMs)*time.Millisecond)
}

// SetVariable writes a variable at the given scope for the life of this
// execution. Workflow/global scopes are normally seeded once at
// construction from domain.VariableStore; execution scope is writable
// at runtime (e.g. by a Set node).
func (c *Context) SetVariable(scope domain.VariableScope, name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch scope {
	case domain.ScopeExecution:
		c.execVars[name] = value
	case domain.ScopeWorkflow:
		c.workflowVars[name] = value
	case domain.ScopeGlobal:
		c.globalVars[name] = value
	}
}

// GetVariable resolves name at execution/workflow/global precedence.
func (c *Context) GetVariable(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.execVars[name]; ok {
		return v, true
	}
	if v, ok := c.workflowVars[name]; ok {
		return v, true
	}
	if v, ok := c.globalVars[name]; ok {
		return v, true
	}
	return nil, false
}

// GetCredentialByID resolves a credential via the vault, converting
// vault failures into ExecError so callers treat it uniformly with
// other node-execution failures.
func (c *Context) GetCredentialByID(id int64) (domain.Secret, error) {
	secret, err := c.vault.GetByID(c.ctx, id)
	if err != nil {
		return domain.Secret{}, xerrors.NewExecError("", fmt.Sprintf("credential id %d: %v", id, err), err)
	}
	c.markSecret(secret)
	return secret, nil
}

// GetCredentialByName resolves a credential by symbolic name.
func (c *Context) GetCredentialByName(name string) (domain.Secret, error) {
	secret, err := c.vault.GetByName(c.ctx, name)
	if err != nil {
		return domain.Secret{}, xerrors.NewExecError("", fmt.Sprintf("credential %q: %v", name, err), err)
	}
	c.markSecret(secret)
	return secret, nil
}

// markSecret tells the logger never to emit secret's plaintext verbatim,
// for the lifetime of the logger (spec §8's redaction property).
func (c *Context) markSecret(secret domain.Secret) {
	if c.logger != nil && secret.Value != "" {
		c.logger.MarkSecret(secret.Value)
	}
}

// ResolveCredentialForNode builds an interp.CredentialResolver scoped to
// node's own CredentialRef (spec §9: id wins over name when both are
// set and resolve to different secrets — a warning is logged, not an
// error).
func (c *Context) ResolveCredentialForNode(node domain.Node) interp.CredentialResolver {
	return func(alias string) (domain.Secret, bool) {
		if node.CredentialRef == nil {
			return domain.Secret{}, false
		}
		var byID, byName domain.Secret
		var haveID, haveName bool
		if node.CredentialRef.ID != 0 {
			if s, err := c.GetCredentialByID(node.CredentialRef.ID); err == nil {
				byID, haveID = s, true
			}
		}
		if node.CredentialRef.Name != "" {
			if s, err := c.GetCredentialByName(node.CredentialRef.Name); err == nil {
				byName, haveName = s, true
			}
		}
		switch {
		case haveID && haveName:
			if byID.Value != byName.Value {
				c.Log(node.ID, "warn", "credential", fmt.Sprintf("node %q: credentialId and credential name resolve to different secrets; id wins", node.ID), nil)
			}
			return byID, true
		case haveID:
			return byID, true
		case haveName:
			return byName, true
		default:
			return domain.Secret{}, false
		}
	}
}

// Scope builds an interp.Scope for interpolating node's parameters
// against item, wiring in this execution's variable tiers, node-output
// cache, and credential resolver.
func (c *Context) Scope(node domain.Node, item domain.Item) interp.Scope {
	c.mu.Lock()
	outputsByName := make(map[string]domain.Envelope, len(c.outputs))
	for k, v := range c.outputs {
		outputsByName[k] = v
	}
	execVars := cloneMap(c.execVars)
	workflowVars := cloneMap(c.workflowVars)
	globalVars := cloneMap(c.globalVars)
	c.mu.Unlock()

	return interp.Scope{
		ResolveCredential: c.ResolveCredentialForNode(node),
		ExecutionVars:     execVars,
		WorkflowVars:      workflowVars,
		GlobalVars:        globalVars,
		NodeOutputs:       outputsByName,
		Item:              item,
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RecordOutput stores nodeID's per-handle outputs in the cache. The
// "main" handle (or the first handle if main is absent) becomes the
// value seen by downstream interpolation lookups keyed by node id/name;
// looped nodes overwrite this with their latest iteration, matching
// §4.3's "cache exposes the last iteration" invariant.
func (c *Context) RecordOutput(nodeID string, outputsByHandle map[string]domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	full := c.outputsFull[nodeID]
	if full == nil {
		full = make(map[string]domain.Envelope)
		c.outputsFull[nodeID] = full
	}
	for handle, env := range outputsByHandle {
		full[handle] = env
	}

	if env, ok := outputsByHandle[domain.HandleMain]; ok {
		c.outputs[nodeID] = env
		return
	}
	for _, env := range outputsByHandle {
		c.outputs[nodeID] = env
		return
	}
}

// OutputByHandle returns nodeID's last recorded envelope on handle.
func (c *Context) OutputByHandle(nodeID, handle string) (domain.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	full, ok := c.outputsFull[nodeID]
	if !ok {
		return domain.Envelope{}, false
	}
	env, ok := full[handle]
	return env, ok
}

// AppendRecord appends a completed NodeExecutionRecord. One record per
// (executionID, nodeID, loopIteration); loop iterations are recorded
// separately rather than overwriting each other, per §4.3.
func (c *Context) AppendRecord(r *domain.NodeExecutionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

// Records returns a snapshot of every node-execution record so far.
func (c *Context) Records() []*domain.NodeExecutionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.NodeExecutionRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Log appends a structured record via the wired Logger, tagging it with
// this execution's id.
func (c *Context) Log(nodeID, level, category, message string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(c.ExecutionID, nodeID, level, category, message, fields)
}

