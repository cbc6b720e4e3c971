// Package registry maps a nodeType string to the Executor that
// implements it (spec §4.2). Built-ins register themselves at process
// start; plugin-contributed executors are added after plugin discovery.
// The registry refuses to run with an ambiguous mapping: a duplicate
// type is rejected at registration time.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/interp"
)

// Category tags an executor for editor/palette purposes; the scheduler
// itself only cares about IsTrigger and SupportsLooping.
type Category string

const (
	CategoryTrigger     Category = "trigger"
	CategoryAction      Category = "action"
	CategoryFlow        Category = "flow"
	CategoryData        Category = "data"
	CategoryAI          Category = "ai"
	CategoryIntegration Category = "integration"
	CategoryUtility     Category = "utility"
)

// HandleSet declares the input/output handle ids an executor exposes.
type HandleSet struct {
	Inputs  []string
	Outputs []string
}

// Output is one (handle, envelope) pair produced by an executor.
type Output struct {
	Handle   string
	Envelope domain.Envelope
}

// FollowUp is a side-effect an executor reports alongside its outputs.
// The scheduler logs each one and does not re-enqueue work for it; loop,
// parallel and retry are run by the scheduler itself.
type FollowUp struct {
	Kind string // "loop-iteration" | "retry-attempt" | "parallel-branch"
	Data map[string]any
}

// Result is what Execute returns.
type Result struct {
	Outputs   []Output
	FollowUps []FollowUp
}

// ExecRequest bundles the node and its merged input-by-handle to keep
// Execute's signature stable even as richer request fields are added.
type ExecRequest struct {
	Node          domain.Node
	InputByHandle map[string]domain.Envelope
}

// ExecutionContext is the minimal surface an executor needs from
// internal/execctx, expressed as an interface here so executors do not
// import execctx; the scheduler passes its *execctx.Context in.
type ExecutionContext interface {
	GetVariable(name string) (any, bool)
	GetCredentialByID(id int64) (domain.Secret, error)
	GetCredentialByName(name string) (domain.Secret, error)
	// Scope builds the four-tier interpolation scope of spec §4.1 for
	// node, layering in item, the run's variable tiers, the node-output
	// cache, and a credential resolver scoped to node's own
	// CredentialRef. Executors must use this instead of hand-building
	// an interp.Scope so templates can reference credentials/variables/
	// node outputs, not just the current item.
	Scope(node domain.Node, item domain.Item) interp.Scope
	IsCancelled() bool
	Done() <-chan struct{}
}

// Executor is the uniform operation contract of spec §4.2.
type Executor interface {
	// Type returns the nodeType string this executor handles.
	Type() string
	// Category tags the executor for editor/palette purposes.
	Category() Category
	// Handles declares input/output handle ids.
	Handles() HandleSet
	// IsTrigger reports whether this executor may be an entry node.
	IsTrigger() bool
	// SupportsLooping reports whether this executor closes cycles safely.
	SupportsLooping() bool
	// RequiresCredential reports whether execution needs a resolved credential.
	RequiresCredential() bool
	// Execute runs the node against req, returning per-handle outputs and
	// any follow-ups for the scheduler to log.
	Execute(ctx context.Context, execCtx ExecutionContext, req ExecRequest) (Result, error)
}

// Registry holds the nodeType → Executor mapping. It is safe for
// concurrent Lookup once Freeze has been called; Register is not
// expected to run concurrently with Lookup (registration happens at
// startup, before any execution begins).
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Executor
	frozen bool
}

// New creates an empty, unfrozen registry.
func New() *Registry {
	return &Registry{byType: make(map[string]Executor)}
}

// Register adds executor under its own Type(). A duplicate type, or a
// registration attempted after Freeze, is rejected with an error — the
// core refuses to run with an ambiguous registry.
func (r *Registry) Register(executor Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry: cannot register %q after startup has frozen the registry", executor.Type())
	}
	if _, exists := r.byType[executor.Type()]; exists {
		return fmt.Errorf("registry: duplicate node type %q", executor.Type())
	}
	r.byType[executor.Type()] = executor
	return nil
}

// Freeze is called once plugin discovery completes; no further
// registrations are accepted afterward.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the executor for nodeType, or false if none is
// registered.
func (r *Registry) Lookup(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[nodeType]
	return e, ok
}

// ListTypes returns every registered node type.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}

// SupportsLooping reports whether nodeType's executor supports looping,
// used by domain.Workflow.Validate's cycle check. Unknown types report
// false (no executor ⇒ no looping guarantee).
func (r *Registry) SupportsLooping(nodeType string) bool {
	e, ok := r.Lookup(nodeType)
	return ok && e.SupportsLooping()
}
