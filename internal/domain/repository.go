package domain

import (
	"context"
	"time"
)

// WorkflowStore is the narrow persistence contract for workflow
// definitions (§6). The core reads at execution start; it never writes
// workflow definitions.
type WorkflowStore interface {
	FindByID(ctx context.Context, id int64) (*Workflow, error)
	ListAll(ctx context.Context) ([]*Workflow, error)
	Save(ctx context.Context, w *Workflow) error
	Delete(ctx context.Context, id int64) error
}

// ExecutionStore persists the envelope of each run and each node record.
type ExecutionStore interface {
	Save(ctx context.Context, e *Execution) error
	SaveNodeRecord(ctx context.Context, r *NodeExecutionRecord) error
	FindByWorkflow(ctx context.Context, workflowID int64) ([]*Execution, error)
	FindByID(ctx context.Context, id string) (*Execution, error)
	DeleteAll(ctx context.Context) error
}

// CredentialVault returns plaintext secrets on demand; the core never
// persists or caches what it returns.
type CredentialVault interface {
	GetByID(ctx context.Context, id int64) (Secret, error)
	GetByName(ctx context.Context, name string) (Secret, error)
}

// VariableStore resolves variables at the three scope tiers and lets the
// execution tier be written back to (e.g. by a Set node targeting
// execution scope).
type VariableStore interface {
	GetGlobal(ctx context.Context, name string) (Variable, bool)
	GetWorkflow(ctx context.Context, workflowID int64, name string) (Variable, bool)
	GetExecution(ctx context.Context, executionID, name string) (Variable, bool)
	SetExecution(ctx context.Context, executionID, name string, value Variable) error
}

// Settings exposes typed gets for the execution-core tunables of §6.
type Settings interface {
	ExecutionDefaultTimeout() time.Duration
	ExecutionMaxParallel() int
	ExecutionRetryAttempts() int
	ExecutionRetryDelay() time.Duration
	HTTPConnectTimeout() time.Duration
	HTTPReadTimeout() time.Duration
	ProviderAPIKeyRef(provider string) string
	ExecutionLogLevel() string
	ExecutionLogIncludeContext() bool
}

// PluginRegistry supplies additional executors discovered out-of-core at
// startup; once startup completes the registry it feeds is frozen.
type PluginRegistry interface {
	DiscoverExecutors() ([]any, error)
}
