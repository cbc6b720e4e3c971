package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// testSettings is a fixed-value domain.Settings for scheduler tests.
type testSettings struct{}

func (testSettings) ExecutionDefaultTimeout() time.Duration { return 2 * time.Second }
func (testSettings) ExecutionMaxParallel() int               { return 4 }
func (testSettings) ExecutionRetryAttempts() int              { return 3 }
func (testSettings) ExecutionRetryDelay() time.Duration       { return time.Millisecond }
func (testSettings) HTTPConnectTimeout() time.Duration        { return time.Second }
func (testSettings) HTTPReadTimeout() time.Duration           { return time.Second }
func (testSettings) ProviderAPIKeyRef(provider string) string { return "" }
func (testSettings) ExecutionLogLevel() string                { return "debug" }
func (testSettings) ExecutionLogIncludeContext() bool         { return true }

// emptyVault errors on every lookup; tests that don't need credentials
// use it.
type emptyVault struct{}

func (emptyVault) GetByID(ctx context.Context, id int64) (domain.Secret, error) {
	return domain.Secret{}, assert.AnError
}

func (emptyVault) GetByName(ctx context.Context, name string) (domain.Secret, error) {
	return domain.Secret{}, assert.AnError
}

// triggerExecutor is a manual-trigger stub: it just re-emits whatever
// envelope the run seeds it with on "main".
type triggerExecutor struct{}

func (triggerExecutor) Type() string                   { return "manualTrigger" }
func (triggerExecutor) Category() registry.Category    { return registry.CategoryTrigger }
func (triggerExecutor) Handles() registry.HandleSet     { return registry.HandleSet{Outputs: []string{domain.HandleMain}} }
func (triggerExecutor) IsTrigger() bool                 { return true }
func (triggerExecutor) SupportsLooping() bool           { return false }
func (triggerExecutor) RequiresCredential() bool         { return false }
func (triggerExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: req.InputByHandle[domain.HandleMain]}}}, nil
}

// passThroughExecutor re-emits its main input unchanged, tagging the
// item with its own node type so tests can tell which nodes ran.
type passThroughExecutor struct {
	typeName string
	tag      string
}

func (e passThroughExecutor) Type() string                { return e.typeName }
func (passThroughExecutor) Category() registry.Category   { return registry.CategoryAction }
func (passThroughExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (passThroughExecutor) IsTrigger() bool         { return false }
func (passThroughExecutor) SupportsLooping() bool   { return false }
func (passThroughExecutor) RequiresCredential() bool { return false }
func (e passThroughExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	env := req.InputByHandle[domain.HandleMain]
	out := env.Clone()
	for _, item := range out.Items {
		item["visited_"+e.tag] = true
	}
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: out}}}, nil
}

// failingExecutor always fails with a retryable error the first
// failCount times, then succeeds.
type failingExecutor struct {
	typeName  string
	failCount int
	calls     *int
}

func (e failingExecutor) Type() string                { return e.typeName }
func (failingExecutor) Category() registry.Category   { return registry.CategoryAction }
func (failingExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (failingExecutor) IsTrigger() bool         { return false }
func (failingExecutor) SupportsLooping() bool   { return false }
func (failingExecutor) RequiresCredential() bool { return false }
func (e failingExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	*e.calls++
	if *e.calls <= e.failCount {
		return registry.Result{}, xerrors.NewExecError(e.typeName, "transient failure", nil)
	}
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: req.InputByHandle[domain.HandleMain]}}}, nil
}

// countingExecutor is a passthrough that counts how many times it ran,
// for asserting loop-iteration and dead-branch dispatch counts.
type countingExecutor struct {
	typeName string
	calls    *int
	mu       *sync.Mutex
}

func (e countingExecutor) Type() string                { return e.typeName }
func (countingExecutor) Category() registry.Category   { return registry.CategoryAction }
func (countingExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (countingExecutor) IsTrigger() bool          { return false }
func (countingExecutor) SupportsLooping() bool    { return true }
func (countingExecutor) RequiresCredential() bool { return false }
func (e countingExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	e.mu.Lock()
	*e.calls++
	e.mu.Unlock()
	env := req.InputByHandle[domain.HandleMain]
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: env}}}, nil
}

// orderExecutor records its own tag into a shared, mutex-guarded order
// slice after an optional delay, then passes its input through
// unchanged — used to observe the relative timing of fan-out completion.
type orderExecutor struct {
	typeName string
	tag      string
	delay    time.Duration
	mu       *sync.Mutex
	order    *[]string
}

func (e orderExecutor) Type() string                { return e.typeName }
func (orderExecutor) Category() registry.Category   { return registry.CategoryAction }
func (orderExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (orderExecutor) IsTrigger() bool          { return false }
func (orderExecutor) SupportsLooping() bool    { return false }
func (orderExecutor) RequiresCredential() bool { return false }
func (e orderExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	*e.order = append(*e.order, e.tag)
	e.mu.Unlock()
	env := req.InputByHandle[domain.HandleMain]
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: env}}}, nil
}

func newTestScheduler(t *testing.T, execs ...registry.Executor) *Scheduler {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(triggerExecutor{}))
	for _, e := range execs {
		require.NoError(t, reg.Register(e))
	}
	reg.Freeze()
	return New(reg, emptyVault{}, logging.New(), testSettings{})
}

func conn(id, fromNode, fromHandle, toNode, toHandle string) domain.Connection {
	return domain.Connection{ID: id, SourceNodeID: fromNode, SourceHandle: fromHandle, TargetNodeID: toNode, TargetHandle: toHandle}
}

func TestRunSimpleLinearWorkflow(t *testing.T) {
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "a1", Type: "passthrough"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "a1", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t, passThroughExecutor{typeName: "passthrough", tag: "a1"})
	exec, err := sched.Run(context.Background(), wf, "exec-1", domain.TriggerManual, domain.NewEnvelope(domain.Item{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	out, ok := exec.Output["a1"]
	require.True(t, ok)
	require.Len(t, out.Items, 1)
	assert.Equal(t, true, out.Items[0]["visited_a1"])
}

func TestRunIfBranchSkipsFalseSide(t *testing.T) {
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "cond", Type: "if", Parameters: map[string]any{"condition": "temperature > 30"}},
			{ID: "hot", Type: "passthrough"},
			{ID: "normal", Type: "passthrough"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "cond", domain.HandleMain),
			conn("c2", "cond", domain.HandleTrue, "hot", domain.HandleMain),
			conn("c3", "cond", domain.HandleFalse, "normal", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t,
		passThroughExecutor{typeName: "passthrough", tag: "visited"},
	)
	exec, err := sched.Run(context.Background(), wf, "exec-2", domain.TriggerManual, domain.NewEnvelope(domain.Item{"temperature": 35}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	_, hotRan := exec.Output["hot"]
	_, normalRan := exec.Output["normal"]
	assert.True(t, hotRan)
	assert.False(t, normalRan)
}

func TestRunRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "r1", Type: "retry", Parameters: map[string]any{"targetNodeId": "flaky", "maxAttempts": 3, "delayMs": 1}},
			{ID: "flaky", Type: "flaky"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "r1", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t, failingExecutor{typeName: "flaky", failCount: 2, calls: &calls})
	exec, err := sched.Run(context.Background(), wf, "exec-3", domain.TriggerManual, domain.NewEnvelope(domain.Item{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	assert.Equal(t, 3, calls)
}

func TestRunTryCatchRoutesErrorToCatchHandle(t *testing.T) {
	calls := 0
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "tc", Type: "tryCatch", Parameters: map[string]any{"targetNodeId": "always-fails"}},
			{ID: "always-fails", Type: "alwaysFails"},
			{ID: "caught", Type: "passthrough"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "tc", domain.HandleMain),
			conn("c2", "tc", domain.HandleCatch, "caught", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t,
		failingExecutor{typeName: "alwaysFails", failCount: 1000, calls: &calls},
		passThroughExecutor{typeName: "passthrough", tag: "caught"},
	)
	exec, err := sched.Run(context.Background(), wf, "exec-4", domain.TriggerManual, domain.NewEnvelope(domain.Item{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	out, ok := exec.Output["caught"]
	require.True(t, ok)
	require.Len(t, out.Items, 1)
	assert.Equal(t, true, out.Items[0]["error"])
}

func TestRunNoEntryNodeReturnsError(t *testing.T) {
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes:       []domain.Node{{ID: "a1", Type: "passthrough"}},
	}
	sched := newTestScheduler(t, passThroughExecutor{typeName: "passthrough", tag: "a1"})
	_, err := sched.Run(context.Background(), wf, "exec-5", domain.TriggerManual, domain.Envelope{})
	require.Error(t, err)
}

// TestRunExclusiveBranchMergeIgnoresDeadConnection exercises spec §4.5's
// exclusive-branch rule: a merge(waitForAll=true) fed by both handles of
// an if must not wait forever on the branch the if never took — only the
// live branch's connection counts toward "all delivered".
func TestRunExclusiveBranchMergeIgnoresDeadConnection(t *testing.T) {
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "cond", Type: "if", Parameters: map[string]any{"condition": "temperature > 30"}},
			{ID: "merge", Type: "merge", Parameters: map[string]any{"waitForAll": true, "mode": "concat"}},
			{ID: "final", Type: "passthrough"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "cond", domain.HandleMain),
			conn("c2", "cond", domain.HandleTrue, "merge", domain.HandleMain),
			conn("c3", "cond", domain.HandleFalse, "merge", domain.HandleMain),
			conn("c4", "merge", domain.HandleMain, "final", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t, passThroughExecutor{typeName: "passthrough", tag: "final"})
	exec, err := sched.Run(context.Background(), wf, "exec-6", domain.TriggerManual, domain.NewEnvelope(domain.Item{"temperature": 10}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	out, ok := exec.Output["final"]
	require.True(t, ok)
	require.Len(t, out.Items, 1)
	assert.Equal(t, true, out.Items[0]["visited_final"])
}

func TestRunLoopDispatchesOneIterationPerItem(t *testing.T) {
	var calls int
	var mu sync.Mutex
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "loop", Type: "loop", Parameters: map[string]any{"itemsField": "items"}},
			{ID: "iter", Type: "iterType"},
			{ID: "after", Type: "passthrough"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "loop", domain.HandleMain),
			conn("c2", "loop", domain.HandleMain, "iter", domain.HandleMain),
			conn("c3", "loop", domain.HandleDone, "after", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t,
		countingExecutor{typeName: "iterType", calls: &calls, mu: &mu},
		passThroughExecutor{typeName: "passthrough", tag: "after"},
	)
	items := []any{map[string]any{"x": 1}, map[string]any{"x": 2}, map[string]any{"x": 3}}
	exec, err := sched.Run(context.Background(), wf, "exec-7", domain.TriggerManual, domain.NewEnvelope(domain.Item{"items": items}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	assert.Equal(t, 3, calls)
	out, ok := exec.Output["after"]
	require.True(t, ok)
	assert.Len(t, out.Items, 3)
}

// TestRunLoopEmptyArrayDispatchesNoIterations covers the empty-array
// boundary: "done" must still fire with zero items, and the per-
// iteration branch must never run.
func TestRunLoopEmptyArrayDispatchesNoIterations(t *testing.T) {
	var calls int
	var mu sync.Mutex
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "loop", Type: "loop", Parameters: map[string]any{"itemsField": "items"}},
			{ID: "iter", Type: "iterType"},
			{ID: "after", Type: "passthrough"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "loop", domain.HandleMain),
			conn("c2", "loop", domain.HandleMain, "iter", domain.HandleMain),
			conn("c3", "loop", domain.HandleDone, "after", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t,
		countingExecutor{typeName: "iterType", calls: &calls, mu: &mu},
		passThroughExecutor{typeName: "passthrough", tag: "after"},
	)
	exec, err := sched.Run(context.Background(), wf, "exec-8", domain.TriggerManual, domain.NewEnvelope(domain.Item{"items": []any{}}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	assert.Equal(t, 0, calls)
	out, ok := exec.Output["after"]
	require.True(t, ok)
	assert.Len(t, out.Items, 0)
}

// TestRunParallelWaitForAllFalseFiresDoneAfterFirstBranch exercises the
// parallel fan-out timing property: with waitForAll=false, "done" fires
// once the fastest branch completes, not after the slow one.
func TestRunParallelWaitForAllFalseFiresDoneAfterFirstBranch(t *testing.T) {
	var mu sync.Mutex
	var order []string
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "par", Type: "parallel", Parameters: map[string]any{"waitForAll": false}},
			{ID: "fast", Type: "fastBranch"},
			{ID: "slow", Type: "slowBranch"},
			{ID: "done", Type: "doneBranch"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "par", domain.HandleMain),
			conn("c2", "par", domain.HandleMain, "fast", domain.HandleMain),
			conn("c3", "par", domain.HandleMain, "slow", domain.HandleMain),
			conn("c4", "par", domain.HandleDone, "done", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t,
		orderExecutor{typeName: "fastBranch", tag: "fast", mu: &mu, order: &order},
		orderExecutor{typeName: "slowBranch", tag: "slow", delay: 75 * time.Millisecond, mu: &mu, order: &order},
		orderExecutor{typeName: "doneBranch", tag: "done", mu: &mu, order: &order},
	)
	exec, err := sched.Run(context.Background(), wf, "exec-9", domain.TriggerManual, domain.NewEnvelope(domain.Item{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)

	mu.Lock()
	defer mu.Unlock()
	doneIdx, slowIdx := indexOf(order, "done"), indexOf(order, "slow")
	require.GreaterOrEqual(t, doneIdx, 0)
	require.GreaterOrEqual(t, slowIdx, 0)
	assert.Less(t, doneIdx, slowIdx, "done should fire before the slow branch finishes when waitForAll=false, got order %v", order)
}

// TestRunParallelWaitForAllTrueWaitsForSlowestBranch is the waitForAll=true
// counterpart: "done" must not fire until every branch, including the
// slow one, has completed.
func TestRunParallelWaitForAllTrueWaitsForSlowestBranch(t *testing.T) {
	var mu sync.Mutex
	var order []string
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "par", Type: "parallel", Parameters: map[string]any{"waitForAll": true}},
			{ID: "fast", Type: "fastBranch"},
			{ID: "slow", Type: "slowBranch"},
			{ID: "done", Type: "doneBranch"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "par", domain.HandleMain),
			conn("c2", "par", domain.HandleMain, "fast", domain.HandleMain),
			conn("c3", "par", domain.HandleMain, "slow", domain.HandleMain),
			conn("c4", "par", domain.HandleDone, "done", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t,
		orderExecutor{typeName: "fastBranch", tag: "fast", mu: &mu, order: &order},
		orderExecutor{typeName: "slowBranch", tag: "slow", delay: 75 * time.Millisecond, mu: &mu, order: &order},
		orderExecutor{typeName: "doneBranch", tag: "done", mu: &mu, order: &order},
	)
	exec, err := sched.Run(context.Background(), wf, "exec-10", domain.TriggerManual, domain.NewEnvelope(domain.Item{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)

	mu.Lock()
	defer mu.Unlock()
	doneIdx, slowIdx := indexOf(order, "done"), indexOf(order, "slow")
	require.GreaterOrEqual(t, doneIdx, 0)
	require.GreaterOrEqual(t, slowIdx, 0)
	assert.Greater(t, doneIdx, slowIdx, "done should wait for the slow branch when waitForAll=true, got order %v", order)
}

// TestRunRetryStopsAtMaxAttempts covers the retry upper bound: a node
// that never succeeds is run exactly maxAttempts times, then the
// execution fails rather than retrying forever.
func TestRunRetryStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes: []domain.Node{
			{ID: "t1", Type: "manualTrigger"},
			{ID: "r1", Type: "retry", Parameters: map[string]any{"targetNodeId": "alwaysFails", "maxAttempts": 3, "delayMs": 1}},
			{ID: "alwaysFails", Type: "alwaysFails"},
		},
		Connections: []domain.Connection{
			conn("c1", "t1", domain.HandleMain, "r1", domain.HandleMain),
		},
	}

	sched := newTestScheduler(t, failingExecutor{typeName: "alwaysFails", failCount: 1000, calls: &calls})
	exec, err := sched.Run(context.Background(), wf, "exec-11", domain.TriggerManual, domain.NewEnvelope(domain.Item{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, exec.Status)
	assert.Equal(t, 3, calls)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
