package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/api"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/scheduler"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/store"
)

type fixedSettings struct{}

func (fixedSettings) ExecutionDefaultTimeout() time.Duration { return 2 * time.Second }
func (fixedSettings) ExecutionMaxParallel() int               { return 4 }
func (fixedSettings) ExecutionRetryAttempts() int              { return 1 }
func (fixedSettings) ExecutionRetryDelay() time.Duration       { return time.Millisecond }
func (fixedSettings) HTTPConnectTimeout() time.Duration        { return time.Second }
func (fixedSettings) HTTPReadTimeout() time.Duration           { return time.Second }
func (fixedSettings) ProviderAPIKeyRef(provider string) string { return "" }
func (fixedSettings) ExecutionLogLevel() string                { return "debug" }
func (fixedSettings) ExecutionLogIncludeContext() bool         { return true }

type noVault struct{}

func (noVault) GetByID(ctx context.Context, id int64) (domain.Secret, error) {
	return domain.Secret{}, assert.AnError
}
func (noVault) GetByName(ctx context.Context, name string) (domain.Secret, error) {
	return domain.Secret{}, assert.AnError
}

type manualTrigger struct{}

func (manualTrigger) Type() string                { return "manualTrigger" }
func (manualTrigger) Category() registry.Category { return registry.CategoryTrigger }
func (manualTrigger) Handles() registry.HandleSet {
	return registry.HandleSet{Outputs: []string{domain.HandleMain}}
}
func (manualTrigger) IsTrigger() bool          { return true }
func (manualTrigger) SupportsLooping() bool    { return false }
func (manualTrigger) RequiresCredential() bool { return false }
func (manualTrigger) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: req.InputByHandle[domain.HandleMain]}}}, nil
}

func newService(t *testing.T) (*api.Service, domain.WorkflowStore) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(manualTrigger{}))
	reg.Freeze()

	sched := scheduler.New(reg, noVault{}, logging.New(), fixedSettings{})
	workflows := store.NewMemoryWorkflowStore()
	executions := store.NewMemoryExecutionStore()
	return api.New(workflows, executions, sched), workflows
}

func TestExecuteSyncRunsAndPersists(t *testing.T) {
	svc, workflows := newService(t)
	ctx := context.Background()
	wf := &domain.Workflow{
		ID:          1,
		TriggerKind: domain.TriggerManual,
		Nodes:       []domain.Node{{ID: "t1", Type: "manualTrigger"}},
	}
	require.NoError(t, workflows.Save(ctx, wf))

	result, err := svc.ExecuteSync(ctx, 1, domain.TriggerManual, domain.NewEnvelope(domain.Item{"x": 1}), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, result.Status)

	status, err := svc.Status(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, status.Status)
}

func TestExecuteReturnsIDImmediatelyAndPersistsEventually(t *testing.T) {
	svc, workflows := newService(t)
	ctx := context.Background()
	wf := &domain.Workflow{ID: 2, TriggerKind: domain.TriggerManual, Nodes: []domain.Node{{ID: "t1", Type: "manualTrigger"}}}
	require.NoError(t, workflows.Save(ctx, wf))

	executionID, err := svc.Execute(ctx, 2, domain.TriggerManual, domain.NewEnvelope(domain.Item{}))
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	require.Eventually(t, func() bool {
		_, err := svc.Status(ctx, executionID)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestExecuteUnknownWorkflowErrors(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Execute(context.Background(), 999, domain.TriggerManual, domain.NewEnvelope())
	assert.Error(t, err)
}

func TestCancelUnknownExecutionIsNoOp(t *testing.T) {
	svc, _ := newService(t)
	svc.Cancel("does-not-exist")
}
