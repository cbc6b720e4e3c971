package execctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
)

type stubVault struct {
	byID   map[int64]domain.Secret
	byName map[string]domain.Secret
}

func (v stubVault) GetByID(ctx context.Context, id int64) (domain.Secret, error) {
	s, ok := v.byID[id]
	if !ok {
		return domain.Secret{}, assert.AnError
	}
	return s, nil
}

func (v stubVault) GetByName(ctx context.Context, name string) (domain.Secret, error) {
	s, ok := v.byName[name]
	if !ok {
		return domain.Secret{}, assert.AnError
	}
	return s, nil
}

type stubLogger struct {
	records []string
	secrets []string
}

func (l *stubLogger) Log(executionID, nodeID, level, category, message string, fields map[string]any) {
	l.records = append(l.records, message)
}

func (l *stubLogger) MarkSecret(value string) {
	l.secrets = append(l.secrets, value)
}

func newTestContext() (*Context, *stubLogger) {
	wf := &domain.Workflow{ID: 1, Name: "wf"}
	vault := stubVault{
		byID:   map[int64]domain.Secret{7: domain.NewSecret(7, "openai", "sk-live")},
		byName: map[string]domain.Secret{"openai": domain.NewSecret(7, "openai", "sk-live")},
	}
	logger := &stubLogger{}
	c := New(context.Background(), "exec-1", wf, vault, logger, 0, 3, 100*time.Millisecond)
	return c, logger
}

func TestVariablePrecedence(t *testing.T) {
	c, _ := newTestContext()
	c.SetVariable(domain.ScopeGlobal, "name", "global-val")
	c.SetVariable(domain.ScopeWorkflow, "name", "workflow-val")
	c.SetVariable(domain.ScopeExecution, "name", "execution-val")

	v, ok := c.GetVariable("name")
	require.True(t, ok)
	assert.Equal(t, "execution-val", v)
}

func TestRecordOutputMainHandleFeedsCache(t *testing.T) {
	c, _ := newTestContext()
	env := domain.NewEnvelope(domain.Item{"x": 1})
	c.RecordOutput("node1", map[string]domain.Envelope{domain.HandleMain: env})

	got, ok := c.OutputByHandle("node1", domain.HandleMain)
	require.True(t, ok)
	assert.Equal(t, env, got)

	scope := c.Scope(domain.Node{ID: "node2"}, nil)
	outEnv, ok := scope.NodeOutputs["node1"]
	require.True(t, ok)
	assert.Equal(t, 1, outEnv.First()["x"])
}

func TestCredentialIDWinsOverName(t *testing.T) {
	c, logger := newTestContext()
	node := domain.Node{ID: "n1", CredentialRef: &domain.CredentialRef{ID: 7, Name: "openai"}}
	resolver := c.ResolveCredentialForNode(node)

	secret, ok := resolver("anything")
	require.True(t, ok)
	assert.Equal(t, "sk-live", secret.Value)
	assert.Empty(t, logger.records) // values agree, no warning expected
}

func TestResolveCredentialMarksSecretOnLogger(t *testing.T) {
	c, logger := newTestContext()
	node := domain.Node{ID: "n1", CredentialRef: &domain.CredentialRef{ID: 7}}
	resolver := c.ResolveCredentialForNode(node)

	secret, ok := resolver("anything")
	require.True(t, ok)
	assert.Equal(t, "sk-live", secret.Value)
	require.Contains(t, logger.secrets, "sk-live")
}

func TestIsCancelledAfterCancel(t *testing.T) {
	c, _ := newTestContext()
	assert.False(t, c.IsCancelled())
	c.Cancel()
	assert.True(t, c.IsCancelled())
}

