package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/store"
)

func TestMemoryWorkflowStoreRoundTrips(t *testing.T) {
	s := store.NewMemoryWorkflowStore()
	ctx := context.Background()

	wf := &domain.Workflow{ID: 1, Name: "weather", Active: true}
	require.NoError(t, s.Save(ctx, wf))

	got, err := s.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "weather", got.Name)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Delete(ctx, 1))
	_, err = s.FindByID(ctx, 1)
	assert.Error(t, err)
}

func TestMemoryWorkflowStoreSaveClonesInput(t *testing.T) {
	s := store.NewMemoryWorkflowStore()
	ctx := context.Background()
	wf := &domain.Workflow{ID: 1, Name: "original"}
	require.NoError(t, s.Save(ctx, wf))
	wf.Name = "mutated-after-save"

	got, err := s.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Name)
}

func TestMemoryExecutionStoreRoundTrips(t *testing.T) {
	s := store.NewMemoryExecutionStore()
	ctx := context.Background()

	exec := &domain.Execution{ID: "ex-1", WorkflowID: 1, Status: domain.ExecutionStatus("running"), StartedAt: time.Now()}
	require.NoError(t, s.Save(ctx, exec))

	record := &domain.NodeExecutionRecord{ExecutionID: "ex-1", NodeID: "n1", State: domain.NodeRunState("success")}
	require.NoError(t, s.SaveNodeRecord(ctx, record))

	got, err := s.FindByID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.WorkflowID)

	byWorkflow, err := s.FindByWorkflow(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 1)

	records := s.NodeRecordsFor("ex-1")
	require.Len(t, records, 1)
	assert.Equal(t, "n1", records[0].NodeID)

	require.NoError(t, s.DeleteAll(ctx))
	_, err = s.FindByID(ctx, "ex-1")
	assert.Error(t, err)
	assert.Empty(t, s.NodeRecordsFor("ex-1"))
}
