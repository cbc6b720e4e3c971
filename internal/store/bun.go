package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
)

// OpenBunDB opens the Postgres connection BunWorkflowStore and
// BunExecutionStore share, grounded on the teacher's
// internal/infrastructure/storage.NewBunStore.
func OpenBunDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// InitSchema creates every table this package's stores need, if absent.
func InitSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*workflowModel)(nil),
		(*executionModel)(nil),
		(*nodeExecutionRecordModel)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}
	return nil
}

// BunWorkflowStore is a Postgres-backed domain.WorkflowStore, grounded on
// the teacher's internal/infrastructure/storage.BunStore workflow methods.
// Unlike the teacher, whose Workflow/Node/Edge/Trigger are each their own
// table, Workflow here is one flat struct (§3), so one jsonb column per
// row carries the whole node/connection graph rather than a normalized
// schema — the same choice the teacher already makes for
// WorkflowModel.Spec.
type BunWorkflowStore struct {
	db *bun.DB
}

func NewBunWorkflowStore(db *bun.DB) *BunWorkflowStore { return &BunWorkflowStore{db: db} }

type workflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID          int64     `bun:"id,pk"`
	Name        string    `bun:"name"`
	Description string    `bun:"description"`
	Active      bool      `bun:"active"`
	TriggerKind string    `bun:"trigger_kind"`
	Schedule    string    `bun:"schedule"`
	Version     int64     `bun:"version"`
	Spec        []byte    `bun:"spec,type:jsonb"`
	CreatedAt   time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

func newWorkflowModel(w *domain.Workflow) (*workflowModel, error) {
	spec, err := marshalJSON(w)
	if err != nil {
		return nil, err
	}
	return &workflowModel{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Active:      w.Active,
		TriggerKind: string(w.TriggerKind),
		Schedule:    w.Schedule,
		Version:     w.Version,
		Spec:        spec,
	}, nil
}

func (m *workflowModel) toDomain() (*domain.Workflow, error) {
	w := new(domain.Workflow)
	if err := unmarshalJSON(m.Spec, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *BunWorkflowStore) Save(ctx context.Context, w *domain.Workflow) error {
	model, err := newWorkflowModel(w)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunWorkflowStore) FindByID(ctx context.Context, id int64) (*domain.Workflow, error) {
	model := new(workflowModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return model.toDomain()
}

func (s *BunWorkflowStore) ListAll(ctx context.Context) ([]*domain.Workflow, error) {
	var models []workflowModel
	if err := s.db.NewSelect().Model(&models).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Workflow, 0, len(models))
	for i := range models {
		w, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *BunWorkflowStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.NewDelete().Model((*workflowModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// BunExecutionStore is a Postgres-backed domain.ExecutionStore.
type BunExecutionStore struct {
	db *bun.DB
}

func NewBunExecutionStore(db *bun.DB) *BunExecutionStore { return &BunExecutionStore{db: db} }

type executionModel struct {
	bun.BaseModel `bun:"table:executions,alias:e"`

	ID           string     `bun:"id,pk"`
	WorkflowID   int64      `bun:"workflow_id"`
	Status       string     `bun:"status"`
	TriggerKind  string     `bun:"trigger_kind"`
	StartedAt    time.Time  `bun:"started_at"`
	FinishedAt   *time.Time `bun:"finished_at"`
	DurationMs   int64      `bun:"duration_ms"`
	ErrorMessage string     `bun:"error_message"`
	ErrorNodeID  string     `bun:"error_node_id"`
	Output       []byte     `bun:"output,type:jsonb"`
}

func newExecutionModel(e *domain.Execution) (*executionModel, error) {
	output, err := marshalJSON(e.Output)
	if err != nil {
		return nil, err
	}
	return &executionModel{
		ID:           e.ID,
		WorkflowID:   e.WorkflowID,
		Status:       string(e.Status),
		TriggerKind:  string(e.TriggerKind),
		StartedAt:    e.StartedAt,
		FinishedAt:   e.FinishedAt,
		DurationMs:   e.DurationMs,
		ErrorMessage: e.ErrorMessage,
		ErrorNodeID:  e.ErrorNodeID,
		Output:       output,
	}, nil
}

func (m *executionModel) toDomain() (*domain.Execution, error) {
	var output map[string]domain.Envelope
	if len(m.Output) > 0 {
		if err := unmarshalJSON(m.Output, &output); err != nil {
			return nil, err
		}
	}
	return &domain.Execution{
		ID:           m.ID,
		WorkflowID:   m.WorkflowID,
		Status:       domain.ExecutionStatus(m.Status),
		TriggerKind:  domain.TriggerKind(m.TriggerKind),
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		DurationMs:   m.DurationMs,
		ErrorMessage: m.ErrorMessage,
		ErrorNodeID:  m.ErrorNodeID,
		Output:       output,
	}, nil
}

func (s *BunExecutionStore) Save(ctx context.Context, e *domain.Execution) error {
	model, err := newExecutionModel(e)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunExecutionStore) FindByID(ctx context.Context, id string) (*domain.Execution, error) {
	model := new(executionModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return model.toDomain()
}

func (s *BunExecutionStore) FindByWorkflow(ctx context.Context, workflowID int64) ([]*domain.Execution, error) {
	var models []executionModel
	err := s.db.NewSelect().Model(&models).Where("workflow_id = ?", workflowID).Order("started_at DESC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Execution, 0, len(models))
	for i := range models {
		e, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *BunExecutionStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.NewDelete().Model((*executionModel)(nil)).Where("1 = 1").Exec(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().Model((*nodeExecutionRecordModel)(nil)).Where("1 = 1").Exec(ctx)
	return err
}

type nodeExecutionRecordModel struct {
	bun.BaseModel `bun:"table:node_execution_records,alias:r"`

	SeqID         int64      `bun:"seq_id,pk,autoincrement"`
	ExecutionID   string     `bun:"execution_id"`
	NodeID        string     `bun:"node_id"`
	LoopIteration *int       `bun:"loop_iteration"`
	State         string     `bun:"state"`
	StartedAt     time.Time  `bun:"started_at"`
	FinishedAt    *time.Time `bun:"finished_at"`
	Error         string     `bun:"error"`
	Input         []byte     `bun:"input,type:jsonb"`
	Output        []byte     `bun:"output,type:jsonb"`
}

func newNodeExecutionRecordModel(r *domain.NodeExecutionRecord) (*nodeExecutionRecordModel, error) {
	input, err := marshalJSON(r.Input)
	if err != nil {
		return nil, err
	}
	output, err := marshalJSON(r.Output)
	if err != nil {
		return nil, err
	}
	return &nodeExecutionRecordModel{
		ExecutionID:   r.ExecutionID,
		NodeID:        r.NodeID,
		LoopIteration: r.LoopIteration,
		State:         string(r.State),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Error:         r.Error,
		Input:         input,
		Output:        output,
	}, nil
}

func (s *BunExecutionStore) SaveNodeRecord(ctx context.Context, r *domain.NodeExecutionRecord) error {
	model, err := newNodeExecutionRecordModel(r)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

// Ping reports whether the shared connection is reachable.
func Ping(ctx context.Context, db *bun.DB) error { return db.PingContext(ctx) }
