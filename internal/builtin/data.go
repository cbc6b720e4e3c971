package builtin

import (
	"fmt"
	"context"
	"sort"

	"github.com/expr-lang/expr"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/interp"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// CodeExecutor evaluates node.Parameters["expression"] (an expr-lang
// expression, not a general-purpose scripting language — see DESIGN.md
// for why this executor does not embed a JS engine) once per input item
// and emits the result merged into the item under "result".
//
// Grounded on the teacher's ScriptExecutorExecutor (node_executors.go),
// which the teacher itself left as an unimplemented placeholder pending
// a JS engine; this fills that placeholder with the same expr-lang
// engine already wired for IF/SWITCH, rather than adding a new
// dependency the rest of the pack never uses.
type CodeExecutor struct{}

func (CodeExecutor) Type() string                { return "code" }
func (CodeExecutor) Category() registry.Category { return registry.CategoryUtility }
func (CodeExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (CodeExecutor) IsTrigger() bool          { return false }
func (CodeExecutor) SupportsLooping() bool    { return false }
func (CodeExecutor) RequiresCredential() bool { return false }

func (CodeExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	expression, _ := req.Node.Parameters["expression"].(string)
	if expression == "" {
		return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "expression", "code node requires a non-empty expression")
	}

	env := req.InputByHandle[domain.HandleMain]
	items := env.Items
	if len(items) == 0 {
		items = []domain.Item{{}}
	}

	out := make([]domain.Item, 0, len(items))
	for _, item := range items {
		vars := make(map[string]any, len(item)+1)
		for k, v := range item {
			vars[k] = v
		}
		program, err := expr.Compile(expression)
		if err != nil {
			return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "expression", fmt.Sprintf("compiling: %v", err))
		}
		result, err := expr.Run(program, vars)
		if err != nil {
			return registry.Result{}, xerrors.NewExecError(req.Node.ID, "evaluating expression", err)
		}

		cloned := make(domain.Item, len(item)+1)
		for k, v := range item {
			cloned[k] = v
		}
		cloned["result"] = result
		out = append(out, cloned)
	}

	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: domain.NewEnvelope(out...)}}}, nil
}

// SetExecutor writes node.Parameters["fields"] (map[string]any of field
// name -> {{ }} template or literal) into every item, overwriting any
// existing key of the same name.
//
// Grounded on the teacher's DataMergerExecutor/variable_binder.go field-
// assignment pattern, generalized to the per-item Execute contract.
type SetExecutor struct{}

func (SetExecutor) Type() string                { return "set" }
func (SetExecutor) Category() registry.Category { return registry.CategoryData }
func (SetExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (SetExecutor) IsTrigger() bool          { return false }
func (SetExecutor) SupportsLooping() bool    { return false }
func (SetExecutor) RequiresCredential() bool { return false }

func (SetExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	fields, _ := req.Node.Parameters["fields"].(map[string]any)
	env := req.InputByHandle[domain.HandleMain]
	items := env.Items
	if len(items) == 0 {
		items = []domain.Item{{}}
	}

	out := make([]domain.Item, 0, len(items))
	for _, item := range items {
		cloned := make(domain.Item, len(item)+len(fields))
		for k, v := range item {
			cloned[k] = v
		}
		scope := execCtx.Scope(req.Node, item)
		for k, v := range fields {
			if tmpl, ok := v.(string); ok {
				rendered, _, err := interp.Interpolate(tmpl, scope)
				if err != nil {
					return registry.Result{}, xerrors.NewExecError(req.Node.ID, fmt.Sprintf("interpolating field %q", k), err)
				}
				cloned[k] = rendered
			} else {
				cloned[k] = v
			}
		}
		out = append(out, cloned)
	}
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: domain.NewEnvelope(out...)}}}, nil
}

// FilterExecutor keeps only items for which node.Parameters["condition"]
// (an expr-lang boolean expression) evaluates true.
type FilterExecutor struct{}

func (FilterExecutor) Type() string                { return "filter" }
func (FilterExecutor) Category() registry.Category { return registry.CategoryData }
func (FilterExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (FilterExecutor) IsTrigger() bool          { return false }
func (FilterExecutor) SupportsLooping() bool    { return false }
func (FilterExecutor) RequiresCredential() bool { return false }

func (FilterExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	condition, _ := req.Node.Parameters["condition"].(string)
	if condition == "" {
		return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "condition", "filter node requires a non-empty condition")
	}
	program, err := expr.Compile(condition)
	if err != nil {
		return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "condition", fmt.Sprintf("compiling: %v", err))
	}

	env := req.InputByHandle[domain.HandleMain]
	out := make([]domain.Item, 0, len(env.Items))
	for _, item := range env.Items {
		vars := make(map[string]any, len(item))
		for k, v := range item {
			vars[k] = v
		}
		result, err := expr.Run(program, vars)
		if err != nil {
			return registry.Result{}, xerrors.NewExecError(req.Node.ID, "evaluating condition", err)
		}
		keep, ok := result.(bool)
		if ok && keep {
			out = append(out, item)
		}
	}
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: domain.NewEnvelope(out...)}}}, nil
}

// SortExecutor orders items by node.Parameters["field"], ascending
// unless node.Parameters["descending"] is true. Comparison is generic
// over string/number fields via fmt.Sprint when types mismatch.
type SortExecutor struct{}

func (SortExecutor) Type() string                { return "sort" }
func (SortExecutor) Category() registry.Category { return registry.CategoryData }
func (SortExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (SortExecutor) IsTrigger() bool          { return false }
func (SortExecutor) SupportsLooping() bool    { return false }
func (SortExecutor) RequiresCredential() bool { return false }

func (SortExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	field, _ := req.Node.Parameters["field"].(string)
	if field == "" {
		return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "field", "sort node requires a non-empty field")
	}
	descending := boolParam(req.Node.Parameters, "descending", false)

	env := req.InputByHandle[domain.HandleMain]
	out := make([]domain.Item, len(env.Items))
	copy(out, env.Items)

	num := func(v any) (float64, bool) {
		switch n := v.(type) {
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case float64:
			return n, true
		}
		return 0, false
	}
	less := func(i, j int) bool {
		if x, ok := num(out[i][field]); ok {
			if y, ok := num(out[j][field]); ok {
				return (descending && x > y) || (!descending && x < y)
			}
		}
		a, b := fmt.Sprint(out[i][field]), fmt.Sprint(out[j][field])
		if descending {
			return a > b
		}
		return a < b
	}
	sort.SliceStable(out, less)

	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: domain.NewEnvelope(out...)}}}, nil
}
