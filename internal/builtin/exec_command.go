package builtin

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/interp"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// ExecuteCommandExecutor runs a fixed argv (node.Parameters["command"]
// plus node.Parameters["args"], each individually {{ }}-interpolated)
// with no shell interpolation — args are passed to exec.Command as a
// slice, never concatenated into a shell string, so no item field can
// inject additional commands.
type ExecuteCommandExecutor struct{}

func (ExecuteCommandExecutor) Type() string                { return "executeCommand" }
func (ExecuteCommandExecutor) Category() registry.Category { return registry.CategoryUtility }
func (ExecuteCommandExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (ExecuteCommandExecutor) IsTrigger() bool          { return false }
func (ExecuteCommandExecutor) SupportsLooping() bool    { return false }
func (ExecuteCommandExecutor) RequiresCredential() bool { return false }

func (ExecuteCommandExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	command, _ := req.Node.Parameters["command"].(string)
	if command == "" {
		return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "command", "executeCommand node requires a non-empty command")
	}
	rawArgs, _ := req.Node.Parameters["args"].([]any)

	env := req.InputByHandle[domain.HandleMain]
	item := env.First()
	scope := execCtx.Scope(req.Node, item)

	command, _, err := interp.Interpolate(command, scope)
	if err != nil {
		return registry.Result{}, xerrors.NewExecError(req.Node.ID, "interpolating command", err)
	}

	args := make([]string, 0, len(rawArgs))
	for _, raw := range rawArgs {
		s, _ := raw.(string)
		resolved, _, err := interp.Interpolate(s, scope)
		if err != nil {
			return registry.Result{}, xerrors.NewExecError(req.Node.ID, "interpolating argument", err)
		}
		args = append(args, resolved)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return registry.Result{}, xerrors.NewExecError(req.Node.ID, "command failed: "+stderr.String(), err)
	}

	out := domain.Item{"stdout": stdout.String(), "stderr": stderr.String()}
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: domain.NewEnvelope(out)}}}, nil
}
