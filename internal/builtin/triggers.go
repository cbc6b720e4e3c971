// Package builtin holds the executor implementations the process
// registers at startup: triggers and the action/data/AI node types of
// spec §4.2. Flow-control node types (if/switch/merge/loop/parallel/
// retry/rateLimit/tryCatch) are NOT here — the scheduler implements
// their handle semantics directly (see internal/scheduler/flow.go).
//
// Grounded on the teacher's internal/trigger package (ManualTrigger,
// HTTPTrigger) and internal/node/builtin (HTTPRequestNode), generalized
// from the teacher's typed Node[In,Out] interface to the uniform
// registry.Executor contract.
package builtin

import (
	"context"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// ManualTriggerExecutor starts a run on an operator-supplied payload.
// Grounded on the teacher's trigger.Manual.
type ManualTriggerExecutor struct{}

func (ManualTriggerExecutor) Type() string                { return "manualTrigger" }
func (ManualTriggerExecutor) Category() registry.Category { return registry.CategoryTrigger }
func (ManualTriggerExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Outputs: []string{domain.HandleMain}}
}
func (ManualTriggerExecutor) IsTrigger() bool          { return true }
func (ManualTriggerExecutor) SupportsLooping() bool    { return false }
func (ManualTriggerExecutor) RequiresCredential() bool { return false }
func (ManualTriggerExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: req.InputByHandle[domain.HandleMain]}}}, nil
}

// ScheduleTriggerExecutor starts a run on a cron-style schedule. The
// scheduling itself (arming the timer, firing Scheduler.Run) lives
// outside the execution core (spec §1 Non-goals); as a node this
// executor only re-emits its seed payload, matching ManualTrigger's
// shape, so the scheduler can treat every trigger kind uniformly.
type ScheduleTriggerExecutor struct{}

func (ScheduleTriggerExecutor) Type() string                { return "scheduleTrigger" }
func (ScheduleTriggerExecutor) Category() registry.Category { return registry.CategoryTrigger }
func (ScheduleTriggerExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Outputs: []string{domain.HandleMain}}
}
func (ScheduleTriggerExecutor) IsTrigger() bool          { return true }
func (ScheduleTriggerExecutor) SupportsLooping() bool    { return false }
func (ScheduleTriggerExecutor) RequiresCredential() bool { return false }
func (ScheduleTriggerExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: req.InputByHandle[domain.HandleMain]}}}, nil
}

// WebhookTriggerExecutor starts a run from an inbound HTTP request's
// decoded JSON body, captured upstream by the API layer and handed in
// as the seed envelope. Grounded on the teacher's trigger.HTTP.
type WebhookTriggerExecutor struct{}

func (WebhookTriggerExecutor) Type() string                { return "webhookTrigger" }
func (WebhookTriggerExecutor) Category() registry.Category { return registry.CategoryTrigger }
func (WebhookTriggerExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Outputs: []string{domain.HandleMain}}
}
func (WebhookTriggerExecutor) IsTrigger() bool          { return true }
func (WebhookTriggerExecutor) SupportsLooping() bool    { return false }
func (WebhookTriggerExecutor) RequiresCredential() bool { return false }
func (WebhookTriggerExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: req.InputByHandle[domain.HandleMain]}}}, nil
}

// FileTriggerExecutor starts a run from a file-watch event; the watched
// path and the decoded file contents arrive as the seed envelope from
// the watcher collaborator (outside the execution core).
type FileTriggerExecutor struct{}

func (FileTriggerExecutor) Type() string                { return "fileTrigger" }
func (FileTriggerExecutor) Category() registry.Category { return registry.CategoryTrigger }
func (FileTriggerExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Outputs: []string{domain.HandleMain}}
}
func (FileTriggerExecutor) IsTrigger() bool          { return true }
func (FileTriggerExecutor) SupportsLooping() bool    { return false }
func (FileTriggerExecutor) RequiresCredential() bool { return false }
func (FileTriggerExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: req.InputByHandle[domain.HandleMain]}}}, nil
}

// RegisterTriggers registers every built-in trigger executor.
func RegisterTriggers(reg *registry.Registry) error {
	for _, e := range []registry.Executor{
		ManualTriggerExecutor{},
		ScheduleTriggerExecutor{},
		WebhookTriggerExecutor{},
		FileTriggerExecutor{},
	} {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
