package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// runFlowControlNode implements the built-in flow-control node types of
// §4.5 directly in the scheduler rather than through the registry, since
// their handle semantics are the scheduler's own traversal logic, not a
// uniform executor operation. handled is false for any other node type,
// in which case the caller falls through to the registry lookup.
func (r *run) runFlowControlNode(ctx context.Context, node domain.Node, input map[string]domain.Envelope) (handled bool, outputs []registry.Output, err error) {
	switch node.Type {
	case "if":
		outputs, err = r.runIf(node, input)
	case "switch":
		outputs, err = r.runSwitch(node, input)
	case "merge":
		outputs, err = r.runMerge(node, input)
	case "loop":
		outputs, err = r.runLoop(node, input)
	case "parallel":
		outputs, err = r.runParallel(node, input)
	case "retry":
		outputs, err = r.runRetry(ctx, node, input)
	case "rateLimit":
		outputs, err = r.runRateLimit(ctx, node, input)
	case "tryCatch":
		outputs, err = r.runTryCatch(ctx, node, input)
	default:
		return false, nil, nil
	}
	return true, outputs, err
}

func (r *run) mainInput(input map[string]domain.Envelope) domain.Envelope {
	if e, ok := input[domain.HandleMain]; ok {
		return e
	}
	return domain.Envelope{}
}

// conditionVars flattens the current execution's variable tiers with
// item fields layered on top, so a condition like `temperature > 30` can
// reference both item fields and workflow/execution variables by name.
func (r *run) conditionVars(node domain.Node, item domain.Item) map[string]any {
	scope := r.ec.Scope(node, item)
	vars := make(map[string]any, len(scope.GlobalVars)+len(scope.WorkflowVars)+len(scope.ExecutionVars)+len(item))
	for k, v := range scope.GlobalVars {
		vars[k] = v
	}
	for k, v := range scope.WorkflowVars {
		vars[k] = v
	}
	for k, v := range scope.ExecutionVars {
		vars[k] = v
	}
	for k, v := range item {
		vars[k] = v
	}
	return vars
}

// runIf evaluates node.Parameters["condition"] against the input's first
// item and emits the whole envelope on "true" xor "false".
func (r *run) runIf(node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	env := r.mainInput(input)
	condition, _ := node.Parameters["condition"].(string)
	if condition == "" {
		return nil, xerrors.NewConfigError(node.ID, "condition", "if node requires a non-empty condition")
	}

	ok, err := r.cond.evalBool(condition, r.conditionVars(node, env.First()))
	if err != nil {
		return nil, xerrors.NewExecError(node.ID, fmt.Sprintf("evaluating condition: %v", err), err)
	}
	handle := domain.HandleFalse
	if ok {
		handle = domain.HandleTrue
	}
	return []registry.Output{{Handle: handle, Envelope: env}}, nil
}

// runSwitch evaluates node.Parameters["expression"] and emits on the
// matching case's handle (node.Parameters["cases"]: []any of
// {"value": any, "handle": string}), or "default" if none match.
func (r *run) runSwitch(node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	env := r.mainInput(input)
	expression, _ := node.Parameters["expression"].(string)
	if expression == "" {
		return nil, xerrors.NewConfigError(node.ID, "expression", "switch node requires a non-empty expression")
	}

	discriminant, err := r.cond.eval(expression, r.conditionVars(node, env.First()))
	if err != nil {
		return nil, xerrors.NewExecError(node.ID, fmt.Sprintf("evaluating switch expression: %v", err), err)
	}

	cases, _ := node.Parameters["cases"].([]any)
	for _, raw := range cases {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if fmt.Sprint(c["value"]) == fmt.Sprint(discriminant) {
			handle, _ := c["handle"].(string)
			return []registry.Output{{Handle: handle, Envelope: env}}, nil
		}
	}
	return []registry.Output{{Handle: domain.HandleDefault, Envelope: env}}, nil
}

// runMerge re-emits the already-combined "main" input (assembly per
// mode happened in run.assemble when the handle resolved) as the node's
// own output, so the traversal continues downstream unchanged.
func (r *run) runMerge(node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	return []registry.Output{{Handle: domain.HandleMain, Envelope: r.mainInput(input)}}, nil
}

// runLoop explodes node.Parameters["itemsField"] (or, absent that, the
// input envelope's own items) into one single-item dispatch per
// iteration, delivered directly to the loop's outgoing "main"
// connections, then emits "done" once every iteration has been
// dispatched.
//
// Simplification: "done" fires once iterations are dispatched, not once
// their subgraphs complete — tracking completion of an arbitrary,
// unbounded downstream subgraph per iteration is out of scope here; see
// DESIGN.md.
func (r *run) runLoop(node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	env := r.mainInput(input)
	items := r.loopItems(node, env)

	conns := r.wf.OutgoingFromHandle(node.ID, domain.HandleMain)
	for _, item := range items {
		iterEnv := domain.NewEnvelope(item)
		for _, c := range conns {
			r.deliver(c, iterEnv)
		}
	}
	r.ec.Log(node.ID, "info", string(logging.CategoryInfo), fmt.Sprintf("loop %q dispatched %d iteration(s)", node.Name, len(items)), nil)

	return []registry.Output{{Handle: domain.HandleDone, Envelope: domain.NewEnvelope(items...)}}, nil
}

func (r *run) loopItems(node domain.Node, env domain.Envelope) []domain.Item {
	field, _ := node.Parameters["itemsField"].(string)
	if field == "" {
		return env.Items
	}
	raw, ok := env.First()[field]
	if !ok {
		return nil
	}
	slice, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]domain.Item, 0, len(slice))
	for _, v := range slice {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		} else {
			out = append(out, domain.Item{"value": v})
		}
	}
	return out
}

// runParallel lets the standard fan-out mechanism dispatch "main" to
// every connected branch concurrently (no special handling needed for
// that part — the worker pool already runs independent connections
// concurrently), then separately tracks first/all completion of those
// immediate branch targets to fire "done".
//
// Simplification: completion is tracked one hop deep (the immediate
// branch target), not through each branch's full transitive subgraph;
// see DESIGN.md.
func (r *run) runParallel(node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	env := r.mainInput(input)
	conns := r.wf.OutgoingFromHandle(node.ID, domain.HandleMain)

	targets := make(map[string]struct{})
	for _, c := range conns {
		targets[c.TargetNodeID] = struct{}{}
	}
	waitForAll := boolParam(node.Parameters, "waitForAll", true)
	if len(targets) > 0 {
		r.registerJoin(node.ID, targets, waitForAll)
	}

	return []registry.Output{{Handle: domain.HandleMain, Envelope: env}}, nil
}

// joinWatch tracks completion of a parallel node's immediate branch
// targets so "done" can fire once the configured quorum is reached.
type joinWatch struct {
	mu         sync.Mutex
	parent     string
	waitForAll bool
	remaining  map[string]bool
	fired      bool
}

func (r *run) registerJoin(parentID string, targets map[string]struct{}, waitForAll bool) {
	jw := &joinWatch{parent: parentID, waitForAll: waitForAll, remaining: make(map[string]bool, len(targets))}
	for t := range targets {
		jw.remaining[t] = false
	}

	r.statesMu.Lock()
	if r.joinsByWatched == nil {
		r.joinsByWatched = make(map[string][]*joinWatch)
	}
	for t := range targets {
		r.joinsByWatched[t] = append(r.joinsByWatched[t], jw)
	}
	r.statesMu.Unlock()
}

// notifyJoins is called from completeNode for every completed nodeID to
// advance any parallel join watching it.
func (r *run) notifyJoins(nodeID string) {
	r.statesMu.Lock()
	watches := r.joinsByWatched[nodeID]
	r.statesMu.Unlock()

	for _, jw := range watches {
		jw.mu.Lock()
		if jw.fired {
			jw.mu.Unlock()
			continue
		}
		jw.remaining[nodeID] = true
		ready := !jw.waitForAll
		if jw.waitForAll {
			ready = true
			for _, done := range jw.remaining {
				if !done {
					ready = false
					break
				}
			}
		}
		if ready {
			jw.fired = true
		}
		fire := ready
		jw.mu.Unlock()

		if fire {
			if parent, ok := r.wf.NodeByID(jw.parent); ok {
				r.fanOut(parent, map[string]domain.Envelope{domain.HandleDone: domain.Envelope{}})
			}
		}
	}
}

// runRetry wraps a single downstream node referenced by
// node.Parameters["targetNodeId"], re-running it up to maxAttempts with
// exponential backoff on a retryable failure.
func (r *run) runRetry(ctx context.Context, node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	targetID, _ := node.Parameters["targetNodeId"].(string)
	target, ok := r.wf.NodeByID(targetID)
	if !ok {
		return nil, xerrors.NewConfigError(node.ID, "targetNodeId", fmt.Sprintf("retry node references unknown node %q", targetID))
	}

	maxAttempts := intParam(node.Parameters, "maxAttempts", r.ec.RetryDefaultAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := time.Duration(intParam(node.Parameters, "delayMs", int(r.ec.RetryDefaultDelay.Milliseconds()))) * time.Millisecond
	multiplier := floatParam(node.Parameters, "multiplier", 2.0)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outputs, err := r.runNode(ctx, target, input)
		if err == nil {
			return outputs, nil
		}
		lastErr = err
		if !xerrors.Retryable(err) || attempt == maxAttempts {
			break
		}
		wait := time.Duration(float64(delay) * math.Pow(multiplier, float64(attempt-1)))
		r.ec.Log(node.ID, "warn", string(logging.CategoryRetry), fmt.Sprintf("retrying %q: attempt %d/%d after %v (%v)", target.Name, attempt, maxAttempts, wait, err), nil)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, xerrors.NewCancelledError(node.ID)
		}
	}
	return nil, lastErr
}

// runRateLimit admits requests at node.Parameters["requestsPerSecond"]
// under the configured mode, then passes the input straight through.
func (r *run) runRateLimit(ctx context.Context, node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	rps := floatParam(node.Parameters, "requestsPerSecond", 1.0)
	if rps <= 0 {
		rps = 1.0
	}
	mode := domain.RateLimitMode(stringParam(node.Parameters, "mode", string(domain.RateLimitQueue)))
	interval := time.Duration(float64(time.Second) / rps)

	limiter := r.rateLimiter(node.ID, interval)
	switch mode {
	case domain.RateLimitReject:
		if !limiter.tryAdmit() {
			return nil, xerrors.NewRateLimitExceeded(node.ID, fmt.Sprintf("rate limit exceeded: %.2f req/s", rps))
		}
	default: // queue, delay: block until admitted or cancelled
		if err := limiter.waitAdmit(ctx); err != nil {
			return nil, xerrors.NewCancelledError(node.ID)
		}
	}
	return []registry.Output{{Handle: domain.HandleMain, Envelope: r.mainInput(input)}}, nil
}

// runTryCatch runs node.Parameters["targetNodeId"] and converts any
// ExecError it raises into a {error, nodeId, message} envelope on
// "catch"; success flows on "try" unchanged.
func (r *run) runTryCatch(ctx context.Context, node domain.Node, input map[string]domain.Envelope) ([]registry.Output, error) {
	targetID, _ := node.Parameters["targetNodeId"].(string)
	target, ok := r.wf.NodeByID(targetID)
	if !ok {
		return nil, xerrors.NewConfigError(node.ID, "targetNodeId", fmt.Sprintf("tryCatch node references unknown node %q", targetID))
	}

	outputs, err := r.runNode(ctx, target, input)
	if err == nil {
		env := domain.Envelope{}
		if len(outputs) > 0 {
			env = outputs[0].Envelope
		}
		return []registry.Output{{Handle: domain.HandleTry, Envelope: env}}, nil
	}

	if !xerrors.Catchable(err) {
		return nil, err
	}

	catchItem := domain.Item{
		"error":   true,
		"nodeId":  target.ID,
		"message": err.Error(),
	}
	r.ec.Log(node.ID, "warn", string(logging.CategoryError), fmt.Sprintf("caught error from %q: %v", target.Name, err), nil)
	return []registry.Output{{Handle: domain.HandleCatch, Envelope: domain.NewEnvelope(catchItem)}}, nil
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}
