package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/execctx"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
)

// nodeState tracks what a node has, so far, emitted — used to classify
// its outgoing connections as alive or dead once it completes.
type nodeState struct {
	completed bool
	emitted   map[string]bool // handles the node produced output on
}

// handleBuf buffers deliveries to one (targetNode, targetHandle) pair
// until the merge policy for that pair is satisfied.
type handleBuf struct {
	received map[string]domain.Envelope // connectionID -> envelope
	resolved bool
}

// run is one Scheduler.Run's mutable traversal state.
type run struct {
	sched *Scheduler
	wf    *domain.Workflow
	ec    *execctx.Context
	cond  *conditionCache

	incoming map[string]map[string][]domain.Connection // nodeID -> handle -> connections

	statesMu       sync.Mutex
	states         map[string]*nodeState
	joinsByWatched map[string][]*joinWatch

	limiterMu sync.Mutex
	limiters  map[string]*tokenBucket

	inboxMu sync.Mutex
	inbox   map[string]map[string]*handleBuf

	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []dispatchUnit
	pending int

	sem chan struct{}

	failMu        sync.Mutex
	failureErr    error
	failureNodeID string
}

func newRun(s *Scheduler, wf *domain.Workflow, ec *execctx.Context) *run {
	r := &run{
		sched:     s,
		wf:        wf,
		ec:        ec,
		cond:      newConditionCache(),
		incoming: make(map[string]map[string][]domain.Connection),
		states:   make(map[string]*nodeState),
		inbox:    make(map[string]map[string]*handleBuf),
		limiters: make(map[string]*tokenBucket),
	}
	for _, c := range wf.Connections {
		if r.incoming[c.TargetNodeID] == nil {
			r.incoming[c.TargetNodeID] = make(map[string][]domain.Connection)
		}
		r.incoming[c.TargetNodeID][c.TargetHandle] = append(r.incoming[c.TargetNodeID][c.TargetHandle], c)
	}

	maxParallel := s.Settings.ExecutionMaxParallel()
	if maxParallel <= 0 {
		maxParallel = 1
	}
	r.sem = make(chan struct{}, maxParallel)
	r.qcond = sync.NewCond(&r.qmu)
	return r
}

// enqueue pushes a dispatch unit and counts it toward pending work.
func (r *run) enqueue(u dispatchUnit) {
	r.qmu.Lock()
	r.pending++
	r.queue = append(r.queue, u)
	r.qcond.Signal()
	r.qmu.Unlock()
}

// drain runs the worker pool until the queue is empty and no unit is
// in flight, or the execution is cancelled.
func (r *run) drain() {
	var wg sync.WaitGroup
	workers := cap(r.sem)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			r.workerLoop()
		}()
	}
	wg.Wait()
}

func (r *run) workerLoop() {
	for {
		r.qmu.Lock()
		for len(r.queue) == 0 && r.pending > 0 && !r.ec.IsCancelled() {
			r.qcond.Wait()
		}
		if len(r.queue) == 0 {
			r.qcond.Broadcast()
			r.qmu.Unlock()
			return
		}
		if r.ec.IsCancelled() {
			// drain remaining queue without running it
			r.pending -= len(r.queue)
			r.queue = nil
			r.qcond.Broadcast()
			r.qmu.Unlock()
			return
		}
		u := r.queue[0]
		r.queue = r.queue[1:]
		r.qmu.Unlock()

		r.processUnit(u)

		r.qmu.Lock()
		r.pending--
		r.qcond.Broadcast()
		r.qmu.Unlock()
	}
}

// processUnit runs one node against its delivered input-by-handle,
// records the node-execution record, and fans its outputs out to
// downstream connections.
func (r *run) processUnit(u dispatchUnit) {
	if r.failed() {
		return
	}
	node, ok := r.wf.NodeByID(u.nodeID)
	if !ok {
		return
	}

	if node.Disabled {
		main := u.inputByHandle[domain.HandleMain]
		r.completeNode(node, map[string]domain.Envelope{domain.HandleMain: main}, nil)
		r.fanOut(node, map[string]domain.Envelope{domain.HandleMain: main})
		return
	}

	record := &domain.NodeExecutionRecord{
		ExecutionID: r.ec.ExecutionID,
		NodeID:      node.ID,
		State:       domain.NodeRunning,
		StartedAt:   time.Now(),
		Input:       firstNonEmpty(u.inputByHandle),
	}
	r.ec.Log(node.ID, "info", string(logging.CategoryNodeStart), fmt.Sprintf("node %q started", node.Name), nil)

	timeoutMs := intParam(node.Parameters, "timeoutMs", 0)
	nodeCtx, cancel := r.ec.NodeTimeout(timeoutMs)
	outputs, err := r.runNode(nodeCtx, node, u.inputByHandle)
	cancel()

	finished := time.Now()
	record.FinishedAt = &finished

	if err != nil {
		record.State = domain.NodeFailed
		record.Error = err.Error()
		r.ec.AppendRecord(record)
		r.ec.Log(node.ID, "error", string(logging.CategoryError), fmt.Sprintf("node %q failed: %v", node.Name, err), nil)
		r.fail(node.ID, err)
		return
	}

	record.State = domain.NodeSuccess
	outByHandle := make(map[string]domain.Envelope, len(outputs))
	for _, o := range outputs {
		outByHandle[o.Handle] = o.Envelope
	}
	if len(outputs) > 0 {
		record.Output = outputs[0].Envelope
	}
	r.ec.AppendRecord(record)
	r.ec.Log(node.ID, "info", string(logging.CategoryNodeEnd), fmt.Sprintf("node %q completed", node.Name), nil)

	r.completeNode(node, outByHandle, nil)
	r.fanOut(node, outByHandle)
}

// completeNode marks node's emitted-handle set and writes its outputs to
// the shared output cache for downstream interpolation lookups.
func (r *run) completeNode(node domain.Node, outByHandle map[string]domain.Envelope, _ error) {
	r.statesMu.Lock()
	st := r.states[node.ID]
	if st == nil {
		st = &nodeState{emitted: make(map[string]bool)}
		r.states[node.ID] = st
	}
	st.completed = true
	for h := range outByHandle {
		st.emitted[h] = true
	}
	r.statesMu.Unlock()

	r.notifyJoins(node.ID)
	r.ec.RecordOutput(node.ID, outByHandle)

	// A completed node may have rendered some of its sibling connections
	// dead (handles it did not emit on); re-check every target those
	// connections point at in case a wait-all merge was only blocked on
	// this branch resolving.
	for _, c := range r.wf.OutgoingFromConnections(node.ID) {
		if st.emitted[c.SourceHandle] {
			continue
		}
		r.recheckHandle(c.TargetNodeID, c.TargetHandle)
	}
}

// fanOut delivers each produced (handle, envelope) to every outgoing
// connection on that handle, buffering per merge policy.
func (r *run) fanOut(node domain.Node, outByHandle map[string]domain.Envelope) {
	for handle, env := range outByHandle {
		conns := r.wf.OutgoingFromHandle(node.ID, handle)
		for _, c := range conns {
			r.deliver(c, env)
		}
	}
}

// deliver offers env to (c.TargetNodeID, c.TargetHandle)'s buffer and
// dispatches the target once every required handle is resolved.
func (r *run) deliver(c domain.Connection, env domain.Envelope) {
	if _, ok := r.wf.NodeByID(c.TargetNodeID); !ok {
		return
	}

	r.inboxMu.Lock()
	handles := r.inbox[c.TargetNodeID]
	if handles == nil {
		handles = make(map[string]*handleBuf)
		r.inbox[c.TargetNodeID] = handles
	}
	buf := handles[c.TargetHandle]
	if buf == nil {
		buf = &handleBuf{received: make(map[string]domain.Envelope)}
		handles[c.TargetHandle] = buf
	}
	if buf.resolved {
		r.inboxMu.Unlock()
		r.ec.Log(c.TargetNodeID, "debug", string(logging.CategoryBranch), fmt.Sprintf("extra delivery on handle %q discarded (already dispatched)", c.TargetHandle), nil)
		return
	}
	buf.received[c.ID] = env
	r.inboxMu.Unlock()

	r.recheckHandle(c.TargetNodeID, c.TargetHandle)
}

// waitAllHandle reports whether (nodeID, handle) uses wait-all merge
// policy: only the merge node type's own "main" input, with
// waitForAll=true in its parameters (default false per §4.5).
func (r *run) waitAllHandle(node domain.Node, handle string) bool {
	if node.Type != "merge" || handle != domain.HandleMain {
		return false
	}
	return boolParam(node.Parameters, "waitForAll", false)
}

// recheckHandle decides whether (nodeID, handle)'s buffer is resolved
// and, if every required handle on the node is now resolved, assembles
// the merged input and dispatches the node. Safe to call repeatedly
// (idempotent once resolved) — both deliver and a sibling dead-
// connection marking call this.
func (r *run) recheckHandle(nodeID, handle string) {
	node, ok := r.wf.NodeByID(nodeID)
	if !ok {
		return
	}

	r.inboxMu.Lock()
	handles := r.inbox[nodeID]
	if handles == nil {
		r.inboxMu.Unlock()
		return
	}
	buf := handles[handle]
	if buf == nil || buf.resolved {
		r.inboxMu.Unlock()
		return
	}

	active := r.activeConnections(r.incoming[nodeID][handle])
	if r.waitAllHandle(node, handle) {
		if len(active) == 0 || !r.allDelivered(active, buf.received) {
			r.inboxMu.Unlock()
			return
		}
	} else if len(buf.received) == 0 {
		r.inboxMu.Unlock()
		return
	}
	buf.resolved = true
	r.inboxMu.Unlock()

	r.maybeDispatch(node)
}

// activeConnections filters out connections whose source has completed
// without emitting on the connection's source handle (dead branches).
func (r *run) activeConnections(conns []domain.Connection) []domain.Connection {
	var out []domain.Connection
	for _, c := range conns {
		r.statesMu.Lock()
		st := r.states[c.SourceNodeID]
		dead := st != nil && st.completed && !st.emitted[c.SourceHandle]
		r.statesMu.Unlock()
		if !dead {
			out = append(out, c)
		}
	}
	return out
}

func (r *run) allDelivered(conns []domain.Connection, received map[string]domain.Envelope) bool {
	for _, c := range conns {
		if _, ok := received[c.ID]; !ok {
			return false
		}
	}
	return true
}

// maybeDispatch checks whether every handle the node requires input on
// has a resolved buffer, and if so assembles the input and enqueues the
// node.
func (r *run) maybeDispatch(node domain.Node) {
	required := r.incoming[node.ID]
	if len(required) == 0 {
		return
	}

	r.inboxMu.Lock()
	handles := r.inbox[node.ID]
	input := make(map[string]domain.Envelope, len(required))
	for handle := range required {
		buf := handles[handle]
		if buf == nil || !buf.resolved {
			r.inboxMu.Unlock()
			return
		}
		input[handle] = r.assemble(node, handle, buf)
	}
	// Reset so a later re-entry (loop iteration feeding back into this
	// node) can resolve again.
	for handle := range required {
		delete(handles, handle)
	}
	r.inboxMu.Unlock()

	r.enqueue(dispatchUnit{nodeID: node.ID, inputByHandle: input})
}

// assemble combines a resolved handle's buffered envelopes according to
// merge mode (concat/zip/passthrough) when the handle is a wait-all
// merge target; otherwise it is the single delivered envelope.
func (r *run) assemble(node domain.Node, handle string, buf *handleBuf) domain.Envelope {
	if !r.waitAllHandle(node, handle) {
		for _, e := range buf.received {
			return e
		}
		return domain.Envelope{}
	}

	conns := r.incoming[node.ID][handle]
	sort.Slice(conns, func(i, j int) bool { return conns[i].SourceNodeID < conns[j].SourceNodeID })

	mode := domain.MergeMode(stringParam(node.Parameters, "mode", string(domain.MergeConcat)))
	var envs []domain.Envelope
	for _, c := range conns {
		if e, ok := buf.received[c.ID]; ok {
			envs = append(envs, e)
		}
	}
	switch mode {
	case domain.MergeZip:
		if len(envs) < 2 {
			if len(envs) == 1 {
				return envs[0]
			}
			return domain.Envelope{}
		}
		out := envs[0]
		for _, e := range envs[1:] {
			var dropped int
			out, dropped = domain.Zip(out, e)
			if dropped > 0 {
				r.ec.Log(node.ID, "warn", string(logging.CategoryBranch), fmt.Sprintf("zip merge dropped %d unpaired item(s)", dropped), nil)
			}
		}
		return out
	case domain.MergePassthrough:
		if len(envs) > 0 {
			return envs[0]
		}
		return domain.Envelope{}
	default: // concat
		return domain.Concat(envs...)
	}
}

func (r *run) failed() bool {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failureErr != nil
}

func (r *run) fail(nodeID string, err error) {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	if r.failureErr == nil {
		r.failureErr = err
		r.failureNodeID = nodeID
		go r.ec.Cancel()
	}
}

// finalOutputs collects the output of every terminal node (no outgoing
// connections) for the Execution's Output snapshot.
func (r *run) finalOutputs() map[string]domain.Envelope {
	out := make(map[string]domain.Envelope)
	for _, n := range r.wf.Nodes {
		if len(r.wf.OutgoingFromConnections(n.ID)) > 0 {
			continue
		}
		if env, ok := r.ec.OutputByHandle(n.ID, domain.HandleMain); ok {
			out[n.ID] = env
		}
	}
	return out
}

func firstNonEmpty(m map[string]domain.Envelope) domain.Envelope {
	if e, ok := m[domain.HandleMain]; ok {
		return e
	}
	for _, e := range m {
		return e
	}
	return domain.Envelope{}
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func boolParam(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func stringParam(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}
