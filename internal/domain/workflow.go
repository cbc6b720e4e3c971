package domain

import (
	"fmt"
)

// Position is the canvas position of a node. The scheduler ignores it;
// it exists only so the wire format round-trips losslessly.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a vertex in a Workflow graph. Its Type selects the executor
// that realizes it. Nodes are immutable for the lifetime of an
// execution.
type Node struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Position      Position       `json:"position"`
	Parameters    map[string]any `json:"parameters"`
	CredentialRef *CredentialRef `json:"credentialId,omitempty"`
	Disabled      bool           `json:"disabled"`
	Notes         string         `json:"notes,omitempty"`
}

// Connection is a directed edge from (SourceNodeID, SourceHandle) to
// (TargetNodeID, TargetHandle).
type Connection struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	SourceHandle string `json:"sourceHandle"`
	TargetHandle string `json:"targetHandle"`
}

// Workflow is an immutable directed graph of nodes and connections,
// snapshotted at execution start.
type Workflow struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Nodes       []Node         `json:"nodes"`
	Connections []Connection   `json:"connections"`
	Settings    map[string]any `json:"settings"`
	Active      bool           `json:"active"`
	TriggerKind TriggerKind    `json:"triggerType"`
	Schedule    string         `json:"schedule,omitempty"`
	Version     int64          `json:"version"`
}

// NodeByID returns the node with the given id, if present.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingFromHandle returns connections leaving (nodeID, handle).
func (w *Workflow) OutgoingFromHandle(nodeID, handle string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.SourceNodeID == nodeID && c.SourceHandle == handle {
			out = append(out, c)
		}
	}
	return out
}

// OutgoingFromConnections returns all connections leaving nodeID, any handle.
func (w *Workflow) OutgoingFromConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.SourceNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Incoming returns all connections terminating at nodeID, any handle.
func (w *Workflow) Incoming(nodeID string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.TargetNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the structural invariants of §3: unique node ids,
// connections referencing present nodes, a valid trigger kind, the
// schedule⇔triggerKind correspondence, and that any cycle passes through
// a node whose executor supports looping. supportsLooping is supplied by
// the caller (the registry) since the domain package does not know about
// executors.
func (w *Workflow) Validate(supportsLooping func(nodeType string) bool) error {
	seen := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	for _, c := range w.Connections {
		src, ok := seen[c.SourceNodeID]
		_ = src
		if !ok {
			return fmt.Errorf("connection %s references unknown source node %q", c.ID, c.SourceNodeID)
		}
		if _, ok := seen[c.TargetNodeID]; !ok {
			return fmt.Errorf("connection %s references unknown target node %q", c.ID, c.TargetNodeID)
		}
		if c.SourceNodeID == c.TargetNodeID {
			if supportsLooping == nil {
				return fmt.Errorf("connection %s is a self-loop but looping support is unknown", c.ID)
			}
			srcNode, _ := w.NodeByID(c.SourceNodeID)
			if !supportsLooping(srcNode.Type) {
				return fmt.Errorf("connection %s is a self-loop on node %q, whose type %q does not support looping", c.ID, c.SourceNodeID, srcNode.Type)
			}
		}
	}

	if !w.TriggerKind.IsValid() {
		return fmt.Errorf("invalid trigger kind %q", w.TriggerKind)
	}
	if (w.Schedule != "") != (w.TriggerKind == TriggerSchedule) {
		return fmt.Errorf("schedule must be set iff triggerKind is %q", TriggerSchedule)
	}

	if supportsLooping != nil {
		if err := w.checkCycles(supportsLooping); err != nil {
			return err
		}
	}

	return nil
}

// checkCycles rejects any cycle that does not pass through a
// looping-capable node, per §4.5 / Design Note "forbid plain cycles".
func (w *Workflow) checkCycles(supportsLooping func(nodeType string) bool) error {
	adj := make(map[string][]Connection)
	for _, c := range w.Connections {
		adj[c.SourceNodeID] = append(adj[c.SourceNodeID], c)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Nodes))

	var path []string
	var dfs func(nodeID string) error
	dfs = func(nodeID string) error {
		color[nodeID] = gray
		path = append(path, nodeID)
		for _, c := range adj[nodeID] {
			switch color[c.TargetNodeID] {
			case white:
				if err := dfs(c.TargetNodeID); err != nil {
					return err
				}
			case gray:
				looping := false
				for i := len(path) - 1; i >= 0 && !looping; i-- {
					n, _ := w.NodeByID(path[i])
					looping = supportsLooping(n.Type)
					if path[i] == c.TargetNodeID {
						break
					}
				}
				if !looping {
					return fmt.Errorf("cycle detected through node %q with no looping-capable node on it", nodeID)
				}
			}
		}
		path = path[:len(path)-1]
		color[nodeID] = black
		return nil
	}

	for _, n := range w.Nodes {
		if color[n.ID] == white {
			if err := dfs(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
