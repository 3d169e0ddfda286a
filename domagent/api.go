package domagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/dommirror/protocol"
	"github.com/hazyhaar/dommirror/watchpoint"
)

// ErrNodeNotFound is returned when an id is not bound in the mirror.
var ErrNodeNotFound = errors.New("domagent: node not found")

// The methods in this file are safe from any goroutine. They copy what
// they need off the loop and return plain values, for the MCP tools and
// the HTTP handlers.

// NodeView is a copy of one mirror node.
type NodeView struct {
	ID             protocol.NodeID   `json:"node_id"`
	Type           string            `json:"node_type"`
	NodeName       string            `json:"node_name"`
	LocalName      string            `json:"local_name,omitempty"`
	NodeValue      string            `json:"node_value,omitempty"`
	Attributes     []Attribute       `json:"attributes,omitempty"`
	ChildNodeCount int               `json:"child_node_count"`
	Children       []protocol.NodeID `json:"children"` // null until fetched
	ParentID       protocol.NodeID   `json:"parent_id,omitempty"`
	Path           string            `json:"path,omitempty"`
	Watchpoints    []string          `json:"watchpoints,omitempty"`
}

// DocumentView summarises the current document.
type DocumentView struct {
	Generation         uint64          `json:"generation"`
	DocumentURL        string          `json:"document_url,omitempty"`
	Nodes              int             `json:"nodes"`
	Root               *NodeView       `json:"root,omitempty"`
	DocumentElementID  protocol.NodeID `json:"document_element_id,omitempty"`
	BodyID             protocol.NodeID `json:"body_id,omitempty"`
	Watchpoints        int             `json:"watchpoints"`
	PendingWatchpoints int             `json:"pending_watchpoints"`
}

// WatchpointView is a copy of one watchpoint.
type WatchpointView struct {
	NodeID  protocol.NodeID `json:"node_id"`
	Kind    string          `json:"kind"`
	Label   string          `json:"label"`
	Enabled bool            `json:"enabled"`
	Path    string          `json:"path,omitempty"`
}

func (a *Agent) nodeView(n *Node) *NodeView {
	v := &NodeView{
		ID:             n.id,
		Type:           n.typ.String(),
		NodeName:       n.nodeName,
		LocalName:      n.localName,
		NodeValue:      n.nodeValue,
		Attributes:     n.attrs.items(),
		ChildNodeCount: n.childCount,
		Path:           n.Path().String(),
	}
	if n.children != nil {
		v.Children = make([]protocol.NodeID, len(n.children))
		for i, c := range n.children {
			v.Children[i] = c.id
		}
	}
	if n.parent != nil {
		v.ParentID = n.parent.id
	}
	for _, w := range a.watchpoints.ForNode(n.id) {
		v.Watchpoints = append(v.Watchpoints, w.Kind().String())
	}
	return v
}

func watchpointView(w *watchpoint.Watchpoint) WatchpointView {
	return WatchpointView{
		NodeID:  w.NodeID(),
		Kind:    w.Kind().String(),
		Label:   w.Label(),
		Enabled: w.Enabled(),
		Path:    w.Path().String(),
	}
}

// lookup runs fn on the loop with the node bound to id.
func (a *Agent) lookup(ctx context.Context, id protocol.NodeID, fn func(*Node)) error {
	found := false
	err := a.Do(ctx, func() {
		if n := a.table[id]; n != nil {
			found = true
			fn(n)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return nil
}

// DescribeDocument returns a summary of the current document.
func (a *Agent) DescribeDocument(ctx context.Context) (*DocumentView, error) {
	var v *DocumentView
	err := a.Do(ctx, func() {
		if a.doc == nil {
			return
		}
		v = &DocumentView{
			Generation:         a.generation,
			DocumentURL:        a.doc.documentURL,
			Nodes:              len(a.table),
			Root:               a.nodeView(a.doc.Node),
			Watchpoints:        a.watchpoints.Len(),
			PendingWatchpoints: a.watchpoints.Pending(),
		}
		if e := a.doc.documentElement; e != nil {
			v.DocumentElementID = e.id
		}
		if b := a.doc.body; b != nil {
			v.BodyID = b.id
		}
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNoDocument
	}
	return v, nil
}

// DescribeNode returns the node bound to id.
func (a *Agent) DescribeNode(ctx context.Context, id protocol.NodeID) (*NodeView, error) {
	var v *NodeView
	if err := a.lookup(ctx, id, func(n *Node) { v = a.nodeView(n) }); err != nil {
		return nil, err
	}
	return v, nil
}

// ResolvePath returns the node at path in the materialised mirror.
func (a *Agent) ResolvePath(ctx context.Context, path protocol.Path) (*NodeView, error) {
	var v *NodeView
	err := a.Do(ctx, func() {
		if n := a.ResolvePathLocal(path); n != nil {
			v = a.nodeView(n)
		}
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: path %q", ErrNodeNotFound, path.String())
	}
	return v, nil
}

// FetchChildrenOf fetches the children of id if needed and returns them.
func (a *Agent) FetchChildrenOf(ctx context.Context, id protocol.NodeID) ([]*NodeView, error) {
	var ch <-chan Result[[]*Node]
	if err := a.lookup(ctx, id, func(n *Node) { ch = n.FetchChildren(ctx) }); err != nil {
		return nil, err
	}
	res := Await(ctx, ch)
	if res.Err != nil {
		return nil, res.Err
	}
	var out []*NodeView
	err := a.Do(ctx, func() {
		out = make([]*NodeView, len(res.Value))
		for i, c := range res.Value {
			out[i] = a.nodeView(c)
		}
	})
	return out, err
}

// mutateByID starts a mutation on the node bound to id, waits for the
// backend, and returns the node as it now stands.
func (a *Agent) mutateByID(ctx context.Context, id protocol.NodeID, start func(*Node) <-chan Result[struct{}]) (*NodeView, error) {
	var ch <-chan Result[struct{}]
	var n *Node
	if err := a.lookup(ctx, id, func(found *Node) { n, ch = found, start(found) }); err != nil {
		return nil, err
	}
	if res := Await(ctx, ch); res.Err != nil {
		return nil, res.Err
	}
	var v *NodeView
	err := a.Do(ctx, func() { v = a.nodeView(n) })
	return v, err
}

// SetAttributeOf sets name=value on the node bound to id.
func (a *Agent) SetAttributeOf(ctx context.Context, id protocol.NodeID, name, value string) (*NodeView, error) {
	return a.mutateByID(ctx, id, func(n *Node) <-chan Result[struct{}] { return n.SetAttribute(ctx, name, value) })
}

// RemoveAttributeOf removes name from the node bound to id.
func (a *Agent) RemoveAttributeOf(ctx context.Context, id protocol.NodeID, name string) (*NodeView, error) {
	return a.mutateByID(ctx, id, func(n *Node) <-chan Result[struct{}] { return n.RemoveAttribute(ctx, name) })
}

// SetTextOf replaces the text of the Text node bound to id.
func (a *Agent) SetTextOf(ctx context.Context, id protocol.NodeID, text string) (*NodeView, error) {
	return a.mutateByID(ctx, id, func(n *Node) <-chan Result[struct{}] { return n.SetNodeValue(ctx, text) })
}

// AddWatchpointOn sets an enabled watchpoint of kind on the node bound to id.
func (a *Agent) AddWatchpointOn(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) (WatchpointView, error) {
	var v WatchpointView
	err := a.lookup(ctx, id, func(n *Node) {
		w := a.SetWatchpoint(n, kind)
		if !w.Enabled() {
			w.SetEnabled(true)
		}
		v = watchpointView(w)
	})
	return v, err
}

// RemoveWatchpointOn removes the watchpoint of kind on id. It reports
// whether one existed.
func (a *Agent) RemoveWatchpointOn(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) (bool, error) {
	removed := false
	err := a.Do(ctx, func() {
		if w := a.watchpoints.Find(id, kind); w != nil {
			w.Remove()
			removed = true
		}
	})
	return removed, err
}

// ListWatchpoints returns every live watchpoint, sorted by node then kind.
func (a *Agent) ListWatchpoints(ctx context.Context) ([]WatchpointView, error) {
	var out []WatchpointView
	err := a.Do(ctx, func() {
		all := a.watchpoints.All()
		out = make([]WatchpointView, len(all))
		for i, w := range all {
			out[i] = watchpointView(w)
		}
	})
	return out, err
}

// TakeSnapshot renders the current mirror.
func (a *Agent) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	var serr error
	if err := a.Do(ctx, func() { snap, serr = a.Snapshot() }); err != nil {
		return nil, err
	}
	return snap, serr
}
