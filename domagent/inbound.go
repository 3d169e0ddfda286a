package domagent

import (
	"github.com/hazyhaar/dommirror/protocol"
)

var _ protocol.Frontend = (*Agent)(nil)

// Deliver validates ev and queues it for the loop. A malformed event is
// returned as a *protocol.MalformedError and never applied.
func (a *Agent) Deliver(ev protocol.Event) error {
	if err := ev.Validate(); err != nil {
		a.logger.Error("domagent: malformed event rejected", "type", ev.Type, "error", err)
		return err
	}
	if !a.post(func() { a.apply(ev) }) {
		return ErrNotRunning
	}
	return nil
}

func (a *Agent) AttributesUpdated(id protocol.NodeID, attributes []string) error {
	return a.Deliver(protocol.Event{Type: protocol.EventAttributesUpdated, NodeID: id, Attributes: attributes})
}

func (a *Agent) AttributeModified(id protocol.NodeID, name, value string) error {
	return a.Deliver(protocol.Event{Type: protocol.EventAttributeModified, NodeID: id, Name: name, Value: value})
}

func (a *Agent) AttributeRemoved(id protocol.NodeID, name string) error {
	return a.Deliver(protocol.Event{Type: protocol.EventAttributeRemoved, NodeID: id, Name: name})
}

func (a *Agent) CharacterDataModified(id protocol.NodeID, value string) error {
	return a.Deliver(protocol.Event{Type: protocol.EventCharacterDataModified, NodeID: id, Value: value})
}

// SetDocument replaces the whole mirror. A nil root, or one without an id,
// leaves the agent with no document.
func (a *Agent) SetDocument(root *protocol.Descriptor) error {
	return a.Deliver(protocol.Event{Type: protocol.EventSetDocument, Node: root})
}

// SetDetachedRoot binds a subtree that is not part of the document so that
// later events about its nodes can be correlated.
func (a *Agent) SetDetachedRoot(root *protocol.Descriptor) error {
	return a.Deliver(protocol.Event{Type: protocol.EventSetDetachedRoot, Node: root})
}

func (a *Agent) SetChildNodes(parent protocol.NodeID, nodes []*protocol.Descriptor) error {
	if nodes == nil {
		nodes = []*protocol.Descriptor{}
	}
	return a.Deliver(protocol.Event{Type: protocol.EventSetChildNodes, ParentID: parent, Nodes: nodes})
}

func (a *Agent) ChildNodeCountUpdated(id protocol.NodeID, count int) error {
	return a.Deliver(protocol.Event{Type: protocol.EventChildNodeCountUpdated, NodeID: id, Count: count})
}

func (a *Agent) ChildNodeInserted(parent, previous protocol.NodeID, node *protocol.Descriptor) error {
	return a.Deliver(protocol.Event{Type: protocol.EventChildNodeInserted, ParentID: parent, PreviousID: previous, Node: node})
}

func (a *Agent) ChildNodeRemoved(parent, id protocol.NodeID) error {
	return a.Deliver(protocol.Event{Type: protocol.EventChildNodeRemoved, ParentID: parent, NodeID: id})
}

// DocumentUpdated drops the mirror without restoring watchpoints yet; they
// are restored when the backend sends the new document.
func (a *Agent) DocumentUpdated() error {
	return a.Deliver(protocol.Event{Type: protocol.EventDocumentUpdated})
}

func (a *Agent) apply(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventAttributesUpdated:
		n := a.table[ev.NodeID]
		if n == nil {
			a.stale(string(ev.Type), ev.NodeID)
			return
		}
		n.attrs.reset(ev.Attributes)
		a.fire(EventAttributeModified, n, nil, "")

	case protocol.EventAttributeModified:
		n := a.table[ev.NodeID]
		if n == nil {
			a.stale(string(ev.Type), ev.NodeID)
			return
		}
		n.attrs.set(ev.Name, ev.Value)
		a.fire(EventAttributeModified, n, nil, ev.Name)

	case protocol.EventAttributeRemoved:
		n := a.table[ev.NodeID]
		if n == nil {
			a.stale(string(ev.Type), ev.NodeID)
			return
		}
		if n.attrs.remove(ev.Name) {
			a.fire(EventAttributeModified, n, nil, ev.Name)
		}

	case protocol.EventCharacterDataModified:
		n := a.table[ev.NodeID]
		if n == nil {
			a.stale(string(ev.Type), ev.NodeID)
			return
		}
		n.nodeValue = ev.Value
		a.fire(EventCharacterDataModified, n, nil, "")

	case protocol.EventChildNodeCountUpdated:
		n := a.table[ev.NodeID]
		if n == nil {
			a.stale(string(ev.Type), ev.NodeID)
			return
		}
		n.childCount = ev.Count
		if a.hooks.OnChildCountUpdated != nil {
			a.hooks.OnChildCountUpdated(n)
		}

	case protocol.EventSetDocument:
		a.installDocument(ev.Node)

	case protocol.EventDocumentUpdated:
		a.generation++
		a.table = make(map[protocol.NodeID]*Node)
		a.detached = nil
		a.doc = nil
		a.logger.Info("domagent: document invalidated", "generation", a.generation)
		if a.hooks.OnDocumentUpdated != nil {
			a.hooks.OnDocumentUpdated()
		}

	case protocol.EventSetDetachedRoot:
		if a.table[ev.Node.ID] != nil {
			a.logger.Debug("domagent: detached root already bound", "node_id", ev.Node.ID)
			return
		}
		n := newNode(a.doc, ev.Node)
		a.detached = append(a.detached, n)
		a.bind(n)

	case protocol.EventSetChildNodes:
		p := a.table[ev.ParentID]
		if p == nil {
			a.stale(string(ev.Type), ev.ParentID)
			return
		}
		a.replaceChildren(p, ev.Nodes)

	case protocol.EventChildNodeInserted:
		a.childInserted(ev.ParentID, ev.PreviousID, ev.Node)

	case protocol.EventChildNodeRemoved:
		a.childRemoved(ev.ParentID, ev.NodeID)
	}
	a.recordEvent(ev.Type)
}

func (a *Agent) childInserted(parentID, prevID protocol.NodeID, d *protocol.Descriptor) {
	p := a.table[parentID]
	if p == nil {
		a.stale(string(protocol.EventChildNodeInserted), parentID)
		return
	}
	if dup := a.table[d.ID]; dup != nil {
		a.logger.Debug("domagent: duplicate insert ignored", "node_id", d.ID, "parent_id", parentID)
		return
	}
	var prev *Node
	if prevID != 0 {
		prev = a.table[prevID]
	}
	n := p.insertChild(prev, d)
	a.bind(n)
	a.fire(EventNodeInserted, n, p, "")
}

func (a *Agent) childRemoved(parentID, id protocol.NodeID) {
	p := a.table[parentID]
	n := a.table[id]
	if p == nil || n == nil || n.parent != p {
		a.stale(string(protocol.EventChildNodeRemoved), id)
		return
	}
	p.removeChild(n)
	a.fire(EventNodeRemoved, n, p, "")
	a.unbind(n)
}

// replaceChildren installs a fresh child list on p. Nodes of the old list
// whose id does not come back lose their watchpoints.
func (a *Agent) replaceChildren(p *Node, ds []*protocol.Descriptor) {
	var oldIDs []protocol.NodeID
	for _, c := range p.children {
		c.walk(func(x *Node) {
			if a.table[x.id] == x {
				delete(a.table, x.id)
			}
			oldIDs = append(oldIDs, x.id)
		})
	}
	p.setChildren(ds)
	for _, c := range p.children {
		a.bind(c)
	}
	for _, id := range oldIDs {
		if a.table[id] == nil {
			a.watchpoints.RemoveAllForNode(id)
		}
	}
	if a.hooks.OnChildrenSet != nil {
		a.hooks.OnChildrenSet(p)
	}
}
