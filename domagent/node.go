package domagent

import (
	"context"

	"github.com/hazyhaar/dommirror/protocol"
)

// Node is one node of the mirrored tree. Its fields belong to the agent
// loop: read them from inside Agent.Do, a document listener or a hook.
// Structural changes are applied only by the Agent.
type Node struct {
	owner *Document

	id        protocol.NodeID
	typ       protocol.NodeType
	nodeName  string
	localName string
	nodeValue string

	// Attribute nodes.
	name, value string

	documentURL    string
	publicID       string
	systemID       string
	internalSubset string

	attrs      attrs
	childCount int
	children   []*Node // nil until fetched

	// Derived from the parent's child list by renumber.
	parent      *Node
	index       int
	indexed     bool
	prev, next  *Node
	first, last *Node
}

func newNode(owner *Document, d *protocol.Descriptor) *Node {
	n := &Node{owner: owner}
	n.init(d)
	return n
}

func (n *Node) init(d *protocol.Descriptor) {
	n.id = d.ID
	n.typ = d.Type
	n.nodeName = d.NodeName
	n.localName = d.LocalName
	n.nodeValue = d.NodeValue
	n.childCount = d.ChildNodeCount
	n.attrs.reset(d.Attributes)

	switch d.Type {
	case protocol.ElementNode, protocol.DocumentNode:
		n.documentURL = d.DocumentURL
	case protocol.DocumentTypeNode:
		n.publicID = d.PublicID
		n.systemID = d.SystemID
		n.internalSubset = d.InternalSubset
	case protocol.AttributeNode:
		n.name = d.Name
		n.value = d.Value
	}

	if d.Children != nil {
		n.setChildren(d.Children)
	}

	if d.Type == protocol.ElementNode && n.owner != nil {
		// Frames carry their own HTML and BODY; the first seen wins.
		if n.owner.documentElement == nil && n.nodeName == "HTML" {
			n.owner.documentElement = n
		}
		if n.owner.body == nil && n.nodeName == "BODY" {
			n.owner.body = n
		}
	}
}

func (n *Node) ID() protocol.NodeID      { return n.id }
func (n *Node) Type() protocol.NodeType  { return n.typ }
func (n *Node) NodeName() string         { return n.nodeName }
func (n *Node) LocalName() string        { return n.localName }
func (n *Node) NodeValue() string        { return n.nodeValue }
func (n *Node) Name() string             { return n.name }
func (n *Node) Value() string            { return n.value }
func (n *Node) DocumentURL() string      { return n.documentURL }
func (n *Node) PublicID() string         { return n.publicID }
func (n *Node) SystemID() string         { return n.systemID }
func (n *Node) InternalSubset() string   { return n.internalSubset }
func (n *Node) OwnerDocument() *Document { return n.owner }
func (n *Node) ParentNode() *Node        { return n.parent }
func (n *Node) NextSibling() *Node       { return n.next }
func (n *Node) PrevSibling() *Node       { return n.prev }
func (n *Node) FirstChild() *Node        { return n.first }
func (n *Node) LastChild() *Node         { return n.last }
func (n *Node) ChildNodeCount() int      { return n.childCount }
func (n *Node) HasChildNodes() bool      { return n.childCount > 0 }
func (n *Node) HasAttributes() bool      { return n.attrs.len() > 0 }
func (n *Node) Attributes() []Attribute  { return n.attrs.items() }

// GetAttribute returns the value of name and whether it is present.
func (n *Node) GetAttribute(name string) (string, bool) { return n.attrs.get(name) }

// TextContent is the character data of text-like nodes.
func (n *Node) TextContent() string { return n.nodeValue }

// Index returns the node's position among its siblings. ok is false for
// roots and for nodes that were removed.
func (n *Node) Index() (idx int, ok bool) { return n.index, n.indexed }

// Children returns a copy of the child list. A nil result means the
// children were never fetched; an empty non-nil result means there are none.
func (n *Node) Children() []*Node {
	if n.children == nil {
		return nil
	}
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildrenFetched reports whether the child list is known.
func (n *Node) ChildrenFetched() bool { return n.children != nil }

// Path returns the structural path from the document root to n. It is nil
// for the root itself and for nodes that are not attached to the current
// document.
func (n *Node) Path() protocol.Path {
	var p protocol.Path
	cur := n
	for cur.parent != nil {
		if !cur.indexed || cur.nodeName == "" {
			return nil
		}
		p = append(p, protocol.PathStep{Index: cur.index, Name: cur.nodeName})
		cur = cur.parent
	}
	if cur.owner == nil || cur != cur.owner.Node {
		return nil
	}
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// SetAttribute asks the backend to set an attribute and applies it to the
// mirror once confirmed.
func (n *Node) SetAttribute(ctx context.Context, name, value string) <-chan Result[struct{}] {
	if n.owner == nil {
		return failed[struct{}](ErrNoDocument)
	}
	return n.owner.agent.SetAttribute(ctx, n, name, value)
}

// RemoveAttribute asks the backend to remove an attribute and applies the
// removal once confirmed.
func (n *Node) RemoveAttribute(ctx context.Context, name string) <-chan Result[struct{}] {
	if n.owner == nil {
		return failed[struct{}](ErrNoDocument)
	}
	return n.owner.agent.RemoveAttribute(ctx, n, name)
}

// SetNodeValue changes the text of a Text node. For any other node type it
// resolves immediately with ErrNotText and sends nothing to the backend.
func (n *Node) SetNodeValue(ctx context.Context, text string) <-chan Result[struct{}] {
	if n.owner == nil {
		return failed[struct{}](ErrNoDocument)
	}
	return n.owner.agent.SetTextValue(ctx, n, text)
}

// FetchChildren resolves the child list, requesting it only when unknown.
func (n *Node) FetchChildren(ctx context.Context) <-chan Result[[]*Node] {
	if n.owner == nil {
		return failed[[]*Node](ErrNoDocument)
	}
	return n.owner.agent.FetchChildren(ctx, n)
}

// --- structural primitives, called by the Agent only ---

// insertChild builds a node from d and places it right after prev, or
// first when prev is nil or not a child of n.
func (n *Node) insertChild(prev *Node, d *protocol.Descriptor) *Node {
	child := newNode(n.owner, d)
	at := 0
	if prev != nil {
		for i, c := range n.children {
			if c == prev {
				at = i + 1
				break
			}
		}
	}
	if n.children == nil {
		n.children = []*Node{child}
	} else {
		n.children = append(n.children, nil)
		copy(n.children[at+1:], n.children[at:])
		n.children[at] = child
	}
	n.renumber()
	return child
}

// removeChild detaches child from n. The detached subtree is left as is.
func (n *Node) removeChild(child *Node) bool {
	for i, c := range n.children {
		if c != child {
			continue
		}
		n.children = append(n.children[:i], n.children[i+1:]...)
		child.parent = nil
		child.indexed = false
		child.index = 0
		child.prev, child.next = nil, nil
		n.renumber()
		return true
	}
	return false
}

// setChildren replaces the child list wholesale.
func (n *Node) setChildren(ds []*protocol.Descriptor) {
	n.children = make([]*Node, 0, len(ds))
	for _, d := range ds {
		n.children = append(n.children, newNode(n.owner, d))
	}
	n.renumber()
}

// renumber recomputes every derived link of n's children in one pass and
// resets the declared child count to the real one.
func (n *Node) renumber() {
	n.childCount = len(n.children)
	if n.childCount == 0 {
		n.first, n.last = nil, nil
		return
	}
	n.first = n.children[0]
	n.last = n.children[n.childCount-1]
	for i, c := range n.children {
		c.index = i
		c.indexed = true
		c.parent = n
		c.prev, c.next = nil, nil
		if i > 0 {
			c.prev = n.children[i-1]
		}
		if i+1 < n.childCount {
			c.next = n.children[i+1]
		}
	}
}

// walk visits n and every materialised descendant, depth first.
func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}
