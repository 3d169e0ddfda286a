package cdp

import (
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dommirror/protocol"
)

// Descriptor converts a CDP node, with whatever children it carries, into
// a protocol descriptor. Shadow roots, frame documents and pseudo elements
// are not part of the mirror and are dropped.
func Descriptor(n *proto.DOMNode) *protocol.Descriptor {
	if n == nil {
		return nil
	}
	d := &protocol.Descriptor{
		ID:             protocol.NodeID(n.NodeID),
		Type:           protocol.NodeType(n.NodeType),
		NodeName:       n.NodeName,
		LocalName:      n.LocalName,
		NodeValue:      n.NodeValue,
		Attributes:     n.Attributes,
		DocumentURL:    n.DocumentURL,
		PublicID:       n.PublicID,
		SystemID:       n.SystemID,
		InternalSubset: n.InternalSubset,
		Name:           n.Name,
		Value:          n.Value,
	}
	if n.ChildNodeCount != nil {
		d.ChildNodeCount = *n.ChildNodeCount
	}
	switch {
	case n.Children != nil:
		d.Children = Descriptors(n.Children)
		if d.ChildNodeCount < len(d.Children) {
			d.ChildNodeCount = len(d.Children)
		}
	case n.ChildNodeCount != nil && *n.ChildNodeCount == 0:
		// A declared empty list is known, not pending.
		d.Children = []*protocol.Descriptor{}
	}
	return d
}

// Descriptors converts a list, keeping a nil list nil.
func Descriptors(nodes []*proto.DOMNode) []*protocol.Descriptor {
	if nodes == nil {
		return nil
	}
	out := make([]*protocol.Descriptor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Descriptor(n))
	}
	return out
}

var breakpointTypes = map[protocol.WatchpointKind]proto.DOMDebuggerDOMBreakpointType{
	protocol.SubtreeModified:   proto.DOMDebuggerDOMBreakpointTypeSubtreeModified,
	protocol.AttributeModified: proto.DOMDebuggerDOMBreakpointTypeAttributeModified,
	protocol.NodeRemoved:       proto.DOMDebuggerDOMBreakpointTypeNodeRemoved,
}

func breakpointType(kind protocol.WatchpointKind) (proto.DOMDebuggerDOMBreakpointType, bool) {
	t, ok := breakpointTypes[kind]
	return t, ok
}
