package protocol

import "fmt"

// Descriptor is the wire shape of a node as delivered by the backend.
//
// Children distinguishes "not embedded" (nil, encoded as null or omitted)
// from "embedded and empty" ([]). The field is never omitempty so that the
// distinction survives a JSON round trip.
type Descriptor struct {
	ID             NodeID        `json:"nodeId"`
	Type           NodeType      `json:"nodeType"`
	NodeName       string        `json:"nodeName"`
	LocalName      string        `json:"localName,omitempty"`
	NodeValue      string        `json:"nodeValue,omitempty"`
	Attributes     []string      `json:"attributes,omitempty"` // name, value, name, value...
	ChildNodeCount int           `json:"childNodeCount,omitempty"`
	Children       []*Descriptor `json:"children"`

	// Document nodes.
	DocumentURL string `json:"documentURL,omitempty"`

	// Doctype nodes.
	PublicID       string `json:"publicId,omitempty"`
	SystemID       string `json:"systemId,omitempty"`
	InternalSubset string `json:"internalSubset,omitempty"`

	// Attribute nodes.
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// MalformedError reports a descriptor or event that violates the wire
// contract. It is never applied to the mirror.
type MalformedError struct {
	NodeID NodeID
	Reason string
}

func (e *MalformedError) Error() string {
	if e.NodeID == 0 {
		return "protocol: malformed: " + e.Reason
	}
	return fmt.Sprintf("protocol: malformed node %d: %s", e.NodeID, e.Reason)
}

// Validate checks d and every embedded child.
func (d *Descriptor) Validate() error {
	if d == nil {
		return &MalformedError{Reason: "nil descriptor"}
	}
	if d.ID <= 0 {
		return &MalformedError{Reason: fmt.Sprintf("node id %d", d.ID)}
	}
	if d.Type <= 0 || d.Type > NotationNode {
		return &MalformedError{NodeID: d.ID, Reason: fmt.Sprintf("unknown node type %d", d.Type)}
	}
	if len(d.Attributes)%2 != 0 {
		return &MalformedError{NodeID: d.ID, Reason: "odd attribute list"}
	}
	if d.ChildNodeCount < 0 {
		return &MalformedError{NodeID: d.ID, Reason: "negative child count"}
	}
	for _, c := range d.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll validates a descriptor list as delivered by setChildNodes or
// a children fetch.
func ValidateAll(ds []*Descriptor) error {
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
