package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType names an inbound notification.
type EventType string

const (
	EventAttributesUpdated     EventType = "attributesUpdated"
	EventAttributeModified     EventType = "attributeModified"
	EventAttributeRemoved      EventType = "attributeRemoved"
	EventCharacterDataModified EventType = "characterDataModified"
	EventSetDocument           EventType = "setDocument"
	EventSetDetachedRoot       EventType = "setDetachedRoot"
	EventSetChildNodes         EventType = "setChildNodes"
	EventChildNodeCountUpdated EventType = "childNodeCountUpdated"
	EventChildNodeInserted     EventType = "childNodeInserted"
	EventChildNodeRemoved      EventType = "childNodeRemoved"
	EventDocumentUpdated       EventType = "documentUpdated"
)

// Event is the serialised form of any inbound notification, used by
// transports that push events as JSON (HTTP, connectivity services).
type Event struct {
	Type       EventType     `json:"type"`
	NodeID     NodeID        `json:"nodeId,omitempty"`
	ParentID   NodeID        `json:"parentNodeId,omitempty"`
	PreviousID NodeID        `json:"previousNodeId,omitempty"`
	Name       string        `json:"name,omitempty"`
	Value      string        `json:"value,omitempty"`
	Attributes []string      `json:"attributes,omitempty"`
	Count      int           `json:"childNodeCount,omitempty"`
	Node       *Descriptor   `json:"node,omitempty"`
	Nodes      []*Descriptor `json:"nodes,omitempty"`
}

// Validate checks that ev carries the fields its type requires.
func (ev *Event) Validate() error {
	needID := func(id NodeID, field string) error {
		if id <= 0 {
			return &MalformedError{Reason: fmt.Sprintf("%s: missing %s", ev.Type, field)}
		}
		return nil
	}
	switch ev.Type {
	case EventAttributesUpdated:
		if err := needID(ev.NodeID, "nodeId"); err != nil {
			return err
		}
		if len(ev.Attributes)%2 != 0 {
			return &MalformedError{NodeID: ev.NodeID, Reason: "odd attribute list"}
		}
	case EventAttributeModified, EventAttributeRemoved:
		if err := needID(ev.NodeID, "nodeId"); err != nil {
			return err
		}
		if ev.Name == "" {
			return &MalformedError{NodeID: ev.NodeID, Reason: string(ev.Type) + ": empty attribute name"}
		}
	case EventCharacterDataModified:
		return needID(ev.NodeID, "nodeId")
	case EventChildNodeCountUpdated:
		if err := needID(ev.NodeID, "nodeId"); err != nil {
			return err
		}
		if ev.Count < 0 {
			return &MalformedError{NodeID: ev.NodeID, Reason: "negative child count"}
		}
	case EventSetDocument:
		// A nil or id-less root means "no inspected document".
		if ev.Node != nil && ev.Node.ID != 0 {
			return ev.Node.Validate()
		}
	case EventSetDetachedRoot:
		return ev.Node.Validate()
	case EventSetChildNodes:
		if err := needID(ev.ParentID, "parentNodeId"); err != nil {
			return err
		}
		return ValidateAll(ev.Nodes)
	case EventChildNodeInserted:
		if err := needID(ev.ParentID, "parentNodeId"); err != nil {
			return err
		}
		return ev.Node.Validate()
	case EventChildNodeRemoved:
		if err := needID(ev.ParentID, "parentNodeId"); err != nil {
			return err
		}
		return needID(ev.NodeID, "nodeId")
	case EventDocumentUpdated:
	default:
		return &MalformedError{Reason: fmt.Sprintf("unknown event type %q", ev.Type)}
	}
	return nil
}

// Dispatch validates ev and delivers it to f.
func Dispatch(f Frontend, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Type {
	case EventAttributesUpdated:
		return f.AttributesUpdated(ev.NodeID, ev.Attributes)
	case EventAttributeModified:
		return f.AttributeModified(ev.NodeID, ev.Name, ev.Value)
	case EventAttributeRemoved:
		return f.AttributeRemoved(ev.NodeID, ev.Name)
	case EventCharacterDataModified:
		return f.CharacterDataModified(ev.NodeID, ev.Value)
	case EventSetDocument:
		return f.SetDocument(ev.Node)
	case EventSetDetachedRoot:
		return f.SetDetachedRoot(ev.Node)
	case EventSetChildNodes:
		return f.SetChildNodes(ev.ParentID, ev.Nodes)
	case EventChildNodeCountUpdated:
		return f.ChildNodeCountUpdated(ev.NodeID, ev.Count)
	case EventChildNodeInserted:
		return f.ChildNodeInserted(ev.ParentID, ev.PreviousID, ev.Node)
	case EventChildNodeRemoved:
		return f.ChildNodeRemoved(ev.ParentID, ev.NodeID)
	default:
		return f.DocumentUpdated()
	}
}

// MarshalEvent encodes ev as JSON.
func MarshalEvent(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

// UnmarshalEvent decodes and validates a JSON event.
func UnmarshalEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
