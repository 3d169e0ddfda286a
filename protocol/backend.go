package protocol

import (
	"context"
	"errors"
)

// ErrRejected may be returned (or wrapped) by a Backend that declines a
// mutation, e.g. for an invalid attribute name.
var ErrRejected = errors.New("protocol: mutation rejected")

// Backend is the outbound side of the contract. Every method is one
// request; a non-nil error is the negative acknowledgment.
type Backend interface {
	// GetChildNodes returns the full child list of id.
	GetChildNodes(ctx context.Context, id NodeID) ([]*Descriptor, error)
	SetAttribute(ctx context.Context, id NodeID, name, value string) error
	RemoveAttribute(ctx context.Context, id NodeID, name string) error
	SetTextValue(ctx context.Context, id NodeID, text string) error
	ArmWatchpoint(ctx context.Context, id NodeID, kind WatchpointKind) error
	DisarmWatchpoint(ctx context.Context, id NodeID, kind WatchpointKind) error
	// ResolvePath maps a structural path onto an id of the current
	// document. It returns 0 and a nil error when nothing is there.
	ResolvePath(ctx context.Context, path Path) (NodeID, error)
}

// Frontend is the inbound side: one-way notifications pushed by the
// backend. Implementations return an error only when the notification
// itself is malformed; unknown ids are silently ignored.
type Frontend interface {
	AttributesUpdated(id NodeID, attributes []string) error
	AttributeModified(id NodeID, name, value string) error
	AttributeRemoved(id NodeID, name string) error
	CharacterDataModified(id NodeID, value string) error
	SetDocument(root *Descriptor) error
	SetDetachedRoot(root *Descriptor) error
	SetChildNodes(parent NodeID, nodes []*Descriptor) error
	ChildNodeCountUpdated(id NodeID, count int) error
	ChildNodeInserted(parent, previous NodeID, node *Descriptor) error
	ChildNodeRemoved(parent, id NodeID) error
	DocumentUpdated() error
}
