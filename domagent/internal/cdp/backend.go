// Package cdp connects domagent to a Chrome page over the DevTools
// protocol. Backend serves requests; Attach pumps DOM events into a
// protocol.Frontend.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	rodcdp "github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dommirror/protocol"
)

// Backend implements protocol.Backend on a rod page.
type Backend struct {
	page   *rod.Page
	pierce bool
	logger *slog.Logger
}

var _ protocol.Backend = (*Backend)(nil)

// NewBackend wraps page. pierce extends child requests into shadow roots
// and iframes on the browser side.
func NewBackend(page *rod.Page, pierce bool, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{page: page, pierce: pierce, logger: logger}
}

// GetChildNodes asks for the direct children of id. Chrome answers the
// request with an empty result and delivers the list as a setChildNodes
// event, so the event is awaited here.
func (b *Backend) GetChildNodes(ctx context.Context, id protocol.NodeID) ([]*protocol.Descriptor, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	page := b.page.Context(ctx)

	var nodes []*proto.DOMNode
	got := false
	wait := page.EachEvent(func(e *proto.DOMSetChildNodes) bool {
		if protocol.NodeID(e.ParentID) != id {
			return false
		}
		nodes, got = e.Nodes, true
		return true
	})

	depth := 1
	req := proto.DOMRequestChildNodes{NodeID: proto.DOMNodeID(id), Depth: &depth, Pierce: b.pierce}
	if err := req.Call(page); err != nil {
		return nil, fmt.Errorf("cdp: requestChildNodes %d: %w", id, err)
	}
	wait()
	if !got {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cdp: requestChildNodes %d: %w", id, err)
		}
		return nil, fmt.Errorf("cdp: requestChildNodes %d: no setChildNodes", id)
	}
	out := Descriptors(nodes)
	if out == nil {
		out = []*protocol.Descriptor{}
	}
	return out, nil
}

func (b *Backend) SetAttribute(ctx context.Context, id protocol.NodeID, name, value string) error {
	err := proto.DOMSetAttributeValue{NodeID: proto.DOMNodeID(id), Name: name, Value: value}.Call(b.page.Context(ctx))
	return reject("setAttributeValue", err)
}

func (b *Backend) RemoveAttribute(ctx context.Context, id protocol.NodeID, name string) error {
	err := proto.DOMRemoveAttribute{NodeID: proto.DOMNodeID(id), Name: name}.Call(b.page.Context(ctx))
	return reject("removeAttribute", err)
}

func (b *Backend) SetTextValue(ctx context.Context, id protocol.NodeID, text string) error {
	err := proto.DOMSetNodeValue{NodeID: proto.DOMNodeID(id), Value: text}.Call(b.page.Context(ctx))
	return reject("setNodeValue", err)
}

func (b *Backend) ArmWatchpoint(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error {
	t, ok := breakpointType(kind)
	if !ok {
		return fmt.Errorf("cdp: unknown watchpoint kind %d", kind)
	}
	err := proto.DOMDebuggerSetDOMBreakpoint{NodeID: proto.DOMNodeID(id), Type: t}.Call(b.page.Context(ctx))
	return reject("setDOMBreakpoint", err)
}

func (b *Backend) DisarmWatchpoint(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error {
	t, ok := breakpointType(kind)
	if !ok {
		return fmt.Errorf("cdp: unknown watchpoint kind %d", kind)
	}
	err := proto.DOMDebuggerRemoveDOMBreakpoint{NodeID: proto.DOMNodeID(id), Type: t}.Call(b.page.Context(ctx))
	return reject("removeDOMBreakpoint", err)
}

// ResolvePath pushes the node at path to the frontend. Chrome reports a
// path that leads nowhere as a protocol error; that is a miss, not a
// failure, and resolves to 0.
func (b *Backend) ResolvePath(ctx context.Context, path protocol.Path) (protocol.NodeID, error) {
	res, err := proto.DOMPushNodeByPathToFrontend{Path: path.String()}.Call(b.page.Context(ctx))
	if err != nil {
		var cdpErr *cdpError
		if errors.As(err, &cdpErr) {
			b.logger.Debug("cdp: path did not resolve", "path", path.String(), "error", err)
			return 0, nil
		}
		return 0, fmt.Errorf("cdp: pushNodeByPathToFrontend: %w", err)
	}
	return protocol.NodeID(res.NodeID), nil
}

// cdpError is the error Chrome returns when it refuses a command, as
// opposed to a transport or context failure.
type cdpError = rodcdp.Error

// reject maps a Chrome refusal to protocol.ErrRejected.
func reject(method string, err error) error {
	if err == nil {
		return nil
	}
	var cdpErr *cdpError
	if errors.As(err, &cdpErr) {
		return fmt.Errorf("cdp: %s: %w: %s", method, protocol.ErrRejected, cdpErr.Message)
	}
	return fmt.Errorf("cdp: %s: %w", method, err)
}
