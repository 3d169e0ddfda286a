package domagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/dommirror/connectivity"
	"github.com/hazyhaar/dommirror/protocol"
)

// Connectivity service names. The backend side is registered with
// RegisterBackend; the inbound event stream with RegisterFrontend.
const (
	ServiceGetChildNodes    = "dom_get_child_nodes"
	ServiceSetAttribute     = "dom_set_attribute"
	ServiceRemoveAttribute  = "dom_remove_attribute"
	ServiceSetTextValue     = "dom_set_text_value"
	ServiceArmWatchpoint    = "dom_arm_watchpoint"
	ServiceDisarmWatchpoint = "dom_disarm_watchpoint"
	ServiceResolvePath      = "dom_resolve_path"
	ServiceEvent            = "dom_event"
)

type backendRequest struct {
	NodeID protocol.NodeID         `json:"nodeId,omitempty"`
	Name   string                  `json:"name,omitempty"`
	Value  string                  `json:"value,omitempty"`
	Kind   protocol.WatchpointKind `json:"kind"`
	Path   string                  `json:"path,omitempty"`
}

type backendResponse struct {
	Nodes  []*protocol.Descriptor `json:"nodes,omitempty"`
	NodeID protocol.NodeID        `json:"nodeId,omitempty"`
	OK     bool                   `json:"ok"`
}

// RegisterBackend exposes b as local connectivity services, so that a
// RoutedBackend (in this process or, through the routes table, in
// another one) can reach it.
func RegisterBackend(router *connectivity.Router, b protocol.Backend) {
	handle := func(service string, fn func(ctx context.Context, req backendRequest) (backendResponse, error)) {
		router.RegisterLocal(service, func(ctx context.Context, payload []byte) ([]byte, error) {
			var req backendRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%s: unmarshal: %w", service, err)
			}
			resp, err := fn(ctx, req)
			if err != nil {
				return nil, err
			}
			resp.OK = true
			return json.Marshal(resp)
		})
	}

	handle(ServiceGetChildNodes, func(ctx context.Context, req backendRequest) (backendResponse, error) {
		nodes, err := b.GetChildNodes(ctx, req.NodeID)
		if nodes == nil {
			nodes = []*protocol.Descriptor{}
		}
		return backendResponse{Nodes: nodes}, err
	})
	handle(ServiceSetAttribute, func(ctx context.Context, req backendRequest) (backendResponse, error) {
		return backendResponse{}, b.SetAttribute(ctx, req.NodeID, req.Name, req.Value)
	})
	handle(ServiceRemoveAttribute, func(ctx context.Context, req backendRequest) (backendResponse, error) {
		return backendResponse{}, b.RemoveAttribute(ctx, req.NodeID, req.Name)
	})
	handle(ServiceSetTextValue, func(ctx context.Context, req backendRequest) (backendResponse, error) {
		return backendResponse{}, b.SetTextValue(ctx, req.NodeID, req.Value)
	})
	handle(ServiceArmWatchpoint, func(ctx context.Context, req backendRequest) (backendResponse, error) {
		return backendResponse{}, b.ArmWatchpoint(ctx, req.NodeID, req.Kind)
	})
	handle(ServiceDisarmWatchpoint, func(ctx context.Context, req backendRequest) (backendResponse, error) {
		return backendResponse{}, b.DisarmWatchpoint(ctx, req.NodeID, req.Kind)
	})
	handle(ServiceResolvePath, func(ctx context.Context, req backendRequest) (backendResponse, error) {
		path, err := protocol.ParsePath(req.Path)
		if err != nil {
			return backendResponse{}, err
		}
		id, err := b.ResolvePath(ctx, path)
		return backendResponse{NodeID: id}, err
	})
}

// RegisterFrontend accepts JSON protocol events on the dom_event service
// and dispatches them to f.
func RegisterFrontend(router *connectivity.Router, f protocol.Frontend) {
	router.RegisterLocal(ServiceEvent, func(ctx context.Context, payload []byte) ([]byte, error) {
		ev, err := protocol.UnmarshalEvent(payload)
		if err != nil {
			return nil, err
		}
		if err := protocol.Dispatch(f, *ev); err != nil {
			return nil, err
		}
		return []byte(`{"ok":true}`), nil
	})
}

// RoutedBackend implements protocol.Backend over connectivity services.
// Where each call lands is decided by the router's routes table.
type RoutedBackend struct {
	router *connectivity.Router
}

var _ protocol.Backend = (*RoutedBackend)(nil)

// NewRoutedBackend returns a backend that calls the dom_* services.
func NewRoutedBackend(router *connectivity.Router) *RoutedBackend {
	return &RoutedBackend{router: router}
}

func (b *RoutedBackend) call(ctx context.Context, service string, req backendRequest) (backendResponse, error) {
	var resp backendResponse
	payload, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("domagent: %s: marshal: %w", service, err)
	}
	out, err := b.router.Call(ctx, service, payload)
	if err != nil {
		return resp, err
	}
	if len(out) == 0 {
		// noop route
		return resp, nil
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return resp, fmt.Errorf("domagent: %s: unmarshal: %w", service, err)
	}
	return resp, nil
}

func (b *RoutedBackend) GetChildNodes(ctx context.Context, id protocol.NodeID) ([]*protocol.Descriptor, error) {
	resp, err := b.call(ctx, ServiceGetChildNodes, backendRequest{NodeID: id})
	if err != nil {
		return nil, err
	}
	if resp.Nodes == nil {
		return []*protocol.Descriptor{}, nil
	}
	return resp.Nodes, nil
}

func (b *RoutedBackend) SetAttribute(ctx context.Context, id protocol.NodeID, name, value string) error {
	_, err := b.call(ctx, ServiceSetAttribute, backendRequest{NodeID: id, Name: name, Value: value})
	return err
}

func (b *RoutedBackend) RemoveAttribute(ctx context.Context, id protocol.NodeID, name string) error {
	_, err := b.call(ctx, ServiceRemoveAttribute, backendRequest{NodeID: id, Name: name})
	return err
}

func (b *RoutedBackend) SetTextValue(ctx context.Context, id protocol.NodeID, text string) error {
	_, err := b.call(ctx, ServiceSetTextValue, backendRequest{NodeID: id, Value: text})
	return err
}

func (b *RoutedBackend) ArmWatchpoint(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error {
	_, err := b.call(ctx, ServiceArmWatchpoint, backendRequest{NodeID: id, Kind: kind})
	return err
}

func (b *RoutedBackend) DisarmWatchpoint(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error {
	_, err := b.call(ctx, ServiceDisarmWatchpoint, backendRequest{NodeID: id, Kind: kind})
	return err
}

func (b *RoutedBackend) ResolvePath(ctx context.Context, path protocol.Path) (protocol.NodeID, error) {
	resp, err := b.call(ctx, ServiceResolvePath, backendRequest{Path: path.String()})
	return resp.NodeID, err
}
