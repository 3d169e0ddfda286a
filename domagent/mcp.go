package domagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dommirror/kit"
	"github.com/hazyhaar/dommirror/protocol"
)

// RegisterMCP registers the domagent tools on srv.
func (a *Agent) RegisterMCP(srv *mcp.Server) {
	a.registerDocumentTool(srv)
	a.registerNodeTool(srv)
	a.registerResolvePathTool(srv)
	a.registerFetchChildrenTool(srv)
	a.registerSetAttributeTool(srv)
	a.registerRemoveAttributeTool(srv)
	a.registerSetTextTool(srv)
	a.registerWatchpointSetTool(srv)
	a.registerWatchpointRemoveTool(srv)
	a.registerWatchpointListTool(srv)
	a.registerSnapshotTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	nodeIDProp = map[string]any{"type": "integer", "description": "Backend node id"}
	kindProp   = map[string]any{"type": "string", "enum": []any{"subtree-modified", "attribute-modified", "node-removed"}, "description": "Watchpoint kind"}
)

// register wraps endpoint in the logging middleware and adds it to srv.
func (a *Agent) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(a.logger, tool.Name)(endpoint), decode)
}

// decodeInto returns a decode function that unmarshals the arguments into
// a fresh T.
func decodeInto[T any]() func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
}

// --- document ---

func (a *Agent) registerDocumentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_document",
		Description: "Describe the mirrored document: generation, URL, node count, root node and watchpoint counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return a.DescribeDocument(ctx)
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	a.register(srv, tool, endpoint, decode)
}

// --- node ---

type nodeRequest struct {
	NodeID protocol.NodeID `json:"node_id"`
}

func (a *Agent) registerNodeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_node",
		Description: "Describe one mirrored node: name, attributes, child ids (null when not fetched yet), parent, path and watchpoints.",
		InputSchema: inputSchema(map[string]any{"node_id": nodeIDProp}, []string{"node_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return a.DescribeNode(ctx, req.(*nodeRequest).NodeID)
	}
	a.register(srv, tool, endpoint, decodeInto[nodeRequest]())
}

// --- resolve_path ---

type resolvePathRequest struct {
	Path string `json:"path"`
}

func (a *Agent) registerResolvePathTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_resolve_path",
		Description: "Find the node at a structural path such as \"1,HTML,1,BODY\" (index,nodeName pairs from the document).",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Comma-separated index,nodeName pairs"},
		}, []string{"path"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		p, err := protocol.ParsePath(req.(*resolvePathRequest).Path)
		if err != nil {
			return nil, err
		}
		return a.ResolvePath(ctx, p)
	}
	a.register(srv, tool, endpoint, decodeInto[resolvePathRequest]())
}

// --- fetch_children ---

func (a *Agent) registerFetchChildrenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_fetch_children",
		Description: "Return the children of a node, asking the backend for them when they were never fetched.",
		InputSchema: inputSchema(map[string]any{"node_id": nodeIDProp}, []string{"node_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return a.FetchChildrenOf(ctx, req.(*nodeRequest).NodeID)
	}
	a.register(srv, tool, endpoint, decodeInto[nodeRequest]())
}

// --- set_attribute / remove_attribute ---

type attributeRequest struct {
	NodeID protocol.NodeID `json:"node_id"`
	Name   string          `json:"name"`
	Value  string          `json:"value"`
}

func (a *Agent) registerSetAttributeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_set_attribute",
		Description: "Set an attribute on a node. The mirror changes only once the backend accepted it.",
		InputSchema: inputSchema(map[string]any{
			"node_id": nodeIDProp,
			"name":    map[string]any{"type": "string", "description": "Attribute name"},
			"value":   map[string]any{"type": "string", "description": "Attribute value"},
		}, []string{"node_id", "name", "value"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*attributeRequest)
		if r.Name == "" {
			return nil, fmt.Errorf("name is required")
		}
		return a.SetAttributeOf(ctx, r.NodeID, r.Name, r.Value)
	}
	a.register(srv, tool, endpoint, decodeInto[attributeRequest]())
}

func (a *Agent) registerRemoveAttributeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_remove_attribute",
		Description: "Remove an attribute from a node once the backend accepted it.",
		InputSchema: inputSchema(map[string]any{
			"node_id": nodeIDProp,
			"name":    map[string]any{"type": "string", "description": "Attribute name"},
		}, []string{"node_id", "name"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*attributeRequest)
		if r.Name == "" {
			return nil, fmt.Errorf("name is required")
		}
		return a.RemoveAttributeOf(ctx, r.NodeID, r.Name)
	}
	a.register(srv, tool, endpoint, decodeInto[attributeRequest]())
}

// --- set_text ---

type setTextRequest struct {
	NodeID protocol.NodeID `json:"node_id"`
	Text   string          `json:"text"`
}

func (a *Agent) registerSetTextTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_set_text",
		Description: "Replace the character data of a text node. Fails without contacting the backend for other node types.",
		InputSchema: inputSchema(map[string]any{
			"node_id": nodeIDProp,
			"text":    map[string]any{"type": "string", "description": "New text"},
		}, []string{"node_id", "text"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*setTextRequest)
		return a.SetTextOf(ctx, r.NodeID, r.Text)
	}
	a.register(srv, tool, endpoint, decodeInto[setTextRequest]())
}

// --- watchpoints ---

type watchpointRequest struct {
	NodeID protocol.NodeID `json:"node_id"`
	Kind   string          `json:"kind"`
}

func (a *Agent) registerWatchpointSetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_watchpoint_set",
		Description: "Break when a node's subtree changes, its attributes change, or it is removed. Survives document reloads by path.",
		InputSchema: inputSchema(map[string]any{"node_id": nodeIDProp, "kind": kindProp}, []string{"node_id", "kind"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*watchpointRequest)
		kind, err := protocol.ParseWatchpointKind(r.Kind)
		if err != nil {
			return nil, err
		}
		return a.AddWatchpointOn(ctx, r.NodeID, kind)
	}
	a.register(srv, tool, endpoint, decodeInto[watchpointRequest]())
}

func (a *Agent) registerWatchpointRemoveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_watchpoint_remove",
		Description: "Remove a watchpoint from a node.",
		InputSchema: inputSchema(map[string]any{"node_id": nodeIDProp, "kind": kindProp}, []string{"node_id", "kind"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*watchpointRequest)
		kind, err := protocol.ParseWatchpointKind(r.Kind)
		if err != nil {
			return nil, err
		}
		removed, err := a.RemoveWatchpointOn(ctx, r.NodeID, kind)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"removed": removed}, nil
	}
	a.register(srv, tool, endpoint, decodeInto[watchpointRequest]())
}

func (a *Agent) registerWatchpointListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_watchpoint_list",
		Description: "List every live watchpoint with its node, kind and path.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return a.ListWatchpoints(ctx)
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	a.register(srv, tool, endpoint, decode)
}

// --- snapshot ---

func (a *Agent) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domagent_snapshot",
		Description: "Serialise the mirrored document as HTML. Unfetched subtrees are rendered empty.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return a.TakeSnapshot(ctx)
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	a.register(srv, tool, endpoint, decode)
}
