package cdp

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dommirror/protocol"
)

func intPtr(n int) *int { return &n }

func TestDescriptor_Tree(t *testing.T) {
	root := &proto.DOMNode{
		NodeID:         1,
		NodeType:       9,
		NodeName:       "#document",
		DocumentURL:    "https://example.com/",
		ChildNodeCount: intPtr(2),
		Children: []*proto.DOMNode{
			{NodeID: 2, NodeType: 10, NodeName: "html", Name: "html", PublicID: "", SystemID: ""},
			{
				NodeID:         3,
				NodeType:       1,
				NodeName:       "HTML",
				LocalName:      "html",
				Attributes:     []string{"lang", "en"},
				ChildNodeCount: intPtr(2),
			},
		},
	}

	d := Descriptor(root)
	if err := d.Validate(); err != nil {
		t.Fatalf("converted tree invalid: %v", err)
	}
	if d.ID != 1 || d.Type != protocol.DocumentNode || d.DocumentURL != "https://example.com/" {
		t.Errorf("root = %+v", d)
	}
	if len(d.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(d.Children))
	}
	html := d.Children[1]
	if html.ChildNodeCount != 2 || html.Children != nil {
		t.Errorf("HTML: count=%d children=%v, want 2 and unfetched", html.ChildNodeCount, html.Children)
	}
	if html.Attributes[0] != "lang" || html.Attributes[1] != "en" {
		t.Errorf("attributes = %v", html.Attributes)
	}
}

func TestDescriptor_DeclaredEmptyIsKnown(t *testing.T) {
	d := Descriptor(&proto.DOMNode{NodeID: 5, NodeType: 1, NodeName: "BR", ChildNodeCount: intPtr(0)})
	if d.Children == nil || len(d.Children) != 0 {
		t.Fatalf("children = %#v, want empty non-nil", d.Children)
	}

	text := Descriptor(&proto.DOMNode{NodeID: 6, NodeType: 3, NodeName: "#text", NodeValue: "hi"})
	if text.Children != nil {
		t.Fatalf("text children = %#v, want nil", text.Children)
	}
}

func TestDescriptor_CountNeverBelowChildren(t *testing.T) {
	d := Descriptor(&proto.DOMNode{
		NodeID: 7, NodeType: 1, NodeName: "UL",
		Children: []*proto.DOMNode{{NodeID: 8, NodeType: 1, NodeName: "LI"}},
	})
	if d.ChildNodeCount != 1 {
		t.Fatalf("count = %d, want 1", d.ChildNodeCount)
	}
}

func TestDescriptors_NilStaysNil(t *testing.T) {
	if Descriptors(nil) != nil {
		t.Fatal("nil list became non-nil")
	}
	if Descriptor(nil) != nil {
		t.Fatal("nil node became non-nil")
	}
}

func TestBreakpointType(t *testing.T) {
	for _, k := range protocol.WatchpointKinds {
		bt, ok := breakpointType(k)
		if !ok {
			t.Fatalf("no breakpoint type for %v", k)
		}
		if string(bt) != k.String() {
			t.Errorf("kind %v maps to %q, want %q", k, bt, k.String())
		}
	}
	if _, ok := breakpointType(protocol.WatchpointKind(9)); ok {
		t.Error("unknown kind mapped")
	}
}
