package domagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/dommirror/protocol"
)

const testURL = "https://example.com/"

type call struct {
	op    string
	id    protocol.NodeID
	name  string
	value string
	kind  protocol.WatchpointKind
}

// fakeBackend records every request. Gates, when set, hold a request until
// they are closed.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []call
	children  map[protocol.NodeID][]*protocol.Descriptor
	paths     map[string]protocol.NodeID
	reject    error
	fetchGate chan struct{}
	mutGate   chan struct{}
	armDelay  time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		children: make(map[protocol.NodeID][]*protocol.Descriptor),
		paths:    make(map[string]protocol.NodeID),
	}
}

func (b *fakeBackend) record(c call) {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
}

func (b *fakeBackend) count(op string, id protocol.NodeID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.op == op && (id == 0 || c.id == id) {
			n++
		}
	}
	return n
}

func (b *fakeBackend) last(op string) (call, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].op == op {
			return b.calls[i], true
		}
	}
	return call{}, false
}

func (b *fakeBackend) setPath(path string, id protocol.NodeID) {
	b.mu.Lock()
	b.paths[path] = id
	b.mu.Unlock()
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) GetChildNodes(ctx context.Context, id protocol.NodeID) ([]*protocol.Descriptor, error) {
	b.record(call{op: "get_child_nodes", id: id})
	b.mu.Lock()
	gate, ds := b.fetchGate, b.children[id]
	b.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}
	return ds, nil
}

func (b *fakeBackend) mutation(ctx context.Context, c call) error {
	b.record(c)
	b.mu.Lock()
	gate, reject := b.mutGate, b.reject
	b.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return err
	}
	return reject
}

func (b *fakeBackend) SetAttribute(ctx context.Context, id protocol.NodeID, name, value string) error {
	return b.mutation(ctx, call{op: "set_attribute", id: id, name: name, value: value})
}

func (b *fakeBackend) RemoveAttribute(ctx context.Context, id protocol.NodeID, name string) error {
	return b.mutation(ctx, call{op: "remove_attribute", id: id, name: name})
}

func (b *fakeBackend) SetTextValue(ctx context.Context, id protocol.NodeID, text string) error {
	return b.mutation(ctx, call{op: "set_text_value", id: id, value: text})
}

func (b *fakeBackend) ArmWatchpoint(_ context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error {
	b.mu.Lock()
	delay := b.armDelay
	b.mu.Unlock()
	time.Sleep(delay)
	b.record(call{op: "arm", id: id, kind: kind})
	return nil
}

func (b *fakeBackend) DisarmWatchpoint(_ context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error {
	b.record(call{op: "disarm", id: id, kind: kind})
	return nil
}

func (b *fakeBackend) ResolvePath(_ context.Context, path protocol.Path) (protocol.NodeID, error) {
	b.record(call{op: "resolve_path", value: path.String()})
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paths[path.String()], nil
}

// sampleDoc builds
//
//	#document(1)
//	  HTML(2)
//	    HEAD(3)            children known, empty
//	    BODY(4)
//	      DIV(5) class=a
//	        #text(6) "hello"
//	      DIV(7)           2 children, not fetched
//
// with every id shifted by base.
func sampleDoc(base protocol.NodeID) *protocol.Descriptor {
	id := func(n protocol.NodeID) protocol.NodeID { return base + n }
	return &protocol.Descriptor{
		ID: id(1), Type: protocol.DocumentNode, NodeName: "#document", DocumentURL: testURL, ChildNodeCount: 1,
		Children: []*protocol.Descriptor{{
			ID: id(2), Type: protocol.ElementNode, NodeName: "HTML", LocalName: "html", ChildNodeCount: 2,
			Children: []*protocol.Descriptor{
				{ID: id(3), Type: protocol.ElementNode, NodeName: "HEAD", LocalName: "head", Children: []*protocol.Descriptor{}},
				{ID: id(4), Type: protocol.ElementNode, NodeName: "BODY", LocalName: "body", ChildNodeCount: 2,
					Children: []*protocol.Descriptor{
						{ID: id(5), Type: protocol.ElementNode, NodeName: "DIV", LocalName: "div", ChildNodeCount: 1,
							Attributes: []string{"class", "a"},
							Children: []*protocol.Descriptor{
								{ID: id(6), Type: protocol.TextNode, NodeName: "#text", NodeValue: "hello"},
							}},
						{ID: id(7), Type: protocol.ElementNode, NodeName: "DIV", LocalName: "div", ChildNodeCount: 2},
					}},
			},
		}},
	}
}

func element(id protocol.NodeID, name string, attrs ...string) *protocol.Descriptor {
	return &protocol.Descriptor{ID: id, Type: protocol.ElementNode, NodeName: name, Attributes: attrs}
}

func startAgent(t *testing.T, b protocol.Backend, opts ...Option) *Agent {
	t.Helper()
	a := New(b, append([]Option{WithRequestTimeout(2 * time.Second)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-a.Done()
	})
	return a
}

// loadedAgent returns a running agent holding sampleDoc(0).
func loadedAgent(t *testing.T, opts ...Option) (*Agent, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	a := startAgent(t, b, opts...)
	if err := a.SetDocument(sampleDoc(0)); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	return a, b
}

// onLoop runs fn on the agent loop. fn must not call t.Fatal.
func onLoop(t *testing.T, a *Agent, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Do(ctx, fn); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func await[T any](t *testing.T, ch <-chan Result[T]) Result[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return Await(ctx, ch)
}

// mirrorProblems lists every violation of the structural invariants: each
// reachable node is bound to its own id, nothing unreachable stays bound,
// derived links match the child lists and attribute views agree.
func mirrorProblems(a *Agent) []string {
	var out []string
	seen := make(map[protocol.NodeID]bool)
	var roots []*Node
	if a.doc != nil {
		roots = append(roots, a.doc.Node)
	}
	roots = append(roots, a.detached...)
	for _, r := range roots {
		r.walk(func(n *Node) {
			seen[n.id] = true
			if a.table[n.id] != n {
				out = append(out, fmt.Sprintf("node %d reachable but not bound", n.id))
			}
			if !n.attrs.consistent() {
				out = append(out, fmt.Sprintf("node %d attribute views disagree", n.id))
			}
			if n.children == nil {
				return
			}
			if n.childCount != len(n.children) {
				out = append(out, fmt.Sprintf("node %d count %d, %d children", n.id, n.childCount, len(n.children)))
			}
			if len(n.children) > 0 && (n.first != n.children[0] || n.last != n.children[len(n.children)-1]) {
				out = append(out, fmt.Sprintf("node %d first/last links wrong", n.id))
			}
			for i, c := range n.children {
				if c.parent != n || c.index != i || !c.indexed {
					out = append(out, fmt.Sprintf("node %d parent/index wrong", c.id))
				}
				var prev, next *Node
				if i > 0 {
					prev = n.children[i-1]
				}
				if i+1 < len(n.children) {
					next = n.children[i+1]
				}
				if c.prev != prev || c.next != next {
					out = append(out, fmt.Sprintf("node %d sibling links wrong", c.id))
				}
			}
		})
	}
	for id := range a.table {
		if !seen[id] {
			out = append(out, fmt.Sprintf("node %d bound but unreachable", id))
		}
	}
	return out
}

func assertMirror(t *testing.T, a *Agent) {
	t.Helper()
	var problems []string
	onLoop(t, a, func() { problems = mirrorProblems(a) })
	for _, p := range problems {
		t.Error(p)
	}
}

func childIDs(n *Node) []protocol.NodeID {
	if n == nil || n.children == nil {
		return nil
	}
	ids := make([]protocol.NodeID, len(n.children))
	for i, c := range n.children {
		ids[i] = c.id
	}
	return ids
}

func sameIDs(got, want []protocol.NodeID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestSetDocument_BindsTree(t *testing.T) {
	a, _ := loadedAgent(t)

	var (
		count       int
		gen         uint64
		bodyID      protocol.NodeID
		htmlID      protocol.NodeID
		headKnown   bool
		headKids    int
		divFetched  bool
		divCount    int
		textParent  protocol.NodeID
		ownerIsDoc  bool
		documentURL string
	)
	onLoop(t, a, func() {
		doc := a.Document()
		count = a.NodeCount()
		gen = a.Generation()
		bodyID = doc.Body().ID()
		htmlID = doc.DocumentElement().ID()
		head := a.NodeForID(3)
		headKnown, headKids = head.ChildrenFetched(), len(head.Children())
		div := a.NodeForID(7)
		divFetched, divCount = div.ChildrenFetched(), div.ChildNodeCount()
		textParent = a.NodeForID(6).ParentNode().ID()
		ownerIsDoc = a.NodeForID(6).OwnerDocument() == doc
		documentURL = doc.DocumentURL()
	})

	if count != 7 {
		t.Errorf("NodeCount = %d, want 7", count)
	}
	if gen != 1 {
		t.Errorf("Generation = %d, want 1", gen)
	}
	if bodyID != 4 || htmlID != 2 {
		t.Errorf("body = %d, html = %d", bodyID, htmlID)
	}
	if !headKnown || headKids != 0 {
		t.Errorf("HEAD fetched = %v with %d children, want known and empty", headKnown, headKids)
	}
	if divFetched || divCount != 2 {
		t.Errorf("DIV(7) fetched = %v count = %d, want unfetched with 2", divFetched, divCount)
	}
	if textParent != 5 || !ownerIsDoc {
		t.Errorf("text parent = %d, owned by document = %v", textParent, ownerIsDoc)
	}
	if documentURL != testURL {
		t.Errorf("DocumentURL = %q", documentURL)
	}
	assertMirror(t, a)
}

func TestSetDocument_NilRootMeansNoDocument(t *testing.T) {
	a, _ := loadedAgent(t)
	if err := a.SetDocument(nil); err != nil {
		t.Fatalf("SetDocument(nil): %v", err)
	}
	var hasDoc bool
	var count int
	onLoop(t, a, func() { hasDoc, count = a.Document() != nil, a.NodeCount() })
	if hasDoc || count != 0 {
		t.Fatalf("document = %v, nodes = %d after nil root", hasDoc, count)
	}
	if _, err := a.DescribeDocument(context.Background()); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("DescribeDocument err = %v, want ErrNoDocument", err)
	}
}

func TestAttributeEvents(t *testing.T) {
	a, _ := loadedAgent(t)

	var names []string
	onLoop(t, a, func() {
		a.Document().AddEventListener(EventAttributeModified, func(ev Event) {
			names = append(names, ev.Name)
		})
	})

	a.AttributeModified(5, "id", "main")
	a.AttributeModified(5, "class", "b")
	a.AttributeRemoved(5, "missing")
	a.AttributeRemoved(5, "id")

	var got []Attribute
	onLoop(t, a, func() { got = a.NodeForID(5).Attributes() })
	if len(got) != 1 || got[0] != (Attribute{Name: "class", Value: "b"}) {
		t.Fatalf("attributes = %+v", got)
	}

	a.AttributesUpdated(5, []string{"title", "t", "data-x", "1"})
	var title string
	var ok bool
	onLoop(t, a, func() {
		got = a.NodeForID(5).Attributes()
		title, ok = a.NodeForID(5).GetAttribute("title")
	})
	if len(got) != 2 || got[0].Name != "title" || got[1].Name != "data-x" {
		t.Fatalf("attributes after wholesale update = %+v", got)
	}
	if !ok || title != "t" {
		t.Fatalf("GetAttribute(title) = %q, %v", title, ok)
	}

	// Removing an absent attribute fires nothing; a wholesale update fires
	// with no name.
	want := []string{"id", "class", "id", ""}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("events = %q, want %q", names, want)
	}
	assertMirror(t, a)
}

func TestCharacterDataModified(t *testing.T) {
	a, _ := loadedAgent(t)
	var fired *Node
	onLoop(t, a, func() {
		a.Document().AddEventListener(EventCharacterDataModified, func(ev Event) { fired = ev.Target })
	})
	a.CharacterDataModified(6, "bye")
	var text string
	var target protocol.NodeID
	onLoop(t, a, func() {
		text = a.NodeForID(6).TextContent()
		if fired != nil {
			target = fired.ID()
		}
	})
	if text != "bye" || target != 6 {
		t.Fatalf("text = %q, event target = %d", text, target)
	}
}

func TestChildNodeCountUpdated(t *testing.T) {
	var hooked protocol.NodeID
	b := newFakeBackend()
	a := startAgent(t, b, WithHooks(Hooks{OnChildCountUpdated: func(n *Node) { hooked = n.ID() }}))
	a.SetDocument(sampleDoc(0))
	a.ChildNodeCountUpdated(7, 5)

	var count int
	var fetched bool
	var h protocol.NodeID
	onLoop(t, a, func() {
		n := a.NodeForID(7)
		count, fetched, h = n.ChildNodeCount(), n.ChildrenFetched(), hooked
	})
	if count != 5 || fetched || h != 7 {
		t.Fatalf("count = %d fetched = %v hook = %d", count, fetched, h)
	}
}

func TestChildNodeInserted_AfterPrevious(t *testing.T) {
	a, _ := loadedAgent(t)

	var inserted []protocol.NodeID
	var related []protocol.NodeID
	onLoop(t, a, func() {
		a.Document().AddEventListener(EventNodeInserted, func(ev Event) {
			inserted = append(inserted, ev.Target.ID())
			related = append(related, ev.RelatedNode.ID())
		})
	})

	a.ChildNodeInserted(4, 5, element(8, "SPAN"))
	a.ChildNodeInserted(4, 0, element(9, "P"))

	var kids []protocol.NodeID
	var idx int
	var ok bool
	var prevOf8 protocol.NodeID
	onLoop(t, a, func() {
		body := a.NodeForID(4)
		kids = childIDs(body)
		idx, ok = a.NodeForID(8).Index()
		prevOf8 = a.NodeForID(8).PrevSibling().ID()
	})
	if !sameIDs(kids, []protocol.NodeID{9, 5, 8, 7}) {
		t.Fatalf("BODY children = %v", kids)
	}
	if !ok || idx != 2 || prevOf8 != 5 {
		t.Fatalf("SPAN index = %d (%v), prev = %d", idx, ok, prevOf8)
	}
	if !sameIDs(inserted, []protocol.NodeID{8, 9}) || !sameIDs(related, []protocol.NodeID{4, 4}) {
		t.Fatalf("inserted = %v related = %v", inserted, related)
	}
	assertMirror(t, a)
}

func TestChildNodeInserted_DuplicateIgnored(t *testing.T) {
	a, _ := loadedAgent(t)
	a.ChildNodeInserted(4, 5, element(8, "SPAN"))
	a.ChildNodeInserted(3, 0, element(8, "SPAN"))

	var body, head []protocol.NodeID
	onLoop(t, a, func() { body, head = childIDs(a.NodeForID(4)), childIDs(a.NodeForID(3)) })
	if !sameIDs(body, []protocol.NodeID{5, 8, 7}) || len(head) != 0 {
		t.Fatalf("body = %v head = %v", body, head)
	}
	assertMirror(t, a)
}

func TestChildNodeInserted_UnfetchedParent(t *testing.T) {
	a, _ := loadedAgent(t)
	a.ChildNodeInserted(7, 0, element(8, "SPAN"))

	var kids []protocol.NodeID
	var count int
	onLoop(t, a, func() {
		n := a.NodeForID(7)
		kids, count = childIDs(n), n.ChildNodeCount()
	})
	if !sameIDs(kids, []protocol.NodeID{8}) || count != 1 {
		t.Fatalf("children = %v count = %d", kids, count)
	}
	assertMirror(t, a)
}

func TestChildNodeRemoved(t *testing.T) {
	a, _ := loadedAgent(t)

	var removed, parents []protocol.NodeID
	onLoop(t, a, func() {
		a.Document().AddEventListener(EventNodeRemoved, func(ev Event) {
			removed = append(removed, ev.Target.ID())
			parents = append(parents, ev.RelatedNode.ID())
		})
	})

	a.ChildNodeRemoved(4, 5)
	// Removing again, or under the wrong parent, is a stale event.
	a.ChildNodeRemoved(4, 5)
	a.ChildNodeRemoved(2, 7)

	var kids []protocol.NodeID
	var gone5, gone6 bool
	var firstIdx int
	onLoop(t, a, func() {
		kids = childIDs(a.NodeForID(4))
		gone5, gone6 = a.NodeForID(5) == nil, a.NodeForID(6) == nil
		firstIdx, _ = a.NodeForID(7).Index()
	})
	if !sameIDs(kids, []protocol.NodeID{7}) || firstIdx != 0 {
		t.Fatalf("BODY children = %v, DIV(7) index = %d", kids, firstIdx)
	}
	if !gone5 || !gone6 {
		t.Fatalf("removed subtree still bound: 5=%v 6=%v", !gone5, !gone6)
	}
	if !sameIDs(removed, []protocol.NodeID{5}) || !sameIDs(parents, []protocol.NodeID{4}) {
		t.Fatalf("removed events = %v parents = %v", removed, parents)
	}
	assertMirror(t, a)
}

func TestSetChildNodes_ReplacesList(t *testing.T) {
	var hooked protocol.NodeID
	b := newFakeBackend()
	a := startAgent(t, b, WithHooks(Hooks{OnChildrenSet: func(p *Node) { hooked = p.ID() }}))
	a.SetDocument(sampleDoc(0))

	a.SetChildNodes(7, []*protocol.Descriptor{element(10, "A"), element(11, "B")})
	a.SetChildNodes(3, nil)

	var kids, head []protocol.NodeID
	var headKnown bool
	var h protocol.NodeID
	onLoop(t, a, func() {
		kids = childIDs(a.NodeForID(7))
		head = childIDs(a.NodeForID(3))
		headKnown = a.NodeForID(3).ChildrenFetched()
		h = hooked
	})
	if !sameIDs(kids, []protocol.NodeID{10, 11}) {
		t.Fatalf("DIV(7) children = %v", kids)
	}
	if !headKnown || len(head) != 0 || h != 3 {
		t.Fatalf("HEAD known = %v children = %v hook = %d", headKnown, head, h)
	}
	assertMirror(t, a)
}

func TestStaleIDsIgnored(t *testing.T) {
	a, _ := loadedAgent(t)
	a.AttributeModified(999, "x", "y")
	a.CharacterDataModified(999, "x")
	a.SetChildNodes(999, []*protocol.Descriptor{element(20, "X")})
	a.ChildNodeInserted(999, 0, element(21, "Y"))
	a.ChildNodeCountUpdated(999, 3)

	var count int
	onLoop(t, a, func() { count = a.NodeCount() })
	if count != 7 {
		t.Fatalf("NodeCount = %d, want 7", count)
	}
	assertMirror(t, a)
}

func TestDeliver_MalformedRejected(t *testing.T) {
	a, _ := loadedAgent(t)
	cases := []protocol.Event{
		{Type: protocol.EventAttributesUpdated, NodeID: 5, Attributes: []string{"odd"}},
		{Type: protocol.EventAttributeModified, NodeID: 5},
		{Type: protocol.EventChildNodeInserted, ParentID: 4, Node: &protocol.Descriptor{ID: 30, Type: 99}},
		{Type: protocol.EventChildNodeCountUpdated, NodeID: 5, Count: -1},
	}
	for _, ev := range cases {
		err := a.Deliver(ev)
		var malformed *protocol.MalformedError
		if !errors.As(err, &malformed) {
			t.Errorf("Deliver(%s) err = %v, want MalformedError", ev.Type, err)
		}
	}
	var count int
	onLoop(t, a, func() { count = a.NodeCount() })
	if count != 7 {
		t.Fatalf("NodeCount = %d after malformed events", count)
	}
}

func TestDetachedRoot_Silent(t *testing.T) {
	a, _ := loadedAgent(t)

	fired := 0
	onLoop(t, a, func() {
		a.Document().AddEventListener(EventAttributeModified, func(Event) { fired++ })
	})

	root := element(50, "DIV")
	root.Children = []*protocol.Descriptor{element(51, "SPAN")}
	a.SetDetachedRoot(root)
	a.AttributeModified(51, "class", "x")

	var v string
	var count int
	onLoop(t, a, func() {
		v, _ = a.NodeForID(51).GetAttribute("class")
		count = a.NodeCount()
	})
	if v != "x" || count != 9 {
		t.Fatalf("detached attribute = %q, nodes = %d", v, count)
	}
	if fired != 0 {
		t.Fatalf("detached change fired %d document events", fired)
	}
	assertMirror(t, a)
}

func TestDocumentUpdated_ClearsMirror(t *testing.T) {
	var invalidated bool
	b := newFakeBackend()
	a := startAgent(t, b, WithHooks(Hooks{OnDocumentUpdated: func() { invalidated = true }}))
	a.SetDocument(sampleDoc(0))
	a.DocumentUpdated()

	var hasDoc, hooked bool
	var count int
	var gen uint64
	onLoop(t, a, func() {
		hasDoc, count, gen, hooked = a.Document() != nil, a.NodeCount(), a.Generation(), invalidated
	})
	if hasDoc || count != 0 || gen != 2 || !hooked {
		t.Fatalf("document = %v nodes = %d generation = %d hook = %v", hasDoc, count, gen, hooked)
	}
}

func TestListeners_CopyBeforeIterate(t *testing.T) {
	a, _ := loadedAgent(t)

	var calls []string
	onLoop(t, a, func() {
		doc := a.Document()
		var first ListenerID
		first = doc.AddEventListener(EventCharacterDataModified, func(Event) {
			calls = append(calls, "first")
			doc.RemoveEventListener(EventCharacterDataModified, first)
			doc.AddEventListener(EventCharacterDataModified, func(Event) { calls = append(calls, "added") })
		})
		doc.AddEventListener(EventCharacterDataModified, func(Event) { calls = append(calls, "second") })
	})

	a.CharacterDataModified(6, "one")
	a.CharacterDataModified(6, "two")

	var got []string
	onLoop(t, a, func() { got = append(got, calls...) })
	want := []string{"first", "second", "second", "added"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestPath_AndResolvePathLocal(t *testing.T) {
	a, _ := loadedAgent(t)

	var path string
	var rootPath protocol.Path
	var found, wrongName, outOfRange *Node
	onLoop(t, a, func() {
		path = a.NodeForID(5).Path().String()
		rootPath = a.Document().Path()
		p, _ := protocol.ParsePath("0,HTML,1,BODY,1,DIV")
		found = a.ResolvePathLocal(p)
		p, _ = protocol.ParsePath("0,HTML,1,BODY,1,SPAN")
		wrongName = a.ResolvePathLocal(p)
		p, _ = protocol.ParsePath("0,HTML,5,BODY")
		outOfRange = a.ResolvePathLocal(p)
	})
	if path != "0,HTML,1,BODY,0,DIV" {
		t.Errorf("Path = %q", path)
	}
	if len(rootPath) != 0 {
		t.Errorf("root Path = %v, want empty", rootPath)
	}
	if found == nil || found.ID() != 7 {
		t.Errorf("ResolvePathLocal found %v", found)
	}
	if wrongName != nil || outOfRange != nil {
		t.Errorf("bad paths resolved: %v %v", wrongName, outOfRange)
	}
}

func TestRemovedNode_HasNoPath(t *testing.T) {
	a, _ := loadedAgent(t)
	var div *Node
	onLoop(t, a, func() { div = a.NodeForID(5) })
	a.ChildNodeRemoved(4, 5)

	var path protocol.Path
	var indexed bool
	onLoop(t, a, func() {
		path = div.Path()
		_, indexed = div.Index()
	})
	if path != nil || indexed {
		t.Fatalf("removed node path = %v indexed = %v", path, indexed)
	}
}

func TestRun_Twice(t *testing.T) {
	a := startAgent(t, newFakeBackend())
	onLoop(t, a, func() {})
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("second Run succeeded")
	}
}

func TestStopped_NotRunning(t *testing.T) {
	a := New(newFakeBackend())
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	onLoop(t, a, func() {})
	cancel()
	<-a.Done()

	if err := a.SetDocument(sampleDoc(0)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("SetDocument err = %v, want ErrNotRunning", err)
	}
	if err := a.Do(context.Background(), func() {}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Do err = %v, want ErrNotRunning", err)
	}
}
