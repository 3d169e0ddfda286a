package domagent

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dommirror/dbopen"
	"github.com/hazyhaar/dommirror/domagent/internal/store"
	"github.com/hazyhaar/dommirror/protocol"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(store.Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return &store.Store{DB: db}
}

func TestWatchpoint_SetAndRemove(t *testing.T) {
	a, b := loadedAgent(t)
	div := nodeOnLoop(t, a, 5)

	var has bool
	onLoop(t, a, func() {
		a.SetWatchpoint(div, protocol.AttributeModified)
		a.SetWatchpoint(div, protocol.AttributeModified) // same key, no second arm
		has = a.HasWatchpoint(div, protocol.AttributeModified)
	})
	if !has {
		t.Fatal("watchpoint not set")
	}
	waitFor(t, "arm", func() bool { return b.count("arm", 5) == 1 })

	var path string
	onLoop(t, a, func() {
		path = a.Watchpoints().Find(5, protocol.AttributeModified).Path().String()
		a.RemoveWatchpoint(div, protocol.AttributeModified)
		a.RemoveWatchpoint(div, protocol.AttributeModified)
		has = a.HasWatchpoint(div, protocol.AttributeModified)
	})
	if path != "0,HTML,1,BODY,0,DIV" {
		t.Fatalf("watchpoint path = %q", path)
	}
	if has {
		t.Fatal("watchpoint still present after remove")
	}
	waitFor(t, "disarm", func() bool { return b.count("disarm", 5) == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := b.count("arm", 5); n != 1 {
		t.Fatalf("arm calls = %d, want 1", n)
	}
	if n := b.count("disarm", 5); n != 1 {
		t.Fatalf("disarm calls = %d, want 1", n)
	}
}

func TestWatchpoint_RemovedWithSubtree(t *testing.T) {
	a, b := loadedAgent(t)
	div, text := nodeOnLoop(t, a, 5), nodeOnLoop(t, a, 6)

	onLoop(t, a, func() {
		a.SetWatchpoint(div, protocol.NodeRemoved)
		a.SetWatchpoint(text, protocol.SubtreeModified)
	})
	waitFor(t, "arms", func() bool { return b.count("arm", 0) == 2 })

	a.ChildNodeRemoved(4, 5)
	a.ChildNodeRemoved(4, 5)

	var left int
	onLoop(t, a, func() { left = a.Watchpoints().Len() })
	if left != 0 {
		t.Fatalf("watchpoints left = %d", left)
	}
	waitFor(t, "disarms", func() bool { return b.count("disarm", 0) == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := b.count("disarm", 5); n != 1 {
		t.Fatalf("disarm(5) calls = %d, want exactly 1", n)
	}
	if n := b.count("disarm", 6); n != 1 {
		t.Fatalf("disarm(6) calls = %d, want exactly 1", n)
	}
}

func TestWatchpoint_SetChildNodesDropsVanishedIDs(t *testing.T) {
	a, _ := loadedAgent(t)
	text := nodeOnLoop(t, a, 6)
	div := nodeOnLoop(t, a, 5)

	onLoop(t, a, func() {
		a.SetWatchpoint(text, protocol.SubtreeModified)
		a.SetWatchpoint(div, protocol.AttributeModified)
	})
	a.SetChildNodes(5, []*protocol.Descriptor{{ID: 9, Type: protocol.TextNode, NodeName: "#text", NodeValue: "x"}})

	var onText, onDiv bool
	onLoop(t, a, func() {
		onText = a.Watchpoints().Find(6, protocol.SubtreeModified) != nil
		onDiv = a.Watchpoints().Find(5, protocol.AttributeModified) != nil
	})
	if onText {
		t.Fatal("watchpoint on a vanished id survived setChildNodes")
	}
	if !onDiv {
		t.Fatal("watchpoint on the parent was dropped")
	}
}

func TestWatchpoint_RestoredAcrossDocuments(t *testing.T) {
	a, b := loadedAgent(t)
	div, other := nodeOnLoop(t, a, 5), nodeOnLoop(t, a, 7)

	onLoop(t, a, func() {
		a.SetWatchpoint(div, protocol.AttributeModified)
		a.SetWatchpoint(div, protocol.NodeRemoved)
		a.Watchpoints().Find(5, protocol.NodeRemoved).SetEnabled(false)
		a.SetWatchpoint(other, protocol.SubtreeModified)
	})

	// Only DIV(5) still exists in the new document.
	b.setPath("0,HTML,1,BODY,0,DIV", 105)
	a.SetDocument(sampleDoc(100))

	waitFor(t, "restore", func() bool {
		done := false
		onLoop(t, a, func() { done = a.Watchpoints().Pending() == 0 && a.Watchpoints().Len() == 2 })
		return done
	})

	var attr, removed, stale bool
	var removedEnabled bool
	onLoop(t, a, func() {
		wm := a.Watchpoints()
		attr = wm.Find(105, protocol.AttributeModified) != nil
		if w := wm.Find(105, protocol.NodeRemoved); w != nil {
			removed, removedEnabled = true, w.Enabled()
		}
		stale = wm.Find(5, protocol.AttributeModified) != nil || wm.Find(7, protocol.SubtreeModified) != nil
	})
	if !attr || !removed {
		t.Fatalf("restored: attribute = %v, node-removed = %v", attr, removed)
	}
	if removedEnabled {
		t.Fatal("disabled watchpoint came back enabled")
	}
	if stale {
		t.Fatal("old-generation ids still carry watchpoints")
	}
	waitFor(t, "re-arm", func() bool { return b.count("arm", 105) == 1 })
}

func TestWatchpoint_PersistedAndRestored(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	b1 := newFakeBackend()
	a1 := startAgent(t, b1, withStore(st))
	a1.SetDocument(sampleDoc(0))
	div := nodeOnLoop(t, a1, 5)
	onLoop(t, a1, func() { a1.SetWatchpoint(div, protocol.NodeRemoved) })

	waitFor(t, "persisted row", func() bool {
		rows, err := st.ListByURL(ctx, testURL)
		return err == nil && len(rows) == 1
	})
	rows, _ := st.ListByURL(ctx, testURL)
	if rows[0].Path != "0,HTML,1,BODY,0,DIV" || rows[0].Kind != int(protocol.NodeRemoved) || !rows[0].Enabled {
		t.Fatalf("persisted row = %+v", rows[0])
	}

	// A second agent on the same store, e.g. after a restart.
	b2 := newFakeBackend()
	b2.setPath("0,HTML,1,BODY,0,DIV", 205)
	a2 := startAgent(t, b2, withStore(st))
	a2.SetDocument(sampleDoc(200))

	waitFor(t, "saved watchpoint restored", func() bool {
		found := false
		onLoop(t, a2, func() { found = a2.Watchpoints().Find(205, protocol.NodeRemoved) != nil })
		return found
	})
	waitFor(t, "arm on restored id", func() bool { return b2.count("arm", 205) == 1 })

	// Removing it deletes the row.
	onLoop(t, a2, func() { a2.RemoveWatchpoints(a2.NodeForID(205)) })
	waitFor(t, "row deleted", func() bool {
		n, err := st.Count(ctx)
		return err == nil && n == 0
	})
}

func TestWatchpoint_EnableChangePersisted(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	a, _ := loadedAgent(t, withStore(st))
	div := nodeOnLoop(t, a, 5)
	onLoop(t, a, func() { a.SetWatchpoint(div, protocol.SubtreeModified).SetEnabled(false) })

	waitFor(t, "disabled row", func() bool {
		rows, err := st.ListByURL(ctx, testURL)
		return err == nil && len(rows) == 1 && !rows[0].Enabled
	})
}

// watchpointCalls lists the arm and disarm requests for id in the order the
// backend saw them.
func (b *fakeBackend) watchpointCalls(id protocol.NodeID) []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []call
	for _, c := range b.calls {
		if (c.op == "arm" || c.op == "disarm") && c.id == id {
			out = append(out, c)
		}
	}
	return out
}

func TestWatchpoint_BackendSeesRequestsInIssueOrder(t *testing.T) {
	a, b := loadedAgent(t)
	b.mu.Lock()
	b.armDelay = 50 * time.Millisecond
	b.mu.Unlock()
	div := nodeOnLoop(t, a, 5)

	var enabled bool
	onLoop(t, a, func() {
		w := a.SetWatchpoint(div, protocol.AttributeModified)
		w.SetEnabled(false)
		enabled = w.Enabled()
		a.SetWatchpoint(div, protocol.NodeRemoved)
		a.RemoveWatchpoint(div, protocol.NodeRemoved)
	})
	if enabled {
		t.Fatal("watchpoint still enabled in the mirror")
	}

	waitFor(t, "all requests", func() bool { return len(b.watchpointCalls(5)) == 4 })
	want := []call{
		{op: "arm", id: 5, kind: protocol.AttributeModified},
		{op: "disarm", id: 5, kind: protocol.AttributeModified},
		{op: "arm", id: 5, kind: protocol.NodeRemoved},
		{op: "disarm", id: 5, kind: protocol.NodeRemoved},
	}
	got := b.watchpointCalls(5)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backend saw %+v, want %+v", got, want)
		}
	}
}

func TestWatchpoint_KeptAcrossAbsentDocument(t *testing.T) {
	a, b := loadedAgent(t)
	div := nodeOnLoop(t, a, 5)
	onLoop(t, a, func() { a.SetWatchpoint(div, protocol.AttributeModified) })
	waitFor(t, "arm", func() bool { return b.count("arm", 5) == 1 })

	a.SetDocument(nil)
	var kept int
	onLoop(t, a, func() { kept = a.Watchpoints().Len() })
	if kept != 1 {
		t.Fatalf("watchpoints after an absent document = %d, want 1", kept)
	}
	if n := b.count("resolve_path", 0); n != 0 {
		t.Fatalf("resolve_path calls with no document = %d", n)
	}

	b.setPath("0,HTML,1,BODY,0,DIV", 105)
	a.SetDocument(sampleDoc(100))
	waitFor(t, "restored on 105", func() bool {
		found := false
		onLoop(t, a, func() { found = a.Watchpoints().Find(105, protocol.AttributeModified) != nil })
		return found
	})
	waitFor(t, "re-arm", func() bool { return b.count("arm", 105) == 1 })
}
