package domagent

import (
	"context"
	"time"

	"github.com/hazyhaar/dommirror/domagent/internal/store"
	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/protocol"
	"github.com/hazyhaar/dommirror/watchpoint"
)

// SetWatchpoint adds an enabled watchpoint of kind on n, keyed by n's
// current path. Loop only.
func (a *Agent) SetWatchpoint(n *Node, kind protocol.WatchpointKind) *watchpoint.Watchpoint {
	return a.watchpoints.Add(n.id, kind, true, n.Path())
}

// HasWatchpoint reports whether n carries a watchpoint of kind. Loop only.
func (a *Agent) HasWatchpoint(n *Node, kind protocol.WatchpointKind) bool {
	return a.watchpoints.Find(n.id, kind) != nil
}

// RemoveWatchpoint removes the watchpoint of kind on n, if any. Loop only.
func (a *Agent) RemoveWatchpoint(n *Node, kind protocol.WatchpointKind) {
	if w := a.watchpoints.Find(n.id, kind); w != nil {
		w.Remove()
	}
}

// RemoveWatchpoints removes every watchpoint on n. Loop only.
func (a *Agent) RemoveWatchpoints(n *Node) {
	a.watchpoints.RemoveAllForNode(n.id)
}

// persistWatchpoint mirrors manager events into the store. Restore sweeps
// emit nothing, so saved rows survive replacement and path misses.
func (a *Agent) persistWatchpoint(ev watchpoint.Event) {
	if a.store == nil || a.doc == nil {
		return
	}
	w := ev.Watchpoint
	path := w.Path()
	if len(path) == 0 {
		return
	}
	url, p, kind, enabled := a.doc.documentURL, path.String(), int(w.Kind()), w.Enabled()

	var job func(context.Context) error
	switch ev.Type {
	case watchpoint.Added:
		rec := &store.Watchpoint{ID: idgen.New(), DocumentURL: url, Path: p, Kind: kind, Enabled: enabled}
		job = func(ctx context.Context) error { return a.store.Upsert(ctx, rec) }
	case watchpoint.Removed:
		job = func(ctx context.Context) error { return a.store.Delete(ctx, url, p, kind) }
	case watchpoint.EnableChanged:
		job = func(ctx context.Context) error { return a.store.SetEnabled(ctx, url, p, kind, enabled) }
	default:
		return
	}

	select {
	case a.persist <- func(ctx context.Context) {
		if err := job(ctx); err != nil {
			a.logger.Warn("domagent: persist watchpoint", "event", ev.Type, "path", p, "error", err)
		}
	}:
	default:
		a.logger.Warn("domagent: persist queue full, dropping", "event", ev.Type, "path", p)
	}
}

// persistLoop applies store writes one at a time, in event order.
func (a *Agent) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.persist:
			jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			job(jctx)
			cancel()
		}
	}
}

// restoreStored re-adds the watchpoints saved for url once the new
// document is installed.
func (a *Agent) restoreStored(url string) {
	if a.store == nil || url == "" {
		return
	}
	gen := a.generation
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		saved, err := a.store.ListByURL(ctx, url)
		if err != nil {
			a.logger.Warn("domagent: load saved watchpoints", "url", url, "error", err)
			return
		}
		if len(saved) == 0 {
			return
		}
		a.post(func() {
			if a.generation != gen {
				return
			}
			for _, s := range saved {
				path, err := protocol.ParsePath(s.Path)
				if err != nil {
					a.logger.Warn("domagent: bad saved path", "id", s.ID, "error", err)
					continue
				}
				a.watchpoints.AddByPath(path, protocol.WatchpointKind(s.Kind), s.Enabled)
			}
			a.logger.Info("domagent: saved watchpoints queued", "url", url, "count", len(saved))
		})
	}()
}
