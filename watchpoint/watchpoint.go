// Package watchpoint keeps DOM watchpoints keyed by (node id, kind) and
// carries them across document replacement by re-resolving the structural
// path recorded when each node got its first watchpoint.
//
// A Manager is not safe for concurrent use. Its owner serialises every call
// (domagent runs it on the agent loop) and supplies, through WithPoster, the
// way asynchronous path resolutions re-enter that serialised context.
package watchpoint

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/dommirror/protocol"
)

// Backend is the part of protocol.Backend the manager needs.
type Backend interface {
	ArmWatchpoint(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error
	DisarmWatchpoint(ctx context.Context, id protocol.NodeID, kind protocol.WatchpointKind) error
	ResolvePath(ctx context.Context, path protocol.Path) (protocol.NodeID, error)
}

// EventType names a manager notification.
type EventType string

const (
	Added         EventType = "added"
	Removed       EventType = "removed"
	EnableChanged EventType = "enable-changed"
)

// Event is delivered to subscribers synchronously, in subscription order.
type Event struct {
	Type       EventType
	Watchpoint *Watchpoint
}

// Watchpoint is one armed (or disarmed) break condition on a node.
type Watchpoint struct {
	m       *Manager
	nodeID  protocol.NodeID
	kind    protocol.WatchpointKind
	enabled bool
	path    protocol.Path
	// gone is set once the watchpoint left the table, either removed or
	// swept by Restore. A gone watchpoint ignores Remove and SetEnabled.
	gone bool
}

func (w *Watchpoint) NodeID() protocol.NodeID       { return w.nodeID }
func (w *Watchpoint) Kind() protocol.WatchpointKind { return w.kind }
func (w *Watchpoint) Enabled() bool                 { return w.enabled }
func (w *Watchpoint) Label() string                 { return w.kind.Label() }
func (w *Watchpoint) MenuLabel() string             { return w.kind.MenuLabel() }

// Path returns the structural path cached for the watchpoint's node.
func (w *Watchpoint) Path() protocol.Path { return w.path }

// Compare orders watchpoints by kind, then node id.
func (w *Watchpoint) Compare(o *Watchpoint) int {
	switch {
	case w.kind != o.kind:
		return int(w.kind) - int(o.kind)
	case w.nodeID < o.nodeID:
		return -1
	case w.nodeID > o.nodeID:
		return 1
	}
	return 0
}

// SetEnabled arms or disarms the watchpoint. Redundant calls do nothing.
func (w *Watchpoint) SetEnabled(enabled bool) {
	if w.gone || w.enabled == enabled {
		return
	}
	w.enabled = enabled
	if enabled {
		w.m.arm(w)
	} else {
		w.m.disarm(w)
	}
	w.m.emit(Event{Type: EnableChanged, Watchpoint: w})
}

// Remove disarms the watchpoint if needed and announces its removal. The
// manager evicts it on that announcement.
func (w *Watchpoint) Remove() {
	if w.gone {
		return
	}
	if w.enabled {
		w.m.disarm(w)
	}
	w.m.emit(Event{Type: Removed, Watchpoint: w})
}

type subscriber struct {
	id int
	fn func(Event)
}

// Manager owns the watchpoint table.
type Manager struct {
	backend Backend
	logger  *slog.Logger
	exec    func(func())
	post    func(func())
	timeout time.Duration

	byNode map[protocol.NodeID]map[protocol.WatchpointKind]*Watchpoint
	paths  map[protocol.NodeID]protocol.Path

	// epoch advances on every Restore; resolutions started under an older
	// epoch are discarded when they complete.
	epoch   uint64
	pending map[string]*restoreItem

	subs    []subscriber
	nextSub int
}

type restoreItem struct {
	path  protocol.Path
	kinds []kindState
}

type kindState struct {
	kind    protocol.WatchpointKind
	enabled bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithExecutor sets where backend requests run. The default runs them
// inline. An executor must run requests in the order it receives them, or
// a disarm can reach the backend before the arm it undoes.
func WithExecutor(exec func(func())) Option { return func(m *Manager) { m.exec = exec } }

// WithPoster sets how the completion of an asynchronous path resolution
// re-enters the owner's serialised context. Default: inline.
func WithPoster(post func(func())) Option { return func(m *Manager) { m.post = post } }

// WithTimeout bounds each backend request. Default: 10s.
func WithTimeout(d time.Duration) Option { return func(m *Manager) { m.timeout = d } }

// New creates a Manager that arms watchpoints through backend.
func New(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		logger:  slog.Default(),
		exec:    func(f func()) { f() },
		post:    func(f func()) { f() },
		timeout: 10 * time.Second,
		byNode:  make(map[protocol.NodeID]map[protocol.WatchpointKind]*Watchpoint),
		paths:   make(map[protocol.NodeID]protocol.Path),
		pending: make(map[string]*restoreItem),
	}
	for _, o := range opts {
		o(m)
	}
	m.Subscribe(m.onRemoved)
	return m
}

// Subscribe registers fn for every manager event and returns a function
// that unregisters it.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return func() {
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(ev Event) {
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	for _, s := range subs {
		s.fn(ev)
	}
}

// Add registers a watchpoint unless one with the same (id, kind) exists,
// in which case it returns the existing one. path is cached the first
// time id gets a watchpoint; later adds reuse the cached path.
func (m *Manager) Add(id protocol.NodeID, kind protocol.WatchpointKind, enabled bool, path protocol.Path) *Watchpoint {
	if w := m.Find(id, kind); w != nil {
		return w
	}
	kinds := m.byNode[id]
	if kinds == nil {
		kinds = make(map[protocol.WatchpointKind]*Watchpoint)
		m.byNode[id] = kinds
	}
	if _, ok := m.paths[id]; !ok {
		m.paths[id] = path
	}
	w := &Watchpoint{m: m, nodeID: id, kind: kind, enabled: enabled, path: m.paths[id]}
	kinds[kind] = w
	if enabled {
		m.arm(w)
	}
	m.emit(Event{Type: Added, Watchpoint: w})
	return w
}

// Find returns the watchpoint for (id, kind), or nil.
func (m *Manager) Find(id protocol.NodeID, kind protocol.WatchpointKind) *Watchpoint {
	return m.byNode[id][kind]
}

// ForNode returns the watchpoints on id ordered by kind.
func (m *Manager) ForNode(id protocol.NodeID) []*Watchpoint {
	return sortedKinds(m.byNode[id])
}

// All returns every watchpoint ordered by node id, then kind.
func (m *Manager) All() []*Watchpoint {
	var out []*Watchpoint
	for _, kinds := range m.byNode {
		for _, w := range kinds {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].nodeID != out[j].nodeID {
			return out[i].nodeID < out[j].nodeID
		}
		return out[i].kind < out[j].kind
	})
	return out
}

// Path returns the cached path for id.
func (m *Manager) Path(id protocol.NodeID) (protocol.Path, bool) {
	p, ok := m.paths[id]
	return p, ok
}

// Len returns the number of watchpoints in the table.
func (m *Manager) Len() int {
	n := 0
	for _, kinds := range m.byNode {
		n += len(kinds)
	}
	return n
}

// Pending returns the number of path resolutions still in flight.
func (m *Manager) Pending() int { return len(m.pending) }

// RemoveAllForNode removes every watchpoint on id.
func (m *Manager) RemoveAllForNode(id protocol.NodeID) {
	for _, w := range m.ForNode(id) {
		w.Remove()
	}
}

func (m *Manager) onRemoved(ev Event) {
	if ev.Type != Removed {
		return
	}
	w := ev.Watchpoint
	w.gone = true
	kinds := m.byNode[w.nodeID]
	if kinds[w.kind] != w {
		return
	}
	delete(kinds, w.kind)
	if len(kinds) == 0 {
		delete(m.byNode, w.nodeID)
		delete(m.paths, w.nodeID)
	}
}

// Restore is called once per document replacement. Every id in the table
// belongs to the discarded generation, so the table is swapped for an
// empty one and each cached path is resolved against the new document.
// A path that resolves re-adds its node's watchpoints under the new id; a
// miss drops them silently. Resolutions still pending from an earlier
// replacement are folded into this round.
func (m *Manager) Restore() {
	items := m.pending
	for id, kinds := range m.byNode {
		path := m.paths[id]
		for _, w := range kinds {
			w.gone = true
		}
		if len(path) == 0 {
			continue
		}
		key := path.String()
		item := items[key]
		if item == nil {
			item = &restoreItem{path: path}
			items[key] = item
		}
		for _, w := range sortedKinds(kinds) {
			item.kinds = append(item.kinds, kindState{kind: w.kind, enabled: w.enabled})
		}
	}
	m.byNode = make(map[protocol.NodeID]map[protocol.WatchpointKind]*Watchpoint)
	m.paths = make(map[protocol.NodeID]protocol.Path)
	m.pending = make(map[string]*restoreItem, len(items))
	m.epoch++

	for key, item := range items {
		m.resolve(key, item)
	}
}

// AddByPath resolves path against the current document and adds a
// watchpoint on the node found there. Nothing is added on a miss.
func (m *Manager) AddByPath(path protocol.Path, kind protocol.WatchpointKind, enabled bool) {
	if len(path) == 0 {
		return
	}
	key := path.String()
	item := m.pending[key]
	if item != nil {
		item.kinds = append(item.kinds, kindState{kind: kind, enabled: enabled})
		return
	}
	m.resolve(key, &restoreItem{path: path, kinds: []kindState{{kind: kind, enabled: enabled}}})
}

func (m *Manager) resolve(key string, item *restoreItem) {
	m.pending[key] = item
	epoch := m.epoch
	m.exec(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		id, err := m.backend.ResolvePath(ctx, item.path)
		cancel()
		m.post(func() {
			if epoch != m.epoch {
				// A later Restore already re-queued this item.
				return
			}
			delete(m.pending, key)
			if err != nil {
				m.logger.Debug("watchpoint: resolve path failed", "path", key, "error", err)
				return
			}
			if id == 0 {
				m.logger.Debug("watchpoint: path no longer resolves", "path", key)
				return
			}
			for _, ks := range item.kinds {
				m.Add(id, ks.kind, ks.enabled, item.path)
			}
		})
	})
}

func (m *Manager) arm(w *Watchpoint) {
	id, kind := w.nodeID, w.kind
	m.exec(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.backend.ArmWatchpoint(ctx, id, kind); err != nil {
			m.logger.Warn("watchpoint: arm failed", "node_id", id, "kind", kind, "error", err)
		}
	})
}

func (m *Manager) disarm(w *Watchpoint) {
	id, kind := w.nodeID, w.kind
	m.exec(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.backend.DisarmWatchpoint(ctx, id, kind); err != nil {
			m.logger.Warn("watchpoint: disarm failed", "node_id", id, "kind", kind, "error", err)
		}
	})
}

func sortedKinds(kinds map[protocol.WatchpointKind]*Watchpoint) []*Watchpoint {
	out := make([]*Watchpoint, 0, len(kinds))
	for _, w := range kinds {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].kind < out[j].kind })
	return out
}
