// Package domagent keeps a local, navigable mirror of a document owned by
// a remote backend. The backend pushes id-addressed deltas (protocol.Frontend)
// and serves fetches and mutations (protocol.Backend). The Agent binds those
// ids to mirror nodes and applies deltas in delivery order. Mutations only
// touch the mirror once the backend confirmed them. Watchpoints outlive
// document replacement by being re-resolved from their structural path.
//
// Usage:
//
//	a := domagent.New(backend, domagent.WithLogger(logger))
//	go a.Run(ctx)
//	_ = a.SetDocument(rootDescriptor)
//	a.Do(ctx, func() { fmt.Println(a.Document().Body().ChildNodeCount()) })
//
// Every mirror object belongs to a single loop goroutine started by Run.
// Consumers read the mirror inside Do, document listeners or Hooks.
package domagent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dommirror/domagent/internal/store"
	"github.com/hazyhaar/dommirror/observability"
	"github.com/hazyhaar/dommirror/protocol"
	"github.com/hazyhaar/dommirror/watchpoint"
)

var (
	// ErrStale is returned when a fetch completes for a node that is no
	// longer bound in the current generation.
	ErrStale = errors.New("domagent: node is stale")
	// ErrNotText is returned by SetTextValue on a non-text node.
	ErrNotText = errors.New("domagent: node is not a text node")
	// ErrNoDocument is returned for requests on nodes outside any document.
	ErrNoDocument = errors.New("domagent: no document")
	// ErrNotRunning is returned once the loop has stopped.
	ErrNotRunning = errors.New("domagent: agent is not running")
)

// Hooks are optional observers called on the agent loop. They let a
// presentation layer refresh without the agent knowing about it.
type Hooks struct {
	// OnDocument is called after every document replacement. doc is nil
	// when there is no inspected document.
	OnDocument func(doc *Document)
	// OnNodeUpdated is called after a confirmed mutation was applied.
	OnNodeUpdated func(n *Node)
	// OnChildCountUpdated is called when only the declared child count changed.
	OnChildCountUpdated func(n *Node)
	// OnChildrenSet is called after a child list was installed wholesale.
	OnChildrenSet func(parent *Node)
	// OnDocumentUpdated is called when the backend invalidated the whole
	// document; the backend is expected to send a new one.
	OnDocumentUpdated func()
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Agent) { a.logger = l } }

// WithHooks installs loop observers.
func WithHooks(h Hooks) Option { return func(a *Agent) { a.hooks = h } }

// WithMetrics records event and request metrics.
func WithMetrics(m *observability.MetricsManager) Option { return func(a *Agent) { a.metrics = m } }

// WithRequestTimeout bounds every backend request. Default: 30s.
func WithRequestTimeout(d time.Duration) Option { return func(a *Agent) { a.timeout = d } }

func withStore(s *store.Store) Option { return func(a *Agent) { a.store = s } }

// Agent is the tree registry.
type Agent struct {
	backend     protocol.Backend
	logger      *slog.Logger
	hooks       Hooks
	metrics     *observability.MetricsManager
	store       *store.Store
	timeout     time.Duration
	watchpoints *watchpoint.Manager

	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	persist chan func(context.Context)
	wpCalls []func()
	wpWake  chan struct{}

	// Loop-owned.
	table      map[protocol.NodeID]*Node
	detached   []*Node
	doc        *Document
	generation uint64
}

// New creates an Agent that talks to backend. Call Run to start its loop.
func New(backend protocol.Backend, opts ...Option) *Agent {
	a := &Agent{
		backend: backend,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		persist: make(chan func(context.Context), 256),
		wpWake:  make(chan struct{}, 1),
		table:   make(map[protocol.NodeID]*Node),
	}
	for _, o := range opts {
		o(a)
	}
	a.watchpoints = watchpoint.New(backend,
		watchpoint.WithLogger(a.logger),
		watchpoint.WithTimeout(a.timeout),
		watchpoint.WithExecutor(a.watchpointCall),
		watchpoint.WithPoster(func(f func()) { a.post(f) }),
	)
	a.watchpoints.Subscribe(a.persistWatchpoint)
	return a
}

// Run drives the loop until ctx is cancelled. It must be called once.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running || a.stopped {
		a.mu.Unlock()
		return errors.New("domagent: Run called twice")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.stopped = true
		a.queue = nil
		a.wpCalls = nil
		a.mu.Unlock()
		close(a.done)
	}()

	if a.store != nil {
		go a.persistLoop(ctx)
	}
	go a.watchpointLoop(ctx)

	a.logger.Info("domagent: loop started")
	for {
		a.drain()
		select {
		case <-ctx.Done():
			a.logger.Info("domagent: loop stopped")
			return nil
		case <-a.wake:
		}
	}
}

// Done is closed when the loop has stopped.
func (a *Agent) Done() <-chan struct{} { return a.done }

func (a *Agent) drain() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		fn := a.queue[0]
		a.queue[0] = nil
		a.queue = a.queue[1:]
		a.mu.Unlock()
		fn()
	}
}

// post queues fn for the loop. It reports false once the loop stopped.
func (a *Agent) post(fn func()) bool {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, fn)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// watchpointCall queues a watchpoint backend request (arm, disarm or path
// resolution). A single worker sends them in the order they were queued.
func (a *Agent) watchpointCall(f func()) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.wpCalls = append(a.wpCalls, f)
	a.mu.Unlock()
	select {
	case a.wpWake <- struct{}{}:
	default:
	}
}

func (a *Agent) watchpointLoop(ctx context.Context) {
	for {
		for {
			a.mu.Lock()
			if len(a.wpCalls) == 0 {
				a.mu.Unlock()
				break
			}
			f := a.wpCalls[0]
			a.wpCalls[0] = nil
			a.wpCalls = a.wpCalls[1:]
			a.mu.Unlock()
			f()
		}
		select {
		case <-ctx.Done():
			return
		case <-a.wpWake:
		}
	}
}

// Do runs fn on the loop and waits for it. fn may read the mirror freely.
// It must not call Do itself.
func (a *Agent) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !a.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrNotRunning
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrNotRunning
	}
}

// --- loop-only accessors ---

// Document returns the current document or nil. Loop only.
func (a *Agent) Document() *Document { return a.doc }

// Generation returns the current document generation. Loop only.
func (a *Agent) Generation() uint64 { return a.generation }

// NodeForID returns the node bound to id, or nil. Loop only.
func (a *Agent) NodeForID(id protocol.NodeID) *Node { return a.table[id] }

// NodeCount returns the number of bound ids. Loop only.
func (a *Agent) NodeCount() int { return len(a.table) }

// Watchpoints returns the watchpoint manager. Loop only.
func (a *Agent) Watchpoints() *watchpoint.Manager { return a.watchpoints }

// ResolvePathLocal walks path through the materialised mirror. It returns
// nil when a step is missing, unfetched, or names a different node.
func (a *Agent) ResolvePathLocal(path protocol.Path) *Node {
	if a.doc == nil || len(path) == 0 {
		return nil
	}
	cur := a.doc.Node
	for _, step := range path {
		if step.Index < 0 || step.Index >= len(cur.children) {
			return nil
		}
		next := cur.children[step.Index]
		if next.nodeName != step.Name {
			return nil
		}
		cur = next
	}
	return cur
}

// --- binding ---

func (a *Agent) bind(n *Node) {
	n.walk(func(c *Node) { a.table[c.id] = c })
}

// unbind drops n's subtree from the table and tears down its watchpoints.
func (a *Agent) unbind(n *Node) {
	n.walk(func(c *Node) {
		if a.table[c.id] == c {
			delete(a.table, c.id)
		}
		a.watchpoints.RemoveAllForNode(c.id)
	})
}

func (a *Agent) installDocument(d *protocol.Descriptor) {
	a.generation++
	a.table = make(map[protocol.NodeID]*Node)
	a.detached = nil
	a.doc = nil
	if d != nil && d.ID != 0 {
		a.doc = newDocument(a, a.generation, d)
		a.bind(a.doc.Node)
	}
	a.logger.Info("domagent: document installed",
		"generation", a.generation, "nodes", len(a.table), "url", a.documentURL())
	if a.hooks.OnDocument != nil {
		a.hooks.OnDocument(a.doc)
	}
	// With no document there is nothing to resolve against; watchpoints
	// wait for the next real document.
	if a.doc != nil {
		a.watchpoints.Restore()
		a.restoreStored(a.doc.documentURL)
	}
}

func (a *Agent) documentURL() string {
	if a.doc == nil {
		return ""
	}
	return a.doc.documentURL
}

// fire dispatches a document event when the change happened inside the
// current document. Changes in detached subtrees stay silent.
func (a *Agent) fire(typ string, target, related *Node, name string) {
	anchor := target
	if related != nil {
		anchor = related
	}
	if a.doc == nil || !a.attached(anchor) {
		return
	}
	a.doc.fireEvent(Event{Type: typ, Target: target, RelatedNode: related, Name: name})
}

func (a *Agent) attached(n *Node) bool {
	for n.parent != nil {
		n = n.parent
	}
	return n == a.doc.Node
}

func (a *Agent) stale(what string, id protocol.NodeID) {
	a.logger.Debug("domagent: stale id ignored", "event", what, "node_id", id, "generation", a.generation)
}

func (a *Agent) recordEvent(typ protocol.EventType) {
	if a.metrics == nil {
		return
	}
	a.metrics.Record(&observability.Metric{
		Name:      "domagent.event.applied",
		Timestamp: time.Now(),
		Value:     1,
		Labels:    map[string]string{"type": string(typ)},
		Unit:      "count",
	})
}

func (a *Agent) recordRequest(op string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	now := time.Now()
	a.metrics.Record(&observability.Metric{
		Name:      "domagent.request.duration_ms",
		Timestamp: now,
		Value:     float64(now.Sub(start).Milliseconds()),
		Labels:    map[string]string{"op": op},
		Unit:      "milliseconds",
	})
	if err != nil {
		a.metrics.Record(&observability.Metric{
			Name:      "domagent.request.error",
			Timestamp: now,
			Value:     1,
			Labels:    map[string]string{"op": op},
			Unit:      "count",
		})
	}
}
