package domagent

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/dommirror/protocol"
)

// Result is the outcome of an asynchronous request. Err is nil on success.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the request succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

func failed[T any](err error) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	ch <- Result[T]{Err: err}
	return ch
}

// Await blocks until ch delivers or ctx is done.
func Await[T any](ctx context.Context, ch <-chan Result[T]) Result[T] {
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return Result[T]{Err: ctx.Err()}
	}
}

// SetAttribute requests name=value on n. The mirror changes only after
// the backend confirmed; on failure it is left untouched.
func (a *Agent) SetAttribute(ctx context.Context, n *Node, name, value string) <-chan Result[struct{}] {
	id := n.id
	return a.mutate(ctx, "set_attribute", n, func(ctx context.Context) error {
		return a.backend.SetAttribute(ctx, id, name, value)
	}, func() {
		n.attrs.set(name, value)
	})
}

// RemoveAttribute requests removal of name on n, confirm-then-apply.
func (a *Agent) RemoveAttribute(ctx context.Context, n *Node, name string) <-chan Result[struct{}] {
	id := n.id
	return a.mutate(ctx, "remove_attribute", n, func(ctx context.Context) error {
		return a.backend.RemoveAttribute(ctx, id, name)
	}, func() {
		n.attrs.remove(name)
	})
}

// SetTextValue requests new character data for a Text node. Other node
// types get ErrNotText and no request is sent.
func (a *Agent) SetTextValue(ctx context.Context, n *Node, text string) <-chan Result[struct{}] {
	if n.typ != protocol.TextNode {
		return failed[struct{}](ErrNotText)
	}
	id := n.id
	return a.mutate(ctx, "set_text_value", n, func(ctx context.Context) error {
		return a.backend.SetTextValue(ctx, id, text)
	}, func() {
		n.nodeValue = text
	})
}

// mutate sends one request and, once confirmed, applies it on the loop.
// The node reference is held across the request: only n's own fields
// change, never its position.
func (a *Agent) mutate(ctx context.Context, op string, n *Node, call func(context.Context) error, apply func()) <-chan Result[struct{}] {
	ch := make(chan Result[struct{}], 1)
	go func() {
		err := a.request(ctx, op, call)
		if err != nil {
			a.logger.Warn("domagent: mutation rejected", "op", op, "node_id", n.id, "error", err)
			ch <- Result[struct{}]{Err: fmt.Errorf("domagent: %s: %w", op, err)}
			return
		}
		if !a.post(func() {
			apply()
			if a.hooks.OnNodeUpdated != nil {
				a.hooks.OnNodeUpdated(n)
			}
			ch <- Result[struct{}]{}
		}) {
			ch <- Result[struct{}]{Err: ErrNotRunning}
		}
	}()
	return ch
}

func (a *Agent) request(ctx context.Context, op string, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	start := time.Now()
	err := call(ctx)
	a.recordRequest(op, start, err)
	return err
}

// FetchChildren resolves n's child list. A known list (even empty) is
// returned without a request. Otherwise one request is sent; when it
// completes, n must still be bound in the same generation, or the result
// is ErrStale. If a push already filled the list meanwhile, the pushed
// list is kept.
func (a *Agent) FetchChildren(ctx context.Context, n *Node) <-chan Result[[]*Node] {
	ch := make(chan Result[[]*Node], 1)
	if !a.post(func() { a.fetchChildren(ctx, n, ch) }) {
		ch <- Result[[]*Node]{Err: ErrNotRunning}
	}
	return ch
}

func (a *Agent) fetchChildren(ctx context.Context, n *Node, ch chan<- Result[[]*Node]) {
	if n.children != nil {
		ch <- Result[[]*Node]{Value: n.Children()}
		return
	}
	id, gen := n.id, a.generation
	go func() {
		var ds []*protocol.Descriptor
		err := a.request(ctx, "get_child_nodes", func(ctx context.Context) error {
			var err error
			ds, err = a.backend.GetChildNodes(ctx, id)
			if err == nil {
				err = protocol.ValidateAll(ds)
			}
			return err
		})
		if err != nil {
			a.logger.Warn("domagent: fetch children failed", "node_id", id, "error", err)
			ch <- Result[[]*Node]{Err: fmt.Errorf("domagent: get_child_nodes: %w", err)}
			return
		}
		if !a.post(func() {
			if a.generation != gen || a.table[id] != n {
				a.stale("get_child_nodes", id)
				ch <- Result[[]*Node]{Err: ErrStale}
				return
			}
			if n.children == nil {
				a.replaceChildren(n, ds)
			}
			ch <- Result[[]*Node]{Value: n.Children()}
		}) {
			ch <- Result[[]*Node]{Err: ErrNotRunning}
		}
	}()
}
