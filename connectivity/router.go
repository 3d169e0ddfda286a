// Package connectivity routes named services either to an in-process
// handler or to a remote endpoint, as decided by a SQLite routes table that
// is reloaded at runtime.
//
// domagent uses it to place the document backend: the CDP backend is
// registered locally, and pointing a route at another daemon moves the
// dom_* services there without a restart.
//
//	router := connectivity.New()
//	router.RegisterTransport("http", connectivity.HTTPFactory())
//	router.RegisterLocal("dom_get_child_nodes", handler)
//	go router.Watch(ctx, db, 500*time.Millisecond)
//
//	resp, err := router.Call(ctx, "dom_get_child_nodes", payload)
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint. close, when
// non-nil, is called once the route is dropped or replaced.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

type route struct {
	Service  string
	Strategy string
	Endpoint string
	Config   json.RawMessage
}

func (rt route) fingerprint() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remote struct {
	handler Handler
	close   func()
}

// Router dispatches service calls. Safe for concurrent use.
type Router struct {
	mu         sync.RWMutex
	locals     map[string]Handler
	remotes    map[string]remote
	routes     map[string]route
	factories  map[string]TransportFactory
	middleware HandlerMiddleware
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every handler the router dispatches to, local or
// remote.
func WithMiddleware(mw HandlerMiddleware) Option {
	return func(r *Router) { r.middleware = mw }
}

// New creates a Router with no routes.
func New(opts ...Option) *Router {
	r := &Router{
		locals:    make(map[string]Handler),
		remotes:   make(map[string]remote),
		routes:    make(map[string]route),
		factories: make(map[string]TransportFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-process handler for service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.locals[service] = h
	r.mu.Unlock()
}

// RegisterTransport registers the factory used for routes whose strategy
// is protocol.
func (r *Router) RegisterTransport(protocol string, f TransportFactory) {
	r.mu.Lock()
	r.factories[protocol] = f
	r.mu.Unlock()
}

// Call dispatches one call. A noop route succeeds with a nil response, a
// remote route wins over a local handler, and a service with neither is
// an *ErrServiceNotFound.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	rem, hasRemote := r.remotes[service]
	local := r.locals[service]
	rt, hasRoute := r.routes[service]
	mw := r.middleware
	r.mu.RUnlock()

	var h Handler
	switch {
	case hasRoute && rt.Strategy == "noop":
		r.logger.DebugContext(ctx, "connectivity: noop", "service", service)
		return nil, nil
	case hasRemote:
		r.logger.DebugContext(ctx, "connectivity: remote", "service", service, "endpoint", rt.Endpoint)
		h = rem.handler
	case local != nil:
		h = local
	default:
		return nil, &ErrServiceNotFound{Service: service}
	}
	if mw != nil {
		h = mw(h)
	}
	return h(ctx, payload)
}

// Reload reads the routes table and rebuilds remote handlers. Routes whose
// strategy, endpoint and config are unchanged keep their handler.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}') FROM routes`)
	if err != nil {
		return fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	next := make(map[string]route)
	for rows.Next() {
		var rt route
		var cfg string
		if err := rows.Scan(&rt.Service, &rt.Strategy, &rt.Endpoint, &cfg); err != nil {
			return fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfg)
		next[rt.Service] = rt
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("connectivity: rows: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	built := make(map[string]remote, len(next))
	for name, rt := range next {
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if old, ok := r.routes[name]; ok && old.fingerprint() == rt.fingerprint() {
			if existing, ok := r.remotes[name]; ok {
				built[name] = existing
				continue
			}
		}
		factory, ok := r.factories[rt.Strategy]
		if !ok {
			r.logger.Warn("connectivity: route skipped",
				"error", &ErrNoFactory{Service: name, Strategy: rt.Strategy})
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			r.logger.Error("connectivity: route skipped",
				"error", &ErrFactoryFailed{Service: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		built[name] = remote{handler: h, close: closeFn}
		r.logger.Info("connectivity: route built", "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remotes {
		if old.close == nil {
			continue
		}
		_, kept := built[name]
		if !kept || r.routes[name].fingerprint() != next[name].fingerprint() {
			old.close()
		}
	}

	r.remotes = built
	r.routes = next
	r.logger.Info("connectivity: routes reloaded", "total", len(next), "remote", len(built))
	return nil
}

// Close releases every remote handler.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rem := range r.remotes {
		if rem.close != nil {
			rem.close()
		}
	}
	r.remotes = make(map[string]remote)
	r.routes = make(map[string]route)
	return nil
}

// ServiceInfo describes one service as currently routed.
type ServiceInfo struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Endpoint string `json:"endpoint,omitempty"`
	HasLocal bool   `json:"has_local"`
}

// Services lists every service known from the routes table or a local
// registration, sorted by name.
func (r *Router) Services() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(r.routes)+len(r.locals))
	for name, rt := range r.routes {
		_, local := r.locals[name]
		out = append(out, ServiceInfo{Name: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, HasLocal: local})
	}
	for name := range r.locals {
		if _, routed := r.routes[name]; routed {
			continue
		}
		out = append(out, ServiceInfo{Name: name, Strategy: "local", HasLocal: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
