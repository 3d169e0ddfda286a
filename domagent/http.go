package domagent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/dommirror/horosafe"
	"github.com/hazyhaar/dommirror/kit"
	"github.com/hazyhaar/dommirror/protocol"
)

const maxEventBody int64 = 16 << 20

// Routes returns the HTTP surface of the agent:
//
//	GET    /health
//	GET    /document
//	GET    /resolve?path=1,HTML,1,BODY
//	GET    /nodes/{id}
//	GET    /nodes/{id}/children
//	PUT    /nodes/{id}/attributes/{name}   {"value": "..."}
//	DELETE /nodes/{id}/attributes/{name}
//	PUT    /nodes/{id}/text                {"text": "..."}
//	PUT    /nodes/{id}/watchpoints/{kind}
//	DELETE /nodes/{id}/watchpoints/{kind}
//	GET    /watchpoints
//	GET    /snapshot
//	POST   /events                         one protocol.Event
func (a *Agent) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := kit.WithTransport(req.Context(), "http")
			if id := req.Header.Get("X-Request-ID"); id != "" {
				ctx = kit.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "ok"
		select {
		case <-a.Done():
			status = "stopped"
		default:
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	})

	r.Get("/document", func(w http.ResponseWriter, req *http.Request) {
		v, err := a.DescribeDocument(req.Context())
		respond(w, v, err)
	})

	r.Get("/resolve", func(w http.ResponseWriter, req *http.Request) {
		p, err := protocol.ParsePath(req.URL.Query().Get("path"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		v, err := a.ResolvePath(req.Context(), p)
		respond(w, v, err)
	})

	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Get("/", a.nodeHandler(func(ctx context.Context, id protocol.NodeID, _ *http.Request) (any, error) {
			return a.DescribeNode(ctx, id)
		}))
		r.Get("/children", a.nodeHandler(func(ctx context.Context, id protocol.NodeID, _ *http.Request) (any, error) {
			return a.FetchChildrenOf(ctx, id)
		}))
		r.Put("/attributes/{name}", a.nodeHandler(func(ctx context.Context, id protocol.NodeID, req *http.Request) (any, error) {
			var body struct {
				Value string `json:"value"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, badRequest{err}
			}
			return a.SetAttributeOf(ctx, id, chi.URLParam(req, "name"), body.Value)
		}))
		r.Delete("/attributes/{name}", a.nodeHandler(func(ctx context.Context, id protocol.NodeID, req *http.Request) (any, error) {
			return a.RemoveAttributeOf(ctx, id, chi.URLParam(req, "name"))
		}))
		r.Put("/text", a.nodeHandler(func(ctx context.Context, id protocol.NodeID, req *http.Request) (any, error) {
			var body struct {
				Text string `json:"text"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, badRequest{err}
			}
			return a.SetTextOf(ctx, id, body.Text)
		}))
		r.Put("/watchpoints/{kind}", a.nodeHandler(func(ctx context.Context, id protocol.NodeID, req *http.Request) (any, error) {
			kind, err := protocol.ParseWatchpointKind(chi.URLParam(req, "kind"))
			if err != nil {
				return nil, badRequest{err}
			}
			return a.AddWatchpointOn(ctx, id, kind)
		}))
		r.Delete("/watchpoints/{kind}", a.nodeHandler(func(ctx context.Context, id protocol.NodeID, req *http.Request) (any, error) {
			kind, err := protocol.ParseWatchpointKind(chi.URLParam(req, "kind"))
			if err != nil {
				return nil, badRequest{err}
			}
			removed, err := a.RemoveWatchpointOn(ctx, id, kind)
			if err != nil {
				return nil, err
			}
			return map[string]bool{"removed": removed}, nil
		}))
	})

	r.Get("/watchpoints", func(w http.ResponseWriter, req *http.Request) {
		v, err := a.ListWatchpoints(req.Context())
		respond(w, v, err)
	})

	r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		snap, err := a.TakeSnapshot(req.Context())
		if err != nil {
			respond(w, nil, err)
			return
		}
		if req.URL.Query().Get("format") == "html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, snap.HTML)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/events", func(w http.ResponseWriter, req *http.Request) {
		body, err := horosafe.LimitedReadAll(req.Body, maxEventBody)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		ev, err := protocol.UnmarshalEvent(body)
		if err != nil {
			a.logger.Error("domagent: malformed event", "error", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.Deliver(*ev); err != nil {
			respond(w, nil, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	return r
}

type badRequest struct{ error }

func (e badRequest) Unwrap() error { return e.error }

func (a *Agent) nodeHandler(fn func(ctx context.Context, id protocol.NodeID, r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || raw <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid node id"))
			return
		}
		v, err := fn(r.Context(), protocol.NodeID(raw), r)
		respond(w, v, err)
	}
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func statusFor(err error) int {
	var br badRequest
	var malformed *protocol.MalformedError
	switch {
	case errors.As(err, &br), errors.As(err, &malformed), errors.Is(err, ErrNotText):
		return http.StatusBadRequest
	case errors.Is(err, ErrNodeNotFound), errors.Is(err, ErrNoDocument):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrRejected), errors.Is(err, ErrStale):
		return http.StatusConflict
	case errors.Is(err, ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
