// Command domagent mirrors the DOM of a page and serves it over HTTP and
// MCP.
//
// Usage:
//
//	domagent -config domagent.yaml
//	domagent -url https://example.com -addr :8420
//	domagent -url https://example.com -mcp          # MCP tools on stdio
//	domagent -url https://example.com -snapshot     # print the mirror as HTML and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dommirror/domagent"
	"github.com/hazyhaar/dommirror/horosafe"
	"github.com/hazyhaar/dommirror/shield"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to domagent.yaml")
	pageURL := flag.String("url", "", "page to inspect (overrides inspect.url)")
	addr := flag.String("addr", "", "HTTP listen address (overrides http.addr)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	snapshot := flag.Bool("snapshot", false, "print the mirrored document as HTML and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := domagent.DefaultConfig()
	if *configPath != "" {
		loaded, err := domagent.LoadConfigFile(*configPath)
		if err != nil {
			logger.Error("domagent: fatal", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *pageURL != "" {
		cfg.Inspect.URL = *pageURL
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *mcpStdio {
		cfg.MCP.Stdio = true
	}

	if err := run(ctx, logger, cfg, *snapshot); err != nil {
		logger.Error("domagent: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *domagent.Config, snapshot bool) error {
	if cfg.Inspect.URL == "" && cfg.HTTP.Addr == "" && !cfg.MCP.Stdio {
		fmt.Fprintln(os.Stderr, "usage: domagent -config <file> | -url <url> [-addr :8420] [-mcp] [-snapshot]")
		os.Exit(2)
	}

	sess, err := domagent.NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Stop()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if snapshot {
		return printSnapshot(ctx, sess.Agent(), cfg.Requests.Timeout)
	}

	errc := make(chan error, 2)
	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           harden(routes(sess), cfg.HTTP, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("domagent: http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}
	if cfg.MCP.Stdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "domagent", Version: version}, nil)
		sess.Agent().RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("domagent: shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

// routes mounts the agent API and the service router. /rpc/{service}
// lets another domagent route its dom_* services here.
func routes(sess *domagent.Session) http.Handler {
	r := sess.Agent().Routes()
	router := sess.Router()
	r.Get("/rpc", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(router.Services())
	})
	r.Post("/rpc/{service}", func(w http.ResponseWriter, req *http.Request) {
		payload, err := horosafe.LimitedReadAll(req.Body, 32<<20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		resp, err := router.Call(req.Context(), chi.URLParam(req, "service"), payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if len(resp) == 0 {
			resp = []byte("{}")
		}
		w.Write(resp)
	})
	return r
}

// harden wraps h in the shield middleware stack.
func harden(h http.Handler, cfg domagent.HTTPConfig, logger *slog.Logger) http.Handler {
	mws := shield.Stack(shield.Config{MaxBody: cfg.MaxBody, RequestsPerMinute: cfg.RateLimit}, logger)
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// printSnapshot waits for the first document and writes it to stdout.
func printSnapshot(ctx context.Context, a *domagent.Agent, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap, err := a.TakeSnapshot(ctx)
		if err == nil {
			_, err = os.Stdout.WriteString(snap.HTML + "\n")
			return err
		}
		if !errors.Is(err, domagent.ErrNoDocument) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("snapshot: no document within %s", timeout)
		case <-ticker.C:
		}
	}
}
