package domagent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/dommirror/connectivity"
	"github.com/hazyhaar/dommirror/domagent/internal/browser"
	"github.com/hazyhaar/dommirror/domagent/internal/cdp"
	"github.com/hazyhaar/dommirror/domagent/internal/store"
	"github.com/hazyhaar/dommirror/horosafe"
	"github.com/hazyhaar/dommirror/observability"
)

// Session is a running domagent: the agent, its router and, when a page
// is configured, the browser that serves it.
//
// The agent always talks to its backend through the router. The CDP
// backend registers itself as local handlers; a row in the routes table
// can send the same services to another daemon instead.
type Session struct {
	cfg    *Config
	logger *slog.Logger

	agent    *Agent
	router   *connectivity.Router
	store    *store.Store
	routesDB *sql.DB
	metrics  *observability.MetricsManager
	metricDB *sql.DB
	browser  *browser.Manager

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	tab    *browser.Tab
	detach context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession opens the databases named in cfg and builds the agent. Call
// Start to run it.
func NewSession(cfg *Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{cfg: cfg, logger: logger}

	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("domagent: open store: %w", err)
		}
		s.store = st
	}
	if cfg.Metrics.DBPath != "" {
		db, err := observability.OpenDB(cfg.Metrics.DBPath)
		if err != nil {
			s.closeDBs()
			return nil, fmt.Errorf("domagent: open metrics: %w", err)
		}
		s.metricDB = db
		s.metrics = observability.NewMetricsManager(db, cfg.Metrics.Buffer, cfg.Metrics.FlushInterval, logger)
	}
	if cfg.RoutesDB != "" {
		db, err := connectivity.OpenDB(cfg.RoutesDB)
		if err != nil {
			s.closeDBs()
			return nil, fmt.Errorf("domagent: open routes: %w", err)
		}
		s.routesDB = db
	}

	s.router = connectivity.New(
		connectivity.WithLogger(logger),
		connectivity.WithMiddleware(connectivity.Chain(
			connectivity.Recovery(logger),
			connectivity.Metrics(s.metrics),
			connectivity.Logging(logger),
		)),
	)
	s.router.RegisterTransport("http", connectivity.HTTPFactory())

	opts := []Option{
		WithLogger(logger),
		WithMetrics(s.metrics),
		WithRequestTimeout(cfg.Requests.Timeout),
	}
	if s.store != nil {
		opts = append(opts, withStore(s.store))
	}
	s.agent = New(NewRoutedBackend(s.router), opts...)
	RegisterFrontend(s.router, s.agent)

	if cfg.Inspect.URL != "" {
		mode, err := browser.ParseMode(cfg.Browser.Stealth)
		if err != nil {
			s.closeDBs()
			return nil, err
		}
		s.browser = browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Mode:             mode,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           logger,
		})
	}
	return s, nil
}

// Agent returns the tree registry.
func (s *Session) Agent() *Agent { return s.agent }

// Router returns the service router, for exposing dom_* services to
// other daemons.
func (s *Session) Router() *connectivity.Router { return s.router }

// Metrics returns the metrics manager, nil when metrics are disabled.
func (s *Session) Metrics() *observability.MetricsManager { return s.metrics }

// Start runs the agent loop and, when configured, the routes watcher and
// the inspected page. It returns once the page is attached.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("domagent: session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	ctx = s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.agent.Run(ctx); err != nil {
			s.logger.Error("domagent: agent loop", "error", err)
		}
	}()
	if s.routesDB != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.router.Watch(ctx, s.routesDB, 500*time.Millisecond)
		}()
	}
	if s.metrics != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.metrics.SampleRuntime(ctx, 30*time.Second)
		}()
	}

	if s.browser == nil {
		s.logger.Info("domagent: no page configured, waiting for a remote backend")
		return nil
	}
	if err := horosafe.ValidateScheme(s.cfg.Inspect.URL); err != nil {
		return fmt.Errorf("domagent: inspect url: %w", err)
	}
	if _, err := s.browser.Start(ctx); err != nil {
		return err
	}
	s.browser.OnRecycle(func(*rod.Browser) {
		if err := s.openPage(); err != nil {
			s.logger.Error("domagent: reopen page after recycle", "error", err)
		}
	})
	return s.openPage()
}

// openPage opens the inspected URL in a fresh tab, points the local
// backend services at it and starts forwarding its DOM events. A previous
// tab is dropped first; its document is replaced by the new one.
func (s *Session) openPage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return errors.New("domagent: session stopped")
	}
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	if s.tab != nil {
		_ = s.tab.Close()
		s.tab = nil
	}

	tab, err := s.browser.OpenTab(s.ctx, s.cfg.Inspect.URL)
	if err != nil {
		return err
	}
	s.tab = tab
	RegisterBackend(s.router, cdp.NewBackend(tab.Page, s.cfg.Inspect.Pierce, s.logger))

	attachCtx, cancel := context.WithCancel(s.ctx)
	s.detach = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := cdp.Attach(attachCtx, tab.Page, s.agent, cdp.AttachOptions{
			Depth:  s.cfg.Inspect.Depth,
			Pierce: s.cfg.Inspect.Pierce,
			Logger: s.logger,
		})
		if err != nil && attachCtx.Err() == nil {
			s.logger.Error("domagent: attach", "url", s.cfg.Inspect.URL, "error", err)
		}
	}()
	s.logger.Info("domagent: page opened", "url", s.cfg.Inspect.URL)
	return nil
}

// Stop cancels everything Start started and closes the databases.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.tab != nil {
		_ = s.tab.Close()
		s.tab = nil
	}
	s.mu.Unlock()

	var errs []error
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	s.wg.Wait()
	errs = append(errs, s.router.Close())
	errs = append(errs, s.metrics.Close())
	s.closeDBs()
	return errors.Join(errs...)
}

func (s *Session) closeDBs() {
	if s.store != nil {
		s.store.Close()
	}
	if s.routesDB != nil {
		s.routesDB.Close()
	}
	if s.metricDB != nil {
		s.metricDB.Close()
	}
}
