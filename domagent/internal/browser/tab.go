package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is the inspected page.
type Tab struct {
	Page *rod.Page
	URL  string

	hijack *rod.HijackRouter
}

// OpenTab opens a page on the current browser, applies stealth and
// resource blocking as configured, and navigates to url.
func (m *Manager) OpenTab(ctx context.Context, url string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.Mode == ModePlain {
		page, err = b.Page(proto.TargetCreateTarget{})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	tab := &Tab{Page: page, URL: url}
	if len(m.cfg.ResourceBlocking) > 0 {
		tab.hijack = blockResources(page, m.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		tab.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load", "url", url, "error", err)
	}
	return tab, nil
}

// Close stops resource blocking and closes the page.
func (t *Tab) Close() error {
	if t.hijack != nil {
		_ = t.hijack.Stop()
	}
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}

// blockedType maps a CDP resource type to its config spelling.
func blockedType(resType proto.NetworkResourceType) string {
	switch t := strings.ToLower(string(resType)); t {
	case "image":
		return "images"
	case "font":
		return "fonts"
	case "stylesheet":
		return "stylesheets"
	default:
		return t
	}
}

func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		blocked[strings.ToLower(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[blockedType(h.Request.Type())] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
