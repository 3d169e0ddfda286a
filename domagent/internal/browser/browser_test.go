package browser

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeHeadless, "plain": ModePlain, "headless": ModeHeadless, "headful": ModeHeadful}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("invisible"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 {
		t.Errorf("MemoryLimit = %d", m.cfg.MemoryLimit)
	}
	if m.cfg.RecycleInterval != 4*time.Hour {
		t.Errorf("RecycleInterval = %v", m.cfg.RecycleInterval)
	}
	if m.cfg.Mode != ModeHeadless || m.cfg.XvfbDisplay != ":99" {
		t.Errorf("Mode = %q, XvfbDisplay = %q", m.cfg.Mode, m.cfg.XvfbDisplay)
	}
	if m.Browser() != nil {
		t.Error("browser set before Start")
	}
}

func TestBlockedType(t *testing.T) {
	cases := map[proto.NetworkResourceType]string{
		proto.NetworkResourceTypeImage:      "images",
		proto.NetworkResourceTypeFont:       "fonts",
		proto.NetworkResourceTypeStylesheet: "stylesheets",
		proto.NetworkResourceTypeMedia:      "media",
		proto.NetworkResourceTypeScript:     "script",
	}
	for in, want := range cases {
		if got := blockedType(in); got != want {
			t.Errorf("blockedType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClosedManager(t *testing.T) {
	m := NewManager(Config{})
	m.Close()
	if err := m.Recycle(); err != ErrClosed {
		t.Fatalf("Recycle after Close = %v, want ErrClosed", err)
	}
}

func TestDisplaySocket(t *testing.T) {
	cases := map[string]string{":99": "/tmp/.X11-unix/X99", ":0.0": "/tmp/.X11-unix/X0", ":7.1": "/tmp/.X11-unix/X7"}
	for in, want := range cases {
		got, err := displaySocket(in)
		if err != nil || got != want {
			t.Errorf("displaySocket(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "99", ":", "host:1"} {
		if _, err := displaySocket(bad); err == nil {
			t.Errorf("displaySocket(%q): expected error", bad)
		}
	}
}
