package domagent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level domagent configuration.
type Config struct {
	// DBPath is the watchpoint database. Empty disables persistence.
	DBPath string `yaml:"db_path"`

	// RoutesDB holds the connectivity routes table. When set, backend
	// services can be moved to a remote daemon by editing one row.
	RoutesDB string `yaml:"routes_db"`

	Inspect  InspectConfig  `yaml:"inspect"`
	Browser  BrowserConfig  `yaml:"browser"`
	Requests RequestsConfig `yaml:"requests"`
	HTTP     HTTPConfig     `yaml:"http"`
	MCP      MCPConfig      `yaml:"mcp"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InspectConfig selects the inspected page.
type InspectConfig struct {
	URL string `yaml:"url"`
	// Depth passed to DOM.getDocument; -1 materialises the whole tree.
	Depth  int  `yaml:"depth"`
	Pierce bool `yaml:"pierce"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful | plain
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// RequestsConfig bounds backend requests.
type RequestsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// MaxBody caps request bodies. Default: 32 MiB.
	MaxBody int64 `yaml:"max_body"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

// MCPConfig enables the MCP tool server.
type MCPConfig struct {
	Stdio bool `yaml:"stdio"`
}

// MetricsConfig enables SQLite metrics.
type MetricsConfig struct {
	DBPath        string        `yaml:"db_path"`
	Buffer        int           `yaml:"buffer"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("domagent: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("domagent: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Inspect.Depth == 0 {
		c.Inspect.Depth = -1
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 32 << 20
	}
	if c.Requests.Timeout <= 0 {
		c.Requests.Timeout = 30 * time.Second
	}
	if c.Metrics.Buffer <= 0 {
		c.Metrics.Buffer = 100
	}
	if c.Metrics.FlushInterval <= 0 {
		c.Metrics.FlushInterval = 5 * time.Second
	}
}

// DefaultConfig returns a configuration with every default applied and
// nothing to inspect.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
