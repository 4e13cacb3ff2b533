// Package display handles connector detection and the display configs
// derived from connector modes
package display

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/logger"
)

// Config is one display configuration a pipe can run
type Config struct {
	RefreshRate int
	Width       int
	Height      int
	// DpiX and DpiY are in dots per inch
	DpiX int
	DpiY int
}

// VsyncPeriod returns the frame period for the config's refresh rate
func (c Config) VsyncPeriod() time.Duration {
	if c.RefreshRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.RefreshRate)
}

func (c Config) String() string {
	return fmt.Sprintf("%dx%d@%d (%dx%d dpi)", c.Width, c.Height, c.RefreshRate, c.DpiX, c.DpiY)
}

// Connector is the detected state of one output
type Connector struct {
	Name      string
	Pipe      int
	Connected bool
	// Modes are in preference order; the first one is the preferred mode
	Modes    []Mode
	MMWidth  int
	MMHeight int
}

// Backend interface for different connector detection methods
type Backend interface {
	// Connector reads the current state of the named connector
	Connector(name string) (*Connector, error)
	// StatusPath is a file that changes when the connector is plugged or
	// unplugged, or "" when the backend cannot be watched
	StatusPath(name string) string
	Name() string
	Close() error
}

// Display maps pipes to connectors and turns modes into display configs
type Display struct {
	backend    Backend
	connectors map[int]config.ConnectorConfig
	refresh    int
	dpi        int
}

// New creates a display detector, trying backends in order of preference
func New(cfg config.DisplayConfig) (*Display, error) {
	type candidate struct {
		name   string
		create func(config.DisplayConfig) (Backend, error)
	}

	var backends []candidate
	switch cfg.Backend {
	case "sysfs":
		backends = []candidate{{"sysfs", newSysfsBackend}}
	case "static":
		backends = []candidate{{"static", newStaticBackend}}
	default:
		backends = []candidate{{"sysfs", newSysfsBackend}, {"static", newStaticBackend}}
	}

	var backend Backend
	for i, b := range backends {
		logger.Debugf("Display.New: Trying backend %d: %s", i, b.name)
		created, err := b.create(cfg)
		if err == nil {
			logger.Debugf("Display.New: Successfully created backend: %s", b.name)
			backend = created
			break
		}
		logger.Debugf("Display.New: Backend %s failed: %v", b.name, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("no display backend available")
	}

	return NewWithBackend(backend, cfg), nil
}

// NewWithBackend wires an explicit backend
func NewWithBackend(backend Backend, cfg config.DisplayConfig) *Display {
	d := &Display{
		backend:    backend,
		connectors: make(map[int]config.ConnectorConfig),
		refresh:    cfg.RefreshRate,
		dpi:        cfg.DefaultDPI,
	}
	for _, c := range cfg.Connectors {
		d.connectors[c.Pipe] = c
	}
	return d
}

// Backend returns the detection backend in use
func (d *Display) Backend() Backend {
	return d.backend
}

// Pipes lists pipes with a configured connector
func (d *Display) Pipes() []int {
	var pipes []int
	for p := range d.connectors {
		pipes = append(pipes, p)
	}
	sort.Ints(pipes)
	return pipes
}

// ConnectorName returns the connector bound to pipe
func (d *Display) ConnectorName(pipe int) (string, bool) {
	c, ok := d.connectors[pipe]
	return c.Name, ok
}

// StatusPath returns the hotplug status file for pipe, if any
func (d *Display) StatusPath(pipe int) string {
	c, ok := d.connectors[pipe]
	if !ok {
		return ""
	}
	return d.backend.StatusPath(c.Name)
}

// PipeForStatusPath maps a changed status file back to its pipe
func (d *Display) PipeForStatusPath(path string) (int, bool) {
	for pipe, c := range d.connectors {
		if p := d.backend.StatusPath(c.Name); p != "" && p == path {
			return pipe, true
		}
	}
	return -1, false
}

// Detect reads the connector of pipe and derives its display configs. The
// first config is the active one.
func (d *Display) Detect(pipe int) (bool, []Config, error) {
	cc, ok := d.connectors[pipe]
	if !ok {
		return false, nil, fmt.Errorf("no connector configured for pipe %d", pipe)
	}
	conn, err := d.backend.Connector(cc.Name)
	if err != nil {
		return false, nil, fmt.Errorf("detecting %s: %w", cc.Name, err)
	}
	conn.Pipe = pipe
	if conn.MMWidth == 0 && conn.MMHeight == 0 {
		conn.MMWidth, conn.MMHeight = cc.MMWidth, cc.MMHeight
	}
	if !conn.Connected {
		return false, nil, nil
	}
	configs := Configs(conn, d.refresh, d.dpi)
	if len(configs) == 0 {
		return false, nil, fmt.Errorf("%s is connected but reports no modes", cc.Name)
	}
	return true, configs, nil
}

// Configs derives display configs from a connector: the preferred mode
// first, then every other mode with the same resolution
func Configs(conn *Connector, defaultRefresh, defaultDPI int) []Config {
	if len(conn.Modes) == 0 {
		return nil
	}
	preferred := conn.Modes[0]

	var configs []Config
	seen := make(map[int]bool)
	for _, m := range conn.Modes {
		if m.Width != preferred.Width || m.Height != preferred.Height {
			continue
		}
		refresh := m.Refresh
		if refresh <= 0 {
			refresh = defaultRefresh
		}
		if seen[refresh] {
			continue
		}
		seen[refresh] = true
		configs = append(configs, Config{
			RefreshRate: refresh,
			Width:       m.Width,
			Height:      m.Height,
			DpiX:        dpi(m.Width, conn.MMWidth, defaultDPI),
			DpiY:        dpi(m.Height, conn.MMHeight, defaultDPI),
		})
	}
	return configs
}

func dpi(pixels, mm, fallback int) int {
	if mm <= 0 {
		return fallback
	}
	return int(float64(pixels)*25.4/float64(mm) + 0.5)
}

// Close cleans up resources
func (d *Display) Close() error {
	if d.backend != nil {
		return d.backend.Close()
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
