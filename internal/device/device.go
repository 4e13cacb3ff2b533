// Package device holds the per-pipe state of a display: its layer list, its
// display configs and its blank and vsync state.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/layerlist"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/observer"
)

var (
	// ErrPlanesUnavailable is returned when the plane pool failed to come up
	ErrPlanesUnavailable = errors.New("display planes unavailable")
	// ErrDisconnected is returned by operations that need a connected display
	ErrDisconnected = errors.New("display disconnected")
	// ErrInvalidConfig is returned for an out of range config index
	ErrInvalidConfig = errors.New("invalid display config")
)

// State is the layer list lifecycle state
type State int

const (
	NoList State = iota
	ListBuilt
)

func (s State) String() string {
	if s == ListBuilt {
		return "list-built"
	}
	return "no-list"
}

// PlaneManager is what a device needs from the plane manager
type PlaneManager interface {
	layerlist.PlaneManager
	Initialized() bool
}

// Detector reports the connection state and display configs of a pipe
type Detector interface {
	Detect(pipe int) (bool, []display.Config, error)
	ConnectorName(pipe int) (string, bool)
}

// Options configure a device
type Options struct {
	Layers layerlist.Options
	// Vsync receives soft vsync events while vsync is enabled
	Vsync observer.VsyncFunc
}

// PhysicalDevice is one display pipe
type PhysicalDevice struct {
	mu sync.Mutex

	pipe     int
	name     string
	mgr      PlaneManager
	detector Detector
	opts     Options
	log      *log.Logger

	connected bool
	blank     bool
	configs   []display.Config
	active    int

	state State
	list  *layerlist.List
	vsync *observer.SoftVsyncObserver
}

// New creates a device for pipe. It stays disconnected until Initialize.
func New(pipe int, mgr PlaneManager, detector Detector, opts Options) *PhysicalDevice {
	name, ok := detector.ConnectorName(pipe)
	if !ok {
		name = fmt.Sprintf("pipe%d", pipe)
	}
	return &PhysicalDevice{
		pipe:     pipe,
		name:     name,
		mgr:      mgr,
		detector: detector,
		opts:     opts,
		log:      logger.With("pipe", pipe),
		vsync:    observer.NewSoftVsyncObserver(pipe, opts.Vsync),
	}
}

// Initialize detects the display. A device whose planes could not be
// allocated, or whose detection fails, stays disconnected.
func (d *PhysicalDevice) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = false
	d.configs = nil
	if !d.mgr.Initialized() {
		d.log.Error("device bring-up failed", "err", ErrPlanesUnavailable)
		return fmt.Errorf("pipe %d: %w", d.pipe, ErrPlanesUnavailable)
	}

	if _, err := d.detectLocked(); err != nil {
		d.log.Error("device bring-up failed", "err", err)
		return fmt.Errorf("pipe %d: %w", d.pipe, err)
	}
	d.log.Info("device initialized", "connector", d.name, "connected", d.connected)
	return nil
}

// Deinitialize drops the layer list and stops vsync delivery
func (d *PhysicalDevice) Deinitialize() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyListLocked()
	d.vsync.Control(false)
	d.connected = false
	d.configs = nil
}

// detectLocked re-reads the connector and replaces the config list. It
// reports whether the connection state changed.
func (d *PhysicalDevice) detectLocked() (bool, error) {
	connected, configs, err := d.detector.Detect(d.pipe)
	if err != nil {
		return false, err
	}
	changed := connected != d.connected
	d.connected = connected
	d.configs = configs
	d.active = 0
	if !connected {
		d.destroyListLocked()
		d.vsync.Control(false)
		return changed, nil
	}
	if len(configs) == 0 {
		d.connected = false
		return changed, fmt.Errorf("connector %s reports no modes", d.name)
	}
	d.vsync.SetPeriod(d.configs[0].VsyncPeriod())
	return changed, nil
}

func (d *PhysicalDevice) destroyListLocked() {
	if d.list != nil {
		d.list.Deinitialize()
		d.list = nil
	}
	d.state = NoList
}

// PrePrepare drops the layer list when it cannot be reused for f. It runs
// for every device before any device prepares, so planes a pipe gives up
// are visible to the others' searches.
func (d *PhysicalDevice) PrePrepare(f *frame.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected || d.blank || f == nil {
		d.destroyListLocked()
		return
	}
	if f.GeometryChanged {
		d.destroyListLocked()
	}
}

// Prepare builds a layer list on a geometry change and updates the existing
// one otherwise. It reports whether the device has a list to commit.
func (d *PhysicalDevice) Prepare(f *frame.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected || d.blank || f == nil {
		return false
	}

	if f.GeometryChanged {
		d.destroyListLocked()
		list, err := layerlist.New(d.pipe, d.mgr, f, d.opts.Layers)
		if err != nil {
			d.log.Warn("failed to create layer list", "err", err)
			d.state = NoList
			return false
		}
		d.list = list
		d.state = ListBuilt
		d.log.Debug("layer list built", "layers", list.Len(), "gpu", list.FBLayers())
		return true
	}

	if d.list == nil {
		d.log.Debug("no layer list and no geometry change, nothing to draw")
		d.state = NoList
		return false
	}
	if !d.list.Update(f) {
		d.log.Warn("layer list update failed")
		d.destroyListLocked()
		return false
	}
	return true
}

// Commit hands the plane states of the current list to ctx
func (d *PhysicalDevice) Commit(ctx commit.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != ListBuilt || d.blank || d.list == nil {
		return nil
	}

	atts := d.list.Attachments()
	updates := make([]commit.PlaneUpdate, 0, len(atts))
	for _, a := range atts {
		u := commit.PlaneUpdate{Plane: a.Plane, Layer: a.Layer, Handle: a.Handle}
		if p := d.mgr.Plane(a.Plane); p != nil {
			st := p.State()
			u.Enabled = st.Enabled
			u.Slot = st.Slot
			u.ZOrder = st.ZOrder
		}
		updates = append(updates, u)
	}

	if err := ctx.Commit(d.pipe, updates); err != nil {
		return fmt.Errorf("pipe %d commit: %w", d.pipe, err)
	}
	d.list.PostFlip()
	return nil
}

// OnHotplug re-reads the connector after a hotplug event. It reports
// whether the connection state changed.
func (d *PhysicalDevice) OnHotplug() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.mgr.Initialized() {
		return false, ErrPlanesUnavailable
	}
	changed, err := d.detectLocked()
	if err != nil {
		d.log.Warn("hotplug detection failed", "err", err)
		d.connected = false
		d.configs = nil
		d.destroyListLocked()
		return true, err
	}
	if changed {
		d.log.Info("hotplug", "connector", d.name, "connected", d.connected)
	}
	return changed, nil
}

// Pipe returns the pipe index
func (d *PhysicalDevice) Pipe() int {
	return d.pipe
}

// Name returns the connector name
func (d *PhysicalDevice) Name() string {
	return d.name
}

// Connected reports whether a display is attached
func (d *PhysicalDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// State returns the layer list state
func (d *PhysicalDevice) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Configs returns a copy of the display configs, active one first
func (d *PhysicalDevice) Configs() []display.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]display.Config(nil), d.configs...)
}

// ActiveConfig returns the index of the active config
func (d *PhysicalDevice) ActiveConfig() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return -1, ErrDisconnected
	}
	return d.active, nil
}

// SetActiveConfig selects config i and retunes soft vsync to it
func (d *PhysicalDevice) SetActiveConfig(i int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrDisconnected
	}
	if i < 0 || i >= len(d.configs) {
		return fmt.Errorf("%w: %d", ErrInvalidConfig, i)
	}
	d.active = i
	d.vsync.SetPeriod(d.configs[i].VsyncPeriod())
	return nil
}

// Attributes returns config i
func (d *PhysicalDevice) Attributes(i int) (display.Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return display.Config{}, ErrDisconnected
	}
	if i < 0 || i >= len(d.configs) {
		return display.Config{}, fmt.Errorf("%w: %d", ErrInvalidConfig, i)
	}
	return d.configs[i], nil
}

// Blank turns the display off or back on. A blanked display drops its list
// on the next cycle and commits nothing.
func (d *PhysicalDevice) Blank(blank bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrDisconnected
	}
	d.blank = blank
	d.log.Debug("blank", "on", blank)
	return nil
}

// Blanked reports the blank state
func (d *PhysicalDevice) Blanked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blank
}

// VsyncControl enables or disables vsync delivery
func (d *PhysicalDevice) VsyncControl(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enabled && !d.connected {
		return ErrDisconnected
	}
	d.vsync.Control(enabled)
	return nil
}

// VsyncObserver returns the soft vsync source of this device
func (d *PhysicalDevice) VsyncObserver() *observer.SoftVsyncObserver {
	return d.vsync
}
