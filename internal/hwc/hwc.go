// Package hwc is the composition root. It owns the plane manager and one
// device per pipe and drives every composition cycle through them.
package hwc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/device"
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/layerlist"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/observer"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/bnema/hwcplane/internal/planemgr"
)

// VsyncFunc receives vsync events
type VsyncFunc func(pipe int, timestamp int64)

// HotplugFunc receives connection changes
type HotplugFunc func(pipe int, connected bool)

// Hwcomposer drives the devices of every pipe
type Hwcomposer struct {
	// mu serializes composition cycles with hotplug handling, which both
	// touch the plane manager
	mu sync.Mutex

	cfg     *config.Config
	mgr     *planemgr.Manager
	display *display.Display
	alloc   plane.Allocator
	devices []*device.PhysicalDevice
	hotplug *observer.HotplugObserver

	cycle uint64

	cbMu      sync.RWMutex
	onVsync   VsyncFunc
	onHotplug HotplugFunc
}

// New creates a composer for the pipes of capability that have a connector
// in disp. Nothing is allocated until Initialize.
func New(cfg *config.Config, capability *caps.Capability, disp *display.Display, alloc plane.Allocator) (*Hwcomposer, error) {
	mgr, err := planemgr.New(capability)
	if err != nil {
		return nil, fmt.Errorf("failed to create plane manager: %w", err)
	}
	if alloc == nil {
		alloc = &plane.SyntheticAllocator{}
	}

	h := &Hwcomposer{
		cfg:     cfg,
		mgr:     mgr,
		display: disp,
		alloc:   alloc,
	}

	opts := device.Options{
		Layers: layerlist.Options{
			OverlayAllowed:   cfg.Composition.OverlayAllowed,
			SmartComposition: cfg.Composition.SmartComposition,
		},
		Vsync: h.Vsync,
	}

	statusPaths := make(map[string]int)
	for _, pipe := range disp.Pipes() {
		if _, ok := capability.Pipe(pipe); !ok {
			logger.Warnf("Connector configured for pipe %d, which this hardware does not have", pipe)
			continue
		}
		h.devices = append(h.devices, device.New(pipe, mgr, disp, opts))
		if path := disp.StatusPath(pipe); path != "" {
			statusPaths[path] = pipe
		}
	}
	if len(h.devices) == 0 {
		return nil, fmt.Errorf("no usable pipe configured")
	}
	h.hotplug = observer.NewHotplugObserver(statusPaths)

	return h, nil
}

// Initialize allocates the planes and brings up every device. Failures leave
// the affected devices disconnected; the composer stays usable.
func (h *Hwcomposer) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs error
	if err := h.mgr.Initialize(h.cfg.Hardware.BufferCount, h.alloc); err != nil {
		logger.Errorf("Plane manager bring-up failed: %v", err)
		errs = multierr.Append(errs, err)
	}
	for _, d := range h.devices {
		if err := d.Initialize(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// RegisterCallbacks sets the vsync and hotplug receivers. Either may be nil.
func (h *Hwcomposer) RegisterCallbacks(vsync VsyncFunc, hotplug HotplugFunc) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onVsync = vsync
	h.onHotplug = hotplug
}

// Prepare runs the first half of a composition cycle. Frames are keyed by
// pipe; a missing frame blanks that pipe's list for the cycle.
func (h *Hwcomposer) Prepare(frames map[int]*frame.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.mgr.DisableReclaimedPlanes()

	// every device gives up its planes before any device searches
	for _, d := range h.devices {
		d.PrePrepare(frames[d.Pipe()])
	}
	for _, d := range h.devices {
		d.Prepare(frames[d.Pipe()])
	}
}

// Commit hands the plane states of every device to ctx. A failing device
// does not stop the others.
func (h *Hwcomposer) Commit(ctx commit.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cycle++
	if err := ctx.Begin(h.cycle); err != nil {
		return fmt.Errorf("commit begin: %w", err)
	}

	var errs error
	for _, d := range h.devices {
		if err := d.Commit(ctx); err != nil {
			logger.Warnf("Commit failed: %v", err)
			errs = multierr.Append(errs, err)
		}
	}
	if err := ctx.End(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("commit end: %w", err))
	}
	return errs
}

// Cycle returns the number of commits so far
func (h *Hwcomposer) Cycle() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cycle
}

// Vsync forwards a vsync event to the registered callback
func (h *Hwcomposer) Vsync(pipe int, timestamp int64) {
	h.cbMu.RLock()
	cb := h.onVsync
	h.cbMu.RUnlock()
	if cb != nil {
		cb(pipe, timestamp)
	}
}

// Hotplug re-detects pipe and forwards a connection change to the
// registered callback. It does not reassign planes; the next geometry
// change does.
func (h *Hwcomposer) Hotplug(pipe int) error {
	d := h.Device(pipe)
	if d == nil {
		return fmt.Errorf("hotplug on unknown pipe %d", pipe)
	}

	h.mu.Lock()
	changed, err := d.OnHotplug()
	h.mu.Unlock()

	if changed {
		h.cbMu.RLock()
		cb := h.onHotplug
		h.cbMu.RUnlock()
		if cb != nil {
			cb(pipe, d.Connected())
		}
	}
	return err
}

// Run runs the vsync and hotplug observers until ctx is done
func (h *Hwcomposer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, d := range h.devices {
		v := d.VsyncObserver()
		g.Go(func() error {
			return v.Run(gctx)
		})
	}

	if h.hotplug.Len() > 0 {
		g.Go(func() error {
			return h.hotplug.Run(gctx, func(e observer.HotplugEvent) {
				if err := h.Hotplug(e.Pipe); err != nil {
					logger.Warnf("Hotplug on pipe %d: %v", e.Pipe, err)
				}
			})
		})
	} else {
		logger.Debug("No watchable connector status, hotplug observer not started")
	}

	return g.Wait()
}

// Device returns the device of pipe, or nil
func (h *Hwcomposer) Device(pipe int) *device.PhysicalDevice {
	for _, d := range h.devices {
		if d.Pipe() == pipe {
			return d
		}
	}
	return nil
}

// Devices returns every device in pipe order
func (h *Hwcomposer) Devices() []*device.PhysicalDevice {
	return h.devices
}

// Manager returns the plane manager
func (h *Hwcomposer) Manager() *planemgr.Manager {
	return h.mgr
}

// Dump snapshots every device
func (h *Hwcomposer) Dump() []device.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]device.Status, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d.Dump())
	}
	return out
}

// Close tears down the devices, the planes and the display backend
func (h *Hwcomposer) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, d := range h.devices {
		d.Deinitialize()
	}
	h.mgr.DisableReclaimedPlanes()
	h.mgr.Deinitialize()

	var errs error
	errs = multierr.Append(errs, h.hotplug.Stop())
	errs = multierr.Append(errs, h.display.Close())
	return errs
}
