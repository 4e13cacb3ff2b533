package hwc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/device"
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/plane"
)

var (
	primaryA = plane.ID{Type: plane.TypePrimary, Index: 0}
	primaryB = plane.ID{Type: plane.TypePrimary, Index: 1}
	spriteA  = plane.ID{Type: plane.TypeSprite, Index: 0}

	fullscreen = frame.Rect{Right: 1920, Bottom: 1200}
	statusBar  = frame.Rect{Right: 1920, Bottom: 80}
)

func testConfig() *config.Config {
	c := config.DefaultConfig
	c.Display.Backend = "static"
	c.Display.Connectors = append([]config.ConnectorConfig(nil), config.DefaultConfig.Display.Connectors...)
	return &c
}

func newComposer(t *testing.T, cfg *config.Config, alloc plane.Allocator) (*Hwcomposer, display.Backend) {
	t.Helper()
	disp, err := display.New(cfg.Display)
	require.NoError(t, err)
	h, err := New(cfg, caps.Anniedale(cfg.CommandModePanel()), disp, alloc)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, disp.Backend()
}

func rgb(handle uint64, r frame.Rect) frame.Layer {
	return frame.Layer{
		Handle:       handle,
		Format:       frame.FormatRGBA8888,
		SourceCrop:   frame.Rect{Right: r.Width(), Bottom: r.Height()},
		DisplayFrame: r,
		BufferWidth:  r.Width(),
		BufferHeight: r.Height(),
	}
}

func newFrame(geometryChanged bool, layers ...frame.Layer) *frame.Frame {
	target := frame.Layer{
		Composition:  frame.FramebufferTarget,
		Handle:       1000,
		Format:       frame.FormatRGBA8888,
		DisplayFrame: fullscreen,
		SourceCrop:   fullscreen,
	}
	return &frame.Frame{Layers: append(layers, target), GeometryChanged: geometryChanged}
}

func TestComposeCycle(t *testing.T) {
	h, _ := newComposer(t, testConfig(), nil)
	require.NoError(t, h.Initialize())
	require.Len(t, h.Devices(), 2)

	var buf bytes.Buffer
	rec := commit.NewRecorder(&buf)

	h.Prepare(map[int]*frame.Frame{0: newFrame(true, rgb(1, fullscreen), rgb(2, statusBar))})
	require.NoError(t, h.Commit(rec))
	h.Prepare(map[int]*frame.Frame{0: newFrame(false, rgb(3, fullscreen), rgb(2, statusBar))})
	require.NoError(t, h.Commit(rec))
	assert.Equal(t, uint64(2), h.Cycle())

	records, err := commit.ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, uint64(1), records[0].Cycle)
	require.Len(t, records[0].Pipes, 1, "the disconnected pipe commits nothing")
	pc := records[0].Pipes[0]
	assert.Equal(t, 0, pc.Pipe)
	require.Len(t, pc.Planes, 2)
	assert.Equal(t, primaryA, pc.Planes[0].Plane)
	assert.Equal(t, spriteA, pc.Planes[1].Plane)
	assert.Equal(t, 1, pc.Planes[1].ZOrder)

	assert.Equal(t, uint64(3), records[1].Pipes[0].Planes[0].Handle)

	dump := h.Dump()
	require.Len(t, dump, 2)
	assert.Equal(t, device.ListBuilt, dump[0].State)
	assert.Equal(t, device.NoList, dump[1].State)
}

func TestReclaimVisibleAcrossPipes(t *testing.T) {
	cfg := testConfig()
	cfg.Display.Connectors[1].Connected = true
	h, _ := newComposer(t, cfg, nil)
	require.NoError(t, h.Initialize())
	mgr := h.Manager()

	h.Prepare(map[int]*frame.Frame{0: newFrame(true, rgb(1, fullscreen), rgb(2, statusBar))})
	require.False(t, mgr.IsFreePlane(spriteA))

	// pipe 0 drops its list in the same cycle pipe 1 needs sprite A
	h.Prepare(map[int]*frame.Frame{1: newFrame(true, rgb(3, fullscreen), rgb(4, statusBar))})
	assert.False(t, mgr.IsFreePlane(spriteA))
	assert.False(t, mgr.IsFreePlane(primaryB))
	assert.Equal(t, device.NoList, h.Device(0).State())
	assert.Equal(t, device.ListBuilt, h.Device(1).State())
}

func TestHotplugForwarding(t *testing.T) {
	h, backend := newComposer(t, testConfig(), nil)
	require.NoError(t, h.Initialize())

	var events []bool
	h.RegisterCallbacks(nil, func(pipe int, connected bool) {
		assert.Equal(t, 1, pipe)
		events = append(events, connected)
	})

	require.NoError(t, h.Hotplug(1))
	assert.Empty(t, events, "no change, no callback")

	require.NoError(t, display.SetConnected(backend, "card0-HDMI-A-1", true))
	require.NoError(t, h.Hotplug(1))
	require.NoError(t, display.SetConnected(backend, "card0-HDMI-A-1", false))
	require.NoError(t, h.Hotplug(1))
	assert.Equal(t, []bool{true, false}, events)

	assert.Error(t, h.Hotplug(7))
}

type brokenAllocator struct{}

func (brokenAllocator) AllocateBuffers(plane.ID, int) ([]uint64, error) {
	return nil, errors.New("out of memory")
}

func (brokenAllocator) FreeBuffers(plane.ID, []uint64) {}

func TestInitializeFailure(t *testing.T) {
	h, _ := newComposer(t, testConfig(), brokenAllocator{})

	err := h.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, plane.ErrInit)
	assert.ErrorIs(t, err, device.ErrPlanesUnavailable)

	for _, d := range h.Devices() {
		assert.False(t, d.Connected())
	}

	var buf bytes.Buffer
	rec := commit.NewRecorder(&buf)
	h.Prepare(map[int]*frame.Frame{0: newFrame(true, rgb(1, fullscreen))})
	require.NoError(t, h.Commit(rec))
	records, err := commit.ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Pipes)
}

type failingContext struct {
	ended bool
}

func (c *failingContext) Begin(uint64) error { return nil }

func (c *failingContext) Commit(int, []commit.PlaneUpdate) error {
	return errors.New("flip rejected")
}

func (c *failingContext) End() error {
	c.ended = true
	return nil
}

func TestCommitFailureStillEnds(t *testing.T) {
	h, _ := newComposer(t, testConfig(), nil)
	require.NoError(t, h.Initialize())

	h.Prepare(map[int]*frame.Frame{0: newFrame(true, rgb(1, fullscreen))})
	ctx := &failingContext{}
	err := h.Commit(ctx)
	assert.ErrorContains(t, err, "flip rejected")
	assert.True(t, ctx.ended)
}

func TestRunDeliversVsync(t *testing.T) {
	h, _ := newComposer(t, testConfig(), nil)
	require.NoError(t, h.Initialize())

	var mu sync.Mutex
	pipes := make(map[int]int)
	h.RegisterCallbacks(func(pipe int, ts int64) {
		mu.Lock()
		pipes[pipe]++
		mu.Unlock()
	}, nil)

	d := h.Device(0)
	require.NotNil(t, d)
	d.VsyncObserver().SetPeriod(time.Millisecond)
	require.NoError(t, d.VsyncControl(true))

	ctx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- h.Run(ctx)
		stopped.Store(true)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pipes[0] >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, stopped.Load())

	mu.Lock()
	assert.Zero(t, pipes[1], "pipe 1 vsync was never enabled")
	mu.Unlock()
}

func TestNewRejectsUnknownPipes(t *testing.T) {
	cfg := testConfig()
	cfg.Display.Connectors = []config.ConnectorConfig{{Pipe: 3, Name: "card0-DP-1"}}
	disp, err := display.New(cfg.Display)
	require.NoError(t, err)

	_, err = New(cfg, caps.Anniedale(true), disp, nil)
	assert.Error(t, err)
}

const bootScenario = `name = "boot"

[[cycles]]
repeat = 2

[[cycles.displays]]
pipe = 0
geometry_changed = true

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 1
frame = [0, 0, 1920, 1200]

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 2
frame = [0, 0, 1920, 80]

[[cycles]]

[[cycles.hotplug]]
pipe = 1
connected = true

[[cycles.displays]]
pipe = 0

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 1
frame = [0, 0, 1920, 1200]

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 2
frame = [0, 0, 1920, 80]

[[cycles.displays]]
pipe = 1
geometry_changed = true

[[cycles.displays.layers]]
format = "RGBX8888"
handle = 3
frame = [0, 0, 1920, 1080]
`

func TestRunScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.toml")
	require.NoError(t, os.WriteFile(path, []byte(bootScenario), 0644))
	s, err := frame.LoadScenario(path)
	require.NoError(t, err)

	h, backend := newComposer(t, testConfig(), nil)
	require.NoError(t, h.Initialize())

	var hotplugs []int
	h.RegisterCallbacks(nil, func(pipe int, connected bool) {
		if connected {
			hotplugs = append(hotplugs, pipe)
		}
	})

	var buf bytes.Buffer
	rec := commit.NewRecorder(&buf)
	var cycles []uint64
	err = h.RunScenario(s, backend, rec, func(cycle uint64, frames map[int]*frame.Frame) {
		cycles = append(cycles, cycle)
		if f := frames[0]; f != nil {
			assert.Equal(t, frame.Overlay, f.Layers[0].Composition, "cycle %d", cycle)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, cycles)
	assert.Equal(t, []int{1}, hotplugs)

	records, err := commit.ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, records, 3)

	last := records[2]
	require.Len(t, last.Pipes, 2)
	assert.Equal(t, 0, last.Pipes[0].Pipe)
	require.Len(t, last.Pipes[0].Planes, 2)
	assert.Equal(t, spriteA, last.Pipes[0].Planes[1].Plane)
	assert.Equal(t, 1, last.Pipes[1].Pipe)
	require.Len(t, last.Pipes[1].Planes, 1)
	assert.Equal(t, primaryB, last.Pipes[1].Planes[0].Plane, "sprite A is busy on pipe 0")
}

func TestRunScenarioUnknownPipe(t *testing.T) {
	h, backend := newComposer(t, testConfig(), nil)
	require.NoError(t, h.Initialize())

	s := &frame.Scenario{Cycles: []frame.Cycle{{Repeat: 1, Hotplug: map[int]bool{5: true}}}}
	err := h.RunScenario(s, backend, commit.LogContext{}, nil)
	assert.ErrorContains(t, err, "unknown pipe 5")
}
