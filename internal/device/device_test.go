package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/layerlist"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/bnema/hwcplane/internal/planemgr"
)

var (
	primaryA = plane.ID{Type: plane.TypePrimary, Index: 0}
	primaryB = plane.ID{Type: plane.TypePrimary, Index: 1}
	spriteA  = plane.ID{Type: plane.TypeSprite, Index: 0}

	fullscreen = frame.Rect{Right: 1920, Bottom: 1200}
	statusBar  = frame.Rect{Right: 1920, Bottom: 80}

	layerOptions = layerlist.Options{OverlayAllowed: true}
)

type captureContext struct {
	commits map[int][]commit.PlaneUpdate
	err     error
}

func (c *captureContext) Begin(uint64) error { return nil }

func (c *captureContext) Commit(pipe int, updates []commit.PlaneUpdate) error {
	if c.err != nil {
		return c.err
	}
	if c.commits == nil {
		c.commits = make(map[int][]commit.PlaneUpdate)
	}
	c.commits[pipe] = updates
	return nil
}

func (c *captureContext) End() error { return nil }

type fixture struct {
	mgr     *planemgr.Manager
	display *display.Display
	backend display.Backend
}

func newFixture(t *testing.T, initPlanes bool) *fixture {
	t.Helper()
	mgr, err := planemgr.New(caps.Anniedale(true))
	require.NoError(t, err)
	if initPlanes {
		require.NoError(t, mgr.Initialize(2, &plane.SyntheticAllocator{}))
	}
	backend, err := display.NewStaticBackend(config.DefaultConfig.Display.Connectors)
	require.NoError(t, err)
	return &fixture{
		mgr:     mgr,
		display: display.NewWithBackend(backend, config.DefaultConfig.Display),
		backend: backend,
	}
}

func (fx *fixture) device(t *testing.T, pipe int) *PhysicalDevice {
	t.Helper()
	d := New(pipe, fx.mgr, fx.display, Options{Layers: layerOptions})
	require.NoError(t, d.Initialize())
	return d
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

func cycle(d *PhysicalDevice, f *frame.Frame) bool {
	d.PrePrepare(f)
	return d.Prepare(f)
}

func TestInitialize(t *testing.T) {
	fx := newFixture(t, true)

	primary := fx.device(t, 0)
	assert.True(t, primary.Connected())
	assert.Equal(t, "card0-DSI-1", primary.Name())
	configs := primary.Configs()
	require.Len(t, configs, 1)
	assert.Equal(t, 1920, configs[0].Width)
	assert.Equal(t, 1200, configs[0].Height)
	assert.Equal(t, 60, configs[0].RefreshRate)
	assert.Equal(t, time.Second/60, primary.VsyncObserver().Period())

	external := fx.device(t, 1)
	assert.False(t, external.Connected())
	assert.Empty(t, external.Configs())
	_, err := external.ActiveConfig()
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestInitializeWithoutPlanes(t *testing.T) {
	fx := newFixture(t, false)

	d := New(0, fx.mgr, fx.display, Options{})
	err := d.Initialize()
	assert.ErrorIs(t, err, ErrPlanesUnavailable)
	assert.False(t, d.Connected(), "a device without planes is reported disconnected")
	assert.False(t, cycle(d, newFrame(true, rgb(1, fullscreen))))
}

func TestListLifecycle(t *testing.T) {
	fx := newFixture(t, true)
	d := fx.device(t, 0)
	ctx := &captureContext{}

	require.True(t, cycle(d, newFrame(true, rgb(1, fullscreen))))
	assert.Equal(t, ListBuilt, d.State())

	require.NoError(t, d.Commit(ctx))
	require.Len(t, ctx.commits[0], 1)
	u := ctx.commits[0][0]
	assert.Equal(t, primaryA, u.Plane)
	assert.Equal(t, 0, u.Layer)
	assert.Equal(t, uint64(1), u.Handle)
	assert.True(t, u.Enabled)

	// same geometry, new buffer: updated in place
	require.True(t, cycle(d, newFrame(false, rgb(2, fullscreen))))
	assert.Equal(t, ListBuilt, d.State())
	require.NoError(t, d.Commit(ctx))
	assert.Equal(t, uint64(2), ctx.commits[0][0].Handle)

	// a nil frame drops the list and hands its planes back
	d.PrePrepare(nil)
	assert.False(t, d.Prepare(nil))
	assert.Equal(t, NoList, d.State())
	assert.True(t, fx.mgr.IsFreePlane(primaryA))

	ctx.commits = nil
	require.NoError(t, d.Commit(ctx))
	assert.Empty(t, ctx.commits, "no list, nothing to commit")
}

func TestPrepareWithoutList(t *testing.T) {
	fx := newFixture(t, true)
	d := fx.device(t, 0)

	assert.False(t, cycle(d, newFrame(false, rgb(1, fullscreen))))
	assert.Equal(t, NoList, d.State())
}

func TestGeometryChangeRebuilds(t *testing.T) {
	fx := newFixture(t, true)
	d := fx.device(t, 0)

	require.True(t, cycle(d, newFrame(true, rgb(1, fullscreen))))
	require.True(t, cycle(d, newFrame(true, rgb(1, fullscreen), rgb(2, statusBar))))

	s := d.Dump()
	require.Len(t, s.Layers, 3)
	assert.Equal(t, "PRIMARY", s.Layers[0].Plane)
	assert.Equal(t, "SPRITE", s.Layers[1].Plane)
	assert.Equal(t, 0, s.FBLayers)
	assert.Equal(t, 2, fx.mgr.GetFreePlanes(0, plane.TypeSprite), "old list planes were reclaimed")
}

func TestBlank(t *testing.T) {
	fx := newFixture(t, true)
	d := fx.device(t, 0)
	ctx := &captureContext{}

	require.True(t, cycle(d, newFrame(true, rgb(1, fullscreen))))
	require.NoError(t, d.Blank(true))
	assert.True(t, d.Blanked())

	assert.False(t, cycle(d, newFrame(false, rgb(1, fullscreen))))
	assert.Equal(t, NoList, d.State())
	require.NoError(t, d.Commit(ctx))
	assert.Empty(t, ctx.commits)

	require.NoError(t, d.Blank(false))
	assert.True(t, cycle(d, newFrame(true, rgb(1, fullscreen))))
}

func TestCommitError(t *testing.T) {
	fx := newFixture(t, true)
	d := fx.device(t, 0)

	require.True(t, cycle(d, newFrame(true, rgb(1, fullscreen))))
	err := d.Commit(&captureContext{err: errors.New("ioctl failed")})
	assert.ErrorContains(t, err, "pipe 0 commit")
}

func TestHotplug(t *testing.T) {
	fx := newFixture(t, true)
	d := fx.device(t, 1)
	require.False(t, d.Connected())

	require.NoError(t, display.SetConnected(fx.backend, "card0-HDMI-A-1", true))
	changed, err := d.OnHotplug()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, d.Connected())

	configs := d.Configs()
	require.Len(t, configs, 2, "1280x720 differs from the preferred resolution")
	assert.Equal(t, 60, configs[0].RefreshRate)
	assert.Equal(t, 50, configs[1].RefreshRate)

	changed, err = d.OnHotplug()
	require.NoError(t, err)
	assert.False(t, changed, "no state change on a spurious event")

	require.True(t, cycle(d, newFrame(true, rgb(1, frame.Rect{Right: 1920, Bottom: 1080}))))
	assert.False(t, fx.mgr.IsFreePlane(primaryB))

	require.NoError(t, display.SetConnected(fx.backend, "card0-HDMI-A-1", false))
	changed, err = d.OnHotplug()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, d.Connected())
	assert.Equal(t, NoList, d.State())
	assert.Empty(t, d.Configs())
	assert.True(t, fx.mgr.IsFreePlane(primaryB), "disconnect hands the planes back")
}

func TestActiveConfig(t *testing.T) {
	fx := newFixture(t, true)
	require.NoError(t, display.SetConnected(fx.backend, "card0-HDMI-A-1", true))
	d := fx.device(t, 1)

	active, err := d.ActiveConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, active)

	require.NoError(t, d.SetActiveConfig(1))
	active, _ = d.ActiveConfig()
	assert.Equal(t, 1, active)
	assert.Equal(t, time.Second/50, d.VsyncObserver().Period())

	assert.ErrorIs(t, d.SetActiveConfig(2), ErrInvalidConfig)
	assert.ErrorIs(t, d.SetActiveConfig(-1), ErrInvalidConfig)

	attrs, err := d.Attributes(1)
	require.NoError(t, err)
	assert.Equal(t, 1080, attrs.Height)
	_, err = d.Attributes(5)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestVsyncControl(t *testing.T) {
	fx := newFixture(t, true)

	external := fx.device(t, 1)
	assert.ErrorIs(t, external.VsyncControl(true), ErrDisconnected)
	assert.NoError(t, external.VsyncControl(false))

	primary := fx.device(t, 0)
	require.NoError(t, primary.VsyncControl(true))
	assert.True(t, primary.Dump().Vsync)

	primary.Deinitialize()
	assert.False(t, primary.VsyncObserver().Enabled())
	assert.False(t, primary.Connected())
}

func TestSecondaryPipeUsesFreedSprite(t *testing.T) {
	fx := newFixture(t, true)
	require.NoError(t, display.SetConnected(fx.backend, "card0-HDMI-A-1", true))
	primary := fx.device(t, 0)
	external := fx.device(t, 1)

	require.True(t, cycle(primary, newFrame(true, rgb(1, fullscreen), rgb(2, statusBar))))
	assert.False(t, fx.mgr.IsFreePlane(spriteA))

	primary.PrePrepare(nil)
	require.True(t, cycle(external, newFrame(true, rgb(3, fullscreen), rgb(4, statusBar))))
	assert.False(t, fx.mgr.IsFreePlane(spriteA), "pipe 1 picked up the sprite pipe 0 gave back")
}
