package layerlist

import (
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/plane"
)

// StaticThreshold is the number of unchanged frames after which a GPU layer
// counts as static
const StaticThreshold = 10

// Type is the composer's view of a layer
type Type int

const (
	TypeFB Type = iota
	TypeForceFB
	TypeOverlay
	TypeSkipped
	TypeFramebufferTarget
	TypeSideband
	TypeCursorOverlay
)

func (t Type) String() string {
	switch t {
	case TypeFB, TypeForceFB:
		return "HWC_FB"
	case TypeOverlay, TypeSkipped:
		return "HWC_OVERLAY"
	case TypeFramebufferTarget:
		return "HWC_FRAMEBUFFER_TARGET"
	case TypeSideband:
		return "HWC_SIDEBAND"
	case TypeCursorOverlay:
		return "HWC_CURSOR_OVERLAY"
	default:
		return "Unknown"
	}
}

// Layer wraps one frame layer with its plane binding. src points into the
// frame most recently handed to the list so composition decisions are
// visible to the compositor.
type Layer struct {
	index int
	typ   Type
	src   *frame.Layer

	plane plane.ID
	pipe  int

	// candidate marks layers currently held by the z-order search
	candidate bool

	handle      uint64
	transform   uint32
	updated     bool
	staticCount int
}

func newLayer(index int, src *frame.Layer) *Layer {
	return &Layer{
		index:     index,
		src:       src,
		plane:     plane.None,
		pipe:      -1,
		handle:    src.Handle,
		transform: src.Transform,
		updated:   true,
	}
}

func (l *Layer) Index() int { return l.index }
func (l *Layer) Type() Type { return l.typ }
func (l *Layer) Plane() plane.ID { return l.plane }
func (l *Layer) Source() *frame.Layer { return l.src }
func (l *Layer) Updated() bool { return l.updated }
func (l *Layer) StaticCount() int { return l.staticCount }
func (l *Layer) ZOrder() int { return l.index }
func (l *Layer) composition() frame.CompositionType { return l.src.Composition }

func (l *Layer) setType(t Type) {
	l.typ = t
}

func (l *Layer) setComposition(c frame.CompositionType) {
	l.src.Composition = c
}

func (l *Layer) attachPlane(id plane.ID, pipe int) {
	l.plane = id
	l.pipe = pipe
}

func (l *Layer) detachPlane() plane.ID {
	id := l.plane
	l.plane = plane.None
	l.pipe = -1
	return id
}

// update moves the layer onto the next frame's data. It fails when a bound
// plane can no longer scan the layer out.
func (l *Layer) update(src *frame.Layer, planes func(plane.ID) *plane.Plane) bool {
	// the compositor keeps composition types between frames without a
	// geometry change; carry ours over in case it handed us fresh layers
	switch l.typ {
	case TypeOverlay:
		src.Composition = frame.Overlay
	case TypeCursorOverlay:
		src.Composition = frame.CursorOverlay
	}
	l.src = src

	l.updated = src.Handle != l.handle
	if l.updated {
		l.staticCount = 0
	} else if l.staticCount <= StaticThreshold {
		l.staticCount++
	}
	l.handle = src.Handle
	l.transform = src.Transform

	if !l.plane.Valid() {
		return true
	}
	if src.Handle == 0 {
		return false
	}
	if p := planes(l.plane); p == nil || !p.SupportsTransform(src.Transform) {
		return false
	}
	return true
}

func (l *Layer) postFlip() {
	l.updated = false
}
