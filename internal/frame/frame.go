// Package frame describes what the compositor hands the composer each
// frame: an ordered list of layers per display, bottom first, whose last
// entry is the framebuffer target the GPU composes into.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CompositionType is how a layer gets on screen. The compositor sets it on
// input and the composer rewrites it during prepare.
type CompositionType int

const (
	// Framebuffer layers are composed by the GPU into the target
	Framebuffer CompositionType = iota
	// Overlay layers are scanned out by a hardware plane. On input it marks
	// a layer the compositor already handled.
	Overlay
	// Background is accepted on input and treated like a skipped layer
	Background
	// FramebufferTarget is the GPU output; exactly one, always last
	FramebufferTarget
	// Sideband layers carry a stream the composer does not touch
	Sideband
	// CursorOverlay layers are scanned out by a cursor plane
	CursorOverlay
	// ForceFramebuffer pins a layer to GPU composition
	ForceFramebuffer
)

func (c CompositionType) String() string {
	switch c {
	case Framebuffer:
		return "GLES"
	case Overlay:
		return "HWC"
	case Background:
		return "BG"
	case FramebufferTarget:
		return "FBT"
	case Sideband:
		return "SB"
	case CursorOverlay:
		return "CUR"
	case ForceFramebuffer:
		return "FORCE_FB"
	default:
		return "N/A"
	}
}

// Layer flags
const (
	FlagSkip   uint32 = 1 << 0
	FlagCursor uint32 = 1 << 1
)

// Transform values follow the usual flip/rotate bit encoding
const (
	TransformNone   uint32 = 0
	TransformFlipH  uint32 = 1
	TransformFlipV  uint32 = 2
	TransformRot90  uint32 = 4
	TransformRot180 uint32 = TransformFlipH | TransformFlipV
	TransformRot270 uint32 = TransformRot180 | TransformRot90
)

var transformNames = map[string]uint32{
	"none":   TransformNone,
	"flip-h": TransformFlipH,
	"flip-v": TransformFlipV,
	"rot90":  TransformRot90,
	"rot180": TransformRot180,
	"rot270": TransformRot270,
}

// ParseTransform accepts a transform name such as "rot90" or its numeric
// value
func ParseTransform(s string) (uint32, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if t, ok := transformNames[s]; ok {
		return t, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n > uint64(TransformRot270) {
		return 0, fmt.Errorf("unknown transform %q", s)
	}
	return uint32(n), nil
}

// Rect is a half-open rectangle in pixels
type Rect struct {
	Left, Top, Right, Bottom int
}

func (r Rect) Width() int { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }

// Empty reports whether r covers no pixels
func (r Rect) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Intersects reports whether r and o share at least one pixel
func (r Rect) Intersects(o Rect) bool {
	return !(o.Right <= r.Left || o.Left >= r.Right || o.Top >= r.Bottom || o.Bottom <= r.Top)
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", r.Left, r.Top, r.Right, r.Bottom)
}

// Layer is one compositor layer
type Layer struct {
	Composition CompositionType
	Handle      uint64
	Flags       uint32
	Transform   uint32
	Format      Format
	// SourceCrop is the region of the buffer to show
	SourceCrop Rect
	// DisplayFrame is where it lands on screen
	DisplayFrame Rect
	// BufferWidth and BufferHeight are the allocated buffer size
	BufferWidth  int
	BufferHeight int
}

// Skip reports whether the compositor asked the composer to leave the layer
// alone
func (l *Layer) Skip() bool {
	return l.Flags&FlagSkip != 0
}

// Cursor reports whether the compositor tagged the layer as a cursor
func (l *Layer) Cursor() bool {
	return l.Flags&FlagCursor != 0
}

// Scaled reports whether the source crop and display frame differ in size
func (l *Layer) Scaled() bool {
	w, h := l.SourceCrop.Width(), l.SourceCrop.Height()
	if l.Transform&TransformRot90 != 0 {
		w, h = h, w
	}
	return w != l.DisplayFrame.Width() || h != l.DisplayFrame.Height()
}

// Frame is one display's content for one composition cycle
type Frame struct {
	Layers []Layer
	// GeometryChanged asks the composer to rebuild its layer list
	GeometryChanged bool
}

var (
	// ErrEmpty is returned for a frame without layers
	ErrEmpty = errors.New("frame has no layers")
	// ErrNoTarget is returned when the last layer is not the framebuffer target
	ErrNoTarget = errors.New("frame has no framebuffer target")
)

// Validate checks the structural rules the layer list relies on
func (f *Frame) Validate() error {
	if len(f.Layers) == 0 {
		return ErrEmpty
	}
	last := len(f.Layers) - 1
	for i := range f.Layers {
		l := &f.Layers[i]
		if l.Composition == FramebufferTarget && i != last {
			return fmt.Errorf("layer %d: framebuffer target must be the last layer", i)
		}
		if l.Composition < Framebuffer || l.Composition > ForceFramebuffer {
			return fmt.Errorf("layer %d: invalid composition type %d", i, l.Composition)
		}
	}
	if f.Layers[last].Composition != FramebufferTarget {
		return ErrNoTarget
	}
	return nil
}

// Target returns the framebuffer target layer, or nil
func (f *Frame) Target() *Layer {
	if len(f.Layers) == 0 {
		return nil
	}
	t := &f.Layers[len(f.Layers)-1]
	if t.Composition != FramebufferTarget {
		return nil
	}
	return t
}

// Count returns the number of layers of each composition type
func (f *Frame) Count(c CompositionType) int {
	n := 0
	for i := range f.Layers {
		if f.Layers[i].Composition == c {
			n++
		}
	}
	return n
}

// Clone returns a deep copy, so a scripted frame can be replayed without
// carrying over the composer's composition decisions
func (f *Frame) Clone() *Frame {
	c := &Frame{GeometryChanged: f.GeometryChanged}
	c.Layers = append([]Layer(nil), f.Layers...)
	return c
}
