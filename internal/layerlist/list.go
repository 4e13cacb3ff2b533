// Package layerlist turns one display's frame into a plane assignment.
//
// Every layer starts out GPU-composed. Layers a cursor, sprite or overlay
// plane could scan out become candidates, and a recursive search tries to
// offload as many of them as possible, cursor planes first, then overlays,
// then sprites, and finally places the framebuffer target on the primary
// plane at a z position where the remaining GPU layers can be merged.
package layerlist

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/bnema/hwcplane/internal/planemgr"
)

// PlaneManager is the part of the plane manager a layer list drives
type PlaneManager interface {
	IsValidZOrder(pipe int, config planemgr.ZOrderConfig) bool
	AssignPlanes(pipe int, config planemgr.ZOrderConfig) bool
	GetFreePlanes(pipe int, t plane.Type) int
	ReclaimPlane(pipe int, id plane.ID) error
	Plane(id plane.ID) *plane.Plane
}

// Options are the composition policy knobs
type Options struct {
	// OverlayAllowed lets layers fall through to overlay planes
	OverlayAllowed bool
	// SmartComposition tells the compositor to skip GPU work when no GPU
	// layer changed
	SmartComposition bool
}

// List is the plane assignment for one display's current frame
type List struct {
	pipe int
	mgr  PlaneManager
	opts Options
	log  *log.Logger

	layers   []*Layer
	fbLayers []*Layer
	target   *Layer

	cursorCandidates  []*Layer
	spriteCandidates  []*Layer
	overlayCandidates []*Layer

	zorder planemgr.ZOrderConfig
}

// New classifies the frame's layers and runs the plane search. The frame
// layers' composition types are rewritten in place.
func New(pipe int, mgr PlaneManager, f *frame.Frame, opts Options) (*List, error) {
	l := &List{
		pipe: pipe,
		mgr:  mgr,
		opts: opts,
		log:  logger.With("pipe", pipe),
	}
	if err := l.initialize(f); err != nil {
		l.Deinitialize()
		return nil, err
	}
	return l, nil
}

func (l *List) initialize(f *frame.Frame) error {
	if f == nil {
		return fmt.Errorf("layer list: %w", frame.ErrEmpty)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("layer list: %w", err)
	}

	top := len(f.Layers) - 2
	for i := range f.Layers {
		src := &f.Layers[i]
		hl := newLayer(i, src)

		switch src.Composition {
		case frame.FramebufferTarget:
			hl.setType(TypeFramebufferTarget)
			l.target = hl
		case frame.Overlay, frame.Background:
			// already handled by the compositor
			hl.setType(TypeSkipped)
		case frame.ForceFramebuffer:
			src.Composition = frame.Framebuffer
			hl.setType(TypeForceFB)
			// kept for the z-order checks of the framebuffer target
			l.fbLayers = append(l.fbLayers, hl)
		case frame.Framebuffer:
			hl.setType(TypeFB)
			l.fbLayers = append(l.fbLayers, hl)
			switch {
			case checkCursorSupported(hl, top):
				l.cursorCandidates = append(l.cursorCandidates, hl)
			case checkSupported(plane.TypeSprite, hl):
				l.spriteCandidates = append(l.spriteCandidates, hl)
			case l.opts.OverlayAllowed && checkSupported(plane.TypeOverlay, hl):
				l.overlayCandidates = append(l.overlayCandidates, hl)
			}
		case frame.Sideband:
			hl.setType(TypeSideband)
		default:
			return fmt.Errorf("layer list: layer %d has invalid composition type %d", i, src.Composition)
		}
		l.layers = append(l.layers, hl)
	}

	// Nothing for the GPU to do, but the target still has to be flipped
	if len(l.fbLayers) == 0 && len(l.layers) > 1 {
		l.log.Debug("no framebuffer layers, skipping plane allocation")
		return nil
	}

	if !l.allocatePlanes() {
		l.log.Warn("no plane assignment for frame", "layers", len(l.layers))
	}
	return nil
}

// Deinitialize hands every bound plane back to the plane manager
func (l *List) Deinitialize() {
	for _, hl := range l.layers {
		if id := hl.detachPlane(); id.Valid() {
			if err := l.mgr.ReclaimPlane(l.pipe, id); err != nil {
				l.log.Warn("failed to reclaim plane", "plane", id, "err", err)
			}
		}
	}
	l.layers = nil
	l.fbLayers = nil
	l.target = nil
	l.cursorCandidates = nil
	l.spriteCandidates = nil
	l.overlayCandidates = nil
	l.zorder = nil
}

func (l *List) allocatePlanes() bool {
	return l.assignCursorPlanes()
}

// Each stage tries to place as many of its candidates as there are free
// planes, then one fewer, down to none, handing over to the next stage.

func (l *List) assignCursorPlanes() bool {
	n := len(l.cursorCandidates)
	if n == 0 {
		return l.assignOverlayPlanes()
	}
	free := l.mgr.GetFreePlanes(l.pipe, plane.TypeCursor)
	if free == 0 {
		l.log.Debug("no cursor plane available", "candidates", n)
		return l.assignOverlayPlanes()
	}
	for count := min(free, n); count >= 0; count-- {
		if l.assignCandidates(l.cursorCandidates, plane.TypeCursor, 0, count, l.assignOverlayPlanes) {
			return true
		}
	}
	return false
}

func (l *List) assignOverlayPlanes() bool {
	n := len(l.overlayCandidates)
	if n == 0 {
		return l.assignSpritePlanes()
	}
	free := l.mgr.GetFreePlanes(l.pipe, plane.TypeOverlay)
	if free == 0 {
		l.log.Debug("no overlay plane available", "candidates", n)
		return l.assignSpritePlanes()
	}
	for count := min(free, n); count >= 0; count-- {
		if l.assignCandidates(l.overlayCandidates, plane.TypeOverlay, 0, count, l.assignSpritePlanes) {
			return true
		}
	}
	return false
}

func (l *List) assignSpritePlanes() bool {
	n := len(l.spriteCandidates)
	if n == 0 {
		return l.assignPrimaryPlane()
	}
	// the primary plane is not counted here
	free := l.mgr.GetFreePlanes(l.pipe, plane.TypeSprite)
	if free == 0 {
		l.log.Debug("no sprite plane available", "candidates", n)
		return l.assignPrimaryPlane()
	}
	for count := min(free, n); count >= 0; count-- {
		if l.assignCandidates(l.spriteCandidates, plane.TypeSprite, 0, count, l.assignPrimaryPlane) {
			return true
		}
	}
	return false
}

// assignCandidates picks count layers from candidates[start:], in order, and
// continues with next once all are picked.
func (l *List) assignCandidates(candidates []*Layer, t plane.Type, start, count int, next func() bool) bool {
	if count == 0 {
		return next()
	}
	for i := start; i <= len(candidates)-count; i++ {
		zl := l.addZOrderLayer(t, candidates[i], -1)
		if l.assignCandidates(candidates, t, i+1, count-1, next) {
			return true
		}
		l.removeZOrderLayer(zl)
	}
	return false
}

func (l *List) assignPrimaryPlane() bool {
	// the lowest sprite candidate above every placed sprite candidate
	var spriteLayer *Layer
	for i := len(l.spriteCandidates) - 1; i >= 0; i-- {
		if l.spriteCandidates[i].candidate {
			break
		}
		spriteLayer = l.spriteCandidates[i]
	}

	candidates := len(l.zorder)
	layers := len(l.fbLayers)
	ok := false

	switch {
	case candidates == layers-1 && spriteLayer != nil:
		// the primary plane acts as one more sprite; nothing is left for
		// the GPU
		ok = l.assignPrimaryPlaneHelper(spriteLayer, -1)
		if !ok {
			l.log.Debug("failed to use primary as sprite plane")
		}
	case candidates == 0:
		// everything goes through the framebuffer target at the bottom
		ok = l.assignPrimaryPlaneHelper(l.target, 0)
		if !ok {
			l.log.Error("failed to compose all layers on the primary plane")
		}
	case candidates == layers:
		ok = l.attachPlanes()
		if !ok {
			l.log.Debug("failed to assign layers without primary")
		}
	default:
		// put the target at the z position of a GPU layer where all GPU
		// layers can be merged
		for i := 0; i < layers && !ok; i++ {
			if l.fbLayers[i].candidate {
				continue
			}
			if l.useAsFramebufferTarget(i) {
				z := l.fbLayers[i].ZOrder()
				ok = l.assignPrimaryPlaneHelper(l.target, z)
				if !ok {
					l.log.Debug("failed to use z-order for framebuffer target", "zorder", z)
				}
			}
		}
		if !ok {
			l.log.Debug("no possible z-order for framebuffer target")
		}
	}
	return ok
}

func (l *List) assignPrimaryPlaneHelper(hl *Layer, zorder int) bool {
	zl := l.addZOrderLayer(plane.TypePrimary, hl, zorder)
	ok := l.attachPlanes()
	if !ok {
		l.removeZOrderLayer(zl)
	}
	return ok
}

func (l *List) attachPlanes() bool {
	if !l.mgr.IsValidZOrder(l.pipe, l.zorder) {
		l.log.Debug("invalid z-order", "size", len(l.zorder))
		return false
	}
	if !l.mgr.AssignPlanes(l.pipe, l.zorder) {
		l.log.Debug("failed to assign planes", "size", len(l.zorder))
		return false
	}

	for i, zl := range l.zorder {
		hl := l.layers[zl.Layer]
		p := l.mgr.Plane(zl.Plane)
		if p == nil {
			l.log.Error("assigned plane does not exist", "plane", zl.Plane)
			return false
		}
		p.SetZOrder(i)

		switch {
		case zl.Plane.Type == plane.TypeCursor:
			hl.setType(TypeCursorOverlay)
			hl.setComposition(frame.CursorOverlay)
			l.removeFBLayer(hl)
		case hl != l.target:
			hl.setType(TypeOverlay)
			hl.setComposition(frame.Overlay)
			l.removeFBLayer(hl)
		}
		hl.attachPlane(zl.Plane, l.pipe)

		l.log.Debug("plane attached",
			"layer", hl.index, "plane", zl.Plane, "slot", zl.Slot, "zorder", zl.ZOrder)
	}

	l.zorder = nil
	return true
}

// useAsFramebufferTarget reports whether the target can take the z position
// of fbLayers[pos]: every GPU layer moved up or down to it must not cross a
// plane candidate it overlaps.
func (l *List) useAsFramebufferTarget(pos int) bool {
	fb := l.fbLayers

	for below := 0; below < pos; below++ {
		if fb[below].candidate {
			continue
		}
		for above := below + 1; above < pos; above++ {
			if !fb[above].candidate {
				continue
			}
			if fb[above].src.DisplayFrame.Intersects(fb[below].src.DisplayFrame) {
				return false
			}
		}
	}

	for above := pos + 1; above < len(fb); above++ {
		if fb[above].candidate {
			continue
		}
		for below := pos + 1; below < above; below++ {
			if !fb[below].candidate {
				continue
			}
			if fb[above].src.DisplayFrame.Intersects(fb[below].src.DisplayFrame) {
				return false
			}
		}
	}
	return true
}

func (l *List) addZOrderLayer(t plane.Type, hl *Layer, zorder int) *planemgr.ZOrderLayer {
	if zorder == -1 {
		zorder = hl.ZOrder()
	}
	if hl.candidate {
		l.log.Error("layer is already a candidate", "layer", hl.index)
	}
	hl.candidate = true

	zl := &planemgr.ZOrderLayer{
		PlaneType: t,
		Layer:     hl.index,
		Transform: hl.src.Transform,
		ZOrder:    zorder,
		Plane:     plane.None,
	}
	l.zorder.Insert(zl)
	return zl
}

func (l *List) removeZOrderLayer(zl *planemgr.ZOrderLayer) {
	if !l.zorder.Remove(zl) {
		l.log.Error("z-order layer does not exist", "layer", zl.Layer)
	}
	l.layers[zl.Layer].candidate = false
}

func (l *List) removeFBLayer(hl *Layer) {
	for i, e := range l.fbLayers {
		if e == hl {
			l.fbLayers = append(l.fbLayers[:i], l.fbLayers[i+1:]...)
			return
		}
	}
}

// Update moves the list onto the next frame without a geometry change. A
// layer whose bound plane can no longer show it forces a rebuild with that
// layer on the GPU. It returns false when the frame does not match the list.
func (l *List) Update(f *frame.Frame) bool {
	if f == nil {
		l.log.Error("null frame")
		return false
	}
	if len(f.Layers) != len(l.layers) {
		l.log.Error("layer count doesn't match", "frame", len(f.Layers), "list", len(l.layers))
		return false
	}

	ok := true
	for i, hl := range l.layers {
		if !hl.update(&f.Layers[i], l.mgr.Plane) {
			ok = false
			hl.setComposition(frame.ForceFramebuffer)
		}
	}

	if !ok {
		l.log.Info("overlay fallback to GPU composition")
		last := len(l.layers) - 1
		for _, hl := range l.layers[:last] {
			c := hl.composition()
			if hl.plane.Valid() && (c == frame.Overlay || c == frame.CursorOverlay) {
				hl.setComposition(frame.Framebuffer)
			}
		}
		l.layers[last].setComposition(frame.FramebufferTarget)

		l.Deinitialize()
		if err := l.initialize(f); err != nil {
			l.log.Error("failed to rebuild layer list", "err", err)
			return false
		}
		for i, hl := range l.layers {
			if !hl.update(&f.Layers[i], l.mgr.Plane) {
				l.log.Debug("update after fallback failed", "layer", i)
			}
		}
	}

	l.setupSmartComposition()
	return true
}

// setupSmartComposition marks the GPU layers as already composed when none
// of them changed, so the compositor can reuse the last target buffer.
func (l *List) setupSmartComposition() {
	if !l.opts.SmartComposition {
		return
	}

	c := frame.Overlay
	for _, hl := range l.fbLayers {
		if hl.updated || hl.staticCount == StaticThreshold {
			c = frame.Framebuffer
		}
	}

	for _, hl := range l.fbLayers {
		switch hl.typ {
		case TypeFB, TypeForceFB:
			hl.setComposition(c)
		default:
			l.log.Error("invalid layer type in framebuffer set", "layer", hl.index, "type", hl.typ)
		}
	}
}

// PostFlip clears per-frame change tracking once the frame is on screen
func (l *List) PostFlip() {
	for _, hl := range l.layers {
		hl.postFlip()
	}
}

// Pipe returns the display the list belongs to
func (l *List) Pipe() int {
	return l.pipe
}

// Len returns the number of layers, target included
func (l *List) Len() int {
	return len(l.layers)
}

// Layer returns layer i
func (l *List) Layer(i int) *Layer {
	if i < 0 || i >= len(l.layers) {
		return nil
	}
	return l.layers[i]
}

// FBLayers returns the number of layers left to the GPU
func (l *List) FBLayers() int {
	return len(l.fbLayers)
}

// GetPlane returns the plane showing layer i, or plane.None
func (l *List) GetPlane(i int) plane.ID {
	hl := l.Layer(i)
	if hl == nil {
		l.log.Error("invalid layer index", "index", i)
		return plane.None
	}
	switch hl.typ {
	case TypeFB, TypeForceFB, TypeSkipped:
		return plane.None
	}
	if hl.src.Handle == 0 {
		l.log.Debug("plane is attached with invalid handle", "layer", i)
		return plane.None
	}
	return hl.plane
}

// Attachment is one layer scanned out by a plane this frame
type Attachment struct {
	Layer  int
	Plane  plane.ID
	Handle uint64
}

// Attachments lists layers shown by planes, bottom first
func (l *List) Attachments() []Attachment {
	var out []Attachment
	for i, hl := range l.layers {
		if id := l.GetPlane(i); id.Valid() {
			out = append(out, Attachment{Layer: i, Plane: id, Handle: hl.src.Handle})
		}
	}
	return out
}

// DumpRow is one line of the layer list dump
type DumpRow struct {
	Layer  int
	Type   string
	Plane  string
	Index  int
	ZOrder int
}

// Dump describes every layer and its plane
func (l *List) Dump() []DumpRow {
	rows := make([]DumpRow, 0, len(l.layers))
	for i, hl := range l.layers {
		r := DumpRow{Layer: i, Type: hl.typ.String(), Plane: "N/A", Index: -1, ZOrder: -1}
		if p := l.mgr.Plane(hl.plane); hl.plane.Valid() && p != nil {
			r.Plane = strings.ToUpper(hl.plane.Type.String())
			r.Index = hl.plane.Index
			r.ZOrder = p.ZOrder()
		}
		rows = append(rows, r)
	}
	return rows
}
