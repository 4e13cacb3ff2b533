package layerlist

import (
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
)

// Scan-out limits shared by the sprite and overlay engines
const (
	maxSpriteWidth  = 2047
	maxSpriteHeight = 2047
	maxOverlayWidth = 2048
	minOverlaySize  = 2
	maxCursorSize   = 256

	// overlay scaling range, as a ratio of display to source size
	maxOverlayUpscale   = 8
	maxOverlayDownscale = 4
)

func formatSupported(t plane.Type, f frame.Format) bool {
	switch t {
	case plane.TypeSprite, plane.TypePrimary:
		return f.RGB()
	case plane.TypeOverlay:
		return f.YUV() || f.RGB()
	}
	return false
}

func transformSupported(t plane.Type, tr uint32) bool {
	switch t {
	case plane.TypeSprite, plane.TypePrimary:
		return tr == frame.TransformNone || tr == frame.TransformRot180
	case plane.TypeOverlay:
		return true
	}
	return tr == frame.TransformNone
}

func sizeSupported(t plane.Type, l *frame.Layer) bool {
	w, h := l.SourceCrop.Width(), l.SourceCrop.Height()
	if l.SourceCrop.Empty() || l.DisplayFrame.Empty() {
		return false
	}
	switch t {
	case plane.TypeSprite, plane.TypePrimary:
		return w <= maxSpriteWidth && h <= maxSpriteHeight
	case plane.TypeOverlay:
		return w >= minOverlaySize && h >= minOverlaySize && w <= maxOverlayWidth
	}
	return false
}

func scalingSupported(t plane.Type, l *frame.Layer) bool {
	if !l.Scaled() {
		return true
	}
	if t != plane.TypeOverlay {
		return false
	}
	sw, sh := l.SourceCrop.Width(), l.SourceCrop.Height()
	if l.Transform&frame.TransformRot90 != 0 {
		sw, sh = sh, sw
	}
	dw, dh := l.DisplayFrame.Width(), l.DisplayFrame.Height()
	return dw <= sw*maxOverlayUpscale && dh <= sh*maxOverlayUpscale &&
		dw*maxOverlayDownscale >= sw && dh*maxOverlayDownscale >= sh
}

// checkSupported reports whether a plane of type t could scan out l
func checkSupported(t plane.Type, l *Layer) bool {
	src := l.src
	if l.typ == TypeForceFB {
		return false
	}
	if src.Skip() {
		logger.Debug("layer skipped by compositor", "layer", l.index, "type", t)
		return false
	}
	if src.Handle == 0 {
		logger.Warn("invalid buffer handle", "layer", l.index)
		return false
	}
	if !transformSupported(t, src.Transform) {
		logger.Debug("unsupported transform", "layer", l.index, "type", t, "transform", src.Transform)
		return false
	}
	if !formatSupported(t, src.Format) {
		logger.Debug("unsupported format", "layer", l.index, "type", t, "format", src.Format)
		return false
	}
	if !sizeSupported(t, src) {
		logger.Debug("unsupported size", "layer", l.index, "type", t)
		return false
	}
	if !scalingSupported(t, src) {
		logger.Debug("unsupported scaling", "layer", l.index, "type", t)
		return false
	}
	return true
}

// checkCursorSupported reports whether l can go on a cursor plane. last is
// the index of the topmost non-target layer.
func checkCursorSupported(l *Layer, last int) bool {
	src := l.src
	if l.typ == TypeForceFB || src.Skip() || !src.Cursor() {
		return false
	}
	if l.index != last {
		logger.Warn("cursor layer is not on top of z-order", "layer", l.index)
		return false
	}
	if src.Handle == 0 {
		logger.Warn("invalid buffer handle", "layer", l.index)
		return false
	}
	if src.Format != frame.FormatBGRA8888 && src.Format != frame.FormatRGBA8888 {
		logger.Warn("unexpected cursor format", "layer", l.index, "format", src.Format)
		return false
	}
	if src.Transform != frame.TransformNone {
		logger.Warn("unexpected cursor transform", "layer", l.index, "transform", src.Transform)
		return false
	}
	w, h := src.SourceCrop.Width(), src.SourceCrop.Height()
	if src.Scaled() {
		logger.Warn("unexpected cursor scaling", "layer", l.index,
			"src", src.SourceCrop, "dst", src.DisplayFrame)
	}
	if w > maxCursorSize || h > maxCursorSize {
		logger.Warn("unexpected cursor size", "layer", l.index, "width", w, "height", h)
		return false
	}
	switch {
	case src.BufferWidth == 64 && src.BufferHeight == 64:
	case src.BufferWidth == 128 && src.BufferHeight == 128:
	case src.BufferWidth == 256 && src.BufferHeight == 256:
	default:
		return false
	}
	return true
}
