package planemgr

import (
	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
)

// IsValidZOrder rejects stacking requests the hardware can never satisfy,
// whatever planes are currently free. It is a cheap filter run before
// AssignPlanes; false means "try another configuration".
func (m *Manager) IsValidZOrder(pipe int, config ZOrderConfig) bool {
	p, ok := m.caps.Pipe(pipe)
	if !ok {
		logger.Error("invalid pipe", "pipe", pipe)
		return false
	}

	size := len(config)
	cursors, sprites, firstOverlay := 0, 0, -1
	for i, l := range config {
		switch l.PlaneType {
		case plane.TypeCursor:
			cursors++
		case plane.TypeOverlay:
			if firstOverlay < 0 {
				firstOverlay = i
			}
		default:
			sprites++
		}
	}

	limit := m.caps.MaxLayers
	if cursors > 0 {
		limit++
	}
	if size == 0 || size > limit || cursors > 1 {
		logger.Debug("invalid z-order config size", "pipe", pipe, "size", size, "cursors", cursors)
		return false
	}

	if sprites > p.MaxSprites {
		logger.Debug("too many sprite layers", "pipe", pipe, "sprites", sprites, "max", p.MaxSprites)
		return false
	}

	if m.caps.OverlayHwWorkaround && p.BottomOverlaySpriteLimit > 0 &&
		firstOverlay == 0 && sprites > p.BottomOverlaySpriteLimit {
		logger.Debug("too many sprite layers on a bottom overlay", "pipe", pipe, "sprites", sprites)
		return false
	}

	return true
}

// AssignPlanes binds a concrete plane to every entry of config. Table rows
// matching the overlay placement are tried in order and the first one whose
// planes are all available wins. Nothing is bound when it returns false.
func (m *Manager) AssignPlanes(pipe int, config ZOrderConfig) bool {
	p, ok := m.caps.Pipe(pipe)
	if !ok {
		logger.Error("invalid pipe", "pipe", pipe)
		return false
	}
	if !m.initialized || len(config) == 0 {
		return false
	}

	index := config.overlayIndex()
	for _, row := range p.Rows(index) {
		if m.assignRow(pipe, p, config, row) {
			logger.Debug("z-order assigned", "pipe", pipe, "index", index, "planes", row.Planes)
			return true
		}
	}

	logger.Debug("no z-order row fits", "pipe", pipe, "index", index, "size", len(config))
	return false
}

func (m *Manager) assignRow(pipe int, p *caps.Pipe, config ZOrderConfig, row caps.ZOrderRow) bool {
	size := len(config)

	// The row only names non-cursor planes; a cursor entry must be on top
	// and maps to the pipe's own cursor plane.
	for i, l := range config {
		if l.PlaneType == plane.TypeCursor {
			if i != size-1 {
				logger.Debug("cursor layer is not on top", "pipe", pipe, "position", i)
				return false
			}
			if !p.Cursor.Valid() || !m.IsFreePlane(p.Cursor) {
				logger.Debug("cursor plane is not available", "pipe", pipe)
				return false
			}
			continue
		}
		if i >= len(row.Planes) {
			return false
		}
		id := row.Planes[i]
		if !m.IsFreePlane(id) {
			return false
		}
		if !m.pool.Get(id).SupportsTransform(l.Transform) {
			logger.Debug("plane does not support transform", "plane", id, "transform", l.Transform)
			return false
		}
	}

	primaryActive := false
	for i, l := range config {
		id := p.Cursor
		if l.PlaneType != plane.TypeCursor {
			id = row.Planes[i]
		}
		if m.GetPlane(id) == nil {
			// availability was checked above
			logger.Error("failed to take plane", "plane", id)
			return false
		}
		l.Plane = id
		l.PlaneType = id.Type
		if id.Type == plane.TypePrimary {
			primaryActive = true
		}
	}

	// Without the primary plane in the chain the hardware needs the
	// overlays and everything above them shifted up one slot.
	offset := 0
	for i, l := range config {
		if !primaryActive && l.PlaneType == plane.TypeOverlay {
			offset = 1
		}
		l.Slot = i + offset

		pl := m.pool.Get(l.Plane)
		pl.SetZOrderConfig(l.Slot)
		pl.Bind(pipe, l.Layer)
		if err := pl.Enable(); err != nil {
			logger.Warn("failed to enable plane", "plane", l.Plane, "err", err)
		}
	}
	return true
}
